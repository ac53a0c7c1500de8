package server

import (
	"time"

	"chat-core/internal/engine"
	"chat-core/internal/identity"
	"chat-core/internal/platform/config"
	"chat-core/internal/platform/health"
	"chat-core/internal/platform/metrics"
	"chat-core/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

// securityHeadersMiddleware 添加安全標頭
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 防止點擊劫持
		c.Header("X-Frame-Options", "DENY")

		// 防止 MIME 類型嗅探
		c.Header("X-Content-Type-Options", "nosniff")

		// 內容安全策略
		c.Header("Content-Security-Policy", "default-src 'self'; connect-src 'self'; frame-ancestors 'none';")

		// 推薦政策
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// 權限政策
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		c.Next()
	}
}

// corsMiddleware 安全的 CORS 中間件.
// 只允許已知來源（生產環境應從配置讀取）.
func corsMiddleware() gin.HandlerFunc {
	allowedOrigins := map[string]bool{
		"http://localhost:3000": true, // 開發環境前端
		"http://localhost:8080": true, // 本地測試
		"http://127.0.0.1:8080": true,
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-User-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// Router 設定路由.
func Router(eng *engine.Engine) *gin.Engine {
	cfg := config.Get()

	if !config.IsDebug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(corsMiddleware())

	// 請求 ID 中間件（最優先）
	r.Use(middleware.RequestIDMiddleware())

	r.Use(securityHeadersMiddleware())

	// 請求元數據中間件（提取 IP、User-Agent）
	r.Use(middleware.RequestMetadataMiddleware())

	// HTTP 層按 IP 的端點速率限制（與引擎內按用戶/頻道的訊息限制互相獨立）
	defaultLimit := 100
	if cfg.Limits.RateLimiting.DefaultPerMinute > 0 {
		defaultLimit = cfg.Limits.RateLimiting.DefaultPerMinute
	}
	rateLimiter := middleware.NewPerEndpointRateLimiter(defaultLimit, time.Minute)
	if cfg.Limits.RateLimiting.Enabled {
		if cfg.Limits.RateLimiting.MessagesPerMin > 0 {
			rateLimiter.SetLimit("/api/v1/messages", cfg.Limits.RateLimiting.MessagesPerMin, time.Minute)
		}
		if cfg.Limits.RateLimiting.ChannelsPerMin > 0 {
			rateLimiter.SetLimit("/api/v1/channels", cfg.Limits.RateLimiting.ChannelsPerMin, time.Minute)
		}
	}
	r.Use(rateLimiter.Middleware())

	// 身份解析
	resolver := identity.NewResolver(
		cfg.Security.Authentication.JWTSecret,
		cfg.Security.Authentication.JWTEnabled)
	auth := middleware.NewAuthMiddleware(resolver)

	h := newHandler(eng)
	healthHandler := health.NewHealthHandler(eng)

	// 無須認證的端點
	r.GET("/health", healthHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// WebSocket 握手自帶認證（Authorization 頭部或 token 查詢參數）
	r.GET("/ws", h.serveWS(resolver))

	// REST API（全部經過認證與用戶註冊）
	api := r.Group("/api/v1")
	api.Use(auth.GinMiddleware())
	api.Use(h.ensureUser())
	{
		api.POST("/channels", h.createChannel)
		api.GET("/channels", h.listChannels)
		api.POST("/channels/:channel_id/join", h.joinChannel)
		api.POST("/channels/:channel_id/approve", h.approveJoin)
		api.POST("/channels/:channel_id/leave", h.leaveChannel)
		api.GET("/channels/:channel_id/members", h.listMembers)
		api.GET("/channels/:channel_id/messages", h.history)
		api.POST("/channels/:channel_id/read", h.markRead)
		api.POST("/channels/:channel_id/typing", h.typing)
		api.GET("/channels/:channel_id/review", h.reviewQueue)

		api.POST("/messages", h.sendMessage)
		api.PUT("/messages/:message_id", h.editMessage)
		api.DELETE("/messages/:message_id", h.deleteMessage)
		api.POST("/messages/:message_id/reactions", h.react)
		api.POST("/messages/:message_id/review", h.reviewMessage)

		api.GET("/notifications", h.listNotifications)
		api.GET("/notifications/unread-count", h.unreadCount)
		api.POST("/notifications/:notification_id/read", h.markNotificationRead)
		api.POST("/notifications/read-all", h.markAllNotificationsRead)

		api.POST("/users/status", h.updateStatus)
	}

	return r
}
