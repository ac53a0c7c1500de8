package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"chat-core/internal/platform/config"
	"chat-core/internal/platform/driver"
	"chat-core/internal/platform/logger"

	"github.com/gin-gonic/gin"
)

const (
	// 健康狀態常數.
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	statusWarning   = "warning"

	// 記憶體相關常數.
	memoryMB        = 1024 * 1024
	memoryThreshold = 1024 // 1GB

	// 超時常數.
	dbTimeout = 5 * time.Second
)

var startTime = time.Now()

// EngineStats 引擎運行時統計來源.
type EngineStats interface {
	ConnectionCount() int
	MessageCount() int
}

// Handler 健康檢查處理器.
type Handler struct {
	stats EngineStats
}

// NewHealthHandler 創建新的健康檢查處理器.
func NewHealthHandler(stats EngineStats) *Handler {
	return &Handler{stats: stats}
}

// HealthCheck 健康檢查端點.
// 即使持久層不健康也回傳 200：引擎本身在純內存模式下仍可服務，
// 持久層狀態在回應中以 degraded 標示.
func (h *Handler) HealthCheck(c *gin.Context) {
	cfg := config.Get()

	dbStatus := statusHealthy
	dbError := ""
	dbDetails := gin.H{}

	if cfg.Database.Mongo.URL == "" {
		dbStatus = "not_configured"
		dbDetails = gin.H{"mode": "in-memory"}
	} else if err := h.checkDatabase(); err != nil {
		dbStatus = statusUnhealthy
		dbError = err.Error()
		logger.LogErrorf("健康檢查 - 資料庫連線失敗: %v", err)
	} else {
		dbDetails = gin.H{
			"connected": driver.IsConnected(),
			"database":  cfg.Database.Mongo.Database,
		}
	}

	appVersion := os.Getenv("APP_VERSION")
	if appVersion == "" {
		appVersion = cfg.App.Version
	}

	engineDetails := gin.H{}
	if h.stats != nil {
		engineDetails = gin.H{
			"live_connections": h.stats.ConnectionCount(),
			"messages_held":    h.stats.MessageCount(),
		}
	}

	systemStatus := h.checkSystemResources()

	response := gin.H{
		"status":    statusHealthy,
		"timestamp": time.Now().Unix(),
		"app": gin.H{
			"name":    cfg.App.Name,
			"version": appVersion,
			"debug":   cfg.App.Debug,
		},
		"database": gin.H{
			"status":  dbStatus,
			"error":   dbError,
			"details": dbDetails,
		},
		"engine": engineDetails,
		"system": gin.H{
			"status":  systemStatus.Status,
			"details": systemStatus.Details,
			"uptime":  time.Since(startTime).String(),
		},
	}

	if dbStatus == statusUnhealthy {
		response["status"] = "degraded"
	}

	c.JSON(http.StatusOK, response)
}

// checkDatabase 檢查資料庫連線.
func (h *Handler) checkDatabase() error {
	client := driver.GetMongoClient()
	if client == nil {
		return fmt.Errorf("資料庫未連接")
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	return client.Ping(ctx, nil)
}

// SystemStatus 系統狀態.
type SystemStatus struct {
	Status  string                 `json:"status"`
	Details map[string]interface{} `json:"details"`
}

// checkSystemResources 檢查系統資源.
func (h *Handler) checkSystemResources() SystemStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status := statusHealthy
	if float64(m.Alloc)/memoryMB > memoryThreshold {
		status = statusWarning
	}

	details := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"memory": gin.H{
			"alloc":       fmt.Sprintf("%.2f MB", float64(m.Alloc)/memoryMB),
			"total_alloc": fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/memoryMB),
			"sys":         fmt.Sprintf("%.2f MB", float64(m.Sys)/memoryMB),
			"num_gc":      m.NumGC,
		},
	}

	return SystemStatus{Status: status, Details: details}
}
