package server

import (
	"context"
	"net/http"

	"chat-core/internal/hub"
	"chat-core/internal/identity"
	"chat-core/internal/platform/config"
	"chat-core/internal/platform/logger"
	"chat-core/internal/user"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// wsReadLimit 單條入站幀的大小上限.
const wsReadLimit = 64 * 1024

// 握手授權由 token 決定，跨域來源在這裡不構成額外風險
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// inboundFrame 客戶端經 WebSocket 上行的指令.
type inboundFrame struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id,omitempty"`
	IsTyping  bool   `json:"is_typing,omitempty"`
	Status    string `json:"status,omitempty"`
}

// serveWS WebSocket 握手與連接生命週期.
// 先解析身份再升級協議；升級後把傳輸註冊進連接中心，
// 讀循環只處理輕量指令（打字、已讀、狀態），訊息發送走 REST.
func (h *handler) serveWS(resolver *identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var id *identity.Identity

		if resolver.Enabled() {
			resolved, err := resolver.FromRequest(c.Request)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "無效的會話憑證"})
				return
			}
			id = resolved
		} else {
			// 認證關閉（開發環境）時允許顯式指定身份
			userID := c.GetHeader("X-User-ID")
			if userID == "" {
				userID = c.Query("user_id")
			}
			if userID == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少用戶身份"})
				return
			}
			id = &identity.Identity{UserID: userID, Username: userID, DisplayName: userID}
		}

		h.eng.Users.Register(id.UserID, id.Username, id.DisplayName)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warningf(c.Request.Context(), "WebSocket 升級失敗: %v", err)
			return
		}

		cfg := config.Get()
		transport := hub.NewWSTransport(conn, cfg.Limits.WebSocket.SendBuffer)

		ctx := c.Request.Context()
		h.eng.Hub.Connect(ctx, id.UserID, transport)

		h.readLoop(conn, transport, id.UserID)
	}
}

// readLoop 消費入站指令直到連接出錯或被驅逐.
func (h *handler) readLoop(conn *websocket.Conn, transport *hub.WSTransport, userID string) {
	// 讀循環的壽命長於 HTTP 請求，不沿用請求 context
	ctx := context.Background()
	conn.SetReadLimit(wsReadLimit)
	conn.SetPongHandler(func(string) error {
		h.eng.Users.Touch(userID)
		return nil
	})

	for {
		select {
		case <-transport.Done():
			// 被新連接驅逐或寫循環已拆除
			return
		default:
		}

		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			h.eng.Hub.Disconnect(ctx, userID, transport)
			_ = transport.Close(hub.CloseReasonError)
			return
		}

		switch frame.Type {
		case "typing":
			_ = h.eng.Hub.Typing(ctx, userID, frame.ChannelID, frame.IsTyping)

		case "mark_read":
			if frame.ChannelID != "" {
				_, _ = h.eng.Messages.MarkRead(ctx, frame.ChannelID, userID)
			}

		case "update_status":
			_ = h.eng.Hub.UpdateStatus(ctx, userID, user.Status(frame.Status))

		case "ping":
			h.eng.Users.Touch(userID)

		default:
			logger.Debug(ctx, "忽略未知的上行指令: "+frame.Type,
				logger.WithUserID(userID))
		}
	}
}
