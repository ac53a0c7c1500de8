package hub

import (
	"fmt"
	"sync"
	"time"

	"chat-core/internal/constants"
	"chat-core/internal/core"

	"github.com/gorilla/websocket"
)

// WSTransport gorilla/websocket 連接的傳輸實現.
// 事件經緩衝通道交給獨立的寫循環；Send 只做非阻塞入隊，
// 緩衝滿視為慢連接並返回錯誤，由連接中心拆除.
type WSTransport struct {
	conn *websocket.Conn
	send chan core.Event

	done      chan struct{}
	closeOnce sync.Once

	writeTimeout time.Duration
	pingInterval time.Duration
}

// NewWSTransport 包裝 websocket 連接並啟動寫循環.
// buffer <= 0 時使用默認緩衝大小.
func NewWSTransport(conn *websocket.Conn, buffer int) *WSTransport {
	if buffer <= 0 {
		buffer = constants.DefaultTransportBuffer
	}

	t := &WSTransport{
		conn:         conn,
		send:         make(chan core.Event, buffer),
		done:         make(chan struct{}),
		writeTimeout: constants.DefaultWriteTimeout,
		pingInterval: constants.DefaultPingInterval,
	}

	go t.writePump()
	return t
}

// Send 非阻塞入隊一個事件.
func (t *WSTransport) Send(event core.Event) error {
	select {
	case <-t.done:
		return fmt.Errorf("transport closed")
	default:
	}

	select {
	case t.send <- event:
		return nil
	default:
		return fmt.Errorf("transport send buffer full")
	}
}

// Close 關閉傳輸.
// 先嘗試發送帶原因的關閉幀，再關閉底層連接；可安全重複調用.
func (t *WSTransport) Close(reason string) error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)

		deadline := time.Now().Add(t.writeTimeout)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), deadline)
		err = t.conn.Close()
	})
	return err
}

// Done 傳輸關閉信號（讀循環監聽用）.
func (t *WSTransport) Done() <-chan struct{} {
	return t.done
}

// writePump 寫循環.
// 串行消費發送隊列並定期發 ping；任何寫失敗即關閉傳輸.
func (t *WSTransport) writePump() {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return

		case event := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
			if err := t.conn.WriteJSON(event); err != nil {
				_ = t.Close(CloseReasonError)
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(t.writeTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				_ = t.Close(CloseReasonError)
				return
			}
		}
	}
}
