package hub

import (
	"context"
	"fmt"
	"sync"

	"chat-core/internal/channel"
	"chat-core/internal/core"
	"chat-core/internal/platform/logger"
	"chat-core/internal/platform/metrics"
	"chat-core/internal/user"
)

// Transport 一條活躍連接的發送端.
// Send 必須是非阻塞入隊：緩衝滿或連接已關閉時立即返回錯誤，
// 絕不讓慢連接拖住廣播方.
type Transport interface {
	Send(event core.Event) error
	Close(reason string) error
}

// UnreadCounter 未讀計數來源（連接快照用），由通知調度器實現.
type UnreadCounter interface {
	UnreadCount(userID string) int
}

// 連接關閉原因.
const (
	CloseReasonSuperseded = "superseded"
	CloseReasonError      = "transport_error"
)

// Hub 連接中心.
// 獨占持有身份到活躍傳輸的映射：一個身份同時只綁定一條連接，
// 新連接到達時舊連接被顯式驅逐（收到 connection_superseded 後關閉），
// 而不是被靜默覆蓋.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]Transport

	registry *channel.Registry
	users    *user.Directory
	unread   UnreadCounter
}

// NewHub 創建連接中心.
func NewHub(registry *channel.Registry, users *user.Directory) *Hub {
	return &Hub{
		conns:    make(map[string]Transport),
		registry: registry,
		users:    users,
	}
}

// SetUnreadCounter 注入未讀計數來源（啟動時由引擎裝配）.
func (h *Hub) SetUnreadCounter(c UnreadCounter) {
	h.unread = c
}

// snapshot 連接建立時推送給新連接的初始快照.
type snapshot struct {
	UserID      string             `json:"user_id"`
	Channels    []*channel.Channel `json:"channels"`
	UnreadCount int                `json:"unread_count"`
}

// Connect 綁定身份與新傳輸.
// 同一身份的舊連接被驅逐關閉；在線狀態只在首條連接時翻轉並廣播.
// 初始快照（頻道列表與未讀數）只發給新連接.
func (h *Hub) Connect(ctx context.Context, userID string, t Transport) {
	h.mu.Lock()
	old := h.conns[userID]
	h.conns[userID] = t
	h.mu.Unlock()

	if old != nil {
		// 顯式驅逐：舊連接先收到事件再被關閉
		_ = old.Send(core.NewEvent(core.EventConnectionSuperseded, map[string]interface{}{
			"user_id": userID,
			"reason":  CloseReasonSuperseded,
		}))
		_ = old.Close(CloseReasonSuperseded)

		logger.Info(ctx, "連接被新連接取代",
			logger.WithUserID(userID),
			logger.WithAction("connection_superseded"))
	} else {
		metrics.LiveConnections.Inc()

		if err := h.users.SetStatus(userID, user.StatusOnline); err == nil {
			h.broadcastPresence(ctx, userID, user.StatusOnline)
		}
	}

	unread := 0
	if h.unread != nil {
		unread = h.unread.UnreadCount(userID)
	}

	_ = t.Send(core.NewEvent(core.EventConnected, snapshot{
		UserID:      userID,
		Channels:    h.registry.ListForUser(userID),
		UnreadCount: unread,
	}))

	logger.Info(ctx, "連接已建立",
		logger.WithUserID(userID),
		logger.WithAction("connection_open"))
}

// Disconnect 解除身份與傳輸的綁定.
// 只有仍是當前註冊傳輸的連接才會被移除：被驅逐的舊連接
// 斷開時不得影響取代它的新連接.
func (h *Hub) Disconnect(ctx context.Context, userID string, t Transport) {
	h.mu.Lock()
	current, ok := h.conns[userID]
	if !ok || current != t {
		h.mu.Unlock()
		return
	}
	delete(h.conns, userID)
	h.mu.Unlock()

	metrics.LiveConnections.Dec()

	if err := h.users.SetStatus(userID, user.StatusOffline); err == nil {
		h.broadcastPresence(ctx, userID, user.StatusOffline)
	}

	logger.Info(ctx, "連接已斷開",
		logger.WithUserID(userID),
		logger.WithAction("connection_close"))
}

// BroadcastToChannel 向頻道全體成員的活躍連接廣播事件.
// 沒有活躍連接的成員靜默跳過（由通知調度器兜底）；
// 單個傳輸發送失敗立即拆除該連接，不影響其他成員的投遞.
func (h *Hub) BroadcastToChannel(ctx context.Context, channelID string, event core.Event) {
	members, err := h.registry.Members(channelID)
	if err != nil {
		logger.Warning(ctx, fmt.Sprintf("廣播時查詢頻道成員失敗: %v", err),
			logger.WithChannelID(channelID))
		return
	}
	h.sendToUsers(ctx, members, "", event)
}

// BroadcastToChannelExcept 廣播給除指定用戶外的頻道成員（打字指示用）.
func (h *Hub) BroadcastToChannelExcept(ctx context.Context, channelID, exceptUserID string, event core.Event) {
	members, err := h.registry.Members(channelID)
	if err != nil {
		return
	}
	h.sendToUsers(ctx, members, exceptUserID, event)
}

// SendToUser 向單一用戶的活躍連接發送事件；離線時靜默跳過.
func (h *Hub) SendToUser(ctx context.Context, userID string, event core.Event) {
	h.mu.RLock()
	t, ok := h.conns[userID]
	h.mu.RUnlock()

	if !ok {
		metrics.BroadcastSends.WithLabelValues("skipped").Inc()
		return
	}

	if err := t.Send(event); err != nil {
		metrics.BroadcastSends.WithLabelValues("failed").Inc()
		h.teardown(ctx, userID, t)
		return
	}
	metrics.BroadcastSends.WithLabelValues("delivered").Inc()
}

// Typing 轉發打字指示給頻道其他成員.
func (h *Hub) Typing(ctx context.Context, userID, channelID string, isTyping bool) error {
	ch, err := h.registry.Get(channelID)
	if err != nil {
		return err
	}
	if !ch.IsMember(userID) {
		return fmt.Errorf("只有頻道成員可以發送打字指示: %w", core.ErrNotAMember)
	}

	h.users.Touch(userID)
	h.BroadcastToChannelExcept(ctx, channelID, userID, core.NewEvent(core.EventTyping, map[string]interface{}{
		"user_id":    userID,
		"channel_id": channelID,
		"is_typing":  isTyping,
	}))
	return nil
}

// UpdateStatus 用戶主動切換狀態（away/busy 等），並廣播給共享頻道.
func (h *Hub) UpdateStatus(ctx context.Context, userID string, status user.Status) error {
	switch status {
	case user.StatusOnline, user.StatusAway, user.StatusBusy, user.StatusOffline:
	default:
		return fmt.Errorf("無效的狀態: %s", status)
	}

	if err := h.users.SetStatus(userID, status); err != nil {
		return err
	}
	h.broadcastPresence(ctx, userID, status)
	return nil
}

// NotifyMemberJoined 向頻道廣播成員加入事件（channel.MemberEvents 實現）.
func (h *Hub) NotifyMemberJoined(ctx context.Context, ch *channel.Channel, userID string) {
	h.BroadcastToChannelExcept(ctx, ch.ID, userID, core.NewEvent(core.EventUserJoined, map[string]interface{}{
		"user_id":    userID,
		"channel_id": ch.ID,
	}))
}

// NotifyMemberLeft 向剩餘成員廣播成員離開事件.
func (h *Hub) NotifyMemberLeft(ctx context.Context, ch *channel.Channel, userID string) {
	h.BroadcastToChannel(ctx, ch.ID, core.NewEvent(core.EventUserLeft, map[string]interface{}{
		"user_id":    userID,
		"channel_id": ch.ID,
	}))
}

// ForceOffline 閒置掃描將用戶翻轉為離線並廣播（清理排程用）.
func (h *Hub) ForceOffline(ctx context.Context, userID string) {
	if err := h.users.SetStatus(userID, user.StatusOffline); err != nil {
		return
	}
	h.broadcastPresence(ctx, userID, user.StatusOffline)
}

// IsOnline 用戶當前是否有活躍連接.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[userID]
	return ok
}

// ConnectionCount 當前活躍連接數.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// broadcastPresence 向用戶所屬全部頻道廣播狀態變更.
func (h *Hub) broadcastPresence(ctx context.Context, userID string, status user.Status) {
	event := core.NewEvent(core.EventUserStatus, map[string]interface{}{
		"user_id": userID,
		"status":  string(status),
	})
	for _, ch := range h.registry.ListForUser(userID) {
		h.BroadcastToChannelExcept(ctx, ch.ID, userID, event)
	}
}

// sendToUsers 向一組用戶的活躍連接分發事件.
// 傳輸快照在讀鎖內收集，實際發送在鎖外進行.
func (h *Hub) sendToUsers(ctx context.Context, userIDs []string, exceptUserID string, event core.Event) {
	type target struct {
		userID    string
		transport Transport
	}

	h.mu.RLock()
	targets := make([]target, 0, len(userIDs))
	for _, id := range userIDs {
		if id == exceptUserID {
			continue
		}
		if t, ok := h.conns[id]; ok {
			targets = append(targets, target{userID: id, transport: t})
		} else {
			metrics.BroadcastSends.WithLabelValues("skipped").Inc()
		}
	}
	h.mu.RUnlock()

	for _, tg := range targets {
		if err := tg.transport.Send(event); err != nil {
			metrics.BroadcastSends.WithLabelValues("failed").Inc()
			h.teardown(ctx, tg.userID, tg.transport)
			continue
		}
		metrics.BroadcastSends.WithLabelValues("delivered").Inc()
	}
}

// teardown 拆除出錯的傳輸：移除綁定、關閉連接、更新在線狀態.
func (h *Hub) teardown(ctx context.Context, userID string, t Transport) {
	h.mu.Lock()
	if current, ok := h.conns[userID]; !ok || current != t {
		h.mu.Unlock()
		return
	}
	delete(h.conns, userID)
	h.mu.Unlock()

	_ = t.Close(CloseReasonError)
	metrics.LiveConnections.Dec()

	if err := h.users.SetStatus(userID, user.StatusOffline); err == nil {
		h.broadcastPresence(ctx, userID, user.StatusOffline)
	}

	logger.Warning(ctx, "傳輸發送失敗，連接已拆除",
		logger.WithUserID(userID),
		logger.WithAction("connection_teardown"))
}
