package notify

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"chat-core/internal/channel"
	"chat-core/internal/core"
	"chat-core/internal/message"
	"chat-core/internal/platform/logger"
	"chat-core/internal/platform/metrics"
	"chat-core/internal/user"
)

// LivePusher 站內即時推送接口，由連接中心實現.
type LivePusher interface {
	SendToUser(ctx context.Context, userID string, event core.Event)
}

// Archive 通知的持久化協作者接口.
type Archive interface {
	SaveNotification(ctx context.Context, n *Notification) error
}

// Dispatcher 通知調度器.
// 對每則成功廣播的訊息，遍歷發送者以外的頻道成員分發通知：
// 站內通知恆記錄；郵件只在高優先級時發送；推送無條件發送.
// 郵件與推送都是盡力而為的旁路，失敗不影響通知記錄與訊息本身.
type Dispatcher struct {
	store *Store
	users *user.Directory

	email EmailSender
	push  PushSender
	live  LivePusher

	archive Archive
}

// NewDispatcher 創建通知調度器.
func NewDispatcher(store *Store, users *user.Directory, email EmailSender, push PushSender) *Dispatcher {
	return &Dispatcher{
		store: store,
		users: users,
		email: email,
		push:  push,
	}
}

// SetLivePusher 注入站內即時推送器（啟動時由引擎裝配）.
func (d *Dispatcher) SetLivePusher(p LivePusher) {
	d.live = p
}

// SetArchive 注入持久化協作者.
func (d *Dispatcher) SetArchive(a Archive) {
	d.archive = a
}

// Store 返回底層通知存儲（查詢與標記已讀用）.
func (d *Dispatcher) Store() *Store {
	return d.store
}

// UnreadCount 收件人的未讀通知數（連接快照用）.
func (d *Dispatcher) UnreadCount(userID string) int {
	return d.store.UnreadCount(userID)
}

// DispatchMessage 為一則已廣播的訊息分發通知.
func (d *Dispatcher) DispatchMessage(ctx context.Context, msg *message.Message, ch *channel.Channel) {
	sender, err := d.users.Get(msg.SenderID)
	if err != nil {
		logger.Warning(ctx, fmt.Sprintf("查詢發送者失敗，跳過通知分發: %v", err),
			logger.WithMessageID(msg.ID))
		return
	}

	for memberID := range ch.Members {
		if memberID == msg.SenderID {
			continue
		}

		recipient, err := d.users.Get(memberID)
		if err != nil {
			continue
		}
		if !recipient.Preferences.NotificationsEnabled {
			continue
		}
		if recipient.Preferences.MutedChannels[ch.ID] {
			continue
		}
		// 收件人封鎖了發送者，不打擾
		if recipient.Preferences.BlockedUsers[msg.SenderID] {
			continue
		}

		n := d.buildMessageNotification(msg, ch, sender, recipient)
		d.deliver(ctx, n)
	}
}

// NotifyJoinRequest 向頻道版主發出加入請求通知（channel.JoinNotifier 實現）.
func (d *Dispatcher) NotifyJoinRequest(ctx context.Context, ch *channel.Channel, requesterID string) {
	requester, err := d.users.Get(requesterID)
	if err != nil {
		return
	}

	for moderatorID := range ch.Moderators {
		if moderatorID == requesterID {
			continue
		}

		n := newNotification(TypeChannelInvite, moderatorID)
		n.Title = fmt.Sprintf("%s 請求加入 %s", requester.DisplayName, ch.Name)
		n.Body = fmt.Sprintf("用戶 %s 等待審批加入頻道 %s", requester.DisplayName, ch.Name)
		n.FromUserID = requesterID
		n.ChannelID = ch.ID
		n.Priority = PriorityNormal
		n.Actions = []Action{
			{Label: "批准", Key: "approve_join", Data: map[string]interface{}{"channel_id": ch.ID, "user_id": requesterID}},
			{Label: "駁回", Key: "reject_join", Data: map[string]interface{}{"channel_id": ch.ID, "user_id": requesterID}},
		}

		d.deliver(ctx, n)
	}
}

// buildMessageNotification 構造訊息通知，含提及偵測.
func (d *Dispatcher) buildMessageNotification(msg *message.Message, ch *channel.Channel, sender, recipient *user.User) *Notification {
	n := newNotification(TypeMessage, recipient.ID)
	n.FromUserID = msg.SenderID
	n.ChannelID = ch.ID
	n.MessageID = msg.ID
	n.Title = fmt.Sprintf("%s 在 %s 發送了訊息", msg.SenderName, ch.Name)
	n.Body = truncate(msg.Content, 120)

	if detectMention(msg.Content, recipient.Username, sender.Capabilities.CanMentionAll) {
		n.Type = TypeMention
		n.Priority = PriorityHigh
		n.Title = fmt.Sprintf("%s 在 %s 提到了你", msg.SenderName, ch.Name)
	}

	return n
}

// deliver 記錄通知並經由各旁路發送.
func (d *Dispatcher) deliver(ctx context.Context, n *Notification) {
	// 站內通知恆記錄
	d.store.Put(n)
	metrics.NotificationsSent.WithLabelValues("inapp").Inc()

	if d.archive != nil {
		if err := d.archive.SaveNotification(ctx, n); err != nil {
			logger.Warning(ctx, fmt.Sprintf("通知持久化失敗: %v", err),
				logger.WithUserID(n.RecipientID))
		}
	}

	// 在線的收件人立即收到事件
	if d.live != nil {
		d.live.SendToUser(ctx, n.RecipientID, core.NewEvent(core.EventNotification, n))
	}

	// 郵件只在高優先級時發送
	if d.email != nil && (n.Priority == PriorityHigh || n.Priority == PriorityUrgent) {
		if err := d.email.Send(ctx, n.RecipientID, n.Title, "", n.Body); err != nil {
			metrics.CollaboratorFailures.WithLabelValues("email").Inc()
			logger.Warning(ctx, fmt.Sprintf("郵件通知發送失敗: %v", err),
				logger.WithUserID(n.RecipientID),
				logger.WithAction("email_send_failed"))
		} else {
			metrics.NotificationsSent.WithLabelValues("email").Inc()
		}
	}

	// 推送無條件發送
	if d.push != nil {
		if err := d.push.Send(ctx, n.RecipientID, n.Title, n.Body, n.Priority); err != nil {
			metrics.CollaboratorFailures.WithLabelValues("push").Inc()
			logger.Warning(ctx, fmt.Sprintf("推送通知發送失敗: %v", err),
				logger.WithUserID(n.RecipientID),
				logger.WithAction("push_send_failed"))
		} else {
			metrics.NotificationsSent.WithLabelValues("push").Inc()
		}
	}
}

// detectMention 偵測內容是否提及收件人.
// @everyone 與 @here 需要發送者具備全體提及能力才構成高優先級提及.
func detectMention(content, username string, senderCanMentionAll bool) bool {
	if username != "" && containsMentionToken(content, username) {
		return true
	}
	if senderCanMentionAll &&
		(containsMentionToken(content, "everyone") || containsMentionToken(content, "here")) {
		return true
	}
	return false
}

// containsMentionToken 檢查內容是否含完整的 @name 提及.
// @name 後必須是非標識符字符或內容結尾，@bobby 不構成對 bob 的提及.
func containsMentionToken(content, name string) bool {
	token := "@" + name
	for offset := 0; ; {
		i := strings.Index(content[offset:], token)
		if i < 0 {
			return false
		}
		end := offset + i + len(token)
		if end == len(content) {
			return true
		}
		r, _ := utf8.DecodeRuneInString(content[end:])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return true
		}
		offset = end
	}
}

// truncate 截斷通知正文.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
