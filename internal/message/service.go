package message

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chat-core/internal/channel"
	"chat-core/internal/constants"
	"chat-core/internal/core"
	"chat-core/internal/moderation"
	"chat-core/internal/platform/logger"
	"chat-core/internal/platform/metrics"
	"chat-core/internal/ratelimit"
	"chat-core/internal/security/encryption"
	"chat-core/internal/user"

	"github.com/google/uuid"
)

// Broadcaster 即時廣播接口，由連接中心實現.
type Broadcaster interface {
	BroadcastToChannel(ctx context.Context, channelID string, event core.Event)
	SendToUser(ctx context.Context, userID string, event core.Event)
}

// Notifier 通知分發接口，由通知調度器實現.
type Notifier interface {
	DispatchMessage(ctx context.Context, msg *Message, ch *channel.Channel)
}

// Archive 訊息的持久化協作者接口.
type Archive interface {
	SaveMessage(ctx context.Context, msg *Message) error
	DeleteMessage(ctx context.Context, id string) error
}

// SendRequest 發送訊息請求.
// ChannelID 與 RecipientID 至少填一個：指定 RecipientID 時
// 解析（或創建）與對方的私聊頻道；每則訊息最終都落在一個頻道上.
type SendRequest struct {
	SenderID    string
	ChannelID   string
	RecipientID string
	Content     string
	Kind        Kind
	Attachments []Attachment
	ReplyTo     []string
}

// Service 訊息服務.
// 發送管線的固定順序：查找校驗 → 成員資格 → 速率限制 → 內容審核 →
// 提交 → 頻道計數 → 即時廣播 → 通知分發.
// 廣播先於通知，在線成員先看到訊息，不會收到重複的站內提醒.
type Service struct {
	store    *Store
	registry *channel.Registry
	users    *user.Directory
	limiter  *ratelimit.Limiter
	gate     *moderation.Gate
	crypto   *encryption.MessageEncryption

	broadcaster Broadcaster
	notifier    Notifier
	archive     Archive

	// 每個頻道一把提交鎖；提交與即時廣播同鎖完成，
	// 保證頻道內訊息按提交順序被在線成員觀察到
	commitMu   map[string]*sync.Mutex
	commitMuMu sync.Mutex
}

// NewService 創建訊息服務.
func NewService(
	store *Store,
	registry *channel.Registry,
	users *user.Directory,
	limiter *ratelimit.Limiter,
	gate *moderation.Gate,
	crypto *encryption.MessageEncryption,
) *Service {
	return &Service{
		store:    store,
		registry: registry,
		users:    users,
		limiter:  limiter,
		gate:     gate,
		crypto:   crypto,
		commitMu: make(map[string]*sync.Mutex),
	}
}

// SetBroadcaster 注入即時廣播器（啟動時由引擎裝配）.
func (s *Service) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// SetNotifier 注入通知調度器.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetArchive 注入持久化協作者.
func (s *Service) SetArchive(a Archive) {
	s.archive = a
}

// Send 發送訊息.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Message, error) {
	if req.Content == "" && len(req.Attachments) == 0 {
		return nil, fmt.Errorf("訊息內容不能為空")
	}
	if len(req.Content) > constants.DefaultMaxMessageLength {
		return nil, fmt.Errorf("訊息長度超過上限 %d", constants.DefaultMaxMessageLength)
	}

	sender, err := s.users.Get(req.SenderID)
	if err != nil {
		return nil, fmt.Errorf("查詢發送者失敗: %w", err)
	}

	ch, err := s.resolveChannel(ctx, req)
	if err != nil {
		return nil, err
	}

	if !ch.IsMember(req.SenderID) {
		return nil, fmt.Errorf("發送者不是頻道成員: %w", core.ErrNotAMember)
	}

	kind := req.Kind
	if kind == "" {
		kind = KindText
	}
	if kind == KindFile && !ch.Settings.AllowFiles {
		return nil, fmt.Errorf("頻道不允許文件訊息: %w", core.ErrForbidden)
	}
	if (kind == KindImage || kind == KindVideo || kind == KindAudio) && !ch.Settings.AllowMedia {
		return nil, fmt.Errorf("頻道不允許媒體訊息: %w", core.ErrForbidden)
	}

	// 速率限制：拒絕必須發生在任何狀態變更之前
	admitted, err := s.limiter.Admit(req.SenderID, ch.ID)
	if err != nil {
		return nil, err
	}
	if !admitted {
		metrics.RateLimitDenials.Inc()
		return nil, fmt.Errorf("發送頻率超過頻道限制: %w", core.ErrRateLimitExceeded)
	}

	// 內容審核：不持有任何存儲鎖
	outcome := moderation.Outcome{Approved: true}
	if ch.Settings.AutoModeration {
		outcome = s.gate.Moderate(ctx, req.Content, string(kind))
	}

	msg := &Message{
		ID:          uuid.New().String(),
		Kind:        kind,
		Content:     req.Content,
		SenderID:    sender.ID,
		SenderName:  sender.DisplayName,
		ChannelID:   ch.ID,
		CreatedAt:   time.Now(),
		ReplyTo:     req.ReplyTo,
		Attachments: req.Attachments,
		Priority:    PriorityNormal,
		Status:      StatusSent,
		ReadBy:      map[string]bool{sender.ID: true},
	}
	applyModeration(msg, outcome)

	stored := msg.Clone()
	if ch.Settings.Encrypted && s.crypto != nil && s.crypto.Enabled() && stored.Content != "" {
		encrypted, err := s.crypto.EncryptMessage(stored.Content, ch.ID)
		if err != nil {
			return nil, fmt.Errorf("訊息加密失敗: %w", err)
		}
		stored.Content = encrypted
		stored.Encrypted = true
	}

	// 提交點：同一頻道的提交互斥.
	// 即時廣播留在鎖內：Transport.Send 是非阻塞入隊，鎖內廣播
	// 不會被慢連接拖住，卻保證廣播順序與提交順序一致.
	commitMu := s.channelCommitMu(ch.ID)
	commitMu.Lock()
	s.store.Put(stored)
	if err := s.registry.RecordMessage(ch.ID); err != nil {
		logger.Warning(ctx, fmt.Sprintf("更新頻道計數失敗: %v", err),
			logger.WithChannelID(ch.ID))
	}
	visible := s.broadcast(ctx, msg, ch, core.EventNewMessage)
	commitMu.Unlock()

	metrics.MessagesCommitted.Inc()
	s.persistMessage(ctx, stored)
	s.users.Touch(sender.ID)

	logger.Info(ctx, "訊息已提交",
		logger.WithMessageID(msg.ID),
		logger.WithChannelID(ch.ID),
		logger.WithUserID(sender.ID),
		logger.WithAction("message_send"),
		logger.WithDetails(map[string]interface{}{
			"moderation_status": string(msg.ModerationStatus),
			"fallback":          outcome.Fallback,
		}))

	// 通知分發在鎖外：郵件與推送旁路可能阻塞，不能拖住頻道提交
	if visible && s.notifier != nil {
		s.notifier.DispatchMessage(ctx, msg, ch)
	}

	return msg, nil
}

// Edit 編輯訊息.
// 只有原發送者可以編輯；新內容重新過審核；只變更內容、
// 編輯時間與審核字段，ID、發送者與頻道保持不變.
func (s *Service) Edit(ctx context.Context, messageID, editorID, newContent string) (*Message, error) {
	if newContent == "" {
		return nil, fmt.Errorf("訊息內容不能為空")
	}

	existing, err := s.store.Get(messageID)
	if err != nil {
		return nil, err
	}
	if existing.SenderID != editorID {
		return nil, fmt.Errorf("只有發送者可以編輯訊息: %w", core.ErrForbidden)
	}

	ch, err := s.registry.Get(existing.ChannelID)
	if err != nil {
		return nil, err
	}

	// 重新審核，不持有存儲鎖
	outcome := moderation.Outcome{Approved: true}
	if ch.Settings.AutoModeration {
		outcome = s.gate.Moderate(ctx, newContent, string(existing.Kind))
	}

	storedContent := newContent
	encrypted := false
	if ch.Settings.Encrypted && s.crypto != nil && s.crypto.Enabled() {
		storedContent, err = s.crypto.EncryptMessage(newContent, ch.ID)
		if err != nil {
			return nil, fmt.Errorf("訊息加密失敗: %w", err)
		}
		encrypted = true
	}

	now := time.Now()
	updated, err := s.store.Update(messageID, func(m *Message) error {
		m.Content = storedContent
		m.Encrypted = encrypted
		m.EditedAt = &now
		applyModeration(m, outcome)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.persistMessage(ctx, updated)

	plain := updated.Clone()
	plain.Content = newContent
	plain.Encrypted = false

	logger.Info(ctx, "訊息已編輯",
		logger.WithMessageID(messageID),
		logger.WithChannelID(ch.ID),
		logger.WithUserID(editorID),
		logger.WithAction("message_edit"))

	s.fanOutEvent(ctx, plain, ch, core.EventMessageEdited)

	return plain, nil
}

// Delete 刪除訊息.
// 發送者或頻道版主可刪除；頻道計數遞減（下限 0）.
func (s *Service) Delete(ctx context.Context, messageID, requesterID string) error {
	existing, err := s.store.Get(messageID)
	if err != nil {
		return err
	}

	ch, err := s.registry.Get(existing.ChannelID)
	if err != nil {
		return err
	}

	if existing.SenderID != requesterID && !ch.IsModerator(requesterID) {
		return fmt.Errorf("只有發送者或版主可以刪除訊息: %w", core.ErrForbidden)
	}

	if _, err := s.store.Delete(messageID); err != nil {
		return err
	}
	s.registry.DiscardMessage(ch.ID, 1)

	if s.archive != nil {
		if err := s.archive.DeleteMessage(ctx, messageID); err != nil {
			logger.Warning(ctx, fmt.Sprintf("刪除持久化訊息失敗: %v", err),
				logger.WithMessageID(messageID))
		}
	}

	logger.Info(ctx, "訊息已刪除",
		logger.WithMessageID(messageID),
		logger.WithChannelID(ch.ID),
		logger.WithUserID(requesterID),
		logger.WithAction("message_delete"))

	if s.broadcaster != nil {
		s.broadcaster.BroadcastToChannel(ctx, ch.ID, core.NewEvent(core.EventMessageDeleted, map[string]interface{}{
			"message_id": messageID,
			"channel_id": ch.ID,
			"deleted_by": requesterID,
		}))
	}

	return nil
}

// React 切換表情反應.
// 同一 (訊息, 表情, 用戶) 三元組為開關語義；反應者集合清空時整個表情條目移除.
func (s *Service) React(ctx context.Context, messageID, userID, emoji string) (*Message, error) {
	if emoji == "" {
		return nil, fmt.Errorf("表情不能為空")
	}

	existing, err := s.store.Get(messageID)
	if err != nil {
		return nil, err
	}

	ch, err := s.registry.Get(existing.ChannelID)
	if err != nil {
		return nil, err
	}
	if !ch.IsMember(userID) {
		return nil, fmt.Errorf("只有頻道成員可以加反應: %w", core.ErrNotAMember)
	}

	updated, err := s.store.Update(messageID, func(m *Message) error {
		toggleReaction(m, userID, emoji)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.persistMessage(ctx, updated)

	if s.broadcaster != nil {
		s.broadcaster.BroadcastToChannel(ctx, ch.ID, core.NewEvent(core.EventMessageReaction, map[string]interface{}{
			"message_id": messageID,
			"channel_id": ch.ID,
			"user_id":    userID,
			"emoji":      emoji,
			"reactions":  updated.Reactions,
		}))
	}

	return updated, nil
}

// MarkRead 將頻道內他人發送的訊息標記為已讀.
func (s *Service) MarkRead(ctx context.Context, channelID, userID string) (int, error) {
	ch, err := s.registry.Get(channelID)
	if err != nil {
		return 0, err
	}
	if !ch.IsMember(userID) {
		return 0, fmt.Errorf("只有頻道成員可以標記已讀: %w", core.ErrNotAMember)
	}

	marked := s.store.MarkRead(channelID, userID)
	s.users.Touch(userID)
	return marked, nil
}

// History 返回頻道歷史（最新優先，時間游標分頁）.
// 未通過審核的訊息對非發送者隱藏；加密內容解密後返回.
func (s *Service) History(ctx context.Context, channelID, viewerID string, before time.Time, limit int) ([]*Message, error) {
	ch, err := s.registry.Get(channelID)
	if err != nil {
		return nil, err
	}
	if !ch.IsMember(viewerID) {
		return nil, fmt.Errorf("只有頻道成員可以查看歷史: %w", core.ErrNotAMember)
	}

	if limit <= 0 || limit > constants.DefaultMaxPageSize {
		limit = constants.DefaultHistoryPageSize
	}

	// 多取一些再過濾可見性，避免一頁被過濾後不足
	raw := s.store.History(channelID, before, limit*2)
	result := make([]*Message, 0, limit)
	for _, msg := range raw {
		if !msg.Visible(viewerID, ch.Settings.AutoModeration) {
			continue
		}
		result = append(result, s.decrypt(ctx, msg, ch.ID))
		if len(result) >= limit {
			break
		}
	}

	return result, nil
}

// resolveChannel 解析目標頻道.
func (s *Service) resolveChannel(ctx context.Context, req SendRequest) (*channel.Channel, error) {
	if req.ChannelID != "" {
		ch, err := s.registry.Get(req.ChannelID)
		if err != nil {
			return nil, err
		}
		if ch.Archived {
			return nil, fmt.Errorf("頻道已歸檔: %w", core.ErrChannelNotFound)
		}
		return ch, nil
	}
	if req.RecipientID != "" {
		return s.registry.EnsureDirect(ctx, req.SenderID, req.RecipientID)
	}
	return nil, fmt.Errorf("必須指定頻道或收件人: %w", core.ErrChannelNotFound)
}

// broadcast 鎖內的即時廣播，返回訊息是否對全頻道可見.
// 被審核攔截的訊息只回送發送者本人的副本，其他成員不可見.
// 調用方持有頻道提交鎖.
func (s *Service) broadcast(ctx context.Context, msg *Message, ch *channel.Channel, eventType core.EventType) bool {
	visible := msg.ModerationStatus != ModerationRejected || !ch.Settings.AutoModeration
	if s.broadcaster == nil {
		return visible
	}

	event := core.NewEvent(eventType, msg)
	if visible {
		s.broadcaster.BroadcastToChannel(ctx, ch.ID, event)
	} else {
		s.broadcaster.SendToUser(ctx, msg.SenderID, event)
	}
	return visible
}

// fanOutEvent 編輯事件的廣播（不重複觸發通知）.
func (s *Service) fanOutEvent(ctx context.Context, msg *Message, ch *channel.Channel, eventType core.EventType) {
	if s.broadcaster == nil {
		return
	}
	event := core.NewEvent(eventType, msg)
	if msg.ModerationStatus != ModerationRejected || !ch.Settings.AutoModeration {
		s.broadcaster.BroadcastToChannel(ctx, ch.ID, event)
	} else {
		s.broadcaster.SendToUser(ctx, msg.SenderID, event)
	}
}

// decrypt 解密訊息內容供調用方查看.
func (s *Service) decrypt(ctx context.Context, msg *Message, channelID string) *Message {
	if !msg.Encrypted || s.crypto == nil {
		return msg
	}
	plain, err := s.crypto.DecryptMessage(msg.Content, channelID)
	if err != nil {
		logger.Warning(ctx, fmt.Sprintf("訊息解密失敗: %v", err),
			logger.WithMessageID(msg.ID))
		return msg
	}
	cp := msg.Clone()
	cp.Content = plain
	cp.Encrypted = false
	return cp
}

// persistMessage 鎖外寫入持久層，失敗只記錄.
func (s *Service) persistMessage(ctx context.Context, msg *Message) {
	if s.archive == nil {
		return
	}
	if err := s.archive.SaveMessage(ctx, msg); err != nil {
		logger.Warning(ctx, fmt.Sprintf("訊息持久化失敗: %v", err),
			logger.WithMessageID(msg.ID),
			logger.WithAction("message_persist_failed"))
	}
}

// channelCommitMu 取得頻道的提交鎖.
func (s *Service) channelCommitMu(channelID string) *sync.Mutex {
	s.commitMuMu.Lock()
	defer s.commitMuMu.Unlock()

	mu, ok := s.commitMu[channelID]
	if !ok {
		mu = &sync.Mutex{}
		s.commitMu[channelID] = mu
	}
	return mu
}

// applyModeration 把審核結果寫入訊息.
// 放行但帶分類旗標的訊息標記為 flagged：正常投遞，同時進入版主審核隊列.
func applyModeration(m *Message, outcome moderation.Outcome) {
	m.ModerationScore = outcome.Score
	m.FlaggedReasons = outcome.Flags
	switch {
	case !outcome.Approved:
		m.ModerationStatus = ModerationRejected
	case len(outcome.Flags) > 0:
		m.ModerationStatus = ModerationFlagged
	default:
		m.ModerationStatus = ModerationApproved
	}
}

// toggleReaction 切換表情反應並維護計數恆等於集合大小.
func toggleReaction(m *Message, userID, emoji string) {
	for i := range m.Reactions {
		r := &m.Reactions[i]
		if r.Emoji != emoji {
			continue
		}
		if r.Reactors[userID] {
			delete(r.Reactors, userID)
		} else {
			r.Reactors[userID] = true
		}
		r.Count = len(r.Reactors)

		// 集合清空時移除整個條目
		if r.Count == 0 {
			m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
		}
		return
	}

	m.Reactions = append(m.Reactions, Reaction{
		Emoji:    emoji,
		Reactors: map[string]bool{userID: true},
		Count:    1,
	})
}
