package notify

import (
	"sort"
	"sync"
	"time"

	"chat-core/internal/core"

	"github.com/google/uuid"
)

// Type 通知類型.
type Type string

const (
	TypeMessage       Type = "message"
	TypeMention       Type = "mention"
	TypeReaction      Type = "reaction"
	TypeChannelInvite Type = "channel_invite"
	TypeSystem        Type = "system"
	TypeAlert         Type = "alert"
)

// Priority 通知優先級.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Action 通知附帶的建議操作.
type Action struct {
	Label string                 `json:"label"`
	Key   string                 `json:"key"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

// Notification 通知記錄.
// 只由調度器創建；已讀旗標只由收件人翻轉.
type Notification struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	RecipientID string    `json:"recipient_id"`
	FromUserID  string    `json:"from_user_id,omitempty"`
	ChannelID   string    `json:"channel_id,omitempty"`
	MessageID   string    `json:"message_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Read        bool      `json:"read"`
	Priority    Priority  `json:"priority"`
	Actions     []Action  `json:"actions,omitempty"`
}

// newNotification 創建帶新 ID 與時間戳的通知.
func newNotification(t Type, recipientID string) *Notification {
	return &Notification{
		ID:          uuid.New().String(),
		Type:        t,
		RecipientID: recipientID,
		CreatedAt:   time.Now(),
		Priority:    PriorityNormal,
	}
}

// Store 通知存儲.
// 按收件人索引；站內通知恆記錄，不受外部發送器成敗影響.
type Store struct {
	mu          sync.RWMutex
	byRecipient map[string][]*Notification
	byID        map[string]*Notification
}

// NewStore 創建通知存儲.
func NewStore() *Store {
	return &Store{
		byRecipient: make(map[string][]*Notification),
		byID:        make(map[string]*Notification),
	}
}

// Put 記錄通知.
func (s *Store) Put(n *Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *n
	s.byRecipient[n.RecipientID] = append(s.byRecipient[n.RecipientID], &cp)
	s.byID[n.ID] = &cp
}

// List 列出收件人的通知（最新優先）.
func (s *Store) List(recipientID string, limit int, unreadOnly bool) []*Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byRecipient[recipientID]
	result := make([]*Notification, 0, limit)
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		if unreadOnly && all[i].Read {
			continue
		}
		cp := *all[i]
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// UnreadCount 收件人的未讀通知數.
func (s *Store) UnreadCount(recipientID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.byRecipient[recipientID] {
		if !n.Read {
			count++
		}
	}
	return count
}

// MarkRead 收件人將單則通知標記為已讀.
// 非收件人操作返回權限錯誤.
func (s *Store) MarkRead(recipientID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.byID[notificationID]
	if !ok {
		return core.ErrMessageNotFound
	}
	if n.RecipientID != recipientID {
		return core.ErrForbidden
	}
	n.Read = true
	return nil
}

// MarkAllRead 收件人將全部通知標記為已讀，返回翻轉的數量.
func (s *Store) MarkAllRead(recipientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for _, n := range s.byRecipient[recipientID] {
		if !n.Read {
			n.Read = true
			marked++
		}
	}
	return marked
}
