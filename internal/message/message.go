package message

import (
	"time"
)

// Kind 訊息類型.
type Kind string

const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindVideo  Kind = "video"
	KindAudio  Kind = "audio"
	KindFile   Kind = "file"
	KindSystem Kind = "system"
)

// Status 訊息投遞狀態.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// ModerationStatus 審核狀態.
type ModerationStatus string

const (
	ModerationApproved ModerationStatus = "approved"
	// 放行但帶分類旗標：正常投遞，同時進入版主審核隊列
	ModerationFlagged  ModerationStatus = "flagged"
	ModerationRejected ModerationStatus = "rejected"
)

// Priority 投遞優先級.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Attachment 附件描述.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// Reaction 表情反應.
// Count 恆等於反應者集合的大小；集合清空時整個條目移除.
type Reaction struct {
	Emoji    string          `json:"emoji"`
	Reactors map[string]bool `json:"-"`
	Count    int             `json:"count"`
}

// ReactorIDs 返回反應者 ID 列表.
func (r *Reaction) ReactorIDs() []string {
	ids := make([]string, 0, len(r.Reactors))
	for id := range r.Reactors {
		ids = append(ids, id)
	}
	return ids
}

// Message 訊息記錄.
// 只有發送者可以編輯；發送者或頻道版主可以刪除；任何成員可以加反應.
type Message struct {
	ID          string       `json:"id"`
	Kind        Kind         `json:"kind"`
	Content     string       `json:"content"`
	SenderID    string       `json:"sender_id"`
	SenderName  string       `json:"sender_name"`
	ChannelID   string       `json:"channel_id"`
	CreatedAt   time.Time    `json:"created_at"`
	EditedAt    *time.Time   `json:"edited_at,omitempty"`
	Reactions   []Reaction   `json:"reactions,omitempty"`
	ReplyTo     []string     `json:"reply_to,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	Encrypted bool     `json:"encrypted"`
	Priority  Priority `json:"priority"`
	Status    Status   `json:"status"`

	ModerationStatus ModerationStatus `json:"moderation_status"`
	ModerationScore  int              `json:"moderation_score"`
	FlaggedReasons   []string         `json:"flagged_reasons,omitempty"`

	// 已讀成員集合（標記已讀操作維護）
	ReadBy map[string]bool `json:"-"`
}

// Visible 訊息對指定用戶是否可見.
// 被審核攔截的訊息只有發送者本人可見；帶旗標放行的訊息正常可見；
// autoModeration 關閉的頻道不攔截.
func (m *Message) Visible(viewerID string, autoModeration bool) bool {
	if !autoModeration {
		return true
	}
	if m.ModerationStatus != ModerationRejected {
		return true
	}
	return m.SenderID == viewerID
}

// Clone 返回訊息的深拷貝.
func (m *Message) Clone() *Message {
	cp := *m
	cp.Reactions = make([]Reaction, len(m.Reactions))
	for i, r := range m.Reactions {
		reactors := make(map[string]bool, len(r.Reactors))
		for id := range r.Reactors {
			reactors[id] = true
		}
		cp.Reactions[i] = Reaction{Emoji: r.Emoji, Reactors: reactors, Count: r.Count}
	}
	cp.ReplyTo = append([]string(nil), m.ReplyTo...)
	cp.Attachments = append([]Attachment(nil), m.Attachments...)
	cp.FlaggedReasons = append([]string(nil), m.FlaggedReasons...)
	cp.ReadBy = make(map[string]bool, len(m.ReadBy))
	for id := range m.ReadBy {
		cp.ReadBy[id] = true
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		cp.EditedAt = &t
	}
	return &cp
}
