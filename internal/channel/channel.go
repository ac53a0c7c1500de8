package channel

import (
	"time"

	"chat-core/internal/constants"
)

// Kind 頻道類型.
type Kind string

const (
	KindPublic    Kind = "public"
	KindPrivate   Kind = "private"
	KindDirect    Kind = "direct"
	KindGroup     Kind = "group"
	KindBroadcast Kind = "broadcast"
)

// Settings 頻道設置.
type Settings struct {
	MaxMembers         int  `json:"max_members"`
	RequireApproval    bool `json:"require_approval"`
	AllowFiles         bool `json:"allow_files"`
	AllowMedia         bool `json:"allow_media"`
	AutoModeration     bool `json:"auto_moderation"`
	RateLimitPerMinute int  `json:"rate_limit_per_minute"`
	RateLimitEnabled   bool `json:"rate_limit_enabled"`
	Encrypted          bool `json:"encrypted"`
	RetentionEnabled   bool `json:"retention_enabled"`
	RetentionDays      int  `json:"retention_days"`
}

// DefaultSettings 頻道設置默認值.
func DefaultSettings() Settings {
	return Settings{
		MaxMembers:         constants.DefaultMaxChannelMembers,
		RequireApproval:    false,
		AllowFiles:         true,
		AllowMedia:         true,
		AutoModeration:     true,
		RateLimitPerMinute: constants.DefaultMessagesPerMinute,
		RateLimitEnabled:   true,
		Encrypted:          false,
		RetentionEnabled:   false,
		RetentionDays:      constants.DefaultRetentionDays,
	}
}

// Spec 創建頻道時的參數.
// 零值字段沿用默認設置.
type Spec struct {
	Name     string
	Kind     Kind
	Members  []string
	Settings *Settings
}

// Channel 頻道記錄.
// 成員與版主集合由 Registry 獨占持有；版主恆為成員的子集.
type Channel struct {
	ID           string
	Name         string
	Kind         Kind
	Members      map[string]bool
	Moderators   map[string]bool
	PendingJoins map[string]bool
	Settings     Settings
	CreatedAt    time.Time
	LastActivity time.Time
	MessageCount int64
	Archived     bool
}

// IsMember 用戶是否為頻道成員.
func (c *Channel) IsMember(userID string) bool {
	return c.Members[userID]
}

// IsModerator 用戶是否為頻道版主.
func (c *Channel) IsModerator(userID string) bool {
	return c.Moderators[userID]
}

// MemberIDs 返回成員 ID 列表.
func (c *Channel) MemberIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for id := range c.Members {
		ids = append(ids, id)
	}
	return ids
}

// ModeratorIDs 返回版主 ID 列表.
func (c *Channel) ModeratorIDs() []string {
	ids := make([]string, 0, len(c.Moderators))
	for id := range c.Moderators {
		ids = append(ids, id)
	}
	return ids
}

// Clone 返回頻道記錄的深拷貝.
func (c *Channel) Clone() *Channel {
	cp := *c
	cp.Members = make(map[string]bool, len(c.Members))
	for id := range c.Members {
		cp.Members[id] = true
	}
	cp.Moderators = make(map[string]bool, len(c.Moderators))
	for id := range c.Moderators {
		cp.Moderators[id] = true
	}
	cp.PendingJoins = make(map[string]bool, len(c.PendingJoins))
	for id := range c.PendingJoins {
		cp.PendingJoins[id] = true
	}
	return &cp
}

// JoinResult 加入頻道的結果.
type JoinResult string

const (
	JoinAdmitted        JoinResult = "admitted"
	JoinPendingApproval JoinResult = "pending_approval"
	JoinRejected        JoinResult = "rejected"
)
