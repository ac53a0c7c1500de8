package user

import (
	"sync"
	"time"

	"chat-core/internal/core"
)

// Status 用戶在線狀態.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Preferences 通知偏好設置.
type Preferences struct {
	NotificationsEnabled bool
	MutedChannels        map[string]bool
	BlockedUsers         map[string]bool
}

// Capabilities 用戶能力旗標.
type Capabilities struct {
	CanCreateChannels bool
	CanModerate       bool
	CanUploadFiles    bool
	CanMentionAll     bool
}

// User 用戶在線記錄.
// 狀態由連接/斷線事件與定期閒置掃描維護.
type User struct {
	ID           string
	Username     string
	DisplayName  string
	Status       Status
	LastSeen     time.Time
	Preferences  Preferences
	Capabilities Capabilities
}

// Clone 返回用戶記錄的深拷貝（偏好集合一併複製）.
func (u *User) Clone() *User {
	cp := *u
	cp.Preferences.MutedChannels = make(map[string]bool, len(u.Preferences.MutedChannels))
	for k, v := range u.Preferences.MutedChannels {
		cp.Preferences.MutedChannels[k] = v
	}
	cp.Preferences.BlockedUsers = make(map[string]bool, len(u.Preferences.BlockedUsers))
	for k, v := range u.Preferences.BlockedUsers {
		cp.Preferences.BlockedUsers[k] = v
	}
	return &cp
}

// Directory 用戶目錄.
// 持有所有用戶的在線記錄，讀多寫少，使用讀寫鎖保護.
type Directory struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewDirectory 創建用戶目錄.
func NewDirectory() *Directory {
	return &Directory{
		users: make(map[string]*User),
	}
}

// Register 註冊或更新用戶記錄.
// 已存在的用戶只更新顯示名稱，保留狀態與偏好.
func (d *Directory) Register(id, username, displayName string) *User {
	d.mu.Lock()
	defer d.mu.Unlock()

	if u, ok := d.users[id]; ok {
		if username != "" {
			u.Username = username
		}
		if displayName != "" {
			u.DisplayName = displayName
		}
		return u.Clone()
	}

	u := &User{
		ID:          id,
		Username:    username,
		DisplayName: displayName,
		Status:      StatusOffline,
		LastSeen:    time.Now(),
		Preferences: Preferences{
			NotificationsEnabled: true,
			MutedChannels:        make(map[string]bool),
			BlockedUsers:         make(map[string]bool),
		},
		Capabilities: Capabilities{
			CanCreateChannels: true,
			CanUploadFiles:    true,
		},
	}
	d.users[id] = u
	return u.Clone()
}

// Get 查詢用戶記錄.
func (d *Directory) Get(id string) (*User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[id]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	return u.Clone(), nil
}

// Exists 用戶是否存在.
func (d *Directory) Exists(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.users[id]
	return ok
}

// SetStatus 更新用戶狀態並刷新最後活動時間.
func (d *Directory) SetStatus(id string, status Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[id]
	if !ok {
		return core.ErrUserNotFound
	}
	u.Status = status
	u.LastSeen = time.Now()
	return nil
}

// Touch 刷新用戶最後活動時間（收到任何信號時調用）.
func (d *Directory) Touch(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if u, ok := d.users[id]; ok {
		u.LastSeen = time.Now()
	}
}

// SetCapabilities 更新用戶能力旗標.
func (d *Directory) SetCapabilities(id string, caps Capabilities) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[id]
	if !ok {
		return core.ErrUserNotFound
	}
	u.Capabilities = caps
	return nil
}

// SetNotificationsEnabled 開關用戶的通知總閘.
func (d *Directory) SetNotificationsEnabled(id string, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[id]
	if !ok {
		return core.ErrUserNotFound
	}
	u.Preferences.NotificationsEnabled = enabled
	return nil
}

// MuteChannel 靜音/取消靜音指定頻道.
func (d *Directory) MuteChannel(id, channelID string, muted bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[id]
	if !ok {
		return core.ErrUserNotFound
	}
	if muted {
		u.Preferences.MutedChannels[channelID] = true
	} else {
		delete(u.Preferences.MutedChannels, channelID)
	}
	return nil
}

// BlockUser 封鎖/解除封鎖指定用戶.
func (d *Directory) BlockUser(id, blockedID string, blocked bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[id]
	if !ok {
		return core.ErrUserNotFound
	}
	if blocked {
		u.Preferences.BlockedUsers[blockedID] = true
	} else {
		delete(u.Preferences.BlockedUsers, blockedID)
	}
	return nil
}

// FindByUsername 按用戶名查找（提及偵測用）.
func (d *Directory) FindByUsername(username string) (*User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, u := range d.users {
		if u.Username == username {
			return u.Clone(), true
		}
	}
	return nil, false
}

// ListStale 列出仍標記為在線但閒置超過門檻的用戶 ID.
// 定期掃描用，只讀不改；狀態翻轉由調用方逐一執行.
func (d *Directory) ListStale(idleThreshold time.Duration) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	now := time.Now()
	var stale []string
	for id, u := range d.users {
		if u.Status == StatusOnline && now.Sub(u.LastSeen) > idleThreshold {
			stale = append(stale, id)
		}
	}
	return stale
}
