package channel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"chat-core/internal/core"
	"chat-core/internal/platform/logger"
	"chat-core/internal/user"

	"github.com/google/uuid"
)

// JoinNotifier 加入請求通知接口.
// 需要審批的加入請求發生時，Registry 透過它向版主發出通知；
// 具體實現由通知調度器提供.
type JoinNotifier interface {
	NotifyJoinRequest(ctx context.Context, ch *Channel, requesterID string)
}

// MemberEvents 成員變動的即時廣播接口，由連接中心實現.
type MemberEvents interface {
	NotifyMemberJoined(ctx context.Context, ch *Channel, userID string)
	NotifyMemberLeft(ctx context.Context, ch *Channel, userID string)
}

// Archive 頻道的持久化協作者接口.
// 未配置持久化時為 nil，引擎純內存運行.
type Archive interface {
	SaveChannel(ctx context.Context, ch *Channel) error
}

// Registry 頻道註冊表.
// 獨占持有頻道定義、成員關係與設置；
// 持久化寫入在鎖外進行，失敗只記錄不回滾.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*Channel
	directs  map[string]string // 無序用戶對 -> 私聊頻道 ID

	users    *user.Directory
	notifier JoinNotifier
	events   MemberEvents
	archive  Archive
}

// NewRegistry 創建頻道註冊表.
func NewRegistry(users *user.Directory) *Registry {
	return &Registry{
		channels: make(map[string]*Channel),
		directs:  make(map[string]string),
		users:    users,
	}
}

// SetJoinNotifier 注入加入請求通知器（啟動時由引擎裝配）.
func (r *Registry) SetJoinNotifier(n JoinNotifier) {
	r.notifier = n
}

// SetMemberEvents 注入成員變動廣播器.
func (r *Registry) SetMemberEvents(e MemberEvents) {
	r.events = e
}

// SetArchive 注入持久化協作者.
func (r *Registry) SetArchive(a Archive) {
	r.archive = a
}

// CreateChannel 創建頻道.
// 創建者需要 can_create_channels 能力；創建者成為唯一初始成員兼版主.
func (r *Registry) CreateChannel(ctx context.Context, creatorID string, spec Spec) (*Channel, error) {
	creator, err := r.users.Get(creatorID)
	if err != nil {
		return nil, fmt.Errorf("查詢創建者失敗: %w", err)
	}
	if !creator.Capabilities.CanCreateChannels {
		return nil, fmt.Errorf("用戶 %s 無創建頻道權限: %w", creatorID, core.ErrPermissionDenied)
	}

	settings := DefaultSettings()
	if spec.Settings != nil {
		settings = mergeSettings(settings, *spec.Settings)
	}

	kind := spec.Kind
	if kind == "" {
		kind = KindPublic
	}

	now := time.Now()
	ch := &Channel{
		ID:           uuid.New().String(),
		Name:         spec.Name,
		Kind:         kind,
		Members:      map[string]bool{creatorID: true},
		Moderators:   map[string]bool{creatorID: true},
		PendingJoins: make(map[string]bool),
		Settings:     settings,
		CreatedAt:    now,
		LastActivity: now,
	}

	// 創建時指定的額外成員直接入列（不走審批）
	for _, id := range spec.Members {
		if id == creatorID {
			continue
		}
		if len(ch.Members) >= ch.Settings.MaxMembers {
			break
		}
		if r.users.Exists(id) {
			ch.Members[id] = true
		}
	}

	r.mu.Lock()
	r.channels[ch.ID] = ch
	snapshot := ch.Clone()
	r.mu.Unlock()

	r.persist(ctx, snapshot)

	logger.Info(ctx, "頻道已創建",
		logger.WithChannelID(ch.ID),
		logger.WithUserID(creatorID),
		logger.WithAction("channel_create"))

	return snapshot, nil
}

// EnsureDirect 查找或創建兩個用戶之間的私聊頻道.
// 按無序用戶對冪等：同一對用戶至多存在一個私聊頻道.
func (r *Registry) EnsureDirect(ctx context.Context, userA, userB string) (*Channel, error) {
	if !r.users.Exists(userA) || !r.users.Exists(userB) {
		return nil, core.ErrUserNotFound
	}

	key := directKey(userA, userB)

	r.mu.Lock()
	if id, ok := r.directs[key]; ok {
		if ch, ok := r.channels[id]; ok && !ch.Archived {
			snapshot := ch.Clone()
			r.mu.Unlock()
			return snapshot, nil
		}
	}

	now := time.Now()
	ch := &Channel{
		ID:           uuid.New().String(),
		Name:         key,
		Kind:         KindDirect,
		Members:      map[string]bool{userA: true, userB: true},
		Moderators:   make(map[string]bool),
		PendingJoins: make(map[string]bool),
		Settings:     DefaultSettings(),
		CreatedAt:    now,
		LastActivity: now,
	}
	r.channels[ch.ID] = ch
	r.directs[key] = ch.ID
	snapshot := ch.Clone()
	r.mu.Unlock()

	r.persist(ctx, snapshot)

	logger.Info(ctx, "私聊頻道已創建",
		logger.WithChannelID(ch.ID),
		logger.WithAction("direct_channel_create"))

	return snapshot, nil
}

// JoinChannel 加入頻道.
// 已是成員時冪等返回 admitted，不重複通知；
// 滿員返回 rejected；需要審批且非版主時記錄等待並通知版主.
func (r *Registry) JoinChannel(ctx context.Context, userID, channelID string) (JoinResult, error) {
	if !r.users.Exists(userID) {
		return JoinRejected, core.ErrUserNotFound
	}

	r.mu.Lock()
	ch, ok := r.channels[channelID]
	if !ok {
		r.mu.Unlock()
		return JoinRejected, core.ErrChannelNotFound
	}
	if ch.Archived {
		r.mu.Unlock()
		return JoinRejected, fmt.Errorf("頻道已歸檔: %w", core.ErrChannelNotFound)
	}
	if ch.Kind == KindDirect {
		r.mu.Unlock()
		return JoinRejected, fmt.Errorf("私聊頻道不接受加入: %w", core.ErrForbidden)
	}

	// 冪等：重複加入不改變狀態也不重複通知
	if ch.Members[userID] {
		r.mu.Unlock()
		return JoinAdmitted, nil
	}

	if len(ch.Members) >= ch.Settings.MaxMembers {
		r.mu.Unlock()
		return JoinRejected, fmt.Errorf("頻道成員已達上限 %d: %w", ch.Settings.MaxMembers, core.ErrCapacityExceeded)
	}

	if ch.Settings.RequireApproval && !ch.Moderators[userID] {
		alreadyPending := ch.PendingJoins[userID]
		ch.PendingJoins[userID] = true
		snapshot := ch.Clone()
		r.mu.Unlock()

		// 重複請求不再打擾版主
		if !alreadyPending && r.notifier != nil {
			r.notifier.NotifyJoinRequest(ctx, snapshot, userID)
		}
		r.persist(ctx, snapshot)
		return JoinPendingApproval, nil
	}

	ch.Members[userID] = true
	delete(ch.PendingJoins, userID)
	snapshot := ch.Clone()
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	if r.events != nil {
		r.events.NotifyMemberJoined(ctx, snapshot, userID)
	}

	logger.Info(ctx, "用戶加入頻道",
		logger.WithChannelID(channelID),
		logger.WithUserID(userID),
		logger.WithAction("channel_join"))

	return JoinAdmitted, nil
}

// ApproveJoin 版主審批等待中的加入請求.
// approve 為 false 時駁回並清除等待記錄.
func (r *Registry) ApproveJoin(ctx context.Context, moderatorID, channelID, requesterID string, approve bool) (JoinResult, error) {
	r.mu.Lock()
	ch, ok := r.channels[channelID]
	if !ok {
		r.mu.Unlock()
		return JoinRejected, core.ErrChannelNotFound
	}
	if !ch.Moderators[moderatorID] {
		r.mu.Unlock()
		return JoinRejected, fmt.Errorf("只有版主可以審批加入請求: %w", core.ErrPermissionDenied)
	}
	if !ch.PendingJoins[requesterID] {
		r.mu.Unlock()
		return JoinRejected, fmt.Errorf("無此用戶的等待中請求: %w", core.ErrUserNotFound)
	}

	delete(ch.PendingJoins, requesterID)

	if !approve {
		snapshot := ch.Clone()
		r.mu.Unlock()
		r.persist(ctx, snapshot)
		return JoinRejected, nil
	}

	if len(ch.Members) >= ch.Settings.MaxMembers {
		r.mu.Unlock()
		return JoinRejected, fmt.Errorf("頻道成員已達上限: %w", core.ErrCapacityExceeded)
	}

	ch.Members[requesterID] = true
	snapshot := ch.Clone()
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	if r.events != nil {
		r.events.NotifyMemberJoined(ctx, snapshot, requesterID)
	}

	logger.Info(ctx, "加入請求已批准",
		logger.WithChannelID(channelID),
		logger.WithUserID(requesterID),
		logger.WithAction("channel_join_approved"),
		logger.WithDetails(map[string]interface{}{"moderator": moderatorID}))

	return JoinAdmitted, nil
}

// LeaveChannel 離開頻道.
// 返回是否確實移除了成員；非成員離開為無操作.
// 非私聊頻道清空後歸檔；私聊頻道成員不足 2 人即歸檔.
func (r *Registry) LeaveChannel(ctx context.Context, userID, channelID string) (bool, error) {
	r.mu.Lock()
	ch, ok := r.channels[channelID]
	if !ok {
		r.mu.Unlock()
		return false, core.ErrChannelNotFound
	}

	if !ch.Members[userID] {
		r.mu.Unlock()
		return false, nil
	}

	delete(ch.Members, userID)
	delete(ch.Moderators, userID)

	if ch.Kind == KindDirect {
		if len(ch.Members) < DirectChannelSize {
			ch.Archived = true
		}
	} else if len(ch.Members) == 0 {
		ch.Archived = true
	}

	snapshot := ch.Clone()
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	if r.events != nil && !snapshot.Archived {
		r.events.NotifyMemberLeft(ctx, snapshot, userID)
	}

	logger.Info(ctx, "用戶離開頻道",
		logger.WithChannelID(channelID),
		logger.WithUserID(userID),
		logger.WithAction("channel_leave"),
		logger.WithDetails(map[string]interface{}{"archived": snapshot.Archived}))

	return true, nil
}

// Get 查詢頻道.
func (r *Registry) Get(channelID string) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[channelID]
	if !ok {
		return nil, core.ErrChannelNotFound
	}
	return ch.Clone(), nil
}

// Members 列出頻道成員 ID（排序後返回）.
func (r *Registry) Members(channelID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[channelID]
	if !ok {
		return nil, core.ErrChannelNotFound
	}
	ids := ch.MemberIDs()
	sort.Strings(ids)
	return ids, nil
}

// ListForUser 列出用戶所屬的全部未歸檔頻道（最近活動優先）.
func (r *Registry) ListForUser(userID string) []*Channel {
	r.mu.RLock()
	var result []*Channel
	for _, ch := range r.channels {
		if ch.Members[userID] && !ch.Archived {
			result = append(result, ch.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].LastActivity.After(result[j].LastActivity)
	})
	return result
}

// ListAll 列出全部頻道快照（清理排程用）.
func (r *Registry) ListAll() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		result = append(result, ch.Clone())
	}
	return result
}

// Restore 以持久化快照重建註冊表（啟動恢復用）.
func (r *Registry) Restore(channels []*Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range channels {
		cp := ch.Clone()
		r.channels[cp.ID] = cp

		if cp.Kind == KindDirect && !cp.Archived {
			ids := cp.MemberIDs()
			if len(ids) == DirectChannelSize {
				r.directs[directKey(ids[0], ids[1])] = cp.ID
			}
		}
	}
}

// RecordMessage 提交訊息後更新頻道計數與活動時間.
func (r *Registry) RecordMessage(channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[channelID]
	if !ok {
		return core.ErrChannelNotFound
	}
	ch.MessageCount++
	ch.LastActivity = time.Now()
	return nil
}

// DiscardMessage 刪除訊息後遞減頻道計數（下限為 0）.
func (r *Registry) DiscardMessage(channelID string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.channels[channelID]
	if !ok {
		return
	}
	ch.MessageCount -= n
	if ch.MessageCount < 0 {
		ch.MessageCount = 0
	}
}

// RateLimitPolicy 返回頻道的速率限制策略（每分鐘上限與開關）.
func (r *Registry) RateLimitPolicy(channelID string) (limit int, enabled bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[channelID]
	if !ok {
		return 0, false, core.ErrChannelNotFound
	}
	return ch.Settings.RateLimitPerMinute, ch.Settings.RateLimitEnabled, nil
}

// DirectChannelSize 私聊頻道的成員數.
const DirectChannelSize = 2

// persist 鎖外寫入持久層，失敗只記錄.
func (r *Registry) persist(ctx context.Context, ch *Channel) {
	if r.archive == nil {
		return
	}
	if err := r.archive.SaveChannel(ctx, ch); err != nil {
		logger.Warning(ctx, fmt.Sprintf("頻道持久化失敗: %v", err),
			logger.WithChannelID(ch.ID),
			logger.WithAction("channel_persist_failed"))
	}
}

// mergeSettings 合併默認設置與調用方覆寫.
// 只有顯式設定的數值字段（非零）才覆蓋默認值；布爾字段整組採用覆寫值.
func mergeSettings(def, override Settings) Settings {
	out := override
	if out.MaxMembers <= 0 {
		out.MaxMembers = def.MaxMembers
	}
	if out.RateLimitPerMinute <= 0 {
		out.RateLimitPerMinute = def.RateLimitPerMinute
	}
	if out.RetentionDays <= 0 {
		out.RetentionDays = def.RetentionDays
	}
	return out
}

// directKey 無序用戶對的穩定鍵.
func directKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "|" + b
}
