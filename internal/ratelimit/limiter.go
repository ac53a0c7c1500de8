package ratelimit

import (
	"sync"
	"time"

	"chat-core/internal/constants"
)

// ChannelPolicy 頻道速率策略來源.
// 由頻道註冊表實現：返回該頻道每分鐘上限與開關.
type ChannelPolicy interface {
	RateLimitPolicy(channelID string) (limit int, enabled bool, err error)
}

// Limiter 滑動窗口速率限制器.
// 以 (用戶, 頻道) 為鍵，保留尾隨 60 秒窗口內的時間戳；
// 拒絕時不記錄時間戳，因此被拒絕的嘗試不佔用配額.
type Limiter struct {
	mu      sync.Mutex
	windows map[limitKey][]time.Time

	policy ChannelPolicy
	window time.Duration
	now    func() time.Time // 可注入的時鐘，測試用
}

type limitKey struct {
	userID    string
	channelID string
}

// NewLimiter 創建速率限制器.
func NewLimiter(policy ChannelPolicy) *Limiter {
	return &Limiter{
		windows: make(map[limitKey][]time.Time),
		policy:  policy,
		window:  constants.RateLimitWindow,
		now:     time.Now,
	}
}

// SetClock 注入自定義時鐘（測試用）.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Admit 判斷是否允許發送.
// 頻道未啟用速率限制時恆允許；
// 窗口內計數低於上限時記錄本次時間戳並允許，否則拒絕且不記錄.
func (l *Limiter) Admit(userID, channelID string) (bool, error) {
	limit, enabled, err := l.policy.RateLimitPolicy(channelID)
	if err != nil {
		return false, err
	}
	if !enabled {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := limitKey{userID: userID, channelID: channelID}
	now := l.now()
	cutoff := now.Add(-l.window)

	// 保留窗口內的時間戳
	stamps := l.windows[key]
	kept := stamps[:0]
	for _, t := range stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		l.windows[key] = kept
		return false, nil
	}

	l.windows[key] = append(kept, now)
	return true, nil
}

// Cleanup 移除已完全老化出窗口的時間戳列表，限制內存增長.
// 返回移除的鍵數量.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	removed := 0
	for key, stamps := range l.windows {
		alive := false
		for _, t := range stamps {
			if t.After(cutoff) {
				alive = true
				break
			}
		}
		if !alive {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// TrackedKeys 當前追蹤的鍵數量（測試與指標用）.
func (l *Limiter) TrackedKeys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
