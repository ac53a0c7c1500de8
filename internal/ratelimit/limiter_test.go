package ratelimit

import (
	"testing"
	"time"
)

// stubPolicy 固定策略的測試樁.
type stubPolicy struct {
	limit   int
	enabled bool
	err     error
}

func (p *stubPolicy) RateLimitPolicy(channelID string) (int, bool, error) {
	return p.limit, p.enabled, p.err
}

func TestLimiter_SlidingWindow(t *testing.T) {
	limiter := NewLimiter(&stubPolicy{limit: 3, enabled: true})

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	limiter.SetClock(func() time.Time { return now })

	// 窗口內前 3 則允許
	for i := 0; i < 3; i++ {
		ok, err := limiter.Admit("user_a", "ch_1")
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("第 %d 則訊息不應被拒絕", i+1)
		}
		now = now.Add(time.Second)
	}

	// 第 4 則被拒絕
	ok, err := limiter.Admit("user_a", "ch_1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("超過上限的訊息應被拒絕")
	}

	// 最早的時間戳滑出窗口後恢復配額
	now = base.Add(61 * time.Second)
	ok, err = limiter.Admit("user_a", "ch_1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("時間戳滑出窗口後應恢復配額")
	}
}

func TestLimiter_DenialDoesNotConsumeQuota(t *testing.T) {
	limiter := NewLimiter(&stubPolicy{limit: 1, enabled: true})

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	limiter.SetClock(func() time.Time { return now })

	if ok, _ := limiter.Admit("user_a", "ch_1"); !ok {
		t.Fatal("首則訊息不應被拒絕")
	}

	// 連續被拒絕的嘗試不記錄時間戳
	for i := 0; i < 5; i++ {
		now = now.Add(time.Second)
		if ok, _ := limiter.Admit("user_a", "ch_1"); ok {
			t.Fatal("窗口內超額嘗試應被拒絕")
		}
	}

	// 只要首則滑出窗口就恢復，不受被拒絕嘗試影響
	now = base.Add(61 * time.Second)
	if ok, _ := limiter.Admit("user_a", "ch_1"); !ok {
		t.Fatal("被拒絕的嘗試不應佔用配額")
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(&stubPolicy{limit: 1, enabled: true})

	if ok, _ := limiter.Admit("user_a", "ch_1"); !ok {
		t.Fatal("user_a 在 ch_1 的首則訊息不應被拒絕")
	}
	if ok, _ := limiter.Admit("user_a", "ch_1"); ok {
		t.Fatal("user_a 在 ch_1 已達上限")
	}

	// 不同頻道與不同用戶各自獨立計數
	if ok, _ := limiter.Admit("user_a", "ch_2"); !ok {
		t.Fatal("不同頻道的配額應獨立")
	}
	if ok, _ := limiter.Admit("user_b", "ch_1"); !ok {
		t.Fatal("不同用戶的配額應獨立")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	limiter := NewLimiter(&stubPolicy{limit: 1, enabled: false})

	for i := 0; i < 10; i++ {
		ok, err := limiter.Admit("user_a", "ch_1")
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("未啟用速率限制的頻道不應拒絕")
		}
	}

	// 未啟用時不記錄任何鍵
	if n := limiter.TrackedKeys(); n != 0 {
		t.Fatalf("未啟用限制不應追蹤鍵，got %d", n)
	}
}

func TestLimiter_Cleanup(t *testing.T) {
	limiter := NewLimiter(&stubPolicy{limit: 10, enabled: true})

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	limiter.SetClock(func() time.Time { return now })

	limiter.Admit("user_a", "ch_1")
	limiter.Admit("user_b", "ch_1")

	now = base.Add(30 * time.Second)
	limiter.Admit("user_c", "ch_1")

	// user_a 與 user_b 的時間戳完全老化，user_c 仍在窗口內
	now = base.Add(70 * time.Second)
	removed := limiter.Cleanup()
	if removed != 2 {
		t.Fatalf("應移除 2 個老化鍵，got %d", removed)
	}
	if n := limiter.TrackedKeys(); n != 1 {
		t.Fatalf("清理後應剩 1 個鍵，got %d", n)
	}
}
