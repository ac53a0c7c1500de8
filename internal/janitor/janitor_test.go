package janitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"chat-core/internal/channel"
	"chat-core/internal/hub"
	"chat-core/internal/message"
	"chat-core/internal/platform/config"
	"chat-core/internal/ratelimit"
	"chat-core/internal/user"
)

func newTestJanitor(t *testing.T, cfg config.EngineConfig) (*Janitor, *message.Store, *channel.Registry, *user.Directory) {
	t.Helper()

	users := user.NewDirectory()
	users.Register("alice", "alice", "Alice")

	registry := channel.NewRegistry(users)
	limiter := ratelimit.NewLimiter(registry)
	store := message.NewStore()
	h := hub.NewHub(registry, users)

	j, err := New(store, registry, limiter, users, h, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return j, store, registry, users
}

func TestNew_DefaultsAndValidation(t *testing.T) {
	// 空配置回退到默認排程
	newTestJanitor(t, config.EngineConfig{})

	// 非法 cron 表達式在啟動時報錯
	users := user.NewDirectory()
	registry := channel.NewRegistry(users)
	_, err := New(message.NewStore(), registry, ratelimit.NewLimiter(registry), users,
		hub.NewHub(registry, users),
		config.EngineConfig{Retention: config.RetentionConfig{MessageSweepCron: "not a cron"}})
	if err == nil {
		t.Fatal("非法 cron 表達式應報錯")
	}
}

func TestSweepMessages(t *testing.T) {
	j, store, registry, _ := newTestJanitor(t, config.EngineConfig{})
	ctx := context.Background()

	settings := channel.DefaultSettings()
	settings.RetentionEnabled = true
	settings.RetentionDays = 7
	retained, err := registry.CreateChannel(ctx, "alice", channel.Spec{Name: "retained", Settings: &settings})
	if err != nil {
		t.Fatal(err)
	}
	forever, err := registry.CreateChannel(ctx, "alice", channel.Spec{Name: "forever"})
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	seed := func(chID string, age time.Duration, n int) {
		for i := 0; i < n; i++ {
			store.Put(&message.Message{
				ID:        fmt.Sprintf("%s-%s-%d", chID, age, i),
				ChannelID: chID,
				SenderID:  "alice",
				CreatedAt: now.Add(-age),
			})
			registry.RecordMessage(chID)
		}
	}

	seed(retained.ID, 10*24*time.Hour, 3) // 過期
	seed(retained.ID, time.Hour, 2)       // 窗口內
	seed(forever.ID, 365*24*time.Hour, 4) // 未啟用保留，不掃

	reclaimed := j.SweepMessages(ctx)
	if reclaimed != 3 {
		t.Fatalf("應回收 3 條過期訊息，got %d", reclaimed)
	}

	if got := len(store.ListChannel(retained.ID)); got != 2 {
		t.Fatalf("保留頻道應剩 2 條，got %d", got)
	}
	if got := len(store.ListChannel(forever.ID)); got != 4 {
		t.Fatalf("未啟用保留的頻道不應被掃，got %d", got)
	}

	ch, _ := registry.Get(retained.ID)
	if ch.MessageCount != 2 {
		t.Fatalf("頻道計數應隨清理遞減，got %d", ch.MessageCount)
	}

	// 再掃一次應無可回收
	if reclaimed := j.SweepMessages(ctx); reclaimed != 0 {
		t.Fatalf("重複掃描不應再回收，got %d", reclaimed)
	}
}

func TestSweepRateLimits(t *testing.T) {
	j, _, registry, _ := newTestJanitor(t, config.EngineConfig{})
	ctx := context.Background()

	ch, err := registry.CreateChannel(ctx, "alice", channel.Spec{Name: "general"})
	if err != nil {
		t.Fatal(err)
	}

	// 以凍結的舊時鐘寫入記錄，再恢復真實時鐘使其全部老化
	past := time.Now().Add(-10 * time.Minute)
	j.limiter.SetClock(func() time.Time { return past })
	j.limiter.Admit("alice", ch.ID)
	j.limiter.SetClock(time.Now)

	if removed := j.SweepRateLimits(ctx); removed != 1 {
		t.Fatalf("應清除 1 個老化鍵，got %d", removed)
	}
}

func TestSweepPresence(t *testing.T) {
	j, _, _, users := newTestJanitor(t, config.EngineConfig{
		Presence: config.PresenceConfig{IdleThresholdMinutes: 5},
	})
	ctx := context.Background()

	users.Register("idle", "idle", "Idle")
	users.SetStatus("idle", user.StatusOnline)

	// 剛活動過，不應翻轉
	if n := j.SweepPresence(ctx); n != 0 {
		t.Fatalf("活躍用戶不應被翻轉，got %d", n)
	}

	// 把閾值調為負值模擬閒置超時
	j.idleThreshold = -time.Second
	if n := j.SweepPresence(ctx); n != 1 {
		t.Fatalf("應翻轉 1 個閒置用戶，got %d", n)
	}

	u, _ := users.Get("idle")
	if u.Status != user.StatusOffline {
		t.Fatalf("閒置用戶應被翻轉為離線，got %s", u.Status)
	}
}
