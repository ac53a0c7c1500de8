package janitor

import (
	"context"
	"fmt"
	"time"

	"chat-core/internal/channel"
	"chat-core/internal/constants"
	"chat-core/internal/hub"
	"chat-core/internal/message"
	"chat-core/internal/platform/config"
	"chat-core/internal/platform/logger"
	"chat-core/internal/platform/metrics"
	"chat-core/internal/ratelimit"
	"chat-core/internal/user"

	"github.com/adhocore/gronx"
)

// Janitor 清理排程器.
// 三條互相獨立的 cron 排程：訊息保留掃描、速率窗口清理、在線狀態閒置掃描.
// 每條掃描逐條評估，不在整個存儲上持鎖，單個慢條目不會拖住整趟掃描.
type Janitor struct {
	store    *message.Store
	registry *channel.Registry
	limiter  *ratelimit.Limiter
	users    *user.Directory
	hub      *hub.Hub
	archive  message.Archive

	messageCron   string
	rateLimitCron string
	presenceCron  string
	idleThreshold time.Duration
}

// New 創建清理排程器.
// cron 表達式為空時使用默認排程；非法表達式在啟動時報錯.
func New(
	store *message.Store,
	registry *channel.Registry,
	limiter *ratelimit.Limiter,
	users *user.Directory,
	h *hub.Hub,
	cfg config.EngineConfig,
) (*Janitor, error) {
	j := &Janitor{
		store:         store,
		registry:      registry,
		limiter:       limiter,
		users:         users,
		hub:           h,
		messageCron:   cfg.Retention.MessageSweepCron,
		rateLimitCron: cfg.Retention.RateLimitSweepCron,
		presenceCron:  cfg.Retention.PresenceSweepCron,
		idleThreshold: time.Duration(cfg.Presence.IdleThresholdMinutes) * time.Minute,
	}

	if j.messageCron == "" {
		j.messageCron = constants.DefaultMessageSweepCron
	}
	if j.rateLimitCron == "" {
		j.rateLimitCron = constants.DefaultRateLimitSweepCron
	}
	if j.presenceCron == "" {
		j.presenceCron = constants.DefaultPresenceSweepCron
	}
	if j.idleThreshold <= 0 {
		j.idleThreshold = constants.DefaultPresenceIdleThreshold
	}

	for _, expr := range []string{j.messageCron, j.rateLimitCron, j.presenceCron} {
		if !gronx.IsValid(expr) {
			return nil, fmt.Errorf("無效的 cron 表達式: %s", expr)
		}
	}

	return j, nil
}

// SetArchive 注入持久層（保留掃描同步清除過期的持久化文檔）.
func (j *Janitor) SetArchive(a message.Archive) {
	j.archive = a
}

// Start 啟動三條排程循環，ctx 取消時全部停止.
func (j *Janitor) Start(ctx context.Context) {
	go j.runSchedule(ctx, j.messageCron, "message_sweep", j.SweepMessages)
	go j.runSchedule(ctx, j.rateLimitCron, "rate_limit_sweep", j.SweepRateLimits)
	go j.runSchedule(ctx, j.presenceCron, "presence_sweep", j.SweepPresence)

	logger.Info(ctx, "清理排程已啟動",
		logger.WithAction("janitor_start"),
		logger.WithDetails(map[string]interface{}{
			"message_cron":    j.messageCron,
			"rate_limit_cron": j.rateLimitCron,
			"presence_cron":   j.presenceCron,
		}))
}

// runSchedule 按 cron 表達式循環執行掃描.
// 以 gronx 計算下一次觸發時間並睡眠等待，支持完整 cron 語法.
func (j *Janitor) runSchedule(ctx context.Context, cronExpr, name string, sweep func(context.Context) int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Errorf(ctx, "計算 %s 下次觸發時間失敗: %v", name, err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
		case <-ctx.Done():
			return
		}

		reclaimed := sweep(ctx)
		if reclaimed > 0 {
			logger.Info(ctx, fmt.Sprintf("%s 回收 %d 條", name, reclaimed),
				logger.WithAction(name))
		}
	}
}

// SweepMessages 訊息保留掃描.
// 對每個啟用保留策略的頻道，刪除超過保留天數的訊息並遞減頻道計數.
func (j *Janitor) SweepMessages(ctx context.Context) int {
	reclaimed := 0
	now := time.Now()

	for _, ch := range j.registry.ListAll() {
		if !ch.Settings.RetentionEnabled || ch.Settings.RetentionDays <= 0 {
			continue
		}

		cutoff := now.AddDate(0, 0, -ch.Settings.RetentionDays)
		expired := j.store.ExpiredIDs(ch.ID, cutoff)
		if len(expired) == 0 {
			continue
		}

		deleted := int64(0)
		for _, id := range expired {
			if _, err := j.store.Delete(id); err != nil {
				continue
			}
			deleted++

			if j.archive != nil {
				if err := j.archive.DeleteMessage(ctx, id); err != nil {
					logger.Warning(ctx, fmt.Sprintf("清除持久化訊息失敗: %v", err),
						logger.WithMessageID(id))
				}
			}
		}

		j.registry.DiscardMessage(ch.ID, deleted)
		reclaimed += int(deleted)
	}

	if reclaimed > 0 {
		metrics.JanitorReclaimed.WithLabelValues("messages").Add(float64(reclaimed))
	}
	return reclaimed
}

// SweepRateLimits 清除已完全老化出窗口的速率記錄，限制內存增長.
func (j *Janitor) SweepRateLimits(ctx context.Context) int {
	removed := j.limiter.Cleanup()
	if removed > 0 {
		metrics.JanitorReclaimed.WithLabelValues("rate_limit_windows").Add(float64(removed))
	}
	return removed
}

// SweepPresence 將閒置超過門檻但仍標記在線的用戶翻轉為離線並廣播.
func (j *Janitor) SweepPresence(ctx context.Context) int {
	stale := j.users.ListStale(j.idleThreshold)
	for _, userID := range stale {
		j.hub.ForceOffline(ctx, userID)
	}

	if len(stale) > 0 {
		metrics.JanitorReclaimed.WithLabelValues("stale_presence").Add(float64(len(stale)))
	}
	return len(stale)
}
