package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 引擎指標.
// 審核降級（fallback）與真實通過（approved）分開計數，
// 監控面板依此區分分類器故障期間放行的訊息.
var (
	// MessagesCommitted 已提交的訊息總數.
	MessagesCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_committed_total",
		Help: "Total number of messages committed to the store.",
	})

	// RateLimitDenials 速率限制拒絕總數.
	RateLimitDenials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_rate_limit_denials_total",
		Help: "Total number of sends denied by the sliding-window rate limiter.",
	})

	// ModerationOutcomes 審核結果計數（approved / rejected / fallback）.
	ModerationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_moderation_outcomes_total",
		Help: "Moderation gate outcomes by kind.",
	}, []string{"outcome"})

	// NotificationsSent 通知分發計數（inapp / email / push）.
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_notifications_sent_total",
		Help: "Notifications dispatched by delivery channel.",
	}, []string{"channel"})

	// CollaboratorFailures 外部協作服務失敗計數（classifier / email / push）.
	CollaboratorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_collaborator_failures_total",
		Help: "External collaborator call failures by service.",
	}, []string{"service"})

	// JanitorReclaimed 清理任務回收計數（messages / rate_limit_windows / stale_presence）.
	JanitorReclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_janitor_reclaimed_total",
		Help: "Entries reclaimed by retention sweeps.",
	}, []string{"sweep"})

	// LiveConnections 當前存活的傳輸連接數.
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_live_connections",
		Help: "Number of currently registered live transports.",
	})

	// BroadcastSends 頻道廣播發送計數（delivered / skipped / failed）.
	BroadcastSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_broadcast_sends_total",
		Help: "Per-transport broadcast send outcomes.",
	}, []string{"result"})
)

// Handler 返回 Prometheus 指標端點的 HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
