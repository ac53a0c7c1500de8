package moderation

import (
	"context"
	"fmt"
	"time"

	"chat-core/internal/constants"
	"chat-core/internal/platform/logger"
	"chat-core/internal/platform/metrics"
)

// Outcome 審核結果.
// Fallback 標記分類器故障時的降級放行，與真實通過分開統計.
type Outcome struct {
	Approved bool
	Score    int
	Flags    []string
	Fallback bool
}

// Gate 內容審核閘門.
// 文本內容交給外部分類器評分，分數低於閾值即通過；
// 非文本內容自動通過（媒體掃描委託給外部協作服務，不在此處理）.
// 分類器故障或超時一律降級放行：訊息可用性優先於審核嚴格性.
type Gate struct {
	classifier Classifier
	threshold  int
	timeout    time.Duration
}

// NewGate 創建審核閘門.
// threshold <= 0 時使用默認閾值；timeout <= 0 時使用默認超時.
func NewGate(classifier Classifier, threshold int, timeout time.Duration) *Gate {
	if threshold <= 0 {
		threshold = constants.DefaultModerationThreshold
	}
	if timeout <= 0 {
		timeout = constants.DefaultModerationTimeout
	}
	return &Gate{
		classifier: classifier,
		threshold:  threshold,
		timeout:    timeout,
	}
}

// Moderate 審核訊息內容.
// 調用方不得在持有存儲鎖時調用本方法.
func (g *Gate) Moderate(ctx context.Context, content, kind string) Outcome {
	// 非文本內容自動通過
	if kind != "text" {
		return Outcome{Approved: true, Score: 0}
	}

	// 未配置分類器（部署層主動關閉）直接放行，不算降級
	if g.classifier == nil {
		return Outcome{Approved: true, Score: 0}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.classifier.Classify(callCtx, content)
	if err != nil {
		return g.fallback(ctx, err)
	}

	outcome := Outcome{
		Approved: result.Score < g.threshold,
		Score:    result.Score,
		Flags:    result.Flags,
	}

	if outcome.Approved {
		metrics.ModerationOutcomes.WithLabelValues("approved").Inc()
	} else {
		metrics.ModerationOutcomes.WithLabelValues("rejected").Inc()
		logger.Warning(ctx, fmt.Sprintf("訊息被審核攔截，分數 %d", result.Score),
			logger.WithAction("moderation_rejected"),
			logger.WithDetails(map[string]interface{}{
				"score": result.Score,
				"flags": result.Flags,
			}))
	}

	return outcome
}

// fallback 分類器故障時的降級處理.
// 以 approved=true, score=0 放行，但日誌與指標均與真實通過區分.
func (g *Gate) fallback(ctx context.Context, err error) Outcome {
	metrics.ModerationOutcomes.WithLabelValues("fallback").Inc()
	metrics.CollaboratorFailures.WithLabelValues("classifier").Inc()

	logger.Warning(ctx, fmt.Sprintf("分類器不可用，降級放行: %v", err),
		logger.WithAction("moderation_fallback"))

	return Outcome{Approved: true, Score: 0, Fallback: true}
}
