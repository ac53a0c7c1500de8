package moderation

import (
	"context"
	"errors"
	"testing"
	"time"
)

// stubClassifier 固定評分的測試樁.
type stubClassifier struct {
	score int
	flags []string
	err   error
	delay time.Duration
}

func (c *stubClassifier) Classify(ctx context.Context, content string) (*Result, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return &Result{Score: c.score, Flags: c.flags}, nil
}

func TestGate_Threshold(t *testing.T) {
	testCases := []struct {
		name     string
		score    int
		approved bool
	}{
		{"低分通過", 0, true},
		{"閾值以下通過", 69, true},
		{"達到閾值攔截", 70, false},
		{"高分攔截", 100, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gate := NewGate(&stubClassifier{score: tc.score}, 70, time.Second)
			outcome := gate.Moderate(context.Background(), "hello", "text")
			if outcome.Approved != tc.approved {
				t.Fatalf("分數 %d 的裁決錯誤: got approved=%v", tc.score, outcome.Approved)
			}
			if outcome.Score != tc.score {
				t.Fatalf("分數應透傳，got %d", outcome.Score)
			}
			if outcome.Fallback {
				t.Fatal("正常裁決不應標記為降級")
			}
		})
	}
}

func TestGate_NonTextAutoApproved(t *testing.T) {
	// 分類器會攔截一切，但非文本內容不送審
	gate := NewGate(&stubClassifier{score: 100}, 70, time.Second)

	outcome := gate.Moderate(context.Background(), "", "image")
	if !outcome.Approved {
		t.Fatal("非文本內容應自動通過")
	}
}

func TestGate_NilClassifier(t *testing.T) {
	gate := NewGate(nil, 70, time.Second)

	outcome := gate.Moderate(context.Background(), "anything", "text")
	if !outcome.Approved {
		t.Fatal("未配置分類器應直接放行")
	}
	if outcome.Fallback {
		t.Fatal("主動關閉分類器不應標記為降級")
	}
}

func TestGate_FallbackOnError(t *testing.T) {
	gate := NewGate(&stubClassifier{err: errors.New("connection refused")}, 70, time.Second)

	outcome := gate.Moderate(context.Background(), "hello", "text")
	if !outcome.Approved {
		t.Fatal("分類器故障應降級放行")
	}
	if !outcome.Fallback {
		t.Fatal("故障放行應標記為降級")
	}
	if outcome.Score != 0 {
		t.Fatalf("降級放行分數應為 0，got %d", outcome.Score)
	}
}

func TestGate_FallbackOnTimeout(t *testing.T) {
	gate := NewGate(&stubClassifier{score: 100, delay: 200 * time.Millisecond}, 70, 20*time.Millisecond)

	outcome := gate.Moderate(context.Background(), "hello", "text")
	if !outcome.Approved || !outcome.Fallback {
		t.Fatal("分類器超時應降級放行並標記")
	}
}

func TestGate_FlagsPropagated(t *testing.T) {
	gate := NewGate(&stubClassifier{score: 85, flags: []string{"toxicity", "spam"}}, 70, time.Second)

	outcome := gate.Moderate(context.Background(), "bad content", "text")
	if outcome.Approved {
		t.Fatal("超過閾值應攔截")
	}
	if len(outcome.Flags) != 2 {
		t.Fatalf("分類器旗標應透傳，got %v", outcome.Flags)
	}
}
