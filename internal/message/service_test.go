package message

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chat-core/internal/channel"
	"chat-core/internal/core"
	"chat-core/internal/moderation"
	"chat-core/internal/ratelimit"
	"chat-core/internal/security/encryption"
	"chat-core/internal/user"
)

// recordingBroadcaster 記錄廣播與單播事件的測試樁.
type recordingBroadcaster struct {
	mu        sync.Mutex
	broadcast []core.Event
	direct    map[string][]core.Event
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{direct: make(map[string][]core.Event)}
}

func (b *recordingBroadcaster) BroadcastToChannel(ctx context.Context, channelID string, event core.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcast = append(b.broadcast, event)
}

func (b *recordingBroadcaster) SendToUser(ctx context.Context, userID string, event core.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.direct[userID] = append(b.direct[userID], event)
}

// recordingNotifier 記錄通知分發的測試樁.
type recordingNotifier struct {
	mu         sync.Mutex
	dispatched []*Message
}

func (n *recordingNotifier) DispatchMessage(ctx context.Context, msg *Message, ch *channel.Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dispatched = append(n.dispatched, msg)
}

// rejectingClassifier 按內容攔截的測試分類器.
type rejectingClassifier struct {
	blockWord string
}

func (c *rejectingClassifier) Classify(ctx context.Context, text string) (*moderation.Result, error) {
	if c.blockWord != "" && text == c.blockWord {
		return &moderation.Result{Score: 95, Flags: []string{"toxicity"}}, nil
	}
	return &moderation.Result{Score: 5}, nil
}

// flaggingClassifier 低於閾值但帶旗標放行的測試分類器.
type flaggingClassifier struct {
	flagWord string
}

func (c *flaggingClassifier) Classify(ctx context.Context, text string) (*moderation.Result, error) {
	if c.flagWord != "" && text == c.flagWord {
		return &moderation.Result{Score: 40, Flags: []string{"profanity"}}, nil
	}
	return &moderation.Result{Score: 5}, nil
}

type testEnv struct {
	users       *user.Directory
	registry    *channel.Registry
	service     *Service
	broadcaster *recordingBroadcaster
	notifier    *recordingNotifier
	channel     *channel.Channel
}

func newTestEnv(t *testing.T, classifier moderation.Classifier, settings *channel.Settings) *testEnv {
	t.Helper()

	users := user.NewDirectory()
	users.Register("alice", "alice", "Alice")
	users.Register("bob", "bob", "Bob")

	registry := channel.NewRegistry(users)
	limiter := ratelimit.NewLimiter(registry)
	gate := moderation.NewGate(classifier, 70, time.Second)
	crypto := encryption.NewMessageEncryption(false, nil)

	service := NewService(NewStore(), registry, users, limiter, gate, crypto)
	broadcaster := newRecordingBroadcaster()
	notifier := &recordingNotifier{}
	service.SetBroadcaster(broadcaster)
	service.SetNotifier(notifier)

	ch, err := registry.CreateChannel(context.Background(), "alice", channel.Spec{
		Name:     "general",
		Members:  []string{"bob"},
		Settings: settings,
	})
	if err != nil {
		t.Fatal(err)
	}

	return &testEnv{
		users:       users,
		registry:    registry,
		service:     service,
		broadcaster: broadcaster,
		notifier:    notifier,
		channel:     ch,
	}
}

func TestSend_Pipeline(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	msg, err := env.service.Send(ctx, SendRequest{
		SenderID:  "alice",
		ChannelID: env.channel.ID,
		Content:   "hello",
	})
	if err != nil {
		t.Fatal(err)
	}

	if msg.Kind != KindText {
		t.Fatalf("未指定類型應默認 text，got %s", msg.Kind)
	}
	if msg.ModerationStatus != ModerationApproved {
		t.Fatalf("應通過審核，got %s", msg.ModerationStatus)
	}
	if !msg.ReadBy["alice"] {
		t.Fatal("發送者應自動標記已讀")
	}

	// 頻道計數與活動時間更新
	ch, _ := env.registry.Get(env.channel.ID)
	if ch.MessageCount != 1 {
		t.Fatalf("頻道計數應為 1，got %d", ch.MessageCount)
	}

	// 廣播與通知各觸發一次
	if len(env.broadcaster.broadcast) != 1 {
		t.Fatalf("應廣播 1 次，got %d", len(env.broadcaster.broadcast))
	}
	if env.broadcaster.broadcast[0].Type != core.EventNewMessage {
		t.Fatalf("事件類型錯誤: %s", env.broadcaster.broadcast[0].Type)
	}
	if len(env.notifier.dispatched) != 1 {
		t.Fatalf("應分發通知 1 次，got %d", len(env.notifier.dispatched))
	}
}

func TestSend_NotAMember(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.users.Register("eve", "eve", "Eve")

	_, err := env.service.Send(context.Background(), SendRequest{
		SenderID:  "eve",
		ChannelID: env.channel.ID,
		Content:   "hi",
	})
	if !errors.Is(err, core.ErrNotAMember) {
		t.Fatalf("非成員發送應被拒絕，got %v", err)
	}
}

func TestSend_RateLimitDenial(t *testing.T) {
	settings := channel.DefaultSettings()
	settings.RateLimitPerMinute = 30
	settings.RateLimitEnabled = true
	env := newTestEnv(t, nil, &settings)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		if _, err := env.service.Send(ctx, SendRequest{
			SenderID:  "alice",
			ChannelID: env.channel.ID,
			Content:   "msg",
		}); err != nil {
			t.Fatalf("第 %d 則不應被拒絕: %v", i+1, err)
		}
	}

	// 第 31 則被限流，且不產生任何狀態變更
	_, err := env.service.Send(ctx, SendRequest{
		SenderID:  "alice",
		ChannelID: env.channel.ID,
		Content:   "one too many",
	})
	if !errors.Is(err, core.ErrRateLimitExceeded) {
		t.Fatalf("第 31 則應被限流，got %v", err)
	}

	ch, _ := env.registry.Get(env.channel.ID)
	if ch.MessageCount != 30 {
		t.Fatalf("被限流的訊息不應計數，got %d", ch.MessageCount)
	}
	if len(env.broadcaster.broadcast) != 30 {
		t.Fatalf("被限流的訊息不應廣播，got %d", len(env.broadcaster.broadcast))
	}

	// 其他成員不受影響
	if _, err := env.service.Send(ctx, SendRequest{
		SenderID:  "bob",
		ChannelID: env.channel.ID,
		Content:   "still fine",
	}); err != nil {
		t.Fatalf("其他成員不應被牽連: %v", err)
	}
}

func TestSend_RejectedVisibleOnlyToSender(t *testing.T) {
	env := newTestEnv(t, &rejectingClassifier{blockWord: "banned"}, nil)
	ctx := context.Background()

	msg, err := env.service.Send(ctx, SendRequest{
		SenderID:  "alice",
		ChannelID: env.channel.ID,
		Content:   "banned",
	})
	if err != nil {
		t.Fatal(err)
	}
	if msg.ModerationStatus != ModerationRejected {
		t.Fatalf("應被審核攔截，got %s", msg.ModerationStatus)
	}

	// 不廣播、不通知，只回送發送者
	if len(env.broadcaster.broadcast) != 0 {
		t.Fatal("被攔截的訊息不應廣播")
	}
	if len(env.notifier.dispatched) != 0 {
		t.Fatal("被攔截的訊息不應觸發通知")
	}
	if len(env.broadcaster.direct["alice"]) != 1 {
		t.Fatal("發送者應收到自己的副本")
	}

	// 歷史中對其他成員隱藏
	bobView, err := env.service.History(ctx, env.channel.ID, "bob", time.Time{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(bobView) != 0 {
		t.Fatal("被攔截的訊息不應出現在他人歷史中")
	}

	aliceView, _ := env.service.History(ctx, env.channel.ID, "alice", time.Time{}, 10)
	if len(aliceView) != 1 {
		t.Fatal("發送者應在歷史中看到自己被攔截的訊息")
	}
}

func TestSend_ConcurrentObservationOrder(t *testing.T) {
	settings := channel.DefaultSettings()
	settings.RateLimitEnabled = false
	env := newTestEnv(t, nil, &settings)
	ctx := context.Background()

	// 兩個發送者並發寫同一頻道，廣播順序必須與提交順序一致
	const perSender = 200
	var wg sync.WaitGroup
	for _, sender := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				if _, err := env.service.Send(ctx, SendRequest{
					SenderID:  id,
					ChannelID: env.channel.ID,
					Content:   "m",
				}); err != nil {
					t.Errorf("併發發送失敗: %v", err)
					return
				}
			}
		}(sender)
	}
	wg.Wait()

	committed := env.service.store.ListChannel(env.channel.ID)

	env.broadcaster.mu.Lock()
	broadcasts := append([]core.Event(nil), env.broadcaster.broadcast...)
	env.broadcaster.mu.Unlock()

	if len(broadcasts) != len(committed) {
		t.Fatalf("廣播數應等於提交數：%d != %d", len(broadcasts), len(committed))
	}
	for i, ev := range broadcasts {
		msg, ok := ev.Payload.(*Message)
		if !ok {
			t.Fatalf("廣播載荷類型錯誤: %T", ev.Payload)
		}
		if msg.ID != committed[i].ID {
			t.Fatalf("位置 %d 的廣播順序與提交順序不一致", i)
		}
	}
}

func TestSend_FlaggedRemainsVisible(t *testing.T) {
	env := newTestEnv(t, &flaggingClassifier{flagWord: "sketchy"}, nil)
	ctx := context.Background()

	msg, err := env.service.Send(ctx, SendRequest{
		SenderID:  "alice",
		ChannelID: env.channel.ID,
		Content:   "sketchy",
	})
	if err != nil {
		t.Fatal(err)
	}
	if msg.ModerationStatus != ModerationFlagged {
		t.Fatalf("帶旗標放行應標記為 flagged，got %s", msg.ModerationStatus)
	}

	// 帶旗標的訊息正常廣播與通知
	if len(env.broadcaster.broadcast) != 1 {
		t.Fatal("帶旗標的訊息仍應廣播")
	}
	if len(env.notifier.dispatched) != 1 {
		t.Fatal("帶旗標的訊息仍應觸發通知")
	}

	// 其他成員可見
	bobView, err := env.service.History(ctx, env.channel.ID, "bob", time.Time{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(bobView) != 1 {
		t.Fatal("帶旗標的訊息應對全員可見")
	}

	// 同時進入版主審核隊列
	queue, err := env.service.ReviewQueue(ctx, env.channel.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != 1 || queue[0].ID != msg.ID {
		t.Fatalf("帶旗標的訊息應在審核隊列中，got %d", len(queue))
	}

	// 批准只清除旗標，已可見的訊息不重複廣播
	reviewed, err := env.service.Review(ctx, msg.ID, "alice", ReviewApprove, "人工覆核")
	if err != nil {
		t.Fatal(err)
	}
	if reviewed.ModerationStatus != ModerationApproved {
		t.Fatalf("批准後狀態應為 approved，got %s", reviewed.ModerationStatus)
	}
	if len(env.broadcaster.broadcast) != 1 {
		t.Fatalf("已可見的訊息批准後不應重複廣播，got %d", len(env.broadcaster.broadcast))
	}
}

func TestSend_DirectMessageResolvesChannel(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	msg, err := env.service.Send(ctx, SendRequest{
		SenderID:    "alice",
		RecipientID: "bob",
		Content:     "private hello",
	})
	if err != nil {
		t.Fatal(err)
	}

	ch, err := env.registry.Get(msg.ChannelID)
	if err != nil {
		t.Fatal(err)
	}
	if ch.Kind != channel.KindDirect {
		t.Fatalf("應解析到私聊頻道，got %s", ch.Kind)
	}

	// 第二則復用同一頻道
	again, _ := env.service.Send(ctx, SendRequest{
		SenderID:    "bob",
		RecipientID: "alice",
		Content:     "reply",
	})
	if again.ChannelID != msg.ChannelID {
		t.Fatal("同一對用戶的私聊應落在同一頻道")
	}
}

func TestEdit(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	msg, _ := env.service.Send(ctx, SendRequest{
		SenderID:  "alice",
		ChannelID: env.channel.ID,
		Content:   "original",
	})

	// 非發送者不能編輯
	_, err := env.service.Edit(ctx, msg.ID, "bob", "hijacked")
	if !errors.Is(err, core.ErrForbidden) {
		t.Fatalf("非發送者編輯應被禁止，got %v", err)
	}

	updated, err := env.service.Edit(ctx, msg.ID, "alice", "revised")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Content != "revised" {
		t.Fatalf("內容應更新，got %s", updated.Content)
	}
	if updated.EditedAt == nil {
		t.Fatal("編輯時間應被記錄")
	}
	if updated.ID != msg.ID || updated.SenderID != msg.SenderID || updated.ChannelID != msg.ChannelID {
		t.Fatal("編輯不應改變 ID、發送者或頻道")
	}
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	msg, _ := env.service.Send(ctx, SendRequest{
		SenderID:  "bob",
		ChannelID: env.channel.ID,
		Content:   "to be removed",
	})

	env.users.Register("eve", "eve", "Eve")
	env.registry.JoinChannel(ctx, "eve", env.channel.ID)

	// 普通成員不能刪他人訊息
	err := env.service.Delete(ctx, msg.ID, "eve")
	if !errors.Is(err, core.ErrForbidden) {
		t.Fatalf("普通成員刪他人訊息應被禁止，got %v", err)
	}

	// 版主可以刪除
	if err := env.service.Delete(ctx, msg.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := env.service.Delete(ctx, msg.ID, "alice"); !errors.Is(err, core.ErrMessageNotFound) {
		t.Fatalf("重複刪除應返回不存在，got %v", err)
	}

	ch, _ := env.registry.Get(env.channel.ID)
	if ch.MessageCount != 0 {
		t.Fatalf("刪除後計數應遞減，got %d", ch.MessageCount)
	}
}

func TestReact_Toggle(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	msg, _ := env.service.Send(ctx, SendRequest{
		SenderID:  "alice",
		ChannelID: env.channel.ID,
		Content:   "react to me",
	})

	updated, err := env.service.React(ctx, msg.ID, "bob", "👍")
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Reactions) != 1 || updated.Reactions[0].Count != 1 {
		t.Fatal("首次反應應創建計數為 1 的條目")
	}

	updated, _ = env.service.React(ctx, msg.ID, "alice", "👍")
	if updated.Reactions[0].Count != 2 {
		t.Fatalf("第二人反應計數應為 2，got %d", updated.Reactions[0].Count)
	}

	// 再按一次是取消
	updated, _ = env.service.React(ctx, msg.ID, "bob", "👍")
	if updated.Reactions[0].Count != 1 {
		t.Fatalf("取消後計數應為 1，got %d", updated.Reactions[0].Count)
	}

	// 集合清空時整個條目移除
	updated, _ = env.service.React(ctx, msg.ID, "alice", "👍")
	if len(updated.Reactions) != 0 {
		t.Fatalf("清空的表情條目應被移除，got %d", len(updated.Reactions))
	}
}

func TestReview_ApproveRestoresVisibility(t *testing.T) {
	env := newTestEnv(t, &rejectingClassifier{blockWord: "banned"}, nil)
	ctx := context.Background()

	msg, _ := env.service.Send(ctx, SendRequest{
		SenderID:  "bob",
		ChannelID: env.channel.ID,
		Content:   "banned",
	})

	// 非版主不能查看隊列或裁決
	if _, err := env.service.ReviewQueue(ctx, env.channel.ID, "bob"); !errors.Is(err, core.ErrPermissionDenied) {
		t.Fatalf("非版主查看隊列應被拒絕，got %v", err)
	}
	if _, err := env.service.Review(ctx, msg.ID, "bob", ReviewApprove, ""); !errors.Is(err, core.ErrPermissionDenied) {
		t.Fatalf("非版主裁決應被拒絕，got %v", err)
	}

	queue, err := env.service.ReviewQueue(ctx, env.channel.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != 1 || queue[0].ID != msg.ID {
		t.Fatalf("被攔截的訊息應在隊列中，got %d", len(queue))
	}

	broadcastsBefore := len(env.broadcaster.broadcast)

	reviewed, err := env.service.Review(ctx, msg.ID, "alice", ReviewApprove, "誤判")
	if err != nil {
		t.Fatal(err)
	}
	if reviewed.ModerationStatus != ModerationApproved {
		t.Fatalf("批准後狀態應為 approved，got %s", reviewed.ModerationStatus)
	}

	// 批准時補做廣播與通知
	if len(env.broadcaster.broadcast) != broadcastsBefore+1 {
		t.Fatal("批准應觸發一次廣播")
	}
	if len(env.notifier.dispatched) != 1 {
		t.Fatal("批准應觸發通知分發")
	}

	// 其他成員此刻可見
	bobView, _ := env.service.History(ctx, env.channel.ID, "bob", time.Time{}, 10)
	if len(bobView) != 1 {
		t.Fatal("批准後訊息應對全員可見")
	}
}

func TestMarkRead_RequiresMembership(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	env.service.Send(ctx, SendRequest{SenderID: "alice", ChannelID: env.channel.ID, Content: "unread"})

	env.users.Register("eve", "eve", "Eve")
	if _, err := env.service.MarkRead(ctx, env.channel.ID, "eve"); !errors.Is(err, core.ErrNotAMember) {
		t.Fatalf("非成員標記已讀應被拒絕，got %v", err)
	}

	marked, err := env.service.MarkRead(ctx, env.channel.ID, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if marked != 1 {
		t.Fatalf("應標記 1 條，got %d", marked)
	}
}
