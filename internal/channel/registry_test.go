package channel

import (
	"context"
	"errors"
	"sync"
	"testing"

	"chat-core/internal/core"
	"chat-core/internal/user"
)

func newTestRegistry(t *testing.T, userIDs ...string) (*Registry, *user.Directory) {
	t.Helper()
	users := user.NewDirectory()
	for _, id := range userIDs {
		users.Register(id, id, id)
	}
	return NewRegistry(users), users
}

// recordingNotifier 記錄加入請求通知的測試樁.
type recordingNotifier struct {
	mu       sync.Mutex
	requests []string
}

func (n *recordingNotifier) NotifyJoinRequest(ctx context.Context, ch *Channel, requesterID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, requesterID)
}

func TestCreateChannel(t *testing.T) {
	reg, _ := newTestRegistry(t, "alice", "bob")
	ctx := context.Background()

	ch, err := reg.CreateChannel(ctx, "alice", Spec{Name: "general", Members: []string{"bob"}})
	if err != nil {
		t.Fatal(err)
	}

	if !ch.IsMember("alice") || !ch.IsModerator("alice") {
		t.Fatal("創建者應為成員兼版主")
	}
	if !ch.IsMember("bob") {
		t.Fatal("創建時指定的成員應直接入列")
	}
	if ch.IsModerator("bob") {
		t.Fatal("額外成員不應自動成為版主")
	}
	if ch.Kind != KindPublic {
		t.Fatalf("未指定類型應默認為 public，got %s", ch.Kind)
	}
}

func TestCreateChannel_PermissionDenied(t *testing.T) {
	reg, users := newTestRegistry(t, "alice")
	users.SetCapabilities("alice", user.Capabilities{CanCreateChannels: false})

	_, err := reg.CreateChannel(context.Background(), "alice", Spec{Name: "general"})
	if !errors.Is(err, core.ErrPermissionDenied) {
		t.Fatalf("無創建能力應返回權限錯誤，got %v", err)
	}
}

func TestEnsureDirect_Idempotent(t *testing.T) {
	reg, _ := newTestRegistry(t, "alice", "bob")
	ctx := context.Background()

	first, err := reg.EnsureDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}

	// 參數順序顛倒仍返回同一頻道
	second, err := reg.EnsureDirect(ctx, "bob", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("同一對用戶應復用私聊頻道: %s != %s", first.ID, second.ID)
	}
	if first.Kind != KindDirect {
		t.Fatalf("私聊頻道類型錯誤: %s", first.Kind)
	}
}

func TestJoinChannel_Idempotent(t *testing.T) {
	reg, _ := newTestRegistry(t, "alice", "bob")
	ctx := context.Background()

	ch, err := reg.CreateChannel(ctx, "alice", Spec{Name: "general"})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		result, err := reg.JoinChannel(ctx, "bob", ch.ID)
		if err != nil {
			t.Fatal(err)
		}
		if result != JoinAdmitted {
			t.Fatalf("第 %d 次加入應返回 admitted，got %s", i+1, result)
		}
	}

	members, err := reg.Members(ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("重複加入不應增加成員，got %d", len(members))
	}
}

func TestJoinChannel_Direct(t *testing.T) {
	reg, _ := newTestRegistry(t, "alice", "bob", "carol")
	ctx := context.Background()

	direct, err := reg.EnsureDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}

	_, err = reg.JoinChannel(ctx, "carol", direct.ID)
	if !errors.Is(err, core.ErrForbidden) {
		t.Fatalf("第三人加入私聊應被禁止，got %v", err)
	}
}

func TestJoinChannel_Capacity(t *testing.T) {
	reg, _ := newTestRegistry(t, "alice", "bob", "carol")
	ctx := context.Background()

	settings := DefaultSettings()
	settings.MaxMembers = 2
	ch, err := reg.CreateChannel(ctx, "alice", Spec{Name: "tiny", Settings: &settings})
	if err != nil {
		t.Fatal(err)
	}

	if result, _ := reg.JoinChannel(ctx, "bob", ch.ID); result != JoinAdmitted {
		t.Fatal("未滿員時應允許加入")
	}

	result, err := reg.JoinChannel(ctx, "carol", ch.ID)
	if result != JoinRejected {
		t.Fatalf("滿員應返回 rejected，got %s", result)
	}
	if !errors.Is(err, core.ErrCapacityExceeded) {
		t.Fatalf("滿員應返回容量錯誤，got %v", err)
	}
}

func TestJoinChannel_ApprovalFlow(t *testing.T) {
	reg, _ := newTestRegistry(t, "alice", "bob")
	notifier := &recordingNotifier{}
	reg.SetJoinNotifier(notifier)
	ctx := context.Background()

	settings := DefaultSettings()
	settings.RequireApproval = true
	ch, err := reg.CreateChannel(ctx, "alice", Spec{Name: "gated", Kind: KindPrivate, Settings: &settings})
	if err != nil {
		t.Fatal(err)
	}

	// 首次請求進入等待並通知版主
	result, err := reg.JoinChannel(ctx, "bob", ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if result != JoinPendingApproval {
		t.Fatalf("需審批頻道應返回 pending_approval，got %s", result)
	}
	if len(notifier.requests) != 1 {
		t.Fatalf("應通知版主一次，got %d", len(notifier.requests))
	}

	// 重複請求不再打擾版主
	reg.JoinChannel(ctx, "bob", ch.ID)
	if len(notifier.requests) != 1 {
		t.Fatalf("重複請求不應重複通知，got %d", len(notifier.requests))
	}

	// 非版主不能審批
	_, err = reg.ApproveJoin(ctx, "bob", ch.ID, "bob", true)
	if !errors.Is(err, core.ErrPermissionDenied) {
		t.Fatalf("非版主審批應返回權限錯誤，got %v", err)
	}

	// 版主批准後入列
	result, err = reg.ApproveJoin(ctx, "alice", ch.ID, "bob", true)
	if err != nil {
		t.Fatal(err)
	}
	if result != JoinAdmitted {
		t.Fatalf("批准後應返回 admitted，got %s", result)
	}

	updated, _ := reg.Get(ch.ID)
	if !updated.IsMember("bob") {
		t.Fatal("批准後應成為成員")
	}
	if updated.PendingJoins["bob"] {
		t.Fatal("批准後應清除等待記錄")
	}
}

func TestApproveJoin_Reject(t *testing.T) {
	reg, _ := newTestRegistry(t, "alice", "bob")
	ctx := context.Background()

	settings := DefaultSettings()
	settings.RequireApproval = true
	ch, _ := reg.CreateChannel(ctx, "alice", Spec{Name: "gated", Settings: &settings})

	reg.JoinChannel(ctx, "bob", ch.ID)

	result, err := reg.ApproveJoin(ctx, "alice", ch.ID, "bob", false)
	if err != nil {
		t.Fatal(err)
	}
	if result != JoinRejected {
		t.Fatalf("駁回應返回 rejected，got %s", result)
	}

	updated, _ := reg.Get(ch.ID)
	if updated.IsMember("bob") || updated.PendingJoins["bob"] {
		t.Fatal("駁回後不應為成員，等待記錄應清除")
	}
}

func TestLeaveChannel_ArchivesEmpty(t *testing.T) {
	reg, _ := newTestRegistry(t, "alice")
	ctx := context.Background()

	ch, _ := reg.CreateChannel(ctx, "alice", Spec{Name: "solo"})

	removed, err := reg.LeaveChannel(ctx, "alice", ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Fatal("成員離開應返回 true")
	}

	updated, _ := reg.Get(ch.ID)
	if !updated.Archived {
		t.Fatal("清空的頻道應被歸檔")
	}

	// 非成員離開為無操作
	removed, err = reg.LeaveChannel(ctx, "alice", ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Fatal("非成員離開應返回 false")
	}
}

func TestLeaveChannel_DirectArchivesBelowTwo(t *testing.T) {
	reg, _ := newTestRegistry(t, "alice", "bob")
	ctx := context.Background()

	direct, _ := reg.EnsureDirect(ctx, "alice", "bob")

	reg.LeaveChannel(ctx, "alice", direct.ID)

	updated, _ := reg.Get(direct.ID)
	if !updated.Archived {
		t.Fatal("私聊成員不足 2 人應歸檔")
	}

	// 歸檔後重建新的私聊頻道
	fresh, err := reg.EnsureDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.ID == direct.ID {
		t.Fatal("歸檔的私聊頻道不應被復用")
	}
}

func TestListForUser_ExcludesArchived(t *testing.T) {
	reg, _ := newTestRegistry(t, "alice")
	ctx := context.Background()

	kept, _ := reg.CreateChannel(ctx, "alice", Spec{Name: "kept"})
	gone, _ := reg.CreateChannel(ctx, "alice", Spec{Name: "gone"})
	reg.LeaveChannel(ctx, "alice", gone.ID)

	list := reg.ListForUser("alice")
	if len(list) != 1 || list[0].ID != kept.ID {
		t.Fatalf("列表應只含未歸檔頻道，got %d", len(list))
	}
}

func TestMessageCounters(t *testing.T) {
	reg, _ := newTestRegistry(t, "alice")
	ctx := context.Background()

	ch, _ := reg.CreateChannel(ctx, "alice", Spec{Name: "general"})

	for i := 0; i < 3; i++ {
		if err := reg.RecordMessage(ch.ID); err != nil {
			t.Fatal(err)
		}
	}
	reg.DiscardMessage(ch.ID, 5)

	updated, _ := reg.Get(ch.ID)
	if updated.MessageCount != 0 {
		t.Fatalf("計數下限應為 0，got %d", updated.MessageCount)
	}
}

func TestRestore_RebuildsDirectIndex(t *testing.T) {
	reg, _ := newTestRegistry(t, "alice", "bob")
	ctx := context.Background()

	direct, _ := reg.EnsureDirect(ctx, "alice", "bob")
	snapshot := reg.ListAll()

	// 以快照重建新的註冊表
	restored, _ := newTestRegistry(t, "alice", "bob")
	restored.Restore(snapshot)

	again, err := restored.EnsureDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != direct.ID {
		t.Fatal("恢復後私聊索引應復用原頻道")
	}
}
