package user

import (
	"errors"
	"testing"
	"time"

	"chat-core/internal/core"
)

func TestRegister_Idempotent(t *testing.T) {
	dir := NewDirectory()

	first := dir.Register("u1", "alice", "Alice")
	if first.Status != StatusOffline {
		t.Fatalf("新用戶應為離線狀態，got %s", first.Status)
	}
	if !first.Preferences.NotificationsEnabled {
		t.Fatal("新用戶通知總閘應默認開啟")
	}
	if !first.Capabilities.CanCreateChannels {
		t.Fatal("新用戶應默認可創建頻道")
	}

	// 重複註冊保留狀態與偏好，只更新顯示名稱
	dir.SetStatus("u1", StatusOnline)
	dir.MuteChannel("u1", "ch_1", true)

	second := dir.Register("u1", "alice", "Alice A.")
	if second.Status != StatusOnline {
		t.Fatal("重複註冊不應重置狀態")
	}
	if !second.Preferences.MutedChannels["ch_1"] {
		t.Fatal("重複註冊不應清空靜音列表")
	}
	if second.DisplayName != "Alice A." {
		t.Fatalf("顯示名稱應更新，got %s", second.DisplayName)
	}
}

func TestGet_NotFound(t *testing.T) {
	dir := NewDirectory()
	_, err := dir.Get("ghost")
	if !errors.Is(err, core.ErrUserNotFound) {
		t.Fatalf("未註冊用戶應返回 ErrUserNotFound，got %v", err)
	}
}

func TestClone_Isolated(t *testing.T) {
	dir := NewDirectory()
	dir.Register("u1", "alice", "Alice")

	snapshot, _ := dir.Get("u1")
	snapshot.Preferences.MutedChannels["ch_1"] = true

	fresh, _ := dir.Get("u1")
	if fresh.Preferences.MutedChannels["ch_1"] {
		t.Fatal("快照修改不應影響目錄內的記錄")
	}
}

func TestBlockAndMute(t *testing.T) {
	dir := NewDirectory()
	dir.Register("u1", "alice", "Alice")

	if err := dir.BlockUser("u1", "troll", true); err != nil {
		t.Fatal(err)
	}
	if err := dir.MuteChannel("u1", "noisy", true); err != nil {
		t.Fatal(err)
	}

	u, _ := dir.Get("u1")
	if !u.Preferences.BlockedUsers["troll"] || !u.Preferences.MutedChannels["noisy"] {
		t.Fatal("封鎖與靜音應被記錄")
	}

	dir.BlockUser("u1", "troll", false)
	dir.MuteChannel("u1", "noisy", false)

	u, _ = dir.Get("u1")
	if u.Preferences.BlockedUsers["troll"] || u.Preferences.MutedChannels["noisy"] {
		t.Fatal("解除封鎖與取消靜音應清除記錄")
	}
}

func TestFindByUsername(t *testing.T) {
	dir := NewDirectory()
	dir.Register("u1", "alice", "Alice")

	u, ok := dir.FindByUsername("alice")
	if !ok || u.ID != "u1" {
		t.Fatal("應按用戶名找到用戶")
	}
	if _, ok := dir.FindByUsername("nobody"); ok {
		t.Fatal("不存在的用戶名不應命中")
	}
}

func TestListStale(t *testing.T) {
	dir := NewDirectory()
	dir.Register("fresh", "fresh", "Fresh")
	dir.Register("idle", "idle", "Idle")
	dir.Register("offline", "offline", "Offline")

	dir.SetStatus("fresh", StatusOnline)
	dir.SetStatus("idle", StatusOnline)
	// offline 保持離線，不應進入掃描結果

	// 閾值為 0 時剛活動過的用戶也不算閒置（LastSeen 就在剛才）
	stale := dir.ListStale(time.Minute)
	if len(stale) != 0 {
		t.Fatalf("剛活動的用戶不應被視為閒置，got %v", stale)
	}

	// 負閾值讓所有在線用戶立即過期，驗證只掃描 online 狀態
	stale = dir.ListStale(-time.Second)
	if len(stale) != 2 {
		t.Fatalf("應找到 2 個閒置的在線用戶，got %v", stale)
	}
	for _, id := range stale {
		if id == "offline" {
			t.Fatal("離線用戶不應進入閒置列表")
		}
	}
}
