package message

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"chat-core/internal/core"
)

func seedMessages(s *Store, channelID string, n int, base time.Time) []*Message {
	msgs := make([]*Message, 0, n)
	for i := 0; i < n; i++ {
		msg := &Message{
			ID:               fmt.Sprintf("m%02d", i),
			ChannelID:        channelID,
			SenderID:         "alice",
			Content:          fmt.Sprintf("message %d", i),
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
			ModerationStatus: ModerationApproved,
			ReadBy:           map[string]bool{"alice": true},
		}
		s.Put(msg)
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestStore_History_NewestFirst(t *testing.T) {
	store := NewStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	seedMessages(store, "ch_1", 5, base)

	page := store.History("ch_1", time.Time{}, 3)
	if len(page) != 3 {
		t.Fatalf("應返回 3 條，got %d", len(page))
	}
	if page[0].ID != "m04" || page[2].ID != "m02" {
		t.Fatalf("應按最新優先排列: %s, %s", page[0].ID, page[2].ID)
	}
}

func TestStore_History_Cursor(t *testing.T) {
	store := NewStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	msgs := seedMessages(store, "ch_1", 5, base)

	// 以第 3 條的時間為游標取上一頁
	page := store.History("ch_1", msgs[2].CreatedAt, 10)
	if len(page) != 2 {
		t.Fatalf("游標前應有 2 條，got %d", len(page))
	}
	for _, msg := range page {
		if !msg.CreatedAt.Before(msgs[2].CreatedAt) {
			t.Fatalf("返回的訊息 %s 不早於游標", msg.ID)
		}
	}
}

func TestStore_DeleteMaintainsIndex(t *testing.T) {
	store := NewStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	seedMessages(store, "ch_1", 3, base)

	if _, err := store.Delete("m01"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get("m01"); !errors.Is(err, core.ErrMessageNotFound) {
		t.Fatalf("已刪除的訊息應查不到，got %v", err)
	}

	page := store.History("ch_1", time.Time{}, 10)
	if len(page) != 2 {
		t.Fatalf("索引應移除已刪除訊息，got %d", len(page))
	}
}

func TestStore_Update_RollbackOnError(t *testing.T) {
	store := NewStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	seedMessages(store, "ch_1", 1, base)

	_, err := store.Update("m00", func(m *Message) error {
		m.Content = "tampered"
		return errors.New("validation failed")
	})
	if err == nil {
		t.Fatal("回調錯誤應透傳")
	}

	msg, _ := store.Get("m00")
	if msg.Content != "message 0" {
		t.Fatal("回調失敗不應落地任何變更")
	}
}

func TestStore_MarkRead(t *testing.T) {
	store := NewStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	seedMessages(store, "ch_1", 3, base)

	marked := store.MarkRead("ch_1", "bob")
	if marked != 3 {
		t.Fatalf("應標記 3 條，got %d", marked)
	}

	// 重複標記為無操作
	if marked := store.MarkRead("ch_1", "bob"); marked != 0 {
		t.Fatalf("重複標記不應計數，got %d", marked)
	}

	// 發送者本人不計入
	if marked := store.MarkRead("ch_1", "alice"); marked != 0 {
		t.Fatalf("發送者本人的訊息不應標記，got %d", marked)
	}
}

func TestStore_ExpiredIDs(t *testing.T) {
	store := NewStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	seedMessages(store, "ch_1", 5, base)

	cutoff := base.Add(2*time.Minute + time.Second)
	expired := store.ExpiredIDs("ch_1", cutoff)
	if len(expired) != 3 {
		t.Fatalf("截止時間前應有 3 條，got %d", len(expired))
	}
}

func TestStore_Restore_SortsByCreatedAt(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	msgs := []*Message{
		{ID: "late", ChannelID: "ch_1", CreatedAt: base.Add(time.Hour)},
		{ID: "early", ChannelID: "ch_1", CreatedAt: base},
	}

	store := NewStore()
	store.Restore(msgs)

	page := store.History("ch_1", time.Time{}, 10)
	if len(page) != 2 || page[0].ID != "late" {
		t.Fatal("恢復後歷史應按時間排序")
	}
}
