package message

import (
	"sort"
	"sync"
	"time"

	"chat-core/internal/core"
)

// Store 訊息存儲.
// 獨占持有訊息記錄；按頻道維護索引以支持歷史分頁與清理掃描.
type Store struct {
	mu        sync.RWMutex
	messages  map[string]*Message
	byChannel map[string][]string // 頻道 ID -> 按提交順序排列的訊息 ID
}

// NewStore 創建訊息存儲.
func NewStore() *Store {
	return &Store{
		messages:  make(map[string]*Message),
		byChannel: make(map[string][]string),
	}
}

// Put 提交訊息記錄.
func (s *Store) Put(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[msg.ID] = msg.Clone()
	s.byChannel[msg.ChannelID] = append(s.byChannel[msg.ChannelID], msg.ID)
}

// Restore 以持久化快照重建存儲（啟動恢復用），按提交時間排序入列.
func (s *Store) Restore(msgs []*Message) {
	sorted := make([]*Message, len(msgs))
	copy(sorted, msgs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range sorted {
		s.messages[msg.ID] = msg.Clone()
		s.byChannel[msg.ChannelID] = append(s.byChannel[msg.ChannelID], msg.ID)
	}
}

// Get 查詢訊息.
func (s *Store) Get(id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, core.ErrMessageNotFound
	}
	return msg.Clone(), nil
}

// Update 在鎖內以回調修改訊息，返回修改後的快照.
// 回調返回錯誤時不落地任何變更.
func (s *Store) Update(id string, fn func(*Message) error) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, core.ErrMessageNotFound
	}

	draft := msg.Clone()
	if err := fn(draft); err != nil {
		return nil, err
	}

	s.messages[id] = draft
	return draft.Clone(), nil
}

// Delete 刪除訊息，返回被刪除的快照.
func (s *Store) Delete(id string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, core.ErrMessageNotFound
	}

	delete(s.messages, id)
	s.removeFromChannelIndex(msg.ChannelID, id)

	return msg, nil
}

// History 返回頻道歷史（最新優先的時間游標分頁）.
// before 為零值時從最新開始；返回提交時間早於 before 的至多 limit 條.
func (s *Store) History(channelID string, before time.Time, limit int) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byChannel[channelID]
	var result []*Message

	// 頻道索引按提交順序排列，從尾端往回掃
	for i := len(ids) - 1; i >= 0 && len(result) < limit; i-- {
		msg, ok := s.messages[ids[i]]
		if !ok {
			continue
		}
		if !before.IsZero() && !msg.CreatedAt.Before(before) {
			continue
		}
		result = append(result, msg.Clone())
	}

	return result
}

// ListChannel 列出頻道全部訊息快照（審核隊列與清理掃描用）.
func (s *Store) ListChannel(channelID string) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byChannel[channelID]
	result := make([]*Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := s.messages[id]; ok {
			result = append(result, msg.Clone())
		}
	}
	return result
}

// ChannelIDs 返回當前持有訊息的頻道 ID 列表.
func (s *Store) ChannelIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.byChannel))
	for id := range s.byChannel {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ExpiredIDs 返回頻道中早於截止時間的訊息 ID（清理掃描用，只讀）.
func (s *Store) ExpiredIDs(channelID string, cutoff time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []string
	for _, id := range s.byChannel[channelID] {
		if msg, ok := s.messages[id]; ok && msg.CreatedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	return expired
}

// MarkRead 將頻道內他人發送的訊息標記為指定用戶已讀.
// 返回本次新標記的訊息數.
func (s *Store) MarkRead(channelID, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for _, id := range s.byChannel[channelID] {
		msg, ok := s.messages[id]
		if !ok || msg.SenderID == userID || msg.ReadBy[userID] {
			continue
		}
		if msg.ReadBy == nil {
			msg.ReadBy = make(map[string]bool)
		}
		msg.ReadBy[userID] = true
		msg.Status = StatusRead
		marked++
	}
	return marked
}

// Count 當前訊息總數.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// removeFromChannelIndex 從頻道索引移除訊息 ID（調用方持有寫鎖）.
func (s *Store) removeFromChannelIndex(channelID, id string) {
	ids := s.byChannel[channelID]
	for i, existing := range ids {
		if existing == id {
			s.byChannel[channelID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byChannel[channelID]) == 0 {
		delete(s.byChannel, channelID)
	}
}
