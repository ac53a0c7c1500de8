package core

import "time"

// EventType 推送給已連接客戶端的事件類型.
type EventType string

const (
	EventConnected            EventType = "connected"
	EventNewMessage           EventType = "new_message"
	EventMessageEdited        EventType = "message_edited"
	EventMessageDeleted       EventType = "message_deleted"
	EventMessageReaction      EventType = "message_reaction"
	EventUserJoined           EventType = "user_joined"
	EventUserLeft             EventType = "user_left"
	EventUserStatus           EventType = "user_status"
	EventTyping               EventType = "typing"
	EventNotification         EventType = "notification"
	EventConnectionSuperseded EventType = "connection_superseded"
)

// Event 推送事件封裝.
// Payload 為各事件的具體內容，序列化為 JSON 後發送.
type Event struct {
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent 創建帶當前時間戳的事件.
func NewEvent(t EventType, payload interface{}) Event {
	return Event{
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
