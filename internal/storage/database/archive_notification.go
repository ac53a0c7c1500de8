package database

import (
	"context"
	"time"

	"chat-core/internal/notify"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// notificationDoc 通知持久化文檔.
type notificationDoc struct {
	ID          string          `bson:"_id"`
	Type        string          `bson:"type"`
	Title       string          `bson:"title"`
	Body        string          `bson:"body"`
	RecipientID string          `bson:"recipient_id"`
	FromUserID  string          `bson:"from_user_id,omitempty"`
	ChannelID   string          `bson:"channel_id,omitempty"`
	MessageID   string          `bson:"message_id,omitempty"`
	CreatedAt   time.Time       `bson:"created_at"`
	Read        bool            `bson:"read"`
	Priority    string          `bson:"priority"`
	Actions     []notify.Action `bson:"actions,omitempty"`
	UpdatedAt   time.Time       `bson:"updated_at"`
}

// NotificationArchive 通知持久化存儲（notify.Archive 實現）.
type NotificationArchive struct {
	collection *mongo.Collection
}

// NewNotificationArchive 創建通知持久化存儲.
func NewNotificationArchive(db *mongo.Database) *NotificationArchive {
	return &NotificationArchive{
		collection: db.Collection("notifications"),
	}
}

// SaveNotification 以引擎 ID 為鍵 upsert 通知文檔.
func (a *NotificationArchive) SaveNotification(ctx context.Context, n *notify.Notification) error {
	doc := &notificationDoc{
		ID:          n.ID,
		Type:        string(n.Type),
		Title:       n.Title,
		Body:        n.Body,
		RecipientID: n.RecipientID,
		FromUserID:  n.FromUserID,
		ChannelID:   n.ChannelID,
		MessageID:   n.MessageID,
		CreatedAt:   n.CreatedAt,
		Read:        n.Read,
		Priority:    string(n.Priority),
		Actions:     n.Actions,
		UpdatedAt:   time.Now(),
	}

	_, err := a.collection.ReplaceOne(ctx,
		bson.M{"_id": doc.ID}, doc,
		options.Replace().SetUpsert(true))
	return err
}

// MarkRead 更新通知的已讀旗標.
func (a *NotificationArchive) MarkRead(ctx context.Context, id string) error {
	_, err := a.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"read": true, "updated_at": time.Now()}})
	return err
}

// DeleteOlderThan 清除早於截止時間的通知文檔，返回刪除數量.
func (a *NotificationArchive) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := a.collection.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}
