package database

import (
	"context"
	"time"

	"chat-core/internal/message"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// messageDoc 訊息持久化文檔.
type messageDoc struct {
	ID               string               `bson:"_id"`
	Kind             string               `bson:"kind"`
	Content          string               `bson:"content"`
	SenderID         string               `bson:"sender_id"`
	SenderName       string               `bson:"sender_name"`
	ChannelID        string               `bson:"channel_id"`
	CreatedAt        time.Time            `bson:"created_at"`
	EditedAt         *time.Time           `bson:"edited_at,omitempty"`
	Reactions        []reactionDoc        `bson:"reactions,omitempty"`
	ReplyTo          []string             `bson:"reply_to,omitempty"`
	Attachments      []message.Attachment `bson:"attachments,omitempty"`
	Encrypted        bool                 `bson:"encrypted"`
	Priority         string               `bson:"priority"`
	Status           string               `bson:"status"`
	ModerationStatus string               `bson:"moderation_status"`
	ModerationScore  int                  `bson:"moderation_score"`
	FlaggedReasons   []string             `bson:"flagged_reasons,omitempty"`
	UpdatedAt        time.Time            `bson:"updated_at"`
}

// reactionDoc 表情反應文檔.
type reactionDoc struct {
	Emoji    string   `bson:"emoji"`
	Reactors []string `bson:"reactors"`
	Count    int      `bson:"count"`
}

// MessageArchive 訊息持久化存儲（message.Archive 實現）.
type MessageArchive struct {
	collection *mongo.Collection
}

// NewMessageArchive 創建訊息持久化存儲.
func NewMessageArchive(db *mongo.Database) *MessageArchive {
	return &MessageArchive{
		collection: db.Collection("messages"),
	}
}

// SaveMessage 以引擎 ID 為鍵 upsert 訊息文檔.
func (a *MessageArchive) SaveMessage(ctx context.Context, msg *message.Message) error {
	doc := toMessageDoc(msg)
	doc.UpdatedAt = time.Now()

	_, err := a.collection.ReplaceOne(ctx,
		bson.M{"_id": doc.ID}, doc,
		options.Replace().SetUpsert(true))
	return err
}

// DeleteMessage 刪除訊息文檔.
func (a *MessageArchive) DeleteMessage(ctx context.Context, id string) error {
	_, err := a.collection.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// LoadChannel 載入頻道的全部訊息文檔（啟動恢復用）.
func (a *MessageArchive) LoadChannel(ctx context.Context, channelID string) ([]*message.Message, error) {
	cursor, err := a.collection.Find(ctx,
		bson.M{"channel_id": channelID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var result []*message.Message
	for cursor.Next(ctx) {
		var doc messageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		result = append(result, fromMessageDoc(&doc))
	}
	return result, cursor.Err()
}

// toMessageDoc 引擎訊息轉持久化文檔.
func toMessageDoc(msg *message.Message) *messageDoc {
	doc := &messageDoc{
		ID:               msg.ID,
		Kind:             string(msg.Kind),
		Content:          msg.Content,
		SenderID:         msg.SenderID,
		SenderName:       msg.SenderName,
		ChannelID:        msg.ChannelID,
		CreatedAt:        msg.CreatedAt,
		EditedAt:         msg.EditedAt,
		ReplyTo:          msg.ReplyTo,
		Attachments:      msg.Attachments,
		Encrypted:        msg.Encrypted,
		Priority:         string(msg.Priority),
		Status:           string(msg.Status),
		ModerationStatus: string(msg.ModerationStatus),
		ModerationScore:  msg.ModerationScore,
		FlaggedReasons:   msg.FlaggedReasons,
	}
	for _, r := range msg.Reactions {
		doc.Reactions = append(doc.Reactions, reactionDoc{
			Emoji:    r.Emoji,
			Reactors: r.ReactorIDs(),
			Count:    r.Count,
		})
	}
	return doc
}

// fromMessageDoc 持久化文檔轉引擎訊息.
func fromMessageDoc(doc *messageDoc) *message.Message {
	msg := &message.Message{
		ID:               doc.ID,
		Kind:             message.Kind(doc.Kind),
		Content:          doc.Content,
		SenderID:         doc.SenderID,
		SenderName:       doc.SenderName,
		ChannelID:        doc.ChannelID,
		CreatedAt:        doc.CreatedAt,
		EditedAt:         doc.EditedAt,
		ReplyTo:          doc.ReplyTo,
		Attachments:      doc.Attachments,
		Encrypted:        doc.Encrypted,
		Priority:         message.Priority(doc.Priority),
		Status:           message.Status(doc.Status),
		ModerationStatus: message.ModerationStatus(doc.ModerationStatus),
		ModerationScore:  doc.ModerationScore,
		FlaggedReasons:   doc.FlaggedReasons,
		ReadBy:           make(map[string]bool),
	}
	for _, r := range doc.Reactions {
		reactors := make(map[string]bool, len(r.Reactors))
		for _, id := range r.Reactors {
			reactors[id] = true
		}
		msg.Reactions = append(msg.Reactions, message.Reaction{
			Emoji:    r.Emoji,
			Reactors: reactors,
			Count:    len(reactors),
		})
	}
	return msg
}
