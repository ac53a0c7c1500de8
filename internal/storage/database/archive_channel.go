package database

import (
	"context"
	"time"

	"chat-core/internal/channel"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// channelDoc 頻道持久化文檔.
type channelDoc struct {
	ID           string           `bson:"_id"`
	Name         string           `bson:"name"`
	Kind         string           `bson:"kind"`
	Members      []string         `bson:"members"`
	Moderators   []string         `bson:"moderators"`
	PendingJoins []string         `bson:"pending_joins,omitempty"`
	Settings     channel.Settings `bson:"settings"`
	CreatedAt    time.Time        `bson:"created_at"`
	LastActivity time.Time        `bson:"last_activity"`
	MessageCount int64            `bson:"message_count"`
	Archived     bool             `bson:"archived"`
	UpdatedAt    time.Time        `bson:"updated_at"`
}

// ChannelArchive 頻道持久化存儲（channel.Archive 實現）.
type ChannelArchive struct {
	collection *mongo.Collection
}

// NewChannelArchive 創建頻道持久化存儲.
func NewChannelArchive(db *mongo.Database) *ChannelArchive {
	return &ChannelArchive{
		collection: db.Collection("channels"),
	}
}

// SaveChannel 以引擎 ID 為鍵 upsert 頻道文檔.
func (a *ChannelArchive) SaveChannel(ctx context.Context, ch *channel.Channel) error {
	doc := &channelDoc{
		ID:           ch.ID,
		Name:         ch.Name,
		Kind:         string(ch.Kind),
		Members:      ch.MemberIDs(),
		Moderators:   ch.ModeratorIDs(),
		Settings:     ch.Settings,
		CreatedAt:    ch.CreatedAt,
		LastActivity: ch.LastActivity,
		MessageCount: ch.MessageCount,
		Archived:     ch.Archived,
		UpdatedAt:    time.Now(),
	}
	for id := range ch.PendingJoins {
		doc.PendingJoins = append(doc.PendingJoins, id)
	}

	_, err := a.collection.ReplaceOne(ctx,
		bson.M{"_id": doc.ID}, doc,
		options.Replace().SetUpsert(true))
	return err
}

// LoadAll 載入全部頻道文檔（啟動恢復用）.
func (a *ChannelArchive) LoadAll(ctx context.Context) ([]*channel.Channel, error) {
	cursor, err := a.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var result []*channel.Channel
	for cursor.Next(ctx) {
		var doc channelDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}

		ch := &channel.Channel{
			ID:           doc.ID,
			Name:         doc.Name,
			Kind:         channel.Kind(doc.Kind),
			Members:      make(map[string]bool, len(doc.Members)),
			Moderators:   make(map[string]bool, len(doc.Moderators)),
			PendingJoins: make(map[string]bool, len(doc.PendingJoins)),
			Settings:     doc.Settings,
			CreatedAt:    doc.CreatedAt,
			LastActivity: doc.LastActivity,
			MessageCount: doc.MessageCount,
			Archived:     doc.Archived,
		}
		for _, id := range doc.Members {
			ch.Members[id] = true
		}
		for _, id := range doc.Moderators {
			ch.Moderators[id] = true
		}
		for _, id := range doc.PendingJoins {
			ch.PendingJoins[id] = true
		}
		result = append(result, ch)
	}
	return result, cursor.Err()
}
