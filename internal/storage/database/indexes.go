package database

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateIndexes 創建數據庫索引以優化查詢性能
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	// 訊息集合：頻道 ID + 創建時間複合索引（歷史分頁與保留掃描）
	messageIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "channel_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("channel_time_idx"),
		},
		{
			Keys: bson.D{
				{Key: "sender_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("sender_time_idx"),
		},
		{
			Keys: bson.D{
				{Key: "moderation_status", Value: 1},
			},
			Options: options.Index().SetName("moderation_status_idx"),
		},
	}
	if _, err := db.Collection("messages").Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return err
	}

	// 頻道集合：成員查詢與歸檔過濾
	channelIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "members", Value: 1},
			},
			Options: options.Index().SetName("members_idx"),
		},
		{
			Keys: bson.D{
				{Key: "archived", Value: 1},
				{Key: "last_activity", Value: -1},
			},
			Options: options.Index().SetName("archived_activity_idx"),
		},
	}
	if _, err := db.Collection("channels").Indexes().CreateMany(ctx, channelIndexes); err != nil {
		return err
	}

	// 通知集合：收件人 + 已讀 + 時間
	notificationIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "recipient_id", Value: 1},
				{Key: "read", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName("recipient_read_time_idx"),
		},
	}
	if _, err := db.Collection("notifications").Indexes().CreateMany(ctx, notificationIndexes); err != nil {
		return err
	}

	return nil
}
