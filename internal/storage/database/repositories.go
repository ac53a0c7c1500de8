// Package database 持久化協作存儲.
// 引擎的真實狀態在進程內；這裡的 MongoDB 文檔是寫後（write-behind）
// 的持久副本，寫入失敗只記錄不回滾.所有文檔以引擎的字串 ID 為主鍵，
// 進程重啟後 ID 仍然穩定有效.
package database

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Repositories 倉儲集合.
type Repositories struct {
	Messages      *MessageArchive
	Channels      *ChannelArchive
	Notifications *NotificationArchive
}

// NewRepositories 創建倉儲集合並確保索引存在.
// 索引創建失敗不中斷服務啟動，只回傳錯誤供調用方記錄.
func NewRepositories(ctx context.Context, db *mongo.Database) (*Repositories, error) {
	repos := &Repositories{
		Messages:      NewMessageArchive(db),
		Channels:      NewChannelArchive(db),
		Notifications: NewNotificationArchive(db),
	}

	err := CreateIndexes(ctx, db)
	return repos, err
}
