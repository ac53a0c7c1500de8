package main

import (
	"context"
	"fmt"
	"os"

	"chat-core/internal/engine"
	"chat-core/internal/platform/config"
	"chat-core/internal/platform/driver"
	"chat-core/internal/platform/logger"
	"chat-core/internal/platform/server"
	"chat-core/internal/storage/database"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// mainNoExit 分離主要邏輯以避免 exitAfterDefer 問題，確保 defer 函數正常執行.
func mainNoExit() error {
	// 初始化日誌.
	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	ctx := context.Background()

	// 載入配置.
	if err := config.Load(); err != nil {
		return err
	}
	cfg := config.Get()

	// 持久層可選：未配置 MongoDB 時引擎純內存運行.
	var repos *database.Repositories
	if config.GetMongoURL() != "" {
		if err := driver.InitMongo(cfg.Database.Mongo); err != nil {
			return fmt.Errorf("連接 MongoDB 失敗: %w", err)
		}
		defer func() {
			if err := driver.CloseMongo(); err != nil {
				logger.Errorf(ctx, "關閉 MongoDB 連接失敗: %v", err)
			}
		}()

		var err error
		repos, err = database.NewRepositories(ctx, driver.GetMongoDatabase())
		if err != nil {
			// 索引創建失敗不阻止啟動，歸檔寫入仍可進行
			logger.Errorf(ctx, "創建 MongoDB 索引失敗: %v", err)
		}
	} else {
		logger.Info(ctx, "未配置 MongoDB，引擎以純內存模式運行")
	}

	// 裝配引擎.
	eng, err := engine.New(cfg, repos)
	if err != nil {
		return fmt.Errorf("引擎初始化失敗: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Errorf(ctx, "釋放引擎資源失敗: %v", err)
		}
	}()

	// 從持久層恢復頻道與訊息快照.
	if err := eng.Restore(ctx); err != nil {
		return fmt.Errorf("恢復引擎狀態失敗: %w", err)
	}

	// 啟動 HTTP/WebSocket 伺服器（阻塞到收到關閉信號）.
	return server.Start(eng)
}
