// Package engine 引擎裝配根.
// 在進程啟動時構造一次所有組件並顯式接線，再傳遞給 HTTP/WS 層；
// 不存在模組級的可變單例.
package engine

import (
	"context"
	"fmt"
	"time"

	"chat-core/internal/channel"
	"chat-core/internal/grpcclient"
	"chat-core/internal/hub"
	"chat-core/internal/janitor"
	"chat-core/internal/message"
	"chat-core/internal/moderation"
	"chat-core/internal/notify"
	"chat-core/internal/platform/config"
	"chat-core/internal/platform/logger"
	"chat-core/internal/ratelimit"
	"chat-core/internal/security/encryption"
	"chat-core/internal/storage/database"
	"chat-core/internal/user"
)

// Engine 訊息引擎.
// 持有全部組件的唯一實例；組件間的協作接口在這裡注入.
type Engine struct {
	Users         *user.Directory
	Registry      *channel.Registry
	Limiter       *ratelimit.Limiter
	Gate          *moderation.Gate
	Store         *message.Store
	Messages      *message.Service
	Notifications *notify.Dispatcher
	Hub           *hub.Hub
	Janitor       *janitor.Janitor

	grpc  *grpcclient.Manager
	repos *database.Repositories
}

// New 構造並接線整個引擎.
// repos 為 nil 時純內存運行，所有持久化旁路關閉.
func New(cfg *config.Config, repos *database.Repositories) (*Engine, error) {
	users := user.NewDirectory()
	registry := channel.NewRegistry(users)
	limiter := ratelimit.NewLimiter(registry)
	store := message.NewStore()

	grpcManager := grpcclient.NewManager(cfg)

	// 內容分類器：部署層關閉時不裝配，審核閘門直接放行
	var classifier moderation.Classifier
	if cfg.Collaborators.Classifier.Enabled {
		classifier = moderation.NewGRPCClassifier(grpcManager)
	}
	gate := moderation.NewGate(classifier,
		cfg.Engine.Moderation.Threshold,
		time.Duration(cfg.Engine.Moderation.TimeoutSeconds)*time.Second)

	// 訊息加密：啟用時必須有合法的主密鑰
	var crypto *encryption.MessageEncryption
	if cfg.Security.Encryption.Enabled {
		masterKey, err := encryption.LoadMasterKey()
		if err != nil {
			return nil, fmt.Errorf("載入主密鑰失敗: %w", err)
		}
		deriver, err := encryption.NewKeyDeriver(masterKey)
		if err != nil {
			return nil, fmt.Errorf("創建密鑰派生器失敗: %w", err)
		}
		crypto = encryption.NewMessageEncryption(true, deriver)
	} else {
		crypto = encryption.NewMessageEncryption(false, nil)
	}

	service := message.NewService(store, registry, users, limiter, gate, crypto)

	var email notify.EmailSender
	if cfg.Collaborators.Email.Enabled {
		email = notify.NewGRPCEmailSender(grpcManager, cfg.Collaborators.Email)
	}
	var push notify.PushSender
	if cfg.Collaborators.Push.Enabled {
		push = notify.NewGRPCPushSender(grpcManager, cfg.Collaborators.Push)
	}
	dispatcher := notify.NewDispatcher(notify.NewStore(), users, email, push)

	connHub := hub.NewHub(registry, users)

	// 顯式接線組件間協作
	registry.SetJoinNotifier(dispatcher)
	registry.SetMemberEvents(connHub)
	service.SetBroadcaster(connHub)
	service.SetNotifier(dispatcher)
	dispatcher.SetLivePusher(connHub)
	connHub.SetUnreadCounter(dispatcher)

	jan, err := janitor.New(store, registry, limiter, users, connHub, cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("創建清理排程失敗: %w", err)
	}

	eng := &Engine{
		Users:         users,
		Registry:      registry,
		Limiter:       limiter,
		Gate:          gate,
		Store:         store,
		Messages:      service,
		Notifications: dispatcher,
		Hub:           connHub,
		Janitor:       jan,
		grpc:          grpcManager,
		repos:         repos,
	}

	if repos != nil {
		registry.SetArchive(repos.Channels)
		service.SetArchive(repos.Messages)
		dispatcher.SetArchive(repos.Notifications)
		jan.SetArchive(repos.Messages)
	}

	return eng, nil
}

// Restore 從持久層載入頻道與訊息快照（啟動時調用一次）.
func (e *Engine) Restore(ctx context.Context) error {
	if e.repos == nil {
		return nil
	}

	channels, err := e.repos.Channels.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("載入頻道快照失敗: %w", err)
	}
	e.Registry.Restore(channels)

	restored := 0
	for _, ch := range channels {
		msgs, err := e.repos.Messages.LoadChannel(ctx, ch.ID)
		if err != nil {
			return fmt.Errorf("載入頻道 %s 訊息失敗: %w", ch.ID, err)
		}
		e.Store.Restore(msgs)
		restored += len(msgs)
	}

	logger.Info(ctx, fmt.Sprintf("已從持久層恢復 %d 個頻道、%d 則訊息", len(channels), restored),
		logger.WithAction("engine_restore"))
	return nil
}

// Start 啟動背景任務（清理排程），ctx 取消時停止.
func (e *Engine) Start(ctx context.Context) {
	e.Janitor.Start(ctx)
}

// Close 釋放引擎持有的外部資源.
func (e *Engine) Close() error {
	return e.grpc.Close()
}

// ConnectionCount 當前活躍連接數（健康檢查用）.
func (e *Engine) ConnectionCount() int {
	return e.Hub.ConnectionCount()
}

// MessageCount 當前持有的訊息數（健康檢查用）.
func (e *Engine) MessageCount() int {
	return e.Store.Count()
}
