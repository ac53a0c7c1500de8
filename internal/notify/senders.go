package notify

import (
	"context"
	"fmt"
	"time"

	"chat-core/internal/constants"
	"chat-core/internal/grpcclient"
	"chat-core/internal/platform/config"

	"google.golang.org/protobuf/types/known/structpb"
)

// EmailSender 郵件發送協作者接口.
// 盡力而為：失敗只記錄，不回滾通知記錄也不影響訊息.
type EmailSender interface {
	Send(ctx context.Context, to, subject, html, text string) error
}

// PushSender 推送發送協作者接口，契約同上.
type PushSender interface {
	Send(ctx context.Context, userID, title, body string, priority Priority) error
}

// 協作服務的 gRPC 方法全名.
const (
	emailSendMethod = "/notify.v1.EmailSender/Send"
	pushSendMethod  = "/notify.v1.PushSender/Send"
)

// GRPCEmailSender 透過共享 gRPC 連接調用外部郵件服務.
type GRPCEmailSender struct {
	manager *grpcclient.Manager
	timeout time.Duration
}

// NewGRPCEmailSender 創建郵件發送客戶端.
func NewGRPCEmailSender(manager *grpcclient.Manager, cfg config.SenderConfig) *GRPCEmailSender {
	timeout := constants.DefaultCollaboratorTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &GRPCEmailSender{manager: manager, timeout: timeout}
}

// Send 發送郵件通知.
func (s *GRPCEmailSender) Send(ctx context.Context, to, subject, html, text string) error {
	conn, err := s.manager.Connection()
	if err != nil {
		return fmt.Errorf("郵件服務連接失敗: %w", err)
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"to":      to,
		"subject": subject,
		"html":    html,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("構造郵件請求失敗: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := conn.Invoke(callCtx, emailSendMethod, req, resp); err != nil {
		return fmt.Errorf("郵件發送失敗: %w", err)
	}
	return nil
}

// GRPCPushSender 透過共享 gRPC 連接調用外部推送服務.
type GRPCPushSender struct {
	manager *grpcclient.Manager
	timeout time.Duration
}

// NewGRPCPushSender 創建推送發送客戶端.
func NewGRPCPushSender(manager *grpcclient.Manager, cfg config.SenderConfig) *GRPCPushSender {
	timeout := constants.DefaultCollaboratorTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &GRPCPushSender{manager: manager, timeout: timeout}
}

// Send 發送推送通知.
func (s *GRPCPushSender) Send(ctx context.Context, userID, title, body string, priority Priority) error {
	conn, err := s.manager.Connection()
	if err != nil {
		return fmt.Errorf("推送服務連接失敗: %w", err)
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"user_id":  userID,
		"title":    title,
		"body":     body,
		"priority": string(priority),
	})
	if err != nil {
		return fmt.Errorf("構造推送請求失敗: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := conn.Invoke(callCtx, pushSendMethod, req, resp); err != nil {
		return fmt.Errorf("推送發送失敗: %w", err)
	}
	return nil
}
