package grpcclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"

	"chat-core/internal/platform/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Manager 協作服務 gRPC 連接管理器.
// 分類器、郵件與推送協作服務共用一條連接；
// 連接惰性建立，由引擎在啟動時構造一份並注入各協作客戶端.
type Manager struct {
	mu   sync.RWMutex
	conn *grpc.ClientConn

	address string
	tlsCfg  config.TLSConfig
	useTLS  bool
}

// NewManager 創建連接管理器.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		address: fmt.Sprintf("%s:%s", cfg.Collaborators.GRPC.Host, cfg.Collaborators.GRPC.Port),
		tlsCfg:  cfg.Security.TLS,
		useTLS:  cfg.Security.TLS.Enabled,
	}
}

// Connection 獲取或創建 gRPC 連接（惰性建立，雙重檢查鎖定）.
func (m *Manager) Connection() (*grpc.ClientConn, error) {
	m.mu.RLock()
	if m.conn != nil {
		conn := m.conn
		m.mu.RUnlock()
		return conn, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// 再次檢查
	if m.conn != nil {
		return m.conn, nil
	}

	var (
		conn *grpc.ClientConn
		err  error
	)
	if m.useTLS {
		conn, err = dialWithTLS(m.address, m.tlsCfg)
	} else {
		// 開發環境：不使用 TLS
		conn, err = dialInsecure(m.address)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gRPC server at %s: %w", m.address, err)
	}

	m.conn = conn
	return m.conn, nil
}

// dialWithTLS 使用 TLS 連接
func dialWithTLS(address string, tlsConfig config.TLSConfig) (*grpc.ClientConn, error) {
	var tlsCreds credentials.TransportCredentials

	// 如果有客戶端證書（雙向 TLS）
	if tlsConfig.CertFile != "" && tlsConfig.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsConfig.CertFile, tlsConfig.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert: %w", err)
		}

		certPool := x509.NewCertPool()
		if tlsConfig.CAFile != "" {
			ca, err := os.ReadFile(tlsConfig.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA cert: %w", err)
			}
			if ok := certPool.AppendCertsFromPEM(ca); !ok {
				return nil, fmt.Errorf("failed to append CA cert")
			}
		}

		cfg := &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      certPool,
			MinVersion:   tls.VersionTLS12,
		}

		tlsCreds = credentials.NewTLS(cfg)
	} else {
		// 只驗證服務器證書
		tlsCreds = credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	return grpc.NewClient(address, grpc.WithTransportCredentials(tlsCreds))
}

// dialInsecure 不使用 TLS 連接（僅開發環境）
func dialInsecure(address string) (*grpc.ClientConn, error) {
	fmt.Println("[WARNING] gRPC 使用不安全連接（開發環境）")
	return grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// Close 關閉 gRPC 連接
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		err := m.conn.Close()
		m.conn = nil
		return err
	}
	return nil
}

// IsConnected 檢查是否已連接
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn != nil
}
