package encryption

import (
	"fmt"
	"log"
)

// MessageEncryption 訊息加密服務
// 使用 AES-256-CTR 加密模式 + 按頻道派生的密鑰
type MessageEncryption struct {
	enabled bool
	deriver *KeyDeriver
}

// NewMessageEncryption 創建訊息加密服務
func NewMessageEncryption(enabled bool, deriver *KeyDeriver) *MessageEncryption {
	if deriver == nil {
		if enabled {
			log.Println("[WARNING] Key deriver is nil. Encryption will be disabled.")
		}
		enabled = false
	}

	return &MessageEncryption{
		enabled: enabled,
		deriver: deriver,
	}
}

// Enabled 加密是否啟用.
func (m *MessageEncryption) Enabled() bool {
	return m.enabled
}

// EncryptMessage 以頻道密鑰加密訊息內容.
func (m *MessageEncryption) EncryptMessage(content, channelID string) (string, error) {
	if !m.enabled {
		return content, nil
	}

	key, err := m.deriver.ChannelKey(channelID)
	if err != nil {
		return "", fmt.Errorf("failed to derive channel key: %w", err)
	}

	aesCTR, err := NewAESCTREncryption(key)
	if err != nil {
		return "", fmt.Errorf("failed to create encryptor: %w", err)
	}

	encrypted, err := aesCTR.Encrypt(content)
	if err != nil {
		return "", fmt.Errorf("encryption failed: %w", err)
	}

	return encrypted, nil
}

// DecryptMessage 解密訊息內容.
// 未加密的內容（無格式前綴）原樣返回，兼容加密開關切換前的舊訊息.
func (m *MessageEncryption) DecryptMessage(content, channelID string) (string, error) {
	if !m.enabled {
		return content, nil
	}

	key, err := m.deriver.ChannelKey(channelID)
	if err != nil {
		return "", fmt.Errorf("failed to derive channel key: %w", err)
	}

	aesCTR, err := NewAESCTREncryption(key)
	if err != nil {
		return "", fmt.Errorf("failed to create decryptor: %w", err)
	}

	if !aesCTR.IsEncrypted(content) {
		return content, nil
	}

	return aesCTR.Decrypt(content)
}
