package encryption

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"chat-core/internal/constants"

	"golang.org/x/crypto/hkdf"
)

// KeyDeriver 頻道密鑰派生器.
// 以 HKDF-SHA256 從主密鑰按頻道 ID 派生獨立的 256-bit 密鑰；
// 派生是確定性的，不需要持久化每個頻道的密鑰.
type KeyDeriver struct {
	masterKey []byte
}

// LoadMasterKey 從環境變數 MASTER_KEY 載入主密鑰（base64 編碼的 32 bytes）.
func LoadMasterKey() ([]byte, error) {
	encoded := os.Getenv("MASTER_KEY")
	if encoded == "" {
		return nil, fmt.Errorf("MASTER_KEY environment variable not set")
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("MASTER_KEY is not valid base64: %w", err)
	}
	if len(key) != constants.MasterKeyLength {
		return nil, fmt.Errorf("MASTER_KEY must decode to %d bytes, got %d", constants.MasterKeyLength, len(key))
	}

	return key, nil
}

// NewKeyDeriver 創建密鑰派生器.
func NewKeyDeriver(masterKey []byte) (*KeyDeriver, error) {
	if len(masterKey) != constants.MasterKeyLength {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", constants.MasterKeyLength, len(masterKey))
	}

	keyCopy := make([]byte, len(masterKey))
	copy(keyCopy, masterKey)

	return &KeyDeriver{masterKey: keyCopy}, nil
}

// ChannelKey 派生指定頻道的加密密鑰.
func (d *KeyDeriver) ChannelKey(channelID string) ([]byte, error) {
	if channelID == "" {
		return nil, fmt.Errorf("channel id cannot be empty")
	}

	reader := hkdf.New(sha256.New, d.masterKey, nil, []byte("channel-key:"+channelID))

	key := make([]byte, constants.MasterKeyLength)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}

	return key, nil
}
