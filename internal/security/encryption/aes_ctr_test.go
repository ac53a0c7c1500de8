package encryption

import (
	"crypto/rand"
	"strings"
	"testing"
)

func TestAESCTREncryption(t *testing.T) {
	// 生成測試密鑰 (256 bits = 32 bytes)
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}

	enc, err := NewAESCTREncryption(key)
	if err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name      string
		plaintext string
	}{
		{"Simple text", "Hello, World!"},
		{"Unicode", "你好世界！🔐"},
		{"Long text", strings.Repeat("This is a long message. ", 100)},
		{"Special chars", "!@#$%^&*()_+-=[]{}|;':\",./<>?"},
		{"Newlines", "Line 1\nLine 2\nLine 3"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, err := enc.Encrypt(tc.plaintext)
			if err != nil {
				t.Fatalf("Encryption failed: %v", err)
			}

			if !strings.HasPrefix(ciphertext, "aes256ctr:") {
				t.Errorf("Invalid ciphertext format: missing prefix")
			}
			if ciphertext == tc.plaintext {
				t.Errorf("Ciphertext should differ from plaintext")
			}

			decrypted, err := enc.Decrypt(ciphertext)
			if err != nil {
				t.Fatalf("Decryption failed: %v", err)
			}
			if decrypted != tc.plaintext {
				t.Errorf("Decryption mismatch.\nWant: %s\nGot: %s", tc.plaintext, decrypted)
			}
		})
	}
}

func TestAESCTREncryption_InvalidKey(t *testing.T) {
	for _, size := range []int{0, 16, 24, 48} {
		key := make([]byte, size)
		if _, err := NewAESCTREncryption(key); err == nil {
			t.Errorf("密鑰長度 %d 應被拒絕", size)
		}
	}
}

func TestAESCTREncryption_UniqueIV(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	enc, err := NewAESCTREncryption(key)
	if err != nil {
		t.Fatal(err)
	}

	// 同一明文兩次加密應產生不同密文（隨機 IV）
	first, _ := enc.Encrypt("same message")
	second, _ := enc.Encrypt("same message")
	if first == second {
		t.Fatal("重複加密不應產生相同密文")
	}
}
