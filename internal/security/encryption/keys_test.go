package encryption

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"testing"
)

func testMasterKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	return key
}

func TestKeyDeriver(t *testing.T) {
	masterKey := testMasterKey(t)
	deriver, err := NewKeyDeriver(masterKey)
	if err != nil {
		t.Fatal(err)
	}

	// 同一頻道派生是確定性的
	first, err := deriver.ChannelKey("ch_1")
	if err != nil {
		t.Fatal(err)
	}
	second, _ := deriver.ChannelKey("ch_1")
	if !bytes.Equal(first, second) {
		t.Fatal("同一頻道應派生出相同密鑰")
	}

	// 不同頻道的密鑰互不相同
	other, _ := deriver.ChannelKey("ch_2")
	if bytes.Equal(first, other) {
		t.Fatal("不同頻道不應共用密鑰")
	}

	// 派生密鑰與主密鑰不同
	if bytes.Equal(first, masterKey) {
		t.Fatal("派生密鑰不應等於主密鑰")
	}

	if _, err := deriver.ChannelKey(""); err == nil {
		t.Fatal("空頻道 ID 應被拒絕")
	}
}

func TestNewKeyDeriver_InvalidLength(t *testing.T) {
	if _, err := NewKeyDeriver(make([]byte, 16)); err == nil {
		t.Fatal("非 32 bytes 的主密鑰應被拒絕")
	}
}

func TestLoadMasterKey(t *testing.T) {
	key := testMasterKey(t)
	t.Setenv("MASTER_KEY", base64.StdEncoding.EncodeToString(key))

	loaded, err := LoadMasterKey()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(loaded, key) {
		t.Fatal("載入的主密鑰與環境變數不符")
	}
}

func TestLoadMasterKey_Invalid(t *testing.T) {
	t.Run("未設置", func(t *testing.T) {
		t.Setenv("MASTER_KEY", "")
		if _, err := LoadMasterKey(); err == nil {
			t.Fatal("未設置 MASTER_KEY 應報錯")
		}
	})

	t.Run("非 base64", func(t *testing.T) {
		t.Setenv("MASTER_KEY", "not-base64!!!")
		if _, err := LoadMasterKey(); err == nil {
			t.Fatal("非法 base64 應報錯")
		}
	})

	t.Run("長度錯誤", func(t *testing.T) {
		t.Setenv("MASTER_KEY", base64.StdEncoding.EncodeToString(make([]byte, 16)))
		if _, err := LoadMasterKey(); err == nil {
			t.Fatal("長度不足 32 bytes 應報錯")
		}
	})
}

func TestMessageEncryption_RoundTrip(t *testing.T) {
	deriver, err := NewKeyDeriver(testMasterKey(t))
	if err != nil {
		t.Fatal(err)
	}
	me := NewMessageEncryption(true, deriver)

	encrypted, err := me.EncryptMessage("secret content", "ch_1")
	if err != nil {
		t.Fatal(err)
	}
	if encrypted == "secret content" {
		t.Fatal("啟用加密時密文應與明文不同")
	}

	plain, err := me.DecryptMessage(encrypted, "ch_1")
	if err != nil {
		t.Fatal(err)
	}
	if plain != "secret content" {
		t.Fatalf("解密結果不符: %s", plain)
	}

	// 用錯頻道的密鑰解不出原文
	wrong, err := me.DecryptMessage(encrypted, "ch_2")
	if err == nil && wrong == "secret content" {
		t.Fatal("錯誤頻道的密鑰不應解出原文")
	}
}

func TestMessageEncryption_Disabled(t *testing.T) {
	me := NewMessageEncryption(false, nil)
	if me.Enabled() {
		t.Fatal("未注入派生器時加密應被關閉")
	}

	out, err := me.EncryptMessage("plain", "ch_1")
	if err != nil || out != "plain" {
		t.Fatal("關閉加密時內容應原樣透傳")
	}
}

func TestMessageEncryption_PlaintextPassthrough(t *testing.T) {
	deriver, _ := NewKeyDeriver(testMasterKey(t))
	me := NewMessageEncryption(true, deriver)

	// 加密開關切換前的舊明文原樣返回
	out, err := me.DecryptMessage("legacy plaintext", "ch_1")
	if err != nil {
		t.Fatal(err)
	}
	if out != "legacy plaintext" {
		t.Fatalf("無前綴的內容應原樣返回，got %s", out)
	}
}
