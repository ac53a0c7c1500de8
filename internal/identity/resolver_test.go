package identity

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestResolver_RoundTrip(t *testing.T) {
	r := NewResolver("test-secret", true)

	token, err := r.IssueToken("u1", "alice", "Alice", true, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	id, err := r.ResolveToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if id.UserID != "u1" || id.Username != "alice" || id.DisplayName != "Alice" {
		t.Fatalf("身份解析不符: %+v", id)
	}
	if !id.CanModerate {
		t.Fatal("moderator 聲明應被解析")
	}
}

func TestResolver_WrongSecret(t *testing.T) {
	issuer := NewResolver("secret-a", true)
	verifier := NewResolver("secret-b", true)

	token, _ := issuer.IssueToken("u1", "alice", "Alice", false, time.Hour)
	if _, err := verifier.ResolveToken(token); err == nil {
		t.Fatal("錯誤密鑰簽名的 token 應被拒絕")
	}
}

func TestResolver_Expired(t *testing.T) {
	r := NewResolver("test-secret", true)

	token, _ := r.IssueToken("u1", "alice", "Alice", false, -time.Minute)
	if _, err := r.ResolveToken(token); err == nil {
		t.Fatal("過期 token 應被拒絕")
	}
}

func TestResolver_EmptyAndGarbage(t *testing.T) {
	r := NewResolver("test-secret", true)

	if _, err := r.ResolveToken(""); err == nil {
		t.Fatal("空 token 應被拒絕")
	}
	if _, err := r.ResolveToken("not.a.jwt"); err == nil {
		t.Fatal("非法 token 應被拒絕")
	}
}

func TestResolver_DefaultsFromSubject(t *testing.T) {
	r := NewResolver("test-secret", true)

	token, _ := r.IssueToken("u1", "", "", false, time.Hour)
	id, err := r.ResolveToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if id.Username != "u1" || id.DisplayName != "u1" {
		t.Fatalf("缺失的名稱應回退到主體 ID: %+v", id)
	}
}

func TestFromRequest(t *testing.T) {
	r := NewResolver("test-secret", true)
	token, _ := r.IssueToken("u1", "alice", "Alice", false, time.Hour)

	t.Run("Authorization 頭部", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/ws", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		id, err := r.FromRequest(req)
		if err != nil {
			t.Fatal(err)
		}
		if id.UserID != "u1" {
			t.Fatalf("解析的用戶不符: %s", id.UserID)
		}
	})

	t.Run("token 查詢參數", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/ws?token="+token, nil)

		id, err := r.FromRequest(req)
		if err != nil {
			t.Fatal(err)
		}
		if id.UserID != "u1" {
			t.Fatalf("解析的用戶不符: %s", id.UserID)
		}
	})

	t.Run("缺少憑證", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/ws", nil)
		if _, err := r.FromRequest(req); err == nil {
			t.Fatal("無憑證的請求應被拒絕")
		}
	})
}
