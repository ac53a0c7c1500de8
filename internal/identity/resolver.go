package identity

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity 解析後的用戶身份.
type Identity struct {
	UserID      string
	Username    string
	DisplayName string
	CanModerate bool
}

// Resolver 身份/會話解析器.
// 驗證 HS256 簽名的會話 token，解析出用戶身份；
// 會話的簽發由外部身份服務負責，這裡只做驗證.
type Resolver struct {
	secret  []byte
	enabled bool
}

// NewResolver 創建身份解析器.
// enabled 為 false 時（開發環境），token 內容不驗證簽名以外的聲明仍會解析.
func NewResolver(secret string, enabled bool) *Resolver {
	return &Resolver{
		secret:  []byte(secret),
		enabled: enabled,
	}
}

// Enabled 是否啟用驗證.
func (r *Resolver) Enabled() bool {
	return r.enabled
}

// ResolveToken 驗證會話 token 並解析身份.
func (r *Resolver) ResolveToken(tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("empty token")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("invalid session token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session claims")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("session token missing subject")
	}

	id := &Identity{UserID: sub}
	if username, ok := claims["username"].(string); ok {
		id.Username = username
	}
	if name, ok := claims["name"].(string); ok {
		id.DisplayName = name
	}
	if id.Username == "" {
		id.Username = sub
	}
	if id.DisplayName == "" {
		id.DisplayName = id.Username
	}
	if mod, ok := claims["moderator"].(bool); ok {
		id.CanModerate = mod
	}

	return id, nil
}

// FromRequest 從 HTTP 請求中提取並解析身份.
// 優先使用 Authorization: Bearer 頭部，其次是 token 查詢參數
// （WebSocket 握手時瀏覽器無法自定義頭部）.
func (r *Resolver) FromRequest(req *http.Request) (*Identity, error) {
	tokenString := ""

	authHeader := strings.TrimSpace(req.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		tokenString = strings.TrimSpace(authHeader[len("Bearer "):])
	}

	if tokenString == "" {
		tokenString = req.URL.Query().Get("token")
	}

	if tokenString == "" {
		return nil, fmt.Errorf("no session token in request")
	}

	return r.ResolveToken(tokenString)
}

// IssueToken 簽發會話 token（開發與測試用；生產環境由身份服務簽發）.
func (r *Resolver) IssueToken(userID, username, displayName string, moderator bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":       userID,
		"username":  username,
		"name":      displayName,
		"moderator": moderator,
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(r.secret)
}
