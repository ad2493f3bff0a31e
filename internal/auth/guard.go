package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"
)

// 认证相关错误。
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Guard 使用单个静态令牌保护本地 API。令牌只以摘要形式保存在内存中。
type Guard struct {
	digest  [sha256.Size]byte
	enabled bool
}

// NewGuard 根据令牌构造 Guard，空令牌表示不启用认证。
func NewGuard(token string) *Guard {
	token = strings.TrimSpace(token)
	if token == "" {
		return &Guard{}
	}
	return &Guard{digest: sha256.Sum256([]byte(token)), enabled: true}
}

// Enabled 表示是否需要认证。
func (g *Guard) Enabled() bool {
	return g != nil && g.enabled
}

// Check 校验 Authorization 请求头。
func (g *Guard) Check(authorization string) error {
	if !g.Enabled() {
		return nil
	}
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return ErrMissingToken
	}
	scheme, token, ok := strings.Cut(authorization, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return ErrMissingToken
	}
	actual := sha256.Sum256([]byte(strings.TrimSpace(token)))
	if subtle.ConstantTimeCompare(g.digest[:], actual[:]) != 1 {
		return ErrInvalidToken
	}
	return nil
}
