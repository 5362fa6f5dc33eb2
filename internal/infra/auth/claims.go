package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// ScopeWrite разрешает команды Claim/Validate/Release.
	ScopeWrite = "constraints:write"
	ScopeAdmin = "admin"
)

type Claims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "admin": true или "constraints:write": true
	jwt.RegisteredClaims
}

// Principal - от чьего имени идут команды: user_id, иначе sub.
func (c *Claims) Principal() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// HasScope учитывает admin как универсальный доступ.
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	return c.Scopes[scope] || c.Scopes[ScopeAdmin]
}

type claimsKey struct{}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFrom достаёт claims, положенные middleware или интерсептором.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}
