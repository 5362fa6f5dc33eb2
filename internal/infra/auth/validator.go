package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrMissingScope - токен валиден, но права на операцию нет.
	ErrMissingScope = errors.New("auth: scope not granted")
)

// Validator проверяет токены клиентов ledger: только RS256, обязательный exp
// и субъект, при настройке ещё iss и aud.
type Validator struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

type validatorOptions struct {
	issuer   string
	audience string
	leeway   time.Duration
}

type Option func(*validatorOptions)

// WithIssuer требует совпадения iss. Пустая строка - не проверять.
func WithIssuer(iss string) Option { return func(o *validatorOptions) { o.issuer = iss } }

// WithAudience требует aud. Пустая строка - не проверять.
func WithAudience(aud string) Option { return func(o *validatorOptions) { o.audience = aud } }

// WithLeeway - допуск расхождения часов для exp/nbf/iat.
func WithLeeway(d time.Duration) Option { return func(o *validatorOptions) { o.leeway = d } }

func NewValidator(pub *rsa.PublicKey, opts ...Option) *Validator {
	var o validatorOptions
	for _, opt := range opts {
		opt(&o)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if o.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(o.issuer))
	}
	if o.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(o.audience))
	}
	if o.leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(o.leeway))
	}
	return &Validator{publicKey: pub, parser: jwt.NewParser(parserOpts...)}
}

// NewValidatorFromPEM читает публичный ключ из конфига (auth.public_key_path).
func NewValidatorFromPEM(data []byte, opts ...Option) (*Validator, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return NewValidator(key, opts...), nil
}

// VerifyToken реализует TokenValidator. Префикс "Bearer " необязателен.
func (v *Validator) VerifyToken(raw string) (*Claims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, v.keyFunc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	// команды пишутся в аудит от имени субъекта, анонимный токен бесполезен
	if claims.Principal() == "" {
		return nil, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return claims, nil
}

// алгоритм уже проверен WithValidMethods
func (v *Validator) keyFunc(*jwt.Token) (interface{}, error) {
	return v.publicKey, nil
}

// Authorize проверяет право claims на scope. admin проходит везде.
func Authorize(c *Claims, scope string) error {
	if c.HasScope(scope) {
		return nil
	}
	who := "anonymous"
	if c != nil {
		who = c.Principal()
	}
	return fmt.Errorf("%w: %s needs %s", ErrMissingScope, who, scope)
}
