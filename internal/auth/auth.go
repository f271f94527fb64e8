// Package auth 签发与校验加入房间时携带的 HS256 令牌
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token 签发结果
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Claims 校验后的令牌内容
type Claims struct {
	Username  string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// Option Service 选项
type Option func(*Service)

// WithClock 设置时钟
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service 令牌签发与校验
type Service struct {
	cfg    Config
	secret []byte
	now    func() time.Time
}

// NewService 创建 Service
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg, secret: []byte(cfg.Secret), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Enabled 加入房间时是否要求令牌
func (s *Service) Enabled() bool {
	return s.cfg.Enabled
}

// Issue 为用户名签发令牌
func (s *Service) Issue(username string) (Token, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Token{}, ErrUsername
	}

	now := s.now().UTC().Truncate(time.Second)
	exp := now.Add(s.cfg.TTL)
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   username,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Username: username,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, ErrTokenInvalid.WithError(err)
	}
	return Token{Token: signed, ExpiresAt: exp}, nil
}

// Verify 校验令牌签名、签发方与有效期
func (s *Service) Verify(token string) (Claims, error) {
	c, err := s.parse(token)
	if err != nil {
		return Claims{}, err
	}
	if !c.ExpiresAt.After(s.now()) {
		return Claims{}, ErrTokenExpired
	}
	return c, nil
}

// Refresh 用未过期或刚过期（刷新窗口内）的令牌换取新令牌
func (s *Service) Refresh(token string) (Token, error) {
	c, err := s.parse(token)
	if err != nil {
		return Token{}, err
	}
	if !c.ExpiresAt.Add(s.cfg.RefreshWindow).After(s.now()) {
		return Token{}, ErrTokenExpired
	}
	return s.Issue(c.Username)
}

// parse 校验签名与签发方，有效期由调用方判断
func (s *Service) parse(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrTokenMissing
	}

	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}
	if parsed.Issuer != s.cfg.Issuer {
		return Claims{}, ErrTokenInvalid.WithMessage("token issuer mismatch")
	}
	if parsed.ExpiresAt == nil || strings.TrimSpace(parsed.Username) == "" {
		return Claims{}, ErrTokenInvalid.WithMessage("token claims incomplete")
	}

	c := Claims{
		Username:  parsed.Username,
		ID:        parsed.ID,
		ExpiresAt: parsed.ExpiresAt.Time,
	}
	if parsed.IssuedAt != nil {
		c.IssuedAt = parsed.IssuedAt.Time
	}
	return c, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenInvalid.WithMessage("token signature is invalid")
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenInvalid.WithMessage("token alg is invalid")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenInvalid.WithMessage("token is malformed")
	default:
		return ErrTokenInvalid.WithError(err)
	}
}
