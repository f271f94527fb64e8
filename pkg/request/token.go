package request

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tokmz/forum/pkg/errors"
	"github.com/tokmz/forum/pkg/logger"
)

// TokenResponse 签发与刷新接口返回的令牌
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenOption TokenManager 选项
type TokenOption func(*TokenManager)

// WithTokenPaths 设置签发与刷新接口路径
func WithTokenPaths(issue, refresh string) TokenOption {
	return func(m *TokenManager) {
		m.issuePath = issue
		m.refreshPath = refresh
	}
}

// WithRefreshSkew 设置提前刷新的时间窗口
func WithRefreshSkew(d time.Duration) TokenOption {
	return func(m *TokenManager) {
		m.skew = d
	}
}

// WithTokenClock 设置时钟
func WithTokenClock(clock func() time.Time) TokenOption {
	return func(m *TokenManager) {
		m.clock = clock
	}
}

// WithTokenLogger 设置日志
func WithTokenLogger(l logger.Logger) TokenOption {
	return func(m *TokenManager) {
		m.log = l
	}
}

// TokenManager 缓存访问令牌，过期前刷新，并发请求只触发一次刷新
type TokenManager struct {
	client      *Client
	username    string
	issuePath   string
	refreshPath string
	skew        time.Duration
	clock       func() time.Time
	log         logger.Logger

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

// NewTokenManager 创建 TokenManager，令牌接口走 client 的重试策略
func NewTokenManager(client *Client, username string, opts ...TokenOption) *TokenManager {
	m := &TokenManager{
		client:      client,
		username:    username,
		issuePath:   "/auth/token",
		refreshPath: "/auth/refresh",
		skew:        30 * time.Second,
		clock:       time.Now,
		log:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token 返回有效令牌，必要时刷新或重新签发
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.RLock()
	token, exp := m.token, m.expiresAt
	m.mu.RUnlock()
	if token != "" && m.clock().Add(m.skew).Before(exp) {
		return token, nil
	}

	v, err, shared := m.group.Do("token", func() (any, error) {
		return m.renew(ctx, token)
	})
	if err != nil {
		return "", err
	}
	if shared {
		m.log.Debug("token refresh shared")
	}
	return v.(string), nil
}

// Invalidate 丢弃缓存的令牌（服务端返回 401 时调用）
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.expiresAt = time.Time{}
}

// 令牌接口的操作名
const (
	opIssue   = "auth.issue"
	opRefresh = "auth.refresh"
)

// renew 优先用旧令牌刷新，被拒绝或失败时重新签发
func (m *TokenManager) renew(ctx context.Context, current string) (string, error) {
	if current != "" {
		req := m.client.Post(m.refreshPath).Named(opRefresh).SetBearerToken(current)
		tok, err := m.call(ctx, req)
		if err == nil {
			return m.store(tok), nil
		}
		fields := []zap.Field{zap.String("op", opRefresh), zap.Error(err)}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			fields = append(fields, zap.Int("code", apiErr.Code), zap.String("trace_id", apiErr.TraceID))
		}
		m.log.WarnContext(ctx, "token refresh failed, reissuing", fields...)
	}

	req := m.client.Post(m.issuePath).Named(opIssue).SetBody(map[string]string{"username": m.username})
	tok, err := m.call(ctx, req)
	if err != nil {
		m.Invalidate()
		m.log.ErrorContext(ctx, "token issue failed", zap.String("op", opIssue), zap.Error(err))
		return "", err
	}
	m.log.DebugContext(ctx, "token issued", zap.String("op", opIssue), zap.Time("expires_at", tok.ExpiresAt))
	return m.store(tok), nil
}

func (m *TokenManager) call(ctx context.Context, req *Request) (TokenResponse, error) {
	tok, err := Call[TokenResponse](req.SetContext(ctx))
	if err != nil {
		return TokenResponse{}, ErrTokenUnavailable.WithError(err)
	}
	if tok.Token == "" {
		return TokenResponse{}, ErrTokenUnavailable.WithMessage("empty token")
	}
	return tok, nil
}

func (m *TokenManager) store(tok TokenResponse) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = tok.Token
	m.expiresAt = tok.ExpiresAt
	return tok.Token
}
