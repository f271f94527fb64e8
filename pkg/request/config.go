package request

import (
	"net/http"
	"time"

	"github.com/tokmz/forum/pkg/logger"
)

// Config 接口客户端配置
type Config struct {
	BaseURL   string            // 服务地址，如 http://127.0.0.1:8080
	Timeout   time.Duration     // 单次调用超时（默认 10s）
	UserAgent string            // 默认 forum-client
	Retry     *RetryConfig      // nil 不重试
	Logger    logger.Logger     // 默认不记录
	Transport http.RoundTripper // 底层 Transport，默认 http.DefaultTransport
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Timeout:   10 * time.Second,
		UserAgent: "forum-client",
		Logger:    logger.Nop(),
	}
}

// Option 配置选项
type Option func(*Config)

// WithBaseURL 设置服务地址
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithTimeout 设置单次调用超时
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithUserAgent 设置 User-Agent
func WithUserAgent(ua string) Option {
	return func(c *Config) { c.UserAgent = ua }
}

// WithRetry 设置默认重试策略
func WithRetry(cfg *RetryConfig) Option {
	return func(c *Config) { c.Retry = cfg }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithTransport 设置底层 Transport（测试替身）
func WithTransport(t http.RoundTripper) Option {
	return func(c *Config) { c.Transport = t }
}
