package request

import (
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig 重试策略
type RetryConfig struct {
	MaxAttempts  int                              // 首次之外的最大重试次数（默认 3）
	InitialDelay time.Duration                    // 初始退避（默认 100ms）
	MaxDelay     time.Duration                    // 最大退避（默认 5s）
	Multiplier   float64                          // 退避倍数（默认 2.0）
	RetryIf      func(status int, err error) bool // status 为 0 表示未收到响应
}

// DefaultRetryConfig 返回默认重试策略
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		RetryIf:      retryTransient,
	}
}

// retryTransient 网络错误、429 与 5xx 可重试
func retryTransient(status int, err error) bool {
	if err != nil {
		return true
	}
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// newBackOff ±25% 抖动的指数退避
func (rc *RetryConfig) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     rc.InitialDelay,
		RandomizationFactor: 0.25,
		Multiplier:          rc.Multiplier,
		MaxInterval:         rc.MaxDelay,
	}
	b.Reset()
	return b
}

// normalized 返回填充默认值后的副本
func (rc RetryConfig) normalized() RetryConfig {
	if rc.MaxAttempts <= 0 {
		rc.MaxAttempts = 3
	}
	if rc.InitialDelay <= 0 {
		rc.InitialDelay = 100 * time.Millisecond
	}
	if rc.MaxDelay <= 0 {
		rc.MaxDelay = 5 * time.Second
	}
	if rc.Multiplier <= 0 {
		rc.Multiplier = 2.0
	}
	if rc.RetryIf == nil {
		rc.RetryIf = retryTransient
	}
	return rc
}
