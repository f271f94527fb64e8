package auth

import (
	"fmt"
	"time"
)

// Config 令牌配置
type Config struct {
	Enabled       bool          `mapstructure:"enabled"`        // 加入房间时是否校验令牌
	Secret        string        `mapstructure:"secret"`         // HS256 密钥
	Issuer        string        `mapstructure:"issuer"`         // iss
	TTL           time.Duration `mapstructure:"ttl"`            // 有效期
	RefreshWindow time.Duration `mapstructure:"refresh_window"` // 过期后仍可刷新的时长
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Issuer:        "forum-chat",
		TTL:           15 * time.Minute,
		RefreshWindow: 24 * time.Hour,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if len(c.Secret) < 16 {
		return fmt.Errorf("%w: secret must be at least 16 bytes", ErrInvalidConfig)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidConfig)
	}
	if c.RefreshWindow < 0 {
		return fmt.Errorf("%w: refresh window must not be negative", ErrInvalidConfig)
	}
	return nil
}
