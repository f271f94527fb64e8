package tracing

import (
	"time"

	"github.com/tokmz/forum/pkg/errors"
)

// ErrInvalidConfig 链路追踪配置错误
var ErrInvalidConfig = errors.New(7001, 500, "链路追踪配置错误", nil)

// Config 链路追踪配置
type Config struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"` // 必填
	ServiceVersion string `mapstructure:"service_version"`
	Environment    string `mapstructure:"environment"` // dev/staging/prod

	// 导出器（otlp/stdout/noop）
	Exporter string            `mapstructure:"exporter"`
	Endpoint string            `mapstructure:"endpoint"` // OTLP HTTP 端点，空则读取 OTEL_EXPORTER_OTLP_ENDPOINT
	Headers  map[string]string `mapstructure:"headers"`
	Insecure bool              `mapstructure:"insecure"`

	// 采样（always/never/ratio/parent_based），设置 OTEL_TRACES_SAMPLER 时以环境变量为准
	Sampler      string  `mapstructure:"sampler"`
	SamplingRate float64 `mapstructure:"sampling_rate"`

	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	MaxQueueSize int           `mapstructure:"max_queue_size"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		ServiceName:    "forum-chat",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Exporter:       "noop",
		Sampler:        "parent_based",
		SamplingRate:   1.0,
		BatchTimeout:   5 * time.Second,
		MaxQueueSize:   2048,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrInvalidConfig.WithMessage("service name is required")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return ErrInvalidConfig.WithMessage("sampling rate must be between 0.0 and 1.0")
	}
	switch c.Exporter {
	case "otlp", "stdout", "noop":
	default:
		return ErrInvalidConfig.WithMessagef("invalid exporter %q", c.Exporter)
	}
	return nil
}
