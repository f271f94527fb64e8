package backlog

import (
	"fmt"
	"time"
)

// DriverType 存储驱动
type DriverType string

const (
	DriverMemory DriverType = "memory"
	DriverRedis  DriverType = "redis"
)

// RedisMode Redis 部署模式
type RedisMode string

const (
	RedisStandalone RedisMode = "standalone"
	RedisCluster    RedisMode = "cluster"
	RedisSentinel   RedisMode = "sentinel"
)

// Config 历史消息存储配置
type Config struct {
	Driver    DriverType    `mapstructure:"driver"`
	Size      int           `mapstructure:"size"`       // 每个房间保留的条数
	TTL       time.Duration `mapstructure:"ttl"`        // 房间无新消息后的保留时长
	KeyPrefix string        `mapstructure:"key_prefix"` // 键前缀
	Tracing   bool          `mapstructure:"tracing"`

	Redis  RedisConfig  `mapstructure:"redis"`
	Memory MemoryConfig `mapstructure:"memory"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Mode         RedisMode     `mapstructure:"mode"`
	Addr         string        `mapstructure:"addr"`  // 单机
	Addrs        []string      `mapstructure:"addrs"` // 集群/哨兵
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MasterName   string        `mapstructure:"master_name"` // 哨兵主节点
}

// MemoryConfig 内存存储配置
type MemoryConfig struct {
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// DefaultConfig 默认配置：内存驱动，每房间 50 条
func DefaultConfig() *Config {
	return &Config{
		Driver:    DriverMemory,
		Size:      50,
		TTL:       24 * time.Hour,
		KeyPrefix: "forum:",
		Redis:     *DefaultRedisConfig(),
		Memory:    MemoryConfig{CleanupInterval: 10 * time.Minute},
	}
}

// DefaultRedisConfig 默认 Redis 配置
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Mode:         RedisStandalone,
		Addr:         "localhost:6379",
		PoolSize:     50,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Option 配置选项
type Option func(*Config)

// WithSize 设置每个房间保留的条数
func WithSize(n int) Option {
	return func(c *Config) {
		c.Size = n
	}
}

// WithTTL 设置保留时长
func WithTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.TTL = ttl
	}
}

// WithKeyPrefix 设置键前缀
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) {
		c.KeyPrefix = prefix
	}
}

// WithRedis 使用 Redis 驱动
func WithRedis(cfg RedisConfig) Option {
	return func(c *Config) {
		c.Driver = DriverRedis
		c.Redis = cfg
	}
}

// WithTracing 为存储操作创建 Span
func WithTracing() Option {
	return func(c *Config) {
		c.Tracing = true
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: size must be positive", ErrInvalidConfig)
	}
	if c.TTL < 0 {
		return fmt.Errorf("%w: ttl must not be negative", ErrInvalidConfig)
	}
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverRedis:
		return c.Redis.Validate()
	default:
		return fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, c.Driver)
	}
}

// Validate 校验 Redis 配置
func (c *RedisConfig) Validate() error {
	switch c.Mode {
	case RedisStandalone, "":
		if c.Addr == "" {
			return fmt.Errorf("%w: redis addr is required", ErrInvalidConfig)
		}
	case RedisCluster:
		if len(c.Addrs) == 0 {
			return fmt.Errorf("%w: redis cluster requires addrs", ErrInvalidConfig)
		}
	case RedisSentinel:
		if len(c.Addrs) == 0 || c.MasterName == "" {
			return fmt.Errorf("%w: redis sentinel requires addrs and master name", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported redis mode %q", ErrInvalidConfig, c.Mode)
	}
	return nil
}
