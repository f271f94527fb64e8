package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Config WebSocket 服务端配置
type Config struct {
	// 连接配置
	MaxConnections   int           `mapstructure:"max_connections"`
	ReadBufferSize   int           `mapstructure:"read_buffer_size"`
	WriteBufferSize  int           `mapstructure:"write_buffer_size"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`

	// 心跳配置：服务端按 HeartbeatInterval 发送 ping，HeartbeatTimeout 内未收到任何帧则断开
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	WriteWait         time.Duration `mapstructure:"write_wait"`

	// 发送队列大小
	MessageQueueSize int `mapstructure:"message_queue_size"`

	// 房间配置
	MaxRoomSize     int           `mapstructure:"max_room_size"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	EmptyRoomTTL    time.Duration `mapstructure:"empty_room_ttl"`

	// Origin 白名单，空则同源检查；AllowAllOrigins 仅用于开发与命令行客户端
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`

	Metrics Metrics `mapstructure:"-"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:    10000,
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		HandshakeTimeout:  10 * time.Second,
		MaxMessageSize:    64 * 1024,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		WriteWait:         10 * time.Second,
		MessageQueueSize:  256,
		MaxRoomSize:       1000,
		CleanupInterval:   5 * time.Minute,
		EmptyRoomTTL:      10 * time.Minute,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch {
	case c.MaxConnections <= 0:
		return ErrInvalidConfig.WithMessagef("ws: MaxConnections must be positive, got %d", c.MaxConnections)
	case c.ReadBufferSize <= 0 || c.WriteBufferSize <= 0:
		return ErrInvalidConfig.WithMessage("ws: buffer sizes must be positive")
	case c.MaxMessageSize <= 0:
		return ErrInvalidConfig.WithMessagef("ws: MaxMessageSize must be positive, got %d", c.MaxMessageSize)
	case c.HeartbeatInterval <= 0:
		return ErrInvalidConfig.WithMessagef("ws: HeartbeatInterval must be positive, got %v", c.HeartbeatInterval)
	case c.HeartbeatTimeout <= c.HeartbeatInterval:
		return ErrInvalidConfig.WithMessagef("ws: HeartbeatTimeout (%v) must be greater than HeartbeatInterval (%v)",
			c.HeartbeatTimeout, c.HeartbeatInterval)
	case c.WriteWait <= 0:
		return ErrInvalidConfig.WithMessagef("ws: WriteWait must be positive, got %v", c.WriteWait)
	case c.MessageQueueSize <= 0:
		return ErrInvalidConfig.WithMessagef("ws: MessageQueueSize must be positive, got %d", c.MessageQueueSize)
	case c.MaxRoomSize <= 0:
		return ErrInvalidConfig.WithMessagef("ws: MaxRoomSize must be positive, got %d", c.MaxRoomSize)
	case c.CleanupInterval <= 0 || c.EmptyRoomTTL <= 0:
		return ErrInvalidConfig.WithMessage("ws: room cleanup settings must be positive")
	}
	return nil
}

// Option 配置选项
type Option func(*Config)

// WithConfig 使用完整配置（通常来自配置文件）
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		metrics := c.Metrics
		*c = cfg
		if c.Metrics == nil {
			c.Metrics = metrics
		}
	}
}

// WithMaxConnections 设置最大连接数
func WithMaxConnections(max int) Option {
	return func(c *Config) {
		c.MaxConnections = max
	}
}

// WithHeartbeat 设置心跳间隔与超时
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
		c.HeartbeatTimeout = timeout
	}
}

// WithMaxRoomSize 设置单个房间最大人数
func WithMaxRoomSize(size int) Option {
	return func(c *Config) {
		c.MaxRoomSize = size
	}
}

// WithCheckOriginWhitelist 设置 Origin 白名单
func WithCheckOriginWhitelist(allowedOrigins []string) Option {
	return func(c *Config) {
		c.AllowedOrigins = allowedOrigins
	}
}

// WithAllowAllOrigins 允许所有来源（生产环境禁用）
func WithAllowAllOrigins() Option {
	return func(c *Config) {
		c.AllowAllOrigins = true
	}
}

// WithMetrics 设置监控
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// newUpgrader 根据配置创建升级器
func newUpgrader(c *Config) *websocket.Upgrader {
	var checkOrigin func(*http.Request) bool
	switch {
	case c.AllowAllOrigins:
		checkOrigin = func(*http.Request) bool { return true }
	case len(c.AllowedOrigins) > 0:
		checkOrigin = whitelistChecker(c.AllowedOrigins)
	default:
		checkOrigin = sameOrigin
	}
	return &websocket.Upgrader{
		ReadBufferSize:   c.ReadBufferSize,
		WriteBufferSize:  c.WriteBufferSize,
		HandshakeTimeout: c.HandshakeTimeout,
		CheckOrigin:      checkOrigin,
	}
}

// sameOrigin 同源检查；非浏览器客户端不带 Origin，按同源放行
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// whitelistChecker 白名单检查
func whitelistChecker(allowedOrigins []string) func(*http.Request) bool {
	whitelist := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		whitelist[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		_, ok := whitelist[r.Header.Get("Origin")]
		return ok
	}
}
