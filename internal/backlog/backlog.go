// Package backlog 保存每个房间最近的聊天消息，用于 room.backlog 快照
package backlog

import (
	"context"
	"fmt"

	"github.com/tokmz/forum/pkg/room"
)

// Store 房间历史消息窗口
type Store interface {
	// Append 追加一条消息，超出窗口的旧消息被丢弃，并刷新保留时长
	Append(ctx context.Context, roomName string, msg room.ChatMessage) error
	// Recent 按时间顺序返回窗口内的消息
	Recent(ctx context.Context, roomName string) ([]room.ChatMessage, error)
	// Clear 清空房间
	Clear(ctx context.Context, roomName string) error
	Ping(ctx context.Context) error
	Close() error
}

// New 按配置创建存储
func New(cfg *Config) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case DriverMemory:
		s = newMemoryStore(cfg)
	case DriverRedis:
		s, err = newRedisStore(cfg)
	default:
		err = fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Tracing {
		s = NewTracing(s)
	}
	return s, nil
}

// NewWithOptions 默认配置加选项
func NewWithOptions(opts ...Option) (Store, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return New(cfg)
}
