package hub

import (
	"context"
	"sync"

	"github.com/tokmz/forum/pkg/room"
)

// Broker 在节点之间分发聊天消息，每个节点再广播给本地成员
type Broker interface {
	// Publish 发布消息，包括发往本节点
	Publish(ctx context.Context, msg room.ChatMessage) error
	// Subscribe 注册接收函数，返回前订阅已生效
	Subscribe(ctx context.Context, fn func(room.ChatMessage)) error
	Close() error
}

// localBroker 单节点进程内分发
type localBroker struct {
	mu       sync.RWMutex
	handlers []func(room.ChatMessage)
	closed   bool
}

// NewLocalBroker 创建进程内 Broker，Publish 同步调用接收函数
func NewLocalBroker() Broker {
	return &localBroker{}
}

func (b *localBroker) Publish(_ context.Context, msg room.ChatMessage) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBrokerClosed
	}
	handlers := b.handlers
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(msg)
	}
	return nil
}

func (b *localBroker) Subscribe(_ context.Context, fn func(room.ChatMessage)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	b.handlers = append(b.handlers, fn)
	return nil
}

func (b *localBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = nil
	return nil
}
