package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tokmz/forum/pkg/errors"
	"github.com/tokmz/forum/pkg/logger"
	"github.com/tokmz/forum/pkg/room"
)

// redisBroker 基于 Redis Pub/Sub，频道为 <prefix>room:<name>
type redisBroker struct {
	client redis.UniversalClient
	prefix string
	log    logger.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	wg     sync.WaitGroup
	closed bool
}

// NewRedisBroker 创建 Redis Broker，client 由调用方关闭
func NewRedisBroker(client redis.UniversalClient, prefix string, log logger.Logger) Broker {
	if log == nil {
		log = logger.Nop()
	}
	return &redisBroker{client: client, prefix: prefix, log: log.Named("broker")}
}

func (b *redisBroker) channel(roomName string) string {
	return b.prefix + "room:" + roomName
}

func (b *redisBroker) Publish(ctx context.Context, msg room.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBroker, err)
	}
	if err := b.client.Publish(ctx, b.channel(msg.Room), data).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBroker, err)
	}
	return nil
}

func (b *redisBroker) Subscribe(ctx context.Context, fn func(room.ChatMessage)) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	b.mu.Unlock()

	ps := b.client.PSubscribe(ctx, b.channel("*"))
	// 等待订阅确认，之后发布的消息不会丢失
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("%w: %w", ErrBroker, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	ch := ps.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for m := range ch {
			var msg room.ChatMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.log.Warn("broker dropped malformed message", zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			if msg.Room == "" {
				msg.Room = strings.TrimPrefix(m.Channel, b.prefix+"room:")
			}
			fn(msg)
		}
	}()
	return nil
}

func (b *redisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var errs []error
	for _, ps := range subs {
		if err := ps.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.wg.Wait()
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrBroker, errors.Join(errs...))
	}
	return nil
}
