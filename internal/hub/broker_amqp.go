package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/tokmz/forum/pkg/errors"
	"github.com/tokmz/forum/pkg/logger"
	"github.com/tokmz/forum/pkg/room"
)

// amqpBroker 基于 RabbitMQ fanout 交换机，每个节点一个独占的自动删除队列
type amqpBroker struct {
	conn     *amqp.Connection
	exchange string
	log      logger.Logger

	pubMu sync.Mutex
	pub   *amqp.Channel

	mu     sync.Mutex
	subs   []*amqp.Channel
	wg     sync.WaitGroup
	closed bool
}

// NewAMQPBroker 连接 RabbitMQ 并声明持久化的 fanout 交换机
func NewAMQPBroker(url, exchange string, log logger.Logger) (Broker, error) {
	if log == nil {
		log = logger.Nop()
	}
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat:  10 * time.Second,
		Properties: amqp.Table{"connection_name": "forum-hub"},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBroker, err)
	}
	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrBroker, err)
	}
	if err := pub.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrBroker, err)
	}

	b := &amqpBroker{conn: conn, exchange: exchange, pub: pub, log: log.Named("broker")}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		// 正常关闭时通道直接关闭，不会收到错误
		if err, ok := <-closed; ok && err != nil {
			b.log.Error("amqp connection lost", zap.Int("code", err.Code), zap.String("reason", err.Reason))
		}
	}()
	return b, nil
}

func (b *amqpBroker) Publish(ctx context.Context, msg room.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBroker, err)
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if b.pub.IsClosed() {
		return ErrBrokerClosed
	}
	err = b.pub.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Type:        room.EventMessage,
		Timestamp:   time.Now(),
		Body:        data,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBroker, err)
	}
	return nil
}

func (b *amqpBroker) Subscribe(_ context.Context, fn func(room.ChatMessage)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBroker, err)
	}
	// 服务端命名、独占、断开即删除：节点下线不残留队列
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err == nil {
		err = ch.QueueBind(q.Name, "", b.exchange, false, nil)
	}
	var deliveries <-chan amqp.Delivery
	if err == nil {
		deliveries, err = ch.Consume(q.Name, "", true, true, false, false, nil)
	}
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("%w: %w", ErrBroker, err)
	}
	b.subs = append(b.subs, ch)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for d := range deliveries {
			var msg room.ChatMessage
			if err := json.Unmarshal(d.Body, &msg); err != nil {
				b.log.Warn("broker dropped malformed message", zap.String("queue", q.Name), zap.Error(err))
				continue
			}
			fn(msg)
		}
	}()
	return nil
}

func (b *amqpBroker) Close() error {
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
	for _, ch := range subs {
		if err := ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.pubMu.Lock()
	if err := b.pub.Close(); err != nil {
		errs = append(errs, err)
	}
	b.pubMu.Unlock()
	if err := b.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	b.wg.Wait()
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrBroker, errors.Join(errs...))
	}
	return nil
}
