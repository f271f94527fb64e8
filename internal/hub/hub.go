// Package hub 参考房间服务：处理 room.join、room.leave、chat.send，下发历史快照与在线人数
package hub

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/forum/internal/auth"
	"github.com/tokmz/forum/internal/backlog"
	"github.com/tokmz/forum/pkg/logger"
	"github.com/tokmz/forum/pkg/room"
	"github.com/tokmz/forum/pkg/ws"
)

// TokenVerifier 校验 room.join 携带的令牌
type TokenVerifier interface {
	Enabled() bool
	Verify(token string) (auth.Claims, error)
}

// Option Hub 选项
type Option func(*Hub)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		h.log = l
	}
}

// WithVerifier 启用加入房间时的令牌校验
func WithVerifier(v TokenVerifier) Option {
	return func(h *Hub) {
		h.verifier = v
	}
}

// WithClock 设置时钟（为未携带 ts 的消息生成时间戳）
func WithClock(clock func() time.Time) Option {
	return func(h *Hub) {
		h.clock = clock
	}
}

// WithBroker 设置跨节点消息分发，默认进程内
func WithBroker(b Broker) Option {
	return func(h *Hub) {
		h.broker = b
	}
}

// Hub 房间服务
type Hub struct {
	m        *ws.Manager
	store    backlog.Store
	broker   Broker
	verifier TokenVerifier
	locks    *roomLocks
	clock    func() time.Time
	log      logger.Logger
}

// New 创建 Hub，须在 Manager.Run 之前调用 Register
func New(m *ws.Manager, store backlog.Store, opts ...Option) *Hub {
	h := &Hub{
		m:     m,
		store: store,
		locks: newRoomLocks(),
		clock: time.Now,
		log:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.broker == nil {
		h.broker = NewLocalBroker()
	}
	h.log = h.log.Named("hub")
	return h
}

// Register 注册中间件、事件处理器与系统事件订阅，并开始接收 Broker 消息
func (h *Hub) Register(ctx context.Context) error {
	h.m.Use(h.tracingMiddleware, h.loggingMiddleware)

	r := h.m.Router()
	if err := ws.Handle(r, room.EventJoin, h.join); err != nil {
		return err
	}
	if err := ws.Handle(r, room.EventLeave, h.leave); err != nil {
		return err
	}
	if err := ws.Handle(r, room.EventSend, h.send); err != nil {
		return err
	}

	// 主动离开与断线都经由 room.left 重新广播人数
	h.m.Subscribe(ws.EventRoomLeft, h.onRoomLeft)

	return h.broker.Subscribe(ctx, h.deliver)
}

// Close 关闭 Broker
func (h *Hub) Close() error {
	return h.broker.Close()
}

func (h *Hub) onRoomLeft(e ws.Event) {
	n, ok := e.Data.(int)
	if !ok {
		n = h.m.RoomSize(e.Room)
	}
	h.broadcastPresence(e.Room, n)
}

// deliver Broker 回调：向本节点成员广播，包括发送者
func (h *Hub) deliver(msg room.ChatMessage) {
	notify, err := ws.NewNotify(room.EventMessage, msg)
	if err != nil {
		h.log.Error("encode chat message failed", logger.Room(msg.Room), zap.Error(err))
		return
	}
	if err := h.m.BroadcastToRoom(msg.Room, notify, nil); err != nil {
		h.log.Debug("chat broadcast skipped", logger.Room(msg.Room), zap.Error(err))
	}
}

func (h *Hub) broadcastPresence(roomName string, count int) {
	notify, err := ws.NewNotify(room.EventPresence, room.PresenceEvent{Room: roomName, Count: count})
	if err != nil {
		return
	}
	if err := h.m.BroadcastToRoom(roomName, notify, nil); err != nil {
		h.log.Debug("presence broadcast skipped", logger.Room(roomName), zap.Error(err))
	}
}

// roomError 向单个连接发送 room.error
func (h *Hub) roomError(c *ws.Conn, roomName, reason string) error {
	return c.Notify(room.EventError, room.ErrorEvent{Room: roomName, Error: reason})
}
