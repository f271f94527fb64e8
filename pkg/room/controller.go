package room

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/forum/pkg/errors"
	"github.com/tokmz/forum/pkg/logger"
)

const (
	defaultJoinTimeout = 10 * time.Second
	tokenTimeout       = 5 * time.Second
)

// Option Controller 选项
type Option func(*Controller)

// WithRegistry 使用外部注册表（在多个 Controller 之间有意共享时使用）
func WithRegistry(r *Registry) Option {
	return func(c *Controller) {
		c.reg = r
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

// WithTokenSource 设置加入房间时携带的凭证来源
func WithTokenSource(ts TokenSource) Option {
	return func(c *Controller) {
		c.tokens = ts
	}
}

// WithJoinTimeout 设置等待加入确认的时长，0 表示不限
func WithJoinTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.joinTimeout = d
	}
}

// Controller 在共享 Transport 上管理房间成员关系
type Controller struct {
	t           Transport
	reg         *Registry
	log         logger.Logger
	tokens      TokenSource
	joinTimeout time.Duration

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool

	offConnect    func()
	offDisconnect func()
}

// NewController 创建 Controller，并在其生命周期内注册一个 connect 与一个 disconnect 监听器
func NewController(t Transport, opts ...Option) *Controller {
	c := &Controller{
		t:           t,
		log:         logger.Nop(),
		joinTimeout: defaultJoinTimeout,
		subs:        make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reg == nil {
		c.reg = NewRegistry()
	}
	c.log = c.log.Named("room")

	c.offConnect = t.On(EventConnect, func(json.RawMessage) { c.rejoinAll() })
	c.offDisconnect = t.On(EventDisconnect, func(json.RawMessage) { c.markDisconnected() })
	return c
}

// Registry 注册表
func (c *Controller) Registry() *Registry {
	return c.reg
}

// Rooms 当前已加入的房间
func (c *Controller) Rooms() []string {
	return c.reg.Rooms()
}

// Join 加入房间
//
// 注册四个按房间过滤的监听器，记录成员关系并发送 room.join。不等待服务端确认：
// 返回的 Subscription 在收到首个快照或人数时进入 Joined，超时进入 JoinFailed 并回调 OnError。
// 断线期间发送失败不视为错误，连接恢复后由 connect 监听器补发。
func (c *Controller) Join(room string, clientID ClientID, h Handlers) (*Subscription, error) {
	if !validRoom(room) {
		return nil, ErrInvalidRoom
	}
	if strings.TrimSpace(string(clientID)) == "" {
		return nil, ErrInvalidClientID
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrControllerClosed
	}
	sub := newSubscription(c, room, clientID, h)
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	c.t.Open()
	sub.listen(c.t)

	if prev, replaced := c.reg.Put(Membership{Room: room, ClientID: clientID}); replaced && prev.ClientID != clientID {
		c.log.Warn("room membership overwritten",
			logger.Room(room),
			zap.String("previous_client_id", string(prev.ClientID)),
			logger.ClientID(string(clientID)))
	}

	sub.transition(Joining, c.joinTimeout)
	if err := c.emitJoin(room, clientID); err != nil && !errors.Is(err, ErrNotConnected) {
		c.log.Warn("room join emit failed", logger.Room(room), zap.Error(err))
	}
	c.log.Info("room joined", logger.Room(room), logger.ClientID(string(clientID)))
	return sub, nil
}

// Leave 发送 room.leave 并删除注册表条目；不注销监听器，调用方仍需关闭 Subscription
func (c *Controller) Leave(room string, clientID ClientID) error {
	if !validRoom(room) {
		return ErrInvalidRoom
	}
	c.reg.Delete(room)
	for _, sub := range c.subsFor(room) {
		sub.transition(Left, 0)
	}

	err := c.t.Emit(EventLeave, LeaveRequest{Room: room, ClientID: string(clientID)})
	c.log.Info("room left", logger.Room(room), logger.ClientID(string(clientID)))
	// 断线时服务端已移除该连接的成员关系
	if err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// SendMessage 发送 chat.send；ts 非空时成为去重键的一部分，须与服务端回传一致
func (c *Controller) SendMessage(room, text string, clientID ClientID, ts string) error {
	if !validRoom(room) {
		return ErrInvalidRoom
	}
	return c.t.Emit(EventSend, SendRequest{
		Room:     room,
		Message:  text,
		ClientID: string(clientID),
		TS:       ts,
	})
}

// Close 注销 connect/disconnect 监听器与全部订阅，清空注册表
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	subs := make([]*Subscription, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	c.offConnect()
	c.offDisconnect()
	for _, sub := range subs {
		sub.Close()
	}
	c.reg.Reset()
}

// rejoinAll 连接建立后为注册表中每个房间补发一次 room.join，使用注册表中当前的会话标识
func (c *Controller) rejoinAll() {
	for _, m := range c.reg.Memberships() {
		for _, sub := range c.subsFor(m.Room) {
			next := Joining
			if st := sub.State(); st == Disconnected || st == Joined {
				next = Rejoining
			}
			sub.transition(next, c.joinTimeout)
		}
		if err := c.emitJoin(m.Room, m.ClientID); err != nil {
			c.log.Warn("room rejoin emit failed", logger.Room(m.Room), zap.Error(err))
			continue
		}
		c.log.Debug("room rejoined", logger.Room(m.Room), logger.ClientID(string(m.ClientID)))
	}
}

// markDisconnected 断线后所有有效订阅进入 Disconnected
func (c *Controller) markDisconnected() {
	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.transition(Disconnected, 0)
	}
}

// emitJoin 发送 room.join，凭证获取失败时不带凭证发送
func (c *Controller) emitJoin(room string, clientID ClientID) error {
	req := JoinRequest{Room: room, ClientID: string(clientID)}
	if c.tokens != nil {
		ctx, cancel := context.WithTimeout(context.Background(), tokenTimeout)
		token, err := c.tokens.Token(ctx)
		cancel()
		if err != nil {
			c.log.Warn("room token unavailable", logger.Room(room), zap.Error(err))
		} else {
			req.Token = token
		}
	}
	return c.t.Emit(EventJoin, req)
}

// validRoom 房间名非空且首尾无空白；服务端按原样回传房间名，监听器按原样过滤
func validRoom(room string) bool {
	return room != "" && strings.TrimSpace(room) == room
}

// subsFor 房间的有效订阅
func (c *Controller) subsFor(room string) []*Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Subscription
	for sub := range c.subs {
		if sub.room == room {
			out = append(out, sub)
		}
	}
	return out
}

// untrack 订阅关闭时移除
func (c *Controller) untrack(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, sub)
}
