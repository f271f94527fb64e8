package ws

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	pkgerrors "github.com/tokmz/forum/pkg/errors"
)

// maxInvalidMessages 连续无效消息超过该值时断开连接
const maxInvalidMessages = 10

// Conn 服务端的一个 WebSocket 连接
type Conn struct {
	ID       string
	Username string

	conn    *websocket.Conn
	manager *Manager
	send    chan []byte

	metadata sync.Map
	rooms    sync.Map // room -> struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once

	invalidMsgCount atomic.Int32
}

// ConnOption 连接选项
type ConnOption func(*Conn)

// WithConnID 设置连接 ID
func WithConnID(id string) ConnOption {
	return func(c *Conn) {
		c.ID = id
	}
}

// WithUsername 设置连接的显示名
func WithUsername(name string) ConnOption {
	return func(c *Conn) {
		c.Username = name
	}
}

// WithMetadata 设置元数据
func WithMetadata(key string, value any) ConnOption {
	return func(c *Conn) {
		c.metadata.Store(key, value)
	}
}

// newConn 创建连接
func newConn(ws *websocket.Conn, m *Manager, opts ...ConnOption) *Conn {
	ctx, cancel := context.WithCancel(m.ctx)
	c := &Conn{
		ID:      uuid.NewString(),
		conn:    ws,
		manager: m,
		send:    make(chan []byte, m.config.MessageQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// run 启动读写协程，任一退出后关闭连接
func (c *Conn) run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.readPump()
	}()
	go func() {
		defer wg.Done()
		c.writePump()
	}()
	wg.Wait()
	c.Close()
}

// readPump 读取消息并顺序路由
func (c *Conn) readPump() {
	defer c.Close()

	cfg := c.manager.config
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.HeartbeatTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.HeartbeatTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.manager.log.Debug("ws read failed", zap.String("conn_id", c.ID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.HeartbeatTimeout))

		msg, err := decodeMessage(data)
		if err != nil {
			c.manager.metrics.IncrementInvalidMessages()
			if c.invalidMsgCount.Add(1) > maxInvalidMessages {
				return
			}
			_ = c.SendError("", ErrInvalidMessage.Code, ErrInvalidMessage.Message)
			continue
		}
		c.invalidMsgCount.Store(0)
		c.manager.metrics.IncrementMessageCount(msg.Event)

		if err := c.manager.router.Route(c.ctx, c, msg); err != nil {
			c.manager.metrics.IncrementMessageErrors(msg.Event)
			code := pkgerrors.CodeOf(err)
			if code == 0 {
				code = pkgerrors.ErrServer.Code
			}
			_ = c.SendError(msg.RequestID, code, err.Error())
		}
	}
}

// writePump 写入消息与心跳
func (c *Conn) writePump() {
	cfg := c.manager.config
	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendBytes 发送已编码消息（非阻塞）
func (c *Conn) SendBytes(data []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.manager.metrics.IncrementDroppedMessages()
		return ErrChannelFull
	}
}

// Send 发送消息
func (c *Conn) Send(msg *Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return c.SendBytes(data)
}

// Notify 发送通知消息
func (c *Conn) Notify(event string, data any) error {
	msg, err := NewNotify(event, data)
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// SendError 发送错误消息
func (c *Conn) SendError(requestID string, code int, message string) error {
	return c.Send(NewError(requestID, code, message))
}

// Close 关闭连接并离开所有房间
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.manager.pool.Remove(c.ID)

		for _, room := range c.Rooms() {
			c.manager.LeaveRoom(c, room)
		}

		c.manager.events.Publish(Event{
			Type:   EventClientDisconnected,
			ConnID: c.ID,
			Time:   time.Now(),
		})
	})
}

// IsClosed 检查是否已关闭
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Context 连接生命周期 context，关闭后取消
func (c *Conn) Context() context.Context {
	return c.ctx
}

// GetMetadata 获取元数据
func (c *Conn) GetMetadata(key string) (any, bool) {
	return c.metadata.Load(key)
}

// SetMetadata 设置元数据
func (c *Conn) SetMetadata(key string, value any) {
	c.metadata.Store(key, value)
}

// InRoom 是否在房间中
func (c *Conn) InRoom(room string) bool {
	_, ok := c.rooms.Load(room)
	return ok
}

// Rooms 当前加入的房间
func (c *Conn) Rooms() []string {
	rooms := make([]string, 0, 4)
	c.rooms.Range(func(key, _ any) bool {
		if room, ok := key.(string); ok {
			rooms = append(rooms, room)
		}
		return true
	})
	return rooms
}

// RemoteAddr 获取远程地址
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// isClosedErr 判断是否为连接关闭类错误
func isClosedErr(err error) bool {
	return errors.Is(err, websocket.ErrCloseSent) || websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
