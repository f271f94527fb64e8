package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/forum/pkg/logger"
)

// Manager WebSocket 服务端管理器
type Manager struct {
	pool   *ConnectionPool
	rooms  *RoomManager
	router *Router
	events *EventBus

	config   *Config
	upgrader *websocket.Upgrader
	metrics  Metrics
	log      logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager 创建管理器
func NewManager(log logger.Logger, opts ...Option) (*Manager, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Metrics == nil {
		config.Metrics = NoopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		pool:     NewConnectionPool(config.MaxConnections),
		rooms:    NewRoomManager(config.MaxRoomSize, config.EmptyRoomTTL),
		router:   NewRouter(),
		events:   NewEventBus(4, 1024),
		config:   config,
		upgrader: newUpgrader(config),
		metrics:  config.Metrics,
		log:      log.Named("ws"),
		ctx:      ctx,
		cancel:   cancel,
	}

	m.events.Subscribe(EventClientConnected, func(Event) { m.metrics.IncrementConnections() })
	m.events.Subscribe(EventClientDisconnected, func(Event) { m.metrics.DecrementConnections() })
	m.events.Subscribe(EventRoomJoined, m.recordRoomSize)
	m.events.Subscribe(EventRoomLeft, m.recordRoomSize)

	return m, nil
}

// recordRoomSize 更新房间人数指标
func (m *Manager) recordRoomSize(e Event) {
	if n, ok := e.Data.(int); ok {
		m.metrics.SetRoomMemberCount(e.Room, n)
	}
}

// Run 冻结路由并启动房间清理
func (m *Manager) Run() {
	m.router.Freeze()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.rooms.RunCleanup(m.ctx, m.config.CleanupInterval)
	}()
}

// Shutdown 关闭所有连接并等待协程退出
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	m.pool.Range(func(c *Conn) bool {
		c.Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.events.Close()
		return nil
	case <-ctx.Done():
		m.events.Close()
		return ctx.Err()
	}
}

// HandleUpgrade 升级 HTTP 连接并启动读写协程
func (m *Manager) HandleUpgrade(w http.ResponseWriter, r *http.Request, opts ...ConnOption) error {
	if m.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return ErrConnectionClosed
	}
	if m.pool.Count() >= m.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return ErrTooManyConnections
	}

	wsConn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := newConn(wsConn, m, opts...)
	if err := m.pool.Add(c); err != nil {
		_ = wsConn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(m.config.WriteWait))
		_ = wsConn.Close()
		return err
	}

	m.log.Debug("ws connected", zap.String("conn_id", c.ID), zap.String("username", c.Username))
	m.events.Publish(Event{Type: EventClientConnected, ConnID: c.ID, Time: time.Now()})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		c.run()
	}()
	return nil
}

// Register 注册消息处理器
func (m *Manager) Register(event string, handler Handler) error {
	return m.router.Register(event, handler)
}

// Router 获取路由器（用于泛型 Handle 注册）
func (m *Manager) Router() *Router {
	return m.router
}

// Use 添加中间件
func (m *Manager) Use(middleware ...MiddlewareFunc) {
	m.router.Use(middleware...)
}

// Subscribe 订阅系统事件
func (m *Manager) Subscribe(t EventType, handler EventHandler) {
	m.events.Subscribe(t, handler)
}

// Conn 获取连接
func (m *Manager) Conn(id string) (*Conn, bool) {
	return m.pool.Get(id)
}

// ConnCount 连接数
func (m *Manager) ConnCount() int {
	return m.pool.Count()
}

// JoinRoom 连接加入房间，返回加入后的人数
func (m *Manager) JoinRoom(c *Conn, room string) (int, error) {
	n, joined, err := m.rooms.Join(c, room)
	if err != nil {
		return n, err
	}
	if joined {
		m.events.Publish(Event{Type: EventRoomJoined, ConnID: c.ID, Room: room, Data: n, Time: time.Now()})
	}
	return n, nil
}

// LeaveRoom 连接离开房间，返回离开后的人数
func (m *Manager) LeaveRoom(c *Conn, room string) (int, bool) {
	n, left := m.rooms.Leave(c, room)
	if left {
		m.events.Publish(Event{Type: EventRoomLeft, ConnID: c.ID, Room: room, Data: n, Time: time.Now()})
	}
	return n, left
}

// RoomSize 房间人数
func (m *Manager) RoomSize(room string) int {
	return m.rooms.Size(room)
}

// RoomMembers 房间成员
func (m *Manager) RoomMembers(room string) []*Conn {
	return m.rooms.Members(room)
}

// RoomCount 房间数量
func (m *Manager) RoomCount() int {
	return m.rooms.Count()
}

// BroadcastToRoom 向房间广播消息，exclude 非空时跳过该连接
func (m *Manager) BroadcastToRoom(room string, msg *Message, exclude *Conn) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	failed, err := m.rooms.Broadcast(room, data, exclude)
	if failed > 0 {
		m.log.Warn("ws broadcast dropped", logger.Room(room), zap.Int("failed", failed))
	}
	return err
}
