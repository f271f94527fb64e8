package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/forum/pkg/logger"
)

// SocketConfig 客户端连接配置
type SocketConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	PongWait         time.Duration `mapstructure:"pong_wait"` // 超过该时间未收到任何帧视为断线
	SendQueueSize    int           `mapstructure:"send_queue_size"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`

	// 重连退避
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"` // 0 表示一直重试
}

// DefaultSocketConfig 默认客户端配置
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteWait:        10 * time.Second,
		PongWait:         90 * time.Second,
		SendQueueSize:    256,
		MaxMessageSize:   64 * 1024,
		InitialInterval:  500 * time.Millisecond,
		MaxInterval:      10 * time.Second,
		Multiplier:       1.5,
	}
}

// SocketOption 客户端选项
type SocketOption func(*Socket)

// WithSocketConfig 设置客户端配置
func WithSocketConfig(cfg SocketConfig) SocketOption {
	return func(s *Socket) {
		s.config = cfg
	}
}

// WithHeader 设置握手请求头
func WithHeader(h http.Header) SocketOption {
	return func(s *Socket) {
		s.header = h
	}
}

// WithSocketLogger 设置日志
func WithSocketLogger(l logger.Logger) SocketOption {
	return func(s *Socket) {
		s.log = l
	}
}

// Socket 共享的自动重连 WebSocket 客户端
//
// 首次 Open 时才拨号。连接建立后先分发 connect 事件，再开始读取；
// 所有监听器都在同一个分发协程上依次执行。断线时分发 disconnect 并按退避策略重连。
type Socket struct {
	url    string
	header http.Header
	config SocketConfig
	log    logger.Logger

	listeners *listenerSet

	openOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu        sync.Mutex
	send      chan []byte // 当前连接的发送队列，断线时为 nil
	connected atomic.Bool
}

// NewSocket 创建客户端，不会立即拨号
func NewSocket(url string, opts ...SocketOption) *Socket {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Socket{
		url:       url,
		config:    DefaultSocketConfig(),
		log:       logger.Nop(),
		listeners: newListenerSet(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("socket")
	return s
}

// Open 启动连接循环（幂等）
func (s *Socket) Open() {
	s.openOnce.Do(func() {
		if s.ctx.Err() != nil {
			return
		}
		s.wg.Add(1)
		go s.loop()
	})
}

// On 注册事件监听器，返回幂等的注销函数
func (s *Socket) On(event string, fn func(json.RawMessage)) func() {
	return s.listeners.add(event, fn)
}

// Emit 发送通知消息；断线期间返回 ErrNotConnected，不做离线缓存
func (s *Socket) Emit(event string, data any) error {
	if s.ctx.Err() != nil {
		return ErrSocketClosed
	}
	msg, err := NewNotify(event, data)
	if err != nil {
		return err
	}
	raw, err := msg.Encode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.send == nil {
		return ErrNotConnected
	}
	select {
	case s.send <- raw:
		return nil
	default:
		return ErrChannelFull
	}
}

// Connected 当前是否在线
func (s *Socket) Connected() bool {
	return s.connected.Load()
}

// Close 停止重连并等待协程退出
func (s *Socket) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

// loop 拨号、服务、断线重连
func (s *Socket) loop() {
	defer s.wg.Done()
	for {
		conn, err := s.dial()
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.Error("socket gave up reconnecting", zap.String("url", s.url), zap.Error(err))
			}
			return
		}
		s.serve(conn)
		if s.ctx.Err() != nil {
			return
		}
	}
}

// dial 按指数退避拨号直到成功、超过最长重试时间或 Close
func (s *Socket) dial() (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.InitialInterval
	b.MaxInterval = s.config.MaxInterval
	b.Multiplier = s.config.Multiplier

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.config.HandshakeTimeout,
	}

	return backoff.Retry(s.ctx, func() (*websocket.Conn, error) {
		conn, resp, err := dialer.DialContext(s.ctx, s.url, s.header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			// 认证失败不再重试
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return conn, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(s.config.MaxElapsedTime),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log.Warn("socket dial failed", zap.String("url", s.url), zap.Duration("retry_in", next), zap.Error(err))
		}),
	)
}

// serve 处理一条已建立的连接，返回时连接已关闭
func (s *Socket) serve(conn *websocket.Conn) {
	send := make(chan []byte, s.config.SendQueueSize)
	done := make(chan struct{})

	conn.SetReadLimit(s.config.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(s.config.WriteWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		s.writePump(conn, send, done)
	}()

	s.mu.Lock()
	s.send = send
	s.mu.Unlock()
	s.connected.Store(true)
	s.log.Info("socket connected", zap.String("url", s.url))

	s.listeners.dispatch(EventConnect, nil)
	s.readPump(conn)

	s.mu.Lock()
	s.send = nil
	s.mu.Unlock()
	s.connected.Store(false)
	close(done)
	writer.Wait()
	_ = conn.Close()

	s.log.Info("socket disconnected", zap.String("url", s.url))
	s.listeners.dispatch(EventDisconnect, nil)
}

// readPump 读取并分发消息，出错返回
func (s *Socket) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil && !isClosedErr(err) {
				s.log.Warn("socket read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.config.PongWait))

		msg, err := decodeMessage(data)
		if err != nil {
			s.log.Warn("socket dropped invalid message", zap.Error(err))
			continue
		}
		if msg.Type == MessageTypeError {
			var e ErrorData
			_ = json.Unmarshal(msg.Data, &e)
			s.log.Warn("socket received error", zap.Int("code", e.Code), zap.String("message", e.Message))
			continue
		}
		s.listeners.dispatch(msg.Event, msg.Data)
	}
}

// writePump 写出发送队列；Close 时发送关闭帧并断开连接
func (s *Socket) writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	for {
		select {
		case <-s.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.config.WriteWait))
			_ = conn.Close()
			return
		case <-done:
			return
		case data := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Warn("socket write failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}
