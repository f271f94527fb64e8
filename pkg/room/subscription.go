package room

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/forum/pkg/logger"
)

// Handlers 房间事件回调，均可为空
//
// OnBacklog、OnPresence、OnMessage 以及服务端 room.error 触发的 OnError 在 Transport 的分发协程上依次调用。
// 加入超时触发的 OnError 在计时器协程上调用，可能与分发协程上的回调并发，实现须自行同步。
type Handlers struct {
	OnBacklog  func([]Message)
	OnPresence func(int)
	OnMessage  func(Message)
	// OnError 服务端错误或加入超时（errors.Is(err, ErrJoinTimeout)），后者不在分发协程上
	OnError func(error)
}

// Subscription 一次 Join 的结果，统一持有该房间的四个监听器与加入状态
type Subscription struct {
	ctrl     *Controller
	room     string
	clientID ClientID
	h        Handlers
	offs     []func()

	mu     sync.Mutex
	state  JoinState
	timer  *time.Timer
	closed bool

	done      chan struct{}
	closeOnce sync.Once
}

func newSubscription(c *Controller, room string, clientID ClientID, h Handlers) *Subscription {
	return &Subscription{
		ctrl:     c,
		room:     room,
		clientID: clientID,
		h:        h,
		state:    NotJoined,
		done:     make(chan struct{}),
	}
}

// listen 注册四个按房间过滤的监听器
func (s *Subscription) listen(t Transport) {
	s.offs = []func(){
		t.On(EventBacklog, s.onBacklog),
		t.On(EventPresence, s.onPresence),
		t.On(EventMessage, s.onMessage),
		t.On(EventError, s.onError),
	}
}

// Room 房间名
func (s *Subscription) Room() string { return s.room }

// ClientID 加入时使用的会话标识
func (s *Subscription) ClientID() ClientID { return s.clientID }

// State 当前加入状态
func (s *Subscription) State() JoinState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done 关闭后返回的 channel 被关闭
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close 注销全部监听器（幂等）
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.stopTimerLocked()
		s.mu.Unlock()

		for _, off := range s.offs {
			off()
		}
		s.ctrl.untrack(s)
		close(s.done)
	})
}

// transition 状态迁移；已关闭或已离开的订阅不再变化
func (s *Subscription) transition(to JoinState, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state == Left {
		return
	}
	s.state = to
	s.stopTimerLocked()
	if to.waiting() && timeout > 0 {
		s.timer = time.AfterFunc(timeout, s.expire)
	}
}

// expire 等待加入确认超时，运行在 time.AfterFunc 的协程上
func (s *Subscription) expire() {
	s.mu.Lock()
	if s.closed || !s.state.waiting() {
		s.mu.Unlock()
		return
	}
	s.state = JoinFailed
	s.timer = nil
	s.mu.Unlock()

	s.ctrl.log.Warn("room join timed out", logger.Room(s.room), logger.ClientID(string(s.clientID)))
	if s.h.OnError != nil {
		s.h.OnError(&RoomError{Room: s.room, Message: "join timed out", Err: ErrJoinTimeout})
	}
}

func (s *Subscription) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// confirm 收到快照或人数后视为已加入，返回订阅是否仍然有效
func (s *Subscription) confirm() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.state != Left {
		s.state = Joined
		s.stopTimerLocked()
	}
	return true
}

// active 订阅是否仍然有效
func (s *Subscription) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *Subscription) decode(event string, raw json.RawMessage, v any) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		s.ctrl.log.Warn("room dropped malformed payload",
			logger.Event(event), logger.Room(s.room), zap.Error(err))
		return false
	}
	return true
}

func (s *Subscription) onBacklog(raw json.RawMessage) {
	var p BacklogEvent
	if !s.decode(EventBacklog, raw, &p) || p.Room != s.room || !s.confirm() {
		return
	}
	msgs := make([]Message, 0, len(p.Messages))
	for _, m := range p.Messages {
		msg := m.ToMessage()
		if msg.Room == "" {
			msg.Room = p.Room
		}
		msgs = append(msgs, msg)
	}
	if s.h.OnBacklog != nil {
		s.h.OnBacklog(msgs)
	}
}

func (s *Subscription) onPresence(raw json.RawMessage) {
	var p PresenceEvent
	if !s.decode(EventPresence, raw, &p) || p.Room != s.room || !s.confirm() {
		return
	}
	if s.h.OnPresence != nil {
		s.h.OnPresence(p.Count)
	}
}

func (s *Subscription) onMessage(raw json.RawMessage) {
	var p ChatMessage
	if !s.decode(EventMessage, raw, &p) || p.Room != s.room || !s.active() {
		return
	}
	if s.h.OnMessage != nil {
		s.h.OnMessage(p.ToMessage())
	}
}

func (s *Subscription) onError(raw json.RawMessage) {
	var p ErrorEvent
	if !s.decode(EventError, raw, &p) || (p.Room != "" && p.Room != s.room) || !s.active() {
		return
	}
	if s.h.OnError != nil {
		s.h.OnError(&RoomError{Room: p.Room, Message: p.Error})
	}
}
