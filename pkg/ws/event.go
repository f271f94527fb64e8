package ws

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType 事件类型
type EventType string

const (
	// EventClientConnected 连接建立
	EventClientConnected EventType = "client.connected"
	// EventClientDisconnected 连接断开
	EventClientDisconnected EventType = "client.disconnected"
	// EventRoomJoined 加入房间，Data 为加入后人数
	EventRoomJoined EventType = "room.joined"
	// EventRoomLeft 离开房间，Data 为离开后人数
	EventRoomLeft EventType = "room.left"
)

// Event 事件
type Event struct {
	Type   EventType
	ConnID string
	Room   string
	Data   any
	Time   time.Time
}

// EventHandler 事件处理器
type EventHandler func(Event)

// EventBus 异步事件总线
type EventBus struct {
	mu            sync.RWMutex
	handlers      map[EventType][]EventHandler
	workerCh      chan func()
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closed        atomic.Bool
	droppedEvents atomic.Int64
}

// NewEventBus 创建事件总线，workers 为处理协程数
func NewEventBus(workers, queueSize int) *EventBus {
	eb := &EventBus{
		handlers: make(map[EventType][]EventHandler),
		workerCh: make(chan func(), queueSize),
		stopCh:   make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}
	return eb
}

// worker 工作协程
func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case task := <-eb.workerCh:
			task()
		case <-eb.stopCh:
			return
		}
	}
}

// Subscribe 订阅事件
func (eb *EventBus) Subscribe(t EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[t] = append(eb.handlers[t], handler)
}

// Publish 发布事件（异步）
// 连接与房间事件最多阻塞 100ms 入队，超时丢弃并计数
func (eb *EventBus) Publish(e Event) {
	if eb.closed.Load() {
		return
	}

	eb.mu.RLock()
	handlers := eb.handlers[e.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		h := h
		timer := time.NewTimer(100 * time.Millisecond)
		select {
		case eb.workerCh <- func() { h(e) }:
		case <-timer.C:
			eb.droppedEvents.Add(1)
		case <-eb.stopCh:
		}
		timer.Stop()
	}
}

// Close 关闭事件总线，未处理的事件被丢弃
func (eb *EventBus) Close() {
	if !eb.closed.CompareAndSwap(false, true) {
		return
	}
	close(eb.stopCh)
	eb.wg.Wait()
}

// DroppedEvents 丢弃的事件数量
func (eb *EventBus) DroppedEvents() int64 {
	return eb.droppedEvents.Load()
}
