package server

import (
	"sync"
	"sync/atomic"

	"github.com/tokmz/forum/pkg/ws"
)

var _ ws.Metrics = (*counters)(nil)

// counters ws 指标的进程内计数，供 /healthz 读取
type counters struct {
	conns    atomic.Int64
	messages atomic.Int64
	errors   atomic.Int64
	dropped  atomic.Int64
	invalid  atomic.Int64

	mu    sync.Mutex
	rooms map[string]int
}

func newCounters() *counters {
	return &counters{rooms: make(map[string]int)}
}

func (c *counters) IncrementConnections()         { c.conns.Add(1) }
func (c *counters) DecrementConnections()         { c.conns.Add(-1) }
func (c *counters) IncrementMessageCount(string)  { c.messages.Add(1) }
func (c *counters) IncrementMessageErrors(string) { c.errors.Add(1) }
func (c *counters) IncrementDroppedMessages()     { c.dropped.Add(1) }
func (c *counters) IncrementInvalidMessages()     { c.invalid.Add(1) }

// SetRoomMemberCount 人数为 0 的房间不再计入
func (c *counters) SetRoomMemberCount(room string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if count <= 0 {
		delete(c.rooms, room)
		return
	}
	c.rooms[room] = count
}

// healthSnapshot /healthz 数据
type healthSnapshot struct {
	Status      string `json:"status"`
	Connections int64  `json:"connections"`
	Rooms       int    `json:"rooms"`
	Members     int    `json:"members"`
	Messages    int64  `json:"messages"`
	Errors      int64  `json:"errors"`
	Dropped     int64  `json:"dropped"`
	Invalid     int64  `json:"invalid"`
}

func (c *counters) snapshot() healthSnapshot {
	c.mu.Lock()
	rooms, members := len(c.rooms), 0
	for _, n := range c.rooms {
		members += n
	}
	c.mu.Unlock()
	return healthSnapshot{
		Status:      "ok",
		Connections: c.conns.Load(),
		Rooms:       rooms,
		Members:     members,
		Messages:    c.messages.Load(),
		Errors:      c.errors.Load(),
		Dropped:     c.dropped.Load(),
		Invalid:     c.invalid.Load(),
	}
}
