package ws

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Room 房间
type Room struct {
	Name       string
	mu         sync.RWMutex
	members    map[string]*Conn
	emptySince time.Time
}

// RoomManager 房间管理器
type RoomManager struct {
	mu          sync.RWMutex
	rooms       map[string]*Room
	maxRoomSize int
	emptyTTL    time.Duration
}

// NewRoomManager 创建房间管理器
func NewRoomManager(maxRoomSize int, emptyTTL time.Duration) *RoomManager {
	return &RoomManager{
		rooms:       make(map[string]*Room),
		maxRoomSize: maxRoomSize,
		emptyTTL:    emptyTTL,
	}
}

// Join 加入房间，返回加入后的人数；重复加入不报错，joined 为 false
func (rm *RoomManager) Join(c *Conn, name string) (count int, joined bool, err error) {
	rm.mu.Lock()
	room, ok := rm.rooms[name]
	if !ok {
		room = &Room{Name: name, members: make(map[string]*Conn)}
		rm.rooms[name] = room
	}
	rm.mu.Unlock()

	room.mu.Lock()
	defer room.mu.Unlock()
	if _, exists := room.members[c.ID]; exists {
		return len(room.members), false, nil
	}
	if len(room.members) >= rm.maxRoomSize {
		return len(room.members), false, ErrRoomFull
	}
	room.members[c.ID] = c
	c.rooms.Store(name, struct{}{})
	return len(room.members), true, nil
}

// Leave 离开房间，返回离开后的人数；不在房间中时 left 为 false
func (rm *RoomManager) Leave(c *Conn, name string) (count int, left bool) {
	rm.mu.RLock()
	room, ok := rm.rooms[name]
	rm.mu.RUnlock()
	if !ok {
		return 0, false
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if _, exists := room.members[c.ID]; !exists {
		return len(room.members), false
	}
	delete(room.members, c.ID)
	c.rooms.Delete(name)
	if len(room.members) == 0 {
		room.emptySince = time.Now()
	}
	return len(room.members), true
}

// Members 房间成员快照（按连接 ID 排序）
func (rm *RoomManager) Members(name string) []*Conn {
	rm.mu.RLock()
	room, ok := rm.rooms[name]
	rm.mu.RUnlock()
	if !ok {
		return nil
	}

	room.mu.RLock()
	members := make([]*Conn, 0, len(room.members))
	for _, c := range room.members {
		members = append(members, c)
	}
	room.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members
}

// Size 房间人数
func (rm *RoomManager) Size(name string) int {
	rm.mu.RLock()
	room, ok := rm.rooms[name]
	rm.mu.RUnlock()
	if !ok {
		return 0
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.members)
}

// Count 房间数量
func (rm *RoomManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms)
}

// Broadcast 向房间成员发送已编码消息，返回发送失败的数量
func (rm *RoomManager) Broadcast(name string, data []byte, exclude *Conn) (int, error) {
	members := rm.Members(name)
	if members == nil {
		return 0, ErrRoomNotFound
	}
	failed := 0
	for _, c := range members {
		if exclude != nil && c.ID == exclude.ID {
			continue
		}
		if err := c.SendBytes(data); err != nil {
			failed++
		}
	}
	return failed, nil
}

// RunCleanup 周期清理空房间
func (rm *RoomManager) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rm.cleanup(now)
		}
	}
}

// cleanup 删除空置超过 TTL 的房间
func (rm *RoomManager) cleanup(now time.Time) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	removed := 0
	for name, room := range rm.rooms {
		room.mu.RLock()
		expired := len(room.members) == 0 && now.Sub(room.emptySince) > rm.emptyTTL
		room.mu.RUnlock()
		if expired {
			delete(rm.rooms, name)
			removed++
		}
	}
	return removed
}
