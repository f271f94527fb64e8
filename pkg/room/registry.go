package room

import (
	"sort"
	"sync"
)

// Registry 当前认为已加入的房间，按房间名唯一
type Registry struct {
	mu      sync.Mutex
	entries map[string]Membership
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Membership)}
}

// Put 记录成员关系，同名房间后写覆盖，返回被覆盖的旧值
func (r *Registry) Put(m Membership) (Membership, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.entries[m.Room]
	r.entries[m.Room] = m
	return prev, ok
}

// Get 获取房间的成员关系
func (r *Registry) Get(room string) (Membership, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.entries[room]
	return m, ok
}

// Delete 删除房间的成员关系
func (r *Registry) Delete(room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[room]
	delete(r.entries, room)
	return ok
}

// Rooms 房间名快照（有序）
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := make([]string, 0, len(r.entries))
	for room := range r.entries {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// Memberships 成员关系快照（按房间名排序）
func (r *Registry) Memberships() []Membership {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Membership, 0, len(r.entries))
	for _, m := range r.entries {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out
}

// Len 条目数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reset 清空
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.entries)
}
