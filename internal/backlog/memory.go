package backlog

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/tokmz/forum/pkg/room"
)

// memoryStore 基于 go-cache 的单节点存储
type memoryStore struct {
	cache     *gocache.Cache
	size      int
	ttl       time.Duration
	keyPrefix string

	mu     sync.Mutex // 保护追加时的读改写
	closed bool
}

func newMemoryStore(cfg *Config) *memoryStore {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = gocache.NoExpiration
	}
	return &memoryStore{
		cache:     gocache.New(ttl, cfg.Memory.CleanupInterval),
		size:      cfg.Size,
		ttl:       ttl,
		keyPrefix: cfg.KeyPrefix,
	}
}

func (m *memoryStore) key(roomName string) string {
	return m.keyPrefix + "backlog:" + roomName
}

// Append 追加并截断到窗口大小
func (m *memoryStore) Append(_ context.Context, roomName string, msg room.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	key := m.key(roomName)
	var cur []room.ChatMessage
	if v, ok := m.cache.Get(key); ok {
		cur = v.([]room.ChatMessage)
	}

	start := 0
	if len(cur)+1 > m.size {
		start = len(cur) + 1 - m.size
	}
	next := make([]room.ChatMessage, 0, len(cur)-start+1)
	next = append(next, cur[start:]...)
	next = append(next, msg)
	m.cache.Set(key, next, m.ttl)
	return nil
}

// Recent 返回副本
func (m *memoryStore) Recent(_ context.Context, roomName string) ([]room.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.cache.Get(m.key(roomName))
	if !ok {
		return []room.ChatMessage{}, nil
	}
	return append([]room.ChatMessage(nil), v.([]room.ChatMessage)...), nil
}

func (m *memoryStore) Clear(_ context.Context, roomName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Delete(m.key(roomName))
	return nil
}

func (m *memoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cache.Flush()
	return nil
}
