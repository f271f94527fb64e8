package ws

import (
	"sync"
	"sync/atomic"
)

// ConnectionPool 连接池
type ConnectionPool struct {
	conns    sync.Map // id -> *Conn
	count    atomic.Int64
	maxConns int
}

// NewConnectionPool 创建连接池
func NewConnectionPool(maxConns int) *ConnectionPool {
	return &ConnectionPool{maxConns: maxConns}
}

// Add 添加连接，超过上限返回 ErrTooManyConnections
func (p *ConnectionPool) Add(c *Conn) error {
	if _, loaded := p.conns.LoadOrStore(c.ID, c); loaded {
		return ErrConnIDExists
	}
	if int(p.count.Add(1)) > p.maxConns {
		p.count.Add(-1)
		p.conns.Delete(c.ID)
		return ErrTooManyConnections
	}
	return nil
}

// Remove 移除连接
func (p *ConnectionPool) Remove(id string) {
	if _, loaded := p.conns.LoadAndDelete(id); loaded {
		p.count.Add(-1)
	}
}

// Get 获取连接
func (p *ConnectionPool) Get(id string) (*Conn, bool) {
	v, ok := p.conns.Load(id)
	if !ok {
		return nil, false
	}
	c, ok := v.(*Conn)
	return c, ok
}

// Count 连接数
func (p *ConnectionPool) Count() int {
	return int(p.count.Load())
}

// Range 遍历所有连接
func (p *ConnectionPool) Range(f func(*Conn) bool) {
	p.conns.Range(func(_, v any) bool {
		c, ok := v.(*Conn)
		if !ok {
			return true
		}
		return f(c)
	})
}
