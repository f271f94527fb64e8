package ws

import (
	"context"
	"encoding/json"
	"sync"
)

// Handler 消息处理器，同一连接上的消息按到达顺序依次处理
type Handler func(ctx context.Context, c *Conn, msg *Message) error

// NextFunc 中间件下一步函数
type NextFunc func(ctx context.Context) error

// MiddlewareFunc 中间件函数
type MiddlewareFunc func(ctx context.Context, c *Conn, msg *Message, next NextFunc) error

// Router 消息路由器
type Router struct {
	mu         sync.RWMutex
	handlers   map[string]Handler
	middleware []MiddlewareFunc
	compiled   map[string]Handler
	frozen     bool
}

// NewRouter 创建路由器
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register 注册处理器
func (r *Router) Register(event string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRouterFrozen
	}
	if _, exists := r.handlers[event]; exists {
		return ErrHandlerExists.WithMessagef("ws: handler already exists: %s", event)
	}
	r.handlers[event] = handler
	return nil
}

// Use 添加中间件，按添加顺序由外向内执行
func (r *Router) Use(middleware ...MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, middleware...)
}

// Freeze 冻结路由器并预编译处理器链
func (r *Router) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return
	}
	r.frozen = true
	r.compiled = make(map[string]Handler, len(r.handlers))
	for event, h := range r.handlers {
		r.compiled[event] = chain(r.middleware, h)
	}
}

// Route 路由消息
func (r *Router) Route(ctx context.Context, c *Conn, msg *Message) error {
	r.mu.RLock()
	if r.frozen {
		h, ok := r.compiled[msg.Event]
		r.mu.RUnlock()
		if !ok {
			return ErrHandlerNotFound.WithMessagef("ws: handler not found: %s", msg.Event)
		}
		return h(ctx, c, msg)
	}
	h, ok := r.handlers[msg.Event]
	mws := r.middleware
	r.mu.RUnlock()

	if !ok {
		return ErrHandlerNotFound.WithMessagef("ws: handler not found: %s", msg.Event)
	}
	return chain(mws, h)(ctx, c, msg)
}

// chain 从后向前构建中间件链
func chain(mws []MiddlewareFunc, h Handler) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		mw, next := mws[i], h
		h = func(ctx context.Context, c *Conn, m *Message) error {
			return mw(ctx, c, m, func(ctx context.Context) error {
				return next(ctx, c, m)
			})
		}
	}
	return h
}

// HandlerFunc 泛型处理器函数
type HandlerFunc[Req any] func(ctx context.Context, c *Conn, req *Req) error

// Handle 注册泛型处理器，数据体解析失败返回 ErrInvalidMessage
func Handle[Req any](r *Router, event string, handler HandlerFunc[Req]) error {
	return r.Register(event, func(ctx context.Context, c *Conn, msg *Message) error {
		var req Req
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return ErrInvalidMessage.WithError(err)
		}
		return handler(ctx, c, &req)
	})
}
