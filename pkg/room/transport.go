package room

import (
	"context"
	"encoding/json"
)

// Transport 共享的双向连接
//
// On 注册的监听器必须在同一个协程上依次调用；connect 与 disconnect 也通过 On 分发。
// 断线期间 Emit 返回与 ErrNotConnected 匹配的错误，不做离线缓存。
type Transport interface {
	Open()
	On(event string, fn func(json.RawMessage)) func()
	Emit(event string, data any) error
}

// TokenSource 提供加入房间时携带的凭证
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc 函数形式的 TokenSource
type TokenFunc func(ctx context.Context) (string, error)

// Token 实现 TokenSource
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}
