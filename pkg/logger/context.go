package logger

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	traceIDKey  contextKey = "trace_id"
	roomKey     contextKey = "room"
	clientIDKey contextKey = "client_id"
)

// ContextWithTraceID 将 TraceID 写入 context
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// ContextWithRoom 将房间名写入 context
func ContextWithRoom(ctx context.Context, room string) context.Context {
	return context.WithValue(ctx, roomKey, room)
}

// ContextWithClientID 将客户端标识写入 context
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// Room 房间字段
func Room(room string) zap.Field { return zap.String("room", room) }

// ClientID 客户端标识字段
func ClientID(id string) zap.Field { return zap.String("client_id", id) }

// Event 事件名字段
func Event(name string) zap.Field { return zap.String("event", name) }
