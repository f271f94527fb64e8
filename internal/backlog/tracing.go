package backlog

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokmz/forum/pkg/room"
	"github.com/tokmz/forum/pkg/tracing"
)

const tracerName = "forum.backlog"

// tracedStore 链路追踪装饰器
type tracedStore struct {
	Store
	tracer trace.Tracer
}

// NewTracing 为存储操作创建客户端 Span
func NewTracing(s Store) Store {
	return &tracedStore{Store: s, tracer: otel.Tracer(tracerName)}
}

func (t *tracedStore) wrap(ctx context.Context, op, roomName string, fn func(ctx context.Context) error) error {
	ctx, span := t.tracer.Start(ctx, "backlog."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(tracing.AttrRoom.String(roomName))
	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("backlog.duration_ms", time.Since(start).Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (t *tracedStore) Append(ctx context.Context, roomName string, msg room.ChatMessage) error {
	return t.wrap(ctx, "append", roomName, func(ctx context.Context) error {
		return t.Store.Append(ctx, roomName, msg)
	})
}

func (t *tracedStore) Recent(ctx context.Context, roomName string) ([]room.ChatMessage, error) {
	var out []room.ChatMessage
	err := t.wrap(ctx, "recent", roomName, func(ctx context.Context) error {
		var err error
		out, err = t.Store.Recent(ctx, roomName)
		return err
	})
	return out, err
}

func (t *tracedStore) Clear(ctx context.Context, roomName string) error {
	return t.wrap(ctx, "clear", roomName, func(ctx context.Context) error {
		return t.Store.Clear(ctx, roomName)
	})
}
