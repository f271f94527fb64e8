package hub

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/forum/pkg/logger"
	"github.com/tokmz/forum/pkg/tracing"
	"github.com/tokmz/forum/pkg/ws"
)

// roomFields 各事件载荷共有的字段
type roomFields struct {
	Room     string `json:"room"`
	ClientID string `json:"client_id"`
}

// tracingMiddleware 为每个事件创建 Span，并把房间与会话标识放入 context
func (h *Hub) tracingMiddleware(ctx context.Context, c *ws.Conn, msg *ws.Message, next ws.NextFunc) error {
	var f roomFields
	_ = json.Unmarshal(msg.Data, &f)

	ctx, span := tracing.StartEventSpan(ctx, msg.Event, f.Room, f.ClientID)
	defer span.End()

	if f.Room != "" {
		ctx = logger.ContextWithRoom(ctx, f.Room)
	}
	if f.ClientID != "" {
		ctx = logger.ContextWithClientID(ctx, f.ClientID)
	}

	err := next(ctx)
	tracing.RecordError(span, err)
	return err
}

// loggingMiddleware 记录事件处理耗时
func (h *Hub) loggingMiddleware(ctx context.Context, c *ws.Conn, msg *ws.Message, next ws.NextFunc) error {
	start := time.Now()
	err := next(ctx)
	fields := []zap.Field{
		logger.Event(msg.Event),
		zap.String("conn_id", c.ID),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		h.log.WarnContext(ctx, "ws event failed", append(fields, zap.Error(err))...)
		return err
	}
	h.log.DebugContext(ctx, "ws event handled", fields...)
	return nil
}
