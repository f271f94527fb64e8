package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTracerName = "forum.room"

// 房间事件相关属性键
const (
	AttrRoom     = attribute.Key("room.name")
	AttrClientID = attribute.Key("room.client_id")
	AttrEvent    = attribute.Key("room.event")
)

// StartSpan 从 context.Context 启动新 Span
func StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(defaultTracerName).Start(ctx, spanName, opts...)
}

// StartEventSpan 为一次房间事件处理启动 Span
func StartEventSpan(ctx context.Context, event, room, clientID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{AttrEvent.String(event)}
	if room != "" {
		attrs = append(attrs, AttrRoom.String(room))
	}
	if clientID != "" {
		attrs = append(attrs, AttrClientID.String(clientID))
	}
	return StartSpan(ctx, "ws "+event,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
}

// TraceID 返回 context 中的 TraceID，无有效 Span 时为空
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// RecordError 记录错误到 Span
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
