// Package request 论坛 HTTP 接口客户端：统一响应解码、带退避的重试与访问令牌管理
package request

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tokmz/forum/pkg/errors"
	"github.com/tokmz/forum/pkg/logger"
)

// Client 接口客户端，可并发使用
type Client struct {
	cfg    *Config
	http   *http.Client
	log    logger.Logger
	tracer trace.Tracer
}

// New 创建接口客户端
func New(opts ...Option) *Client {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: newAPITransport(cfg.Transport, cfg.UserAgent),
		},
		log:    cfg.Logger.Named("request"),
		tracer: otel.Tracer("forum.request"),
	}
}

// Get 创建 GET 调用
func (c *Client) Get(path string) *Request {
	return newRequest(c, http.MethodGet, path)
}

// Post 创建 POST 调用
func (c *Client) Post(path string) *Request {
	return newRequest(c, http.MethodPost, path)
}

// errRetryStatus 可重试的响应状态，仅在重试循环内部流转
type errRetryStatus int

func (e errRetryStatus) Error() string {
	return "HTTP " + http.StatusText(int(e))
}

// execute 按重试策略发送；重试耗尽时返回最后一次响应与 ErrMaxRetry
func (c *Client) execute(r *Request) (*Response, error) {
	rc := r.retry
	if rc == nil {
		rc = c.cfg.Retry
	}
	if rc == nil {
		return c.attempt(r, 1)
	}
	policy := rc.normalized()

	var (
		last      *Response
		attempts  int
		permanent bool
	)
	_, err := backoff.Retry(r.ctx, func() (*Response, error) {
		attempts++
		resp, err := c.attempt(r, attempts)
		last = resp
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		if !policy.RetryIf(status, err) {
			if err != nil {
				permanent = true
				return nil, backoff.Permanent(err)
			}
			return resp, nil
		}
		if err == nil {
			err = errRetryStatus(status)
		}
		return nil, err
	},
		backoff.WithBackOff(policy.newBackOff()),
		backoff.WithMaxTries(uint(policy.MaxAttempts+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.WarnContext(r.ctx, "api call retrying",
				zap.String("op", r.op),
				zap.Int("attempt", attempts),
				zap.Duration("backoff", next),
				zap.Error(err))
		}),
	)

	var retryStatus errRetryStatus
	switch {
	case err == nil:
		return last, nil
	case permanent:
		var p *backoff.PermanentError
		if errors.As(err, &p) {
			err = p.Unwrap()
		}
		return nil, err
	case r.ctx.Err() != nil:
		return nil, fmt.Errorf("%w: %w", ErrTimeout, r.ctx.Err())
	case errors.As(err, &retryStatus):
		c.log.ErrorContext(r.ctx, "api call gave up", zap.String("op", r.op), zap.Int("status", int(retryStatus)), zap.Int("attempts", attempts))
		return last, ErrMaxRetry.WithMessagef("%s: %d attempts", r.op, attempts).WithError(err)
	default:
		return nil, fmt.Errorf("%w: %w", ErrMaxRetry, err)
	}
}

// attempt 单次发送，包含超时与 span
func (c *Client) attempt(r *Request, n int) (*Response, error) {
	ctx := r.ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	ctx, span := c.tracer.Start(ctx, r.op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", r.method),
			attribute.String("forum.op", r.op),
			attribute.Int("forum.attempt", n),
		))
	defer span.End()

	req, err := r.build(ctx, c.cfg.BaseURL)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	start := time.Now()
	httpResp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.DebugContext(ctx, "api call failed", zap.String("op", r.op), zap.Int("attempt", n), zap.Error(err))
		return nil, ErrRequestFailed.WithMessage(r.op).WithError(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, ErrRequestFailed.WithMessage(r.op).WithError(err)
	}

	resp := &Response{
		Op:         r.op,
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		Duration:   time.Since(start),
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.IsError() {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	c.log.DebugContext(ctx, "api call",
		zap.String("op", r.op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", resp.Duration))
	return resp, nil
}
