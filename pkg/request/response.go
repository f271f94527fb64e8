package request

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Response 原始响应
type Response struct {
	Op         string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// IsSuccess 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError 4xx/5xx
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// Unmarshal JSON 反序列化响应体
func (r *Response) Unmarshal(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return ErrUnmarshal.WithError(err)
	}
	return nil
}

// Envelope 服务端统一响应 {code, data, message}
type Envelope[T any] struct {
	Code    int    `json:"code"`
	Data    T      `json:"data"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// ok 成功响应的 code 为 200，旧接口可能省略
func (e *Envelope[T]) ok() bool {
	return e.Code == 0 || e.Code == http.StatusOK
}

// APIError 服务端返回的业务错误，errors.Is(err, ErrRequestFailed) 成立
type APIError struct {
	Op      string
	Status  int
	Code    int
	Message string
	TraceID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: [%d] %s", e.Op, e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return ErrRequestFailed
}

const maxErrorBodyLen = 256

// Decode 解析统一响应
//
// HTTP 失败或 code 非成功时返回 *APIError；响应体不是统一结构时返回截断的响应体。
func Decode[T any](resp *Response) (T, error) {
	var env Envelope[T]
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		var zero T
		if resp.IsError() {
			return zero, ErrRequestFailed.WithMessagef("%s: HTTP %d: %s", resp.Op, resp.StatusCode, truncate(resp.Body))
		}
		return zero, ErrUnmarshal.WithError(err)
	}
	if resp.IsError() || !env.ok() {
		var zero T
		return zero, &APIError{
			Op:      resp.Op,
			Status:  resp.StatusCode,
			Code:    env.Code,
			Message: env.Message,
			TraceID: env.TraceID,
		}
	}
	return env.Data, nil
}

// Call 发送请求并解析统一响应
func Call[T any](req *Request) (T, error) {
	resp, err := req.Do()
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](resp)
}

func truncate(body []byte) string {
	if len(body) > maxErrorBodyLen {
		body = body[:maxErrorBodyLen]
	}
	return string(body)
}
