package request

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request 一次接口调用
type Request struct {
	client  *Client
	op      string
	method  string
	path    string
	query   url.Values
	header  http.Header
	body    []byte // 缓存后每次重试重放
	timeout time.Duration
	ctx     context.Context
	retry   *RetryConfig
	err     error // SetBody 序列化失败等延迟到 Do 返回
}

func newRequest(c *Client, method, path string) *Request {
	return &Request{
		client: c,
		op:     method + " " + path,
		method: method,
		path:   path,
		query:  make(url.Values),
		header: make(http.Header),
		ctx:    context.Background(),
	}
}

// Named 设置操作名，用于日志与 span，默认 "METHOD path"
func (r *Request) Named(op string) *Request {
	r.op = op
	return r
}

// SetHeader 设置请求头
func (r *Request) SetHeader(k, v string) *Request {
	r.header.Set(k, v)
	return r
}

// SetQuery 设置查询参数
func (r *Request) SetQuery(k, v string) *Request {
	r.query.Set(k, v)
	return r
}

// SetBody JSON 请求体
func (r *Request) SetBody(body any) *Request {
	data, err := json.Marshal(body)
	if err != nil {
		r.err = ErrMarshal.WithError(err)
		return r
	}
	r.body = data
	r.header.Set("Content-Type", "application/json")
	return r
}

// SetBearerToken 设置 Authorization: Bearer
func (r *Request) SetBearerToken(token string) *Request {
	r.header.Set("Authorization", "Bearer "+token)
	return r
}

// SetTimeout 覆盖客户端超时
func (r *Request) SetTimeout(d time.Duration) *Request {
	r.timeout = d
	return r
}

// SetContext 设置上下文，取消后停止重试
func (r *Request) SetContext(ctx context.Context) *Request {
	r.ctx = ctx
	return r
}

// SetRetry 覆盖客户端重试策略
func (r *Request) SetRetry(cfg *RetryConfig) *Request {
	r.retry = cfg
	return r
}

// Do 发送请求，返回原始响应
func (r *Request) Do() (*Response, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.client.execute(r)
}

// url 拼接服务地址与查询参数
func (r *Request) url(base string) (string, error) {
	raw := r.path
	if base != "" && !strings.Contains(raw, "://") {
		raw = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(raw, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrInvalidURL.WithError(err)
	}
	if len(r.query) > 0 {
		q := u.Query()
		for k, vs := range r.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// build 每次尝试生成新的 http.Request
func (r *Request) build(ctx context.Context, base string) (*http.Request, error) {
	target, err := r.url(base)
	if err != nil {
		return nil, err
	}
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, ErrInvalidURL.WithError(err)
	}
	req.Header = r.header.Clone()
	return req, nil
}
