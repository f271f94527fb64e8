package server

import "github.com/tokmz/forum/pkg/errors"

// 服务端错误
var (
	ErrInvalidSettings = errors.New(6301, 500, "invalid server settings", nil)
	ErrUnavailable     = errors.New(6302, 503, "service unavailable", nil)
	ErrTooManyRequests = errors.New(6303, 429, "too many requests", nil)
)
