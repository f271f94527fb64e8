package auth

import "github.com/tokmz/forum/pkg/errors"

// 令牌错误
var (
	ErrInvalidConfig = errors.New(6201, 500, "auth invalid config", nil)
	ErrTokenMissing  = errors.New(6202, 401, "token is required", nil)
	ErrTokenInvalid  = errors.New(6203, 401, "token is invalid", nil)
	ErrTokenExpired  = errors.New(6204, 401, "token is expired", nil)
	ErrUsername      = errors.New(6205, 400, "username is required", nil)
)
