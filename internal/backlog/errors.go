package backlog

import "github.com/tokmz/forum/pkg/errors"

// 历史消息存储错误
var (
	ErrInvalidConfig = errors.New(6101, 500, "backlog invalid config", nil)
	ErrConnection    = errors.New(6102, 500, "backlog connection failed", nil)
	ErrOperation     = errors.New(6103, 500, "backlog operation failed", nil)
	ErrSerialization = errors.New(6104, 500, "backlog serialization failed", nil)
	ErrClosed        = errors.New(6105, 500, "backlog store closed", nil)
)
