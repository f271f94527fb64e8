package ws

import "github.com/tokmz/forum/pkg/errors"

// 错误定义
var (
	// 连接相关错误
	ErrTooManyConnections = errors.New(2001, 503, "ws: too many connections", nil)
	ErrConnIDExists       = errors.New(2002, 409, "ws: connection id already exists", nil)
	ErrConnectionClosed   = errors.New(2003, 500, "ws: connection closed", nil)
	ErrNotConnected       = errors.New(2004, 503, "ws: socket not connected", nil)
	ErrSocketClosed       = errors.New(2005, 500, "ws: socket closed", nil)

	// 房间相关错误
	ErrRoomNotFound = errors.New(2101, 404, "ws: room not found", nil)
	ErrRoomFull     = errors.New(2102, 409, "ws: room is full", nil)

	// 消息相关错误
	ErrHandlerNotFound = errors.New(2201, 404, "ws: handler not found", nil)
	ErrHandlerExists   = errors.New(2202, 409, "ws: handler already exists", nil)
	ErrInvalidMessage  = errors.New(2203, 400, "ws: invalid message format", nil)
	ErrChannelFull     = errors.New(2204, 503, "ws: send channel full", nil)
	ErrRouterFrozen    = errors.New(2205, 500, "ws: router is frozen", nil)

	// 配置相关错误
	ErrInvalidConfig = errors.New(2301, 500, "ws: invalid config", nil)
)
