package hub

import "github.com/tokmz/forum/pkg/errors"

// 房间服务错误
var (
	ErrBroker       = errors.New(6001, 500, "broker failed", nil)
	ErrBrokerClosed = errors.New(6002, 500, "broker closed", nil)
)

// 发给客户端的 room.error 文本
const (
	reasonUnauthorized = "unauthorized"
	reasonEmptyMessage = "empty message"
	reasonNotInRoom    = "not in room"
	reasonRoomRequired = "room is required"
	reasonInvalidRoom  = "invalid room name"
)
