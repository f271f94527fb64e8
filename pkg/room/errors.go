package room

import (
	"fmt"

	"github.com/tokmz/forum/pkg/errors"
)

// 房间层错误
var (
	ErrJoinTimeout      = errors.New(5001, 504, "join timed out", nil)
	ErrEmptyMessage     = errors.New(5002, 400, "message is empty", nil)
	ErrPanelClosed      = errors.New(5003, 409, "panel is closed", nil)
	ErrInvalidRoom      = errors.New(5004, 400, "room name is empty or padded with spaces", nil)
	ErrInvalidClientID  = errors.New(5005, 400, "client id is required", nil)
	ErrControllerClosed = errors.New(5006, 409, "controller is closed", nil)

	// ErrNotConnected 传输层断线，与 ws.ErrNotConnected 错误码一致
	ErrNotConnected = errors.New(2004, 503, "not connected", nil)
)

// RoomError 服务端或本地产生的房间级错误，非致命，仅提示
type RoomError struct {
	Room    string
	Message string
	Err     error
}

func (e *RoomError) Error() string {
	if e.Room == "" {
		return e.Message
	}
	return fmt.Sprintf("room %s: %s", e.Room, e.Message)
}

func (e *RoomError) Unwrap() error {
	return e.Err
}
