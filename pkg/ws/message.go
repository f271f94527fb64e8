package ws

import (
	"encoding/json"
	"time"
)

// MessageType 消息类型
type MessageType string

const (
	// MessageTypeRequest 请求消息
	MessageTypeRequest MessageType = "request"
	// MessageTypeResponse 响应消息
	MessageTypeResponse MessageType = "response"
	// MessageTypeNotify 通知消息（无需响应）
	MessageTypeNotify MessageType = "notify"
	// MessageTypeError 错误消息
	MessageTypeError MessageType = "error"
)

// 连接生命周期事件，仅在本地分发，不出现在线路上
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Message WebSocket 消息信封，客户端与服务端共用
type Message struct {
	Type      MessageType     `json:"type"`
	Event     string          `json:"event"`                // 如 "room.join", "chat.message"
	RequestID string          `json:"request_id,omitempty"` // 请求-响应匹配
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"` // Unix 毫秒
}

// ErrorData 错误消息的数据体
type ErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewNotify 创建通知消息
func NewNotify(event string, data any) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      MessageTypeNotify,
		Event:     event,
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// NewError 创建错误消息
func NewError(requestID string, code int, message string) *Message {
	raw, _ := json.Marshal(ErrorData{Code: code, Message: message})
	return &Message{
		Type:      MessageTypeError,
		RequestID: requestID,
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Encode 编码为线路格式
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal 解析消息数据
func (m *Message) Unmarshal(v any) error {
	if len(m.Data) == 0 {
		return ErrInvalidMessage
	}
	return json.Unmarshal(m.Data, v)
}

// decodeMessage 解析线路数据
func decodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, ErrInvalidMessage.WithError(err)
	}
	if msg.Event == "" && msg.Type != MessageTypeError {
		return nil, ErrInvalidMessage.WithMessage("ws: message has no event")
	}
	return &msg, nil
}
