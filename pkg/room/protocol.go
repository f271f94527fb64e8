package room

// 出站事件
const (
	EventJoin  = "room.join"
	EventLeave = "room.leave"
	EventSend  = "chat.send"
)

// 入站事件
const (
	EventBacklog  = "room.backlog"
	EventPresence = "room.presence"
	EventMessage  = "chat.message"
	EventError    = "room.error"

	// 连接生命周期
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// JoinRequest room.join 载荷
type JoinRequest struct {
	Room     string `json:"room"`
	ClientID string `json:"client_id"`
	Token    string `json:"token,omitempty"`
}

// LeaveRequest room.leave 载荷
type LeaveRequest struct {
	Room     string `json:"room"`
	ClientID string `json:"client_id"`
}

// SendRequest chat.send 载荷
type SendRequest struct {
	Room     string `json:"room"`
	Message  string `json:"message"`
	ClientID string `json:"client_id"`
	TS       string `json:"ts,omitempty"`
}

// ChatMessage chat.message 载荷，也是 room.backlog 中每一项的格式
type ChatMessage struct {
	Room     string `json:"room"`
	Message  string `json:"message"`
	ClientID string `json:"client_id,omitempty"`
	TS       string `json:"ts,omitempty"`
	Username string `json:"username,omitempty"`
}

// BacklogEvent room.backlog 载荷
type BacklogEvent struct {
	Room     string        `json:"room"`
	Messages []ChatMessage `json:"messages"`
}

// PresenceEvent room.presence 载荷
type PresenceEvent struct {
	Room  string `json:"room"`
	Count int    `json:"count"`
}

// ErrorEvent room.error 载荷，Room 为空表示与具体房间无关
type ErrorEvent struct {
	Room  string `json:"room,omitempty"`
	Error string `json:"error"`
}

// ToMessage 转换为领域消息
func (m ChatMessage) ToMessage() Message {
	return Message{
		Room:      m.Room,
		Text:      m.Message,
		SenderID:  ClientID(m.ClientID),
		Timestamp: m.TS,
		Username:  m.Username,
	}
}

// FromMessage 由领域消息构造线路格式
func FromMessage(m Message) ChatMessage {
	return ChatMessage{
		Room:     m.Room,
		Message:  m.Text,
		ClientID: string(m.SenderID),
		TS:       m.Timestamp,
		Username: m.Username,
	}
}
