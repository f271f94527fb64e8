package room

import "github.com/google/uuid"

// ClientID 标识一个会话（浏览器标签页级别），不是账号身份
type ClientID string

// NewClientID 生成新的会话标识
func NewClientID() ClientID {
	return ClientID(uuid.NewString())
}

// Message 聊天消息
type Message struct {
	Room      string
	Text      string
	SenderID  ClientID
	Timestamp string
	Username  string // 可选显示名
}

// Key 去重键
func (m Message) Key() DedupKey {
	return DedupKey{SenderID: m.SenderID, Timestamp: m.Timestamp, Text: m.Text}
}

// Author 显示名，缺省为发送者标识
func (m Message) Author() string {
	if m.Username != "" {
		return m.Username
	}
	return string(m.SenderID)
}

// DedupKey (发送者, 时间戳, 正文) 三元组，相同即为同一条消息
type DedupKey struct {
	SenderID  ClientID
	Timestamp string
	Text      string
}

// Membership 房间成员关系
type Membership struct {
	Room     string
	ClientID ClientID
}

// EntryState 消息条目状态
type EntryState int

const (
	// Pending 本地乐观回显，尚未收到服务端副本
	Pending EntryState = iota
	// Confirmed 服务端副本（历史快照或实时广播）
	Confirmed
)

func (s EntryState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// Entry 面板中的一条消息
type Entry struct {
	Message Message
	State   EntryState
	Self    bool // 由本会话发送
}

// merge 按键合并同一条消息，重复合并结果不变
func (e Entry) merge(incoming Message) Entry {
	if e.State == Pending {
		e.State = Confirmed
		if incoming.Username != "" {
			e.Message.Username = incoming.Username
		}
	}
	return e
}
