package room

// JoinState 订阅的加入状态
//
//	NotJoined -> Joining -> Joined <-> Disconnected -> Rejoining -> Joined -> Left
//	Joining/Rejoining 等待超时 -> JoinFailed，之后收到快照仍可进入 Joined
type JoinState int

const (
	NotJoined JoinState = iota
	Joining
	Joined
	Disconnected
	Rejoining
	JoinFailed
	Left
)

func (s JoinState) String() string {
	switch s {
	case NotJoined:
		return "not_joined"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	case Disconnected:
		return "disconnected"
	case Rejoining:
		return "rejoining"
	case JoinFailed:
		return "join_failed"
	case Left:
		return "left"
	default:
		return "unknown"
	}
}

// waiting 是否在等待加入确认
func (s JoinState) waiting() bool {
	return s == Joining || s == Rejoining
}
