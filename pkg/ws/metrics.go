package ws

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	IncrementConnections()
	DecrementConnections()

	// 消息指标
	IncrementMessageCount(event string)
	IncrementMessageErrors(event string)
	IncrementDroppedMessages()
	IncrementInvalidMessages()

	// 房间指标
	SetRoomMemberCount(room string, count int)
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) IncrementConnections()          {}
func (NoopMetrics) DecrementConnections()          {}
func (NoopMetrics) IncrementMessageCount(string)   {}
func (NoopMetrics) IncrementMessageErrors(string)  {}
func (NoopMetrics) IncrementDroppedMessages()      {}
func (NoopMetrics) IncrementInvalidMessages()      {}
func (NoopMetrics) SetRoomMemberCount(string, int) {}
