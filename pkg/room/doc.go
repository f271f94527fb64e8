// Package room 实现聊天室会话同步层。
//
// Controller 在共享的 Transport 连接上管理房间成员关系（加入、离开、重连后自动重新加入），
// 每次 Join 返回一个 Subscription，统一持有该房间四类入站事件的监听器与加入状态。
// Panel 是单个房间的视图模型：用历史快照整体重置，按 (发送者, 时间戳, 正文) 去重追加实时消息，
// 本地发送先乐观回显，服务端回传同一条消息时原地确认而不是重复显示。
//
// 所有入站事件都在 Transport 的分发协程上依次执行。
package room
