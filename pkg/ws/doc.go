// Package ws 提供房间聊天使用的 WebSocket 传输层
//
// 服务端：Manager 负责连接升级、事件路由、房间成员与广播。
//
//	m, err := ws.NewManager(log, ws.WithHeartbeat(30*time.Second, 60*time.Second))
//	if err != nil {
//	    return err
//	}
//	_ = ws.Handle(m.Router(), "room.join", func(ctx context.Context, c *ws.Conn, req *JoinRequest) error {
//	    _, err := m.JoinRoom(c, req.Room)
//	    return err
//	})
//	m.Run()
//	defer m.Shutdown(ctx)
//
//	r.GET("/ws", func(ctx *gin.Context) {
//	    _ = m.HandleUpgrade(ctx.Writer, ctx.Request, ws.WithUsername(ctx.Query("username")))
//	})
//
// 客户端：Socket 是单条共享连接，首次 Open 时建立，断线后按指数退避自动重连。
// 所有监听器在同一个协程上依次调用，connect 与 disconnect 也作为事件分发。
//
//	s := ws.NewSocket("ws://127.0.0.1:8080/ws?username=alice")
//	off := s.On("chat.message", func(data json.RawMessage) { ... })
//	defer off()
//	s.Open()
//	_ = s.Emit("chat.send", payload)
//
// 线路格式为 JSON 信封 Message：type、event、request_id、data、timestamp。
package ws
