package hub

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/forum/pkg/logger"
	"github.com/tokmz/forum/pkg/room"
	"github.com/tokmz/forum/pkg/ws"
)

// metaClientID 连接元数据前缀：加入某房间时声明的会话标识
const metaClientID = "client_id:"

// checkRoom 房间名须非空且首尾无空白，客户端按原样过滤回传的房间名，服务端不做改写
func (h *Hub) checkRoom(c *ws.Conn, name string) (bool, error) {
	if name == "" {
		return false, h.roomError(c, "", reasonRoomRequired)
	}
	if strings.TrimSpace(name) != name {
		return false, h.roomError(c, name, reasonInvalidRoom)
	}
	return true, nil
}

// join 加入房间：校验令牌，下发历史快照，向房间广播人数
//
// 持有房间锁直到快照入队，同节点的 send 不会落在快照与实时消息之间。
func (h *Hub) join(ctx context.Context, c *ws.Conn, req *room.JoinRequest) error {
	roomName := req.Room
	if ok, err := h.checkRoom(c, roomName); !ok {
		return err
	}

	if h.verifier != nil && h.verifier.Enabled() {
		claims, err := h.verifier.Verify(req.Token)
		if err != nil {
			h.log.WarnContext(ctx, "room join rejected", logger.Room(roomName), zap.Error(err))
			return h.roomError(c, roomName, reasonUnauthorized)
		}
		if c.Username == "" {
			c.Username = claims.Username
		}
	}

	unlock := h.locks.lock(roomName)
	defer unlock()

	n, err := h.m.JoinRoom(c, roomName)
	if err != nil {
		return h.roomError(c, roomName, err.Error())
	}
	if req.ClientID != "" {
		c.SetMetadata(metaClientID+roomName, req.ClientID)
	}

	msgs, err := h.store.Recent(ctx, roomName)
	if err != nil {
		h.log.ErrorContext(ctx, "load backlog failed", logger.Room(roomName), zap.Error(err))
		msgs = []room.ChatMessage{}
	}
	if err := c.Notify(room.EventBacklog, room.BacklogEvent{Room: roomName, Messages: msgs}); err != nil {
		return err
	}

	h.broadcastPresence(roomName, n)
	h.log.InfoContext(ctx, "room joined", logger.Room(roomName), logger.ClientID(req.ClientID), zap.Int("count", n))
	return nil
}

// leave 离开房间，人数由 room.left 事件广播
func (h *Hub) leave(ctx context.Context, c *ws.Conn, req *room.LeaveRequest) error {
	if ok, err := h.checkRoom(c, req.Room); !ok {
		return err
	}
	if _, left := h.m.LeaveRoom(c, req.Room); left {
		c.SetMetadata(metaClientID+req.Room, "")
		h.log.InfoContext(ctx, "room left", logger.Room(req.Room))
	}
	return nil
}

// joinedClientID 连接加入房间时声明的会话标识
func joinedClientID(c *ws.Conn, roomName string) string {
	v, ok := c.GetMetadata(metaClientID + roomName)
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}

// send 追加历史并经 Broker 广播
//
// client_id 缺省时取加入时声明的值。与之不符时仍按发送方声明的值广播，发送方靠它识别回显；
// 同一连接重复加入同一房间时以最后一次为准，不符只记录告警。
func (h *Hub) send(ctx context.Context, c *ws.Conn, req *room.SendRequest) error {
	roomName := req.Room
	if ok, err := h.checkRoom(c, roomName); !ok {
		return err
	}
	if strings.TrimSpace(req.Message) == "" {
		return h.roomError(c, roomName, reasonEmptyMessage)
	}
	if !c.InRoom(roomName) {
		return h.roomError(c, roomName, reasonNotInRoom)
	}

	clientID := req.ClientID
	switch joined := joinedClientID(c, roomName); {
	case joined == "":
	case clientID == "":
		clientID = joined
	case clientID != joined:
		h.log.WarnContext(ctx, "chat send client id differs from join",
			logger.Room(roomName),
			logger.ClientID(clientID),
			zap.String("joined_client_id", joined),
			zap.String("username", c.Username))
	}

	msg := room.ChatMessage{
		Room:     roomName,
		Message:  req.Message,
		ClientID: clientID,
		TS:       req.TS,
		Username: c.Username,
	}
	if msg.TS == "" {
		msg.TS = h.clock().UTC().Format(time.RFC3339Nano)
	}

	unlock := h.locks.lock(roomName)
	defer unlock()

	if err := h.store.Append(ctx, roomName, msg); err != nil {
		h.log.ErrorContext(ctx, "append backlog failed", logger.Room(roomName), zap.Error(err))
	}
	return h.broker.Publish(ctx, msg)
}
