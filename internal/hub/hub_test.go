package hub

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/tokmz/forum/internal/auth"
	"github.com/tokmz/forum/internal/backlog"
	"github.com/tokmz/forum/pkg/logger"
	"github.com/tokmz/forum/pkg/room"
	"github.com/tokmz/forum/pkg/ws"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type testServer struct {
	m     *ws.Manager
	hub   *Hub
	store backlog.Store
	srv   *httptest.Server
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	m, err := ws.NewManager(nil, ws.WithAllowAllOrigins())
	require.NoError(t, err)
	store, err := backlog.NewWithOptions(backlog.WithSize(50))
	require.NoError(t, err)

	h := New(m, store, opts...)
	require.NoError(t, h.Register(context.Background()))
	m.Run()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = m.HandleUpgrade(w, r, ws.WithUsername(r.URL.Query().Get("username")))
	}))
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		assert.NoError(t, m.Shutdown(ctx))
		assert.NoError(t, h.Close())
		assert.NoError(t, store.Close())
	})
	return &testServer{m: m, hub: h, store: store, srv: srv}
}

func (s *testServer) socket(t *testing.T, username string) *ws.Socket {
	t.Helper()
	cfg := ws.DefaultSocketConfig()
	cfg.InitialInterval = 20 * time.Millisecond
	cfg.MaxInterval = 100 * time.Millisecond
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "?username=" + username
	sock := ws.NewSocket(url, ws.WithSocketConfig(cfg))
	t.Cleanup(func() { _ = sock.Close() })
	return sock
}

func (s *testServer) panel(t *testing.T, username, roomName string, clientID room.ClientID, opts ...room.Option) (*room.Panel, *ws.Socket) {
	t.Helper()
	sock := s.socket(t, username)
	ctrl := room.NewController(sock, append([]room.Option{room.WithJoinTimeout(0)}, opts...)...)
	t.Cleanup(ctrl.Close)
	p := room.NewPanel(ctrl, roomName, clientID)
	require.NoError(t, p.Open())
	return p, sock
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func waitJoined(t *testing.T, p *room.Panel) {
	t.Helper()
	require.Eventually(t, func() bool { return p.View().State == room.Joined }, waitFor, tick)
}

func TestJoinDeliversBacklogAndPresence(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	for _, text := range []string{"first", "second"} {
		require.NoError(t, s.store.Append(ctx, "lobby", room.ChatMessage{Room: "lobby", Message: text, ClientID: "old", TS: text}))
	}

	p, _ := s.panel(t, "alice", "lobby", "c1")
	waitJoined(t, p)
	require.Eventually(t, func() bool {
		v := p.View()
		return len(v.Entries) == 2 && v.Presence == 1
	}, waitFor, tick)
	assert.Equal(t, "first", p.View().Entries[0].Message.Text)
}

func TestSendIsEchoedOnce(t *testing.T) {
	s := newTestServer(t)
	p, _ := s.panel(t, "alice", "lobby", "c1")
	waitJoined(t, p)

	require.NoError(t, p.Submit("hi"))
	require.Eventually(t, func() bool {
		v := p.View()
		return len(v.Entries) == 1 && v.Entries[0].State == room.Confirmed
	}, waitFor, tick)

	v := p.View()
	assert.Equal(t, "alice", v.Entries[0].Message.Username)
	assert.True(t, v.Entries[0].Self)

	recent, err := s.store.Recent(context.Background(), "lobby")
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "hi", recent[0].Message)
}

func TestTwoClientsSeeEachOther(t *testing.T) {
	s := newTestServer(t)
	p1, _ := s.panel(t, "alice", "lobby", "c1")
	p2, _ := s.panel(t, "bob", "lobby", "c2")
	waitJoined(t, p1)
	waitJoined(t, p2)
	require.Eventually(t, func() bool { return p1.View().Presence == 2 && p2.View().Presence == 2 }, waitFor, tick)

	require.NoError(t, p1.Submit("from alice"))
	require.NoError(t, p2.Submit("from bob"))

	for _, tc := range []struct {
		p    *room.Panel
		self string
	}{{p1, "from alice"}, {p2, "from bob"}} {
		require.Eventually(t, func() bool {
			v := tc.p.View()
			if len(v.Entries) != 2 {
				return false
			}
			for _, e := range v.Entries {
				if e.State != room.Confirmed {
					return false
				}
			}
			return true
		}, waitFor, tick)
		for _, e := range tc.p.View().Entries {
			assert.Equal(t, e.Message.Text == tc.self, e.Self)
		}
	}
}

func TestLeaveAndDisconnectRebroadcastPresence(t *testing.T) {
	s := newTestServer(t)
	p1, _ := s.panel(t, "alice", "lobby", "c1")
	p2, _ := s.panel(t, "bob", "lobby", "c2")
	p3, sock3 := s.panel(t, "carol", "lobby", "c3")
	waitJoined(t, p3)
	require.Eventually(t, func() bool { return p1.View().Presence == 3 }, waitFor, tick)

	require.NoError(t, p2.Close())
	require.Eventually(t, func() bool { return p1.View().Presence == 2 }, waitFor, tick)

	require.NoError(t, sock3.Close())
	require.Eventually(t, func() bool { return p1.View().Presence == 1 }, waitFor, tick)
	assert.Equal(t, 1, s.m.RoomSize("lobby"))
}

func collect[T any](t *testing.T, sock *ws.Socket, event string, size int) chan T {
	ch := make(chan T, size)
	sock.On(event, func(data json.RawMessage) {
		var v T
		assert.NoError(t, json.Unmarshal(data, &v))
		select {
		case ch <- v:
		default:
		}
	})
	return ch
}

func TestSendValidation(t *testing.T) {
	s := newTestServer(t)
	sock := s.socket(t, "mallory")
	errs := collect[room.ErrorEvent](t, sock, room.EventError, 4)
	connected := make(chan struct{}, 1)
	sock.On(ws.EventConnect, func(json.RawMessage) { signal(connected) })
	sock.Open()
	<-connected

	require.NoError(t, sock.Emit(room.EventSend, room.SendRequest{Room: "lobby", Message: "hi", ClientID: "m1"}))
	assert.Equal(t, room.ErrorEvent{Room: "lobby", Error: "not in room"}, <-errs)

	require.NoError(t, sock.Emit(room.EventSend, room.SendRequest{Room: "lobby", Message: "   ", ClientID: "m1"}))
	assert.Equal(t, room.ErrorEvent{Room: "lobby", Error: "empty message"}, <-errs)

	require.NoError(t, sock.Emit(room.EventJoin, room.JoinRequest{Room: "", ClientID: "m1"}))
	assert.Equal(t, room.ErrorEvent{Error: "room is required"}, <-errs)

	require.NoError(t, sock.Emit(room.EventJoin, room.JoinRequest{Room: " ", ClientID: "m1"}))
	assert.Equal(t, room.ErrorEvent{Room: " ", Error: "invalid room name"}, <-errs)
}

func TestPaddedRoomNameIsRejected(t *testing.T) {
	s := newTestServer(t)

	ctrl := room.NewController(s.socket(t, "alice"), room.WithJoinTimeout(0))
	t.Cleanup(ctrl.Close)
	assert.ErrorIs(t, room.NewPanel(ctrl, " lobby", "c1").Open(), room.ErrInvalidRoom)
	assert.Empty(t, ctrl.Rooms())

	sock := s.socket(t, "bob")
	errs := collect[room.ErrorEvent](t, sock, room.EventError, 4)
	backlogs := collect[room.BacklogEvent](t, sock, room.EventBacklog, 4)
	connected := make(chan struct{}, 1)
	sock.On(ws.EventConnect, func(json.RawMessage) { signal(connected) })
	sock.Open()
	<-connected

	require.NoError(t, sock.Emit(room.EventJoin, room.JoinRequest{Room: " lobby", ClientID: "c2"}))
	assert.Equal(t, room.ErrorEvent{Room: " lobby", Error: "invalid room name"}, <-errs)
	require.NoError(t, sock.Emit(room.EventSend, room.SendRequest{Room: "lobby\t", Message: "hi", ClientID: "c2"}))
	assert.Equal(t, room.ErrorEvent{Room: "lobby\t", Error: "invalid room name"}, <-errs)

	assert.Empty(t, backlogs)
	assert.Zero(t, s.m.RoomSize("lobby"))
	assert.Zero(t, s.m.RoomCount())
}

// entryHook 记录写出的日志
type entryHook struct {
	mu      sync.Mutex
	entries []zapcore.Entry
	fields  [][]zapcore.Field
}

func (h *entryHook) OnWrite(e zapcore.Entry, fields []zapcore.Field) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	h.fields = append(h.fields, fields)
	return nil
}

func (h *entryHook) find(msg string) map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.entries {
		if e.Message == msg {
			enc := zapcore.NewMapObjectEncoder()
			for _, f := range h.fields[i] {
				f.AddTo(enc)
			}
			return enc.Fields
		}
	}
	return nil
}

func TestSendUsesJoinedClientID(t *testing.T) {
	hook := &entryHook{}
	log, err := logger.NewWithOptions(logger.WithOutput(io.Discard), logger.WithHook(hook), logger.WithLevel(logger.WarnLevel))
	require.NoError(t, err)
	s := newTestServer(t, WithLogger(log))

	sock := s.socket(t, "alice")
	backlogs := collect[room.BacklogEvent](t, sock, room.EventBacklog, 4)
	msgs := collect[room.ChatMessage](t, sock, room.EventMessage, 4)
	connected := make(chan struct{}, 1)
	sock.On(ws.EventConnect, func(json.RawMessage) { signal(connected) })
	sock.Open()
	<-connected

	require.NoError(t, sock.Emit(room.EventJoin, room.JoinRequest{Room: "lobby", ClientID: "c1"}))
	<-backlogs

	require.NoError(t, sock.Emit(room.EventSend, room.SendRequest{Room: "lobby", Message: "hi", TS: "t1"}))
	got := <-msgs
	assert.Equal(t, "c1", got.ClientID)
	assert.Nil(t, hook.find("chat send client id differs from join"))

	require.NoError(t, sock.Emit(room.EventSend, room.SendRequest{Room: "lobby", Message: "other", ClientID: "c2", TS: "t2"}))
	got = <-msgs
	assert.Equal(t, "c2", got.ClientID)
	fields := hook.find("chat send client id differs from join")
	require.NotNil(t, fields)
	assert.Equal(t, "c2", fields["client_id"])
	assert.Equal(t, "c1", fields["joined_client_id"])

	recent, err := s.store.Recent(context.Background(), "lobby")
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c1", recent[0].ClientID)

	// 离开后重新加入以新的标识为准
	require.NoError(t, sock.Emit(room.EventLeave, room.LeaveRequest{Room: "lobby", ClientID: "c1"}))
	require.NoError(t, sock.Emit(room.EventJoin, room.JoinRequest{Room: "lobby", ClientID: "c3"}))
	<-backlogs
	require.NoError(t, sock.Emit(room.EventSend, room.SendRequest{Room: "lobby", Message: "again", TS: "t3"}))
	got = <-msgs
	assert.Equal(t, "c3", got.ClientID)
}

// 加入与发送交错：每条消息恰好出现在快照或实时消息之一，且实时消息不早于快照
func TestJoinDuringSendsSeesEachMessageOnce(t *testing.T) {
	const total = 40
	s := newTestServer(t)

	sender := s.socket(t, "alice")
	senderJoined := collect[room.BacklogEvent](t, sender, room.EventBacklog, 1)
	connected := make(chan struct{}, 1)
	sender.On(ws.EventConnect, func(json.RawMessage) { signal(connected) })
	sender.Open()
	<-connected
	require.NoError(t, sender.Emit(room.EventJoin, room.JoinRequest{Room: "lobby", ClientID: "c1"}))
	<-senderJoined

	joiner := s.socket(t, "bob")
	type seen struct {
		backlog bool
		ts      []string
	}
	events := make(chan seen, 2*total+1)
	joiner.On(room.EventBacklog, func(data json.RawMessage) {
		var e room.BacklogEvent
		assert.NoError(t, json.Unmarshal(data, &e))
		ev := seen{backlog: true}
		for _, m := range e.Messages {
			ev.ts = append(ev.ts, m.TS)
		}
		events <- ev
	})
	joiner.On(room.EventMessage, func(data json.RawMessage) {
		var m room.ChatMessage
		assert.NoError(t, json.Unmarshal(data, &m))
		events <- seen{ts: []string{m.TS}}
	})
	joinerConnected := make(chan struct{}, 1)
	joiner.On(ws.EventConnect, func(json.RawMessage) { signal(joinerConnected) })
	joiner.Open()
	<-joinerConnected

	go func() {
		for i := range total {
			_ = sender.Emit(room.EventSend, room.SendRequest{Room: "lobby", Message: "m", ClientID: "c1", TS: strconv.Itoa(i)})
			if i == total/2 {
				_ = joiner.Emit(room.EventJoin, room.JoinRequest{Room: "lobby", ClientID: "c2"})
			}
		}
	}()

	counts := make(map[string]int)
	first := <-events
	require.True(t, first.backlog, "live message arrived before backlog")
	for _, ts := range first.ts {
		counts[ts]++
	}
	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-events:
				assert.False(t, ev.backlog)
				for _, ts := range ev.ts {
					counts[ts]++
				}
			default:
				return len(counts) == total
			}
		}
	}, waitFor, tick)
	for ts, n := range counts {
		assert.Equal(t, 1, n, "ts %s", ts)
	}
}

func TestRoomLocks(t *testing.T) {
	l := newRoomLocks()
	unlock := l.lock("lobby")
	assert.Equal(t, 1, l.len())

	acquired := make(chan struct{})
	go func() {
		release := l.lock("lobby")
		close(acquired)
		release()
	}()
	other := l.lock("general")
	other()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held room lock")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-acquired
	assert.Eventually(t, func() bool { return l.len() == 0 }, waitFor, tick)
}

func TestServerAssignsTimestamp(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	s := newTestServer(t, WithClock(func() time.Time { return fixed }))
	p, _ := s.panel(t, "alice", "lobby", "c1")
	waitJoined(t, p)

	sock := s.socket(t, "bob")
	connected := make(chan struct{}, 1)
	sock.On(ws.EventConnect, func(json.RawMessage) { signal(connected) })
	backlogs := make(chan struct{}, 1)
	sock.On(room.EventBacklog, func(json.RawMessage) { signal(backlogs) })
	sock.Open()
	<-connected
	require.NoError(t, sock.Emit(room.EventJoin, room.JoinRequest{Room: "lobby", ClientID: "c2"}))
	<-backlogs
	require.NoError(t, sock.Emit(room.EventSend, room.SendRequest{Room: "lobby", Message: "no ts", ClientID: "c2"}))

	require.Eventually(t, func() bool { return len(p.View().Entries) == 1 }, waitFor, tick)
	assert.Equal(t, fixed.Format(time.RFC3339Nano), p.View().Entries[0].Message.Timestamp)
}

func TestJoinRequiresValidToken(t *testing.T) {
	cfg := auth.DefaultConfig()
	cfg.Enabled = true
	cfg.Secret = "0123456789abcdef-hub"
	svc, err := auth.NewService(cfg)
	require.NoError(t, err)
	s := newTestServer(t, WithVerifier(svc))

	denied, _ := s.panel(t, "mallory", "lobby", "m1")
	require.Eventually(t, func() bool { return len(denied.View().Notices) == 1 }, waitFor, tick)
	assert.Equal(t, "room lobby: unauthorized", denied.View().Notices[0].Text)
	assert.Zero(t, s.m.RoomSize("lobby"))

	tokens := room.TokenFunc(func(context.Context) (string, error) {
		tok, err := svc.Issue("alice")
		return tok.Token, err
	})
	allowed, _ := s.panel(t, "", "lobby", "c1", room.WithTokenSource(tokens))
	waitJoined(t, allowed)

	require.NoError(t, allowed.Submit("hello"))
	require.Eventually(t, func() bool {
		v := allowed.View()
		return len(v.Entries) == 1 && v.Entries[0].State == room.Confirmed
	}, waitFor, tick)
	assert.Equal(t, "alice", allowed.View().Entries[0].Message.Username)
}
