package main

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/forum/pkg/room"
)

// loopTransport 已连接的内存 Transport，同步分发
type loopTransport struct {
	mu        sync.Mutex
	listeners map[string][]func(json.RawMessage)
	emits     []string
}

func (l *loopTransport) Open() {}

func (l *loopTransport) On(event string, fn func(json.RawMessage)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listeners == nil {
		l.listeners = make(map[string][]func(json.RawMessage))
	}
	l.listeners[event] = append(l.listeners[event], fn)
	idx := len(l.listeners[event]) - 1
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.listeners[event][idx] = nil
	}
}

func (l *loopTransport) Emit(event string, data any) error {
	l.mu.Lock()
	l.emits = append(l.emits, event)
	l.mu.Unlock()
	return nil
}

func (l *loopTransport) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	l.mu.Lock()
	fns := append([]func(json.RawMessage){}, l.listeners[event]...)
	l.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn(raw)
		}
	}
}

func (l *loopTransport) emitted() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.emits...)
}

type lockedBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

func newTestTerminal(t *testing.T) (*terminal, *loopTransport, *lockedBuffer) {
	t.Helper()
	tr := &loopTransport{}
	ctrl := room.NewController(tr, room.WithJoinTimeout(0))
	t.Cleanup(ctrl.Close)
	out := &lockedBuffer{}
	fixed := func() time.Time { return time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC) }
	term := newTerminal(out, func(roomName string, r room.Renderer) *room.Panel {
		return room.NewPanel(ctrl, roomName, "me", room.WithRenderer(r), room.WithClock(fixed), room.WithDisplayName("alice"))
	})
	return term, tr, out
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line, cmd, arg string
	}{
		{"", "", ""},
		{"   ", "", ""},
		{"hello there", "say", "hello there"},
		{"/join lobby", "join", "lobby"},
		{"/JOIN  math ", "join", "math"},
		{"/leave", "leave", ""},
		{"/dismiss 3", "dismiss", "3"},
	}
	for _, tt := range tests {
		cmd, arg := parseCommand(tt.line)
		assert.Equal(t, tt.cmd, cmd, tt.line)
		assert.Equal(t, tt.arg, arg, tt.line)
	}
}

func TestSocketURL(t *testing.T) {
	u, err := socketURL("http://127.0.0.1:8080/", "alice b")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8080/ws?username=alice+b", u)

	u, err = socketURL("https://chat.example.edu", "bob")
	require.NoError(t, err)
	assert.Equal(t, "wss://chat.example.edu/ws?username=bob", u)

	_, err = socketURL("ftp://x", "bob")
	assert.Error(t, err)
}

func TestFormatEntry(t *testing.T) {
	msg := room.Message{Room: "lobby", Text: "hi", SenderID: "c1", Username: "alice"}
	assert.Equal(t, "[lobby] alice (me): hi (sending)", formatEntry(room.Entry{Message: msg, State: room.Pending, Self: true}))
	msg.Username = ""
	assert.Equal(t, "[lobby] c1: hi", formatEntry(room.Entry{Message: msg, State: room.Confirmed}))
}

func TestTerminalRoomCommands(t *testing.T) {
	term, tr, out := newTestTerminal(t)

	assert.False(t, term.handle("/join lobby"))
	assert.False(t, term.handle("/join math"))
	assert.Equal(t, []string{room.EventJoin, room.EventJoin}, tr.emitted())

	tr.deliver(t, room.EventBacklog, room.BacklogEvent{Room: "lobby", Messages: []room.ChatMessage{
		{Room: "lobby", Message: "earlier", ClientID: "c2", TS: "t0", Username: "bob"},
	}})
	tr.deliver(t, room.EventPresence, room.PresenceEvent{Room: "lobby", Count: 2})

	term.handle("/switch lobby")
	term.handle("hello")
	tr.deliver(t, room.EventMessage, room.ChatMessage{Room: "lobby", Message: "hello", ClientID: "me", TS: "2024-05-01T08:00:00Z", Username: "alice"})

	term.handle("/rooms")
	term.handle("/leave")
	term.handle("/leave nowhere")
	assert.True(t, term.handle("/quit"))

	text := out.String()
	assert.Contains(t, text, "[lobby] bob: earlier")
	assert.Contains(t, text, "[lobby] 2 online")
	assert.Contains(t, text, "[lobby] alice (me): hello (sending)")
	assert.Equal(t, 1, strings.Count(text, "alice (me): hello"))
	assert.Contains(t, text, "* lobby")
	assert.Contains(t, text, "left lobby")
	assert.Contains(t, text, "switched to math")
	assert.Contains(t, text, `not in room "nowhere"`)
	assert.Equal(t, []string{room.EventJoin, room.EventJoin, room.EventSend, room.EventLeave}, tr.emitted())
}

func TestTerminalNotices(t *testing.T) {
	term, tr, out := newTestTerminal(t)

	term.handle("hi")
	assert.Contains(t, out.String(), "no active room")

	term.handle("/join lobby")
	tr.deliver(t, room.EventError, room.ErrorEvent{Room: "lobby", Error: "unauthorized"})
	assert.Contains(t, out.String(), "! #")
	assert.Contains(t, out.String(), "room lobby: unauthorized")

	view := term.current().View()
	require.Len(t, view.Notices, 1)
	term.handle("/dismiss " + strconv.Itoa(view.Notices[0].ID))
	assert.Empty(t, term.current().View().Notices)

	term.handle("/dismiss 99")
	assert.Contains(t, out.String(), "no notice #99")
	term.handle("/bogus")
	assert.Contains(t, out.String(), "unknown command /bogus")
}

func TestTerminalRunStopsOnQuit(t *testing.T) {
	term, tr, _ := newTestTerminal(t)
	in := strings.NewReader("/join lobby\n/quit\n")
	require.NoError(t, term.run(context.Background(), in))
	// 退出时离开所有房间
	assert.Equal(t, []string{room.EventJoin, room.EventLeave}, tr.emitted())
}
