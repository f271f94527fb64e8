package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/forum/pkg/errors"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func newTestPanel(t *testing.T, ctrl *Controller, room string, clientID ClientID, opts ...PanelOption) (*Panel, *recordingRenderer) {
	t.Helper()
	r := &recordingRenderer{}
	opts = append([]PanelOption{WithRenderer(r), WithClock(fixedClock)}, opts...)
	p := NewPanel(ctrl, room, clientID, opts...)
	require.NoError(t, p.Open())
	t.Cleanup(func() { _ = p.Close() })
	return p, r
}

func texts(v View) []string {
	out := make([]string, len(v.Entries))
	for i, e := range v.Entries {
		out[i] = e.Message.Text
	}
	return out
}

func TestPanelBacklog(t *testing.T) {
	c, ft := newTestController(t)
	ft.connect(t)
	p, r := newTestPanel(t, c, "lobby", "c1")

	ft.deliver(t, EventBacklog, BacklogEvent{Room: "lobby", Messages: []ChatMessage{
		{Room: "lobby", Message: "a", ClientID: "c2", TS: "T1"},
		{Room: "lobby", Message: "b", ClientID: "c3", TS: "T2"},
		{Room: "lobby", Message: "c", ClientID: "c1", TS: "T3"},
	}})

	v := p.View()
	assert.Equal(t, []string{"a", "b", "c"}, texts(v))
	assert.Len(t, p.Keys(), 3)
	assert.Equal(t, Joined, v.State)
	assert.True(t, v.Entries[2].Self)
	assert.False(t, v.Entries[0].Self)
	for _, e := range v.Entries {
		assert.Equal(t, Confirmed, e.State)
	}
	assert.Equal(t, 3, len(r.last.Entries))
}

func TestPanelBacklogReplacesEntries(t *testing.T) {
	c, ft := newTestController(t)
	ft.connect(t)
	p, _ := newTestPanel(t, c, "lobby", "c1")

	ft.deliver(t, EventBacklog, BacklogEvent{Room: "lobby", Messages: []ChatMessage{
		{Room: "lobby", Message: "old", ClientID: "c2", TS: "T1"},
	}})
	ft.deliver(t, EventMessage, ChatMessage{Room: "lobby", Message: "live", ClientID: "c2", TS: "T2"})
	require.Len(t, p.View().Entries, 2)

	ft.deliver(t, EventBacklog, BacklogEvent{Room: "lobby", Messages: []ChatMessage{
		{Room: "lobby", Message: "x", ClientID: "c2", TS: "T5"},
		{Room: "lobby", Message: "x", ClientID: "c2", TS: "T5"},
		{Room: "lobby", Message: "y", ClientID: "c3", TS: "T6"},
	}})
	assert.Equal(t, []string{"x", "y"}, texts(p.View()))
	assert.Len(t, p.Keys(), 2)

	// 旧快照中的消息再次到达时视为新消息
	ft.deliver(t, EventMessage, ChatMessage{Room: "lobby", Message: "old", ClientID: "c2", TS: "T1"})
	assert.Equal(t, []string{"x", "y", "old"}, texts(p.View()))
}

func TestPanelOptimisticEcho(t *testing.T) {
	c, ft := newTestController(t)
	ft.connect(t)
	p, r := newTestPanel(t, c, "lobby", "c1", WithDisplayName("alice"))
	ft.deliver(t, EventBacklog, BacklogEvent{Room: "lobby"})

	require.NoError(t, p.Submit("  hi  "))
	v := p.View()
	require.Len(t, v.Entries, 1)
	assert.Equal(t, Pending, v.Entries[0].State)
	assert.True(t, v.Entries[0].Self)
	assert.Equal(t, "hi", v.Entries[0].Message.Text)
	_, scrolls := r.counts()
	assert.Equal(t, 1, scrolls)

	sends := ft.sends(t)
	require.Len(t, sends, 1)
	ts := fixedNow.Format(time.RFC3339Nano)
	assert.Equal(t, SendRequest{Room: "lobby", Message: "hi", ClientID: "c1", TS: ts}, sends[0])

	echo := ChatMessage{Room: "lobby", Message: "hi", ClientID: "c1", TS: ts, Username: "alice"}
	ft.deliver(t, EventMessage, echo)
	ft.deliver(t, EventMessage, echo)

	v = p.View()
	require.Len(t, v.Entries, 1)
	assert.Equal(t, Confirmed, v.Entries[0].State)
	_, scrolls = r.counts()
	assert.Equal(t, 1, scrolls)
}

func TestPanelTwoClients(t *testing.T) {
	c1, ft1 := newTestController(t)
	c2, ft2 := newTestController(t)
	ft1.connect(t)
	ft2.connect(t)

	p1, _ := newTestPanel(t, c1, "lobby", "c1")
	p2, _ := newTestPanel(t, c2, "lobby", "c2")
	ft1.deliver(t, EventBacklog, BacklogEvent{Room: "lobby"})
	ft2.deliver(t, EventBacklog, BacklogEvent{Room: "lobby"})

	require.NoError(t, p1.Submit("from one"))
	require.NoError(t, p2.Submit("from two"))

	// 服务端向两端广播两条消息
	var msgs []ChatMessage
	for _, s := range append(ft1.sends(t), ft2.sends(t)...) {
		msgs = append(msgs, ChatMessage{Room: s.Room, Message: s.Message, ClientID: s.ClientID, TS: s.TS})
	}
	for _, m := range msgs {
		ft1.deliver(t, EventMessage, m)
		ft2.deliver(t, EventMessage, m)
	}

	for _, tc := range []struct {
		p    *Panel
		self string
	}{{p1, "from one"}, {p2, "from two"}} {
		v := tc.p.View()
		require.Len(t, v.Entries, 2)
		for _, e := range v.Entries {
			assert.Equal(t, Confirmed, e.State)
			assert.Equal(t, e.Message.Text == tc.self, e.Self)
		}
	}
}

func TestPanelPresenceLastWriteWins(t *testing.T) {
	c, ft := newTestController(t)
	ft.connect(t)
	p, r := newTestPanel(t, c, "lobby", "c1")

	for _, n := range []int{3, 7, 5} {
		ft.deliver(t, EventPresence, PresenceEvent{Room: "lobby", Count: n})
	}
	ft.deliver(t, EventPresence, PresenceEvent{Room: "other", Count: 99})
	assert.Equal(t, 5, p.View().Presence)
	assert.Equal(t, 5, r.last.Presence)
}

func TestPanelMessageBeforeBacklog(t *testing.T) {
	c, ft := newTestController(t)
	ft.connect(t)
	p, _ := newTestPanel(t, c, "lobby", "c1")

	ft.deliver(t, EventMessage, ChatMessage{Room: "lobby", Message: "early", ClientID: "c2", TS: "T1"})
	ft.deliver(t, EventBacklog, BacklogEvent{Room: "lobby", Messages: []ChatMessage{
		{Room: "lobby", Message: "a", ClientID: "c2", TS: "T0"},
	}})
	assert.Equal(t, []string{"a"}, texts(p.View()))
}

func TestPanelSubmitValidation(t *testing.T) {
	c, ft := newTestController(t)
	ft.connect(t)
	p, _ := newTestPanel(t, c, "lobby", "c1")

	assert.True(t, errors.Is(p.Submit("   "), ErrEmptyMessage))
	assert.Empty(t, ft.sends(t))
	assert.Empty(t, p.View().Entries)
}

func TestPanelSubmitWhileDisconnected(t *testing.T) {
	c, ft := newTestController(t)
	p, _ := newTestPanel(t, c, "lobby", "c1")

	err := p.Submit("offline")
	assert.True(t, errors.Is(err, ErrNotConnected))

	v := p.View()
	require.Len(t, v.Entries, 1)
	assert.Equal(t, Pending, v.Entries[0].State)
	require.Len(t, v.Notices, 1)

	assert.True(t, p.Dismiss(v.Notices[0].ID))
	assert.False(t, p.Dismiss(v.Notices[0].ID))
	assert.Empty(t, p.View().Notices)

	// 后续发送不受提示影响
	ft.connect(t)
	assert.NoError(t, p.Submit("online"))
	assert.Len(t, p.View().Entries, 2)
}

func TestPanelRoomErrorNotices(t *testing.T) {
	c, ft := newTestController(t)
	ft.connect(t)
	p, _ := newTestPanel(t, c, "lobby", "c1")

	ft.deliver(t, EventError, ErrorEvent{Room: "lobby", Error: "unauthorized"})
	ft.deliver(t, EventError, ErrorEvent{Room: "other", Error: "not for us"})
	ft.deliver(t, EventError, ErrorEvent{Error: "server busy"})

	notices := p.View().Notices
	require.Len(t, notices, 2)
	assert.Equal(t, "room lobby: unauthorized", notices[0].Text)
	assert.Equal(t, "server busy", notices[1].Text)
	assert.Equal(t, fixedNow, notices[0].At)

	require.NoError(t, p.Submit("still works"))
	assert.Len(t, p.View().Entries, 1)
}

func TestPanelCloseStopsUpdates(t *testing.T) {
	c, ft := newTestController(t)
	ft.connect(t)
	p, r := newTestPanel(t, c, "lobby", "c1")
	ft.deliver(t, EventBacklog, BacklogEvent{Room: "lobby", Messages: []ChatMessage{
		{Room: "lobby", Message: "a", ClientID: "c2", TS: "T1"},
	}})

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Empty(t, c.Rooms())
	assert.Zero(t, ft.listenerCount(EventMessage))
	assert.Len(t, decodeEmits[LeaveRequest](t, ft, EventLeave), 1)

	renders, _ := r.counts()
	ft.deliver(t, EventMessage, ChatMessage{Room: "lobby", Message: "late", ClientID: "c2", TS: "T2"})
	ft.deliver(t, EventPresence, PresenceEvent{Room: "lobby", Count: 4})
	after, _ := r.counts()
	assert.Equal(t, renders, after)
	assert.Equal(t, []string{"a"}, texts(p.View()))

	assert.True(t, errors.Is(p.Submit("x"), ErrPanelClosed))
	assert.True(t, errors.Is(p.Open(), ErrPanelClosed))
}

func TestPanelsShareController(t *testing.T) {
	c, ft := newTestController(t)
	ft.connect(t)
	lobby, _ := newTestPanel(t, c, "lobby", "c1")
	announce, _ := newTestPanel(t, c, "announce", "c1")

	ft.deliver(t, EventMessage, ChatMessage{Room: "lobby", Message: "l", ClientID: "c2", TS: "T1"})
	ft.deliver(t, EventMessage, ChatMessage{Room: "announce", Message: "a", ClientID: "c2", TS: "T1"})

	assert.Equal(t, []string{"l"}, texts(lobby.View()))
	assert.Equal(t, []string{"a"}, texts(announce.View()))

	require.NoError(t, lobby.Close())
	assert.Equal(t, []string{"announce"}, c.Rooms())
	assert.Equal(t, 1, ft.listenerCount(EventMessage))
}
