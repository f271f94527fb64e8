package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tokmz/forum/pkg/room"
)

const helpText = `commands:
  /join <room>     加入并切换到房间
  /leave [room]    离开房间（缺省为当前房间）
  /switch <room>   切换当前房间
  /rooms           列出已加入的房间
  /dismiss <id>    关闭当前房间的提示
  /quit            退出
其余输入发送到当前房间`

// panelFactory 创建房间面板
type panelFactory func(roomName string, r room.Renderer) *room.Panel

// terminal 行式终端界面，每个房间一个面板
type terminal struct {
	out      io.Writer
	outMu    sync.Mutex
	newPanel panelFactory

	mu     sync.Mutex
	panels map[string]*room.Panel
	active string
}

func newTerminal(out io.Writer, newPanel panelFactory) *terminal {
	return &terminal{
		out:      out,
		newPanel: newPanel,
		panels:   make(map[string]*room.Panel),
	}
}

func (t *terminal) printf(format string, a ...any) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	_, _ = fmt.Fprintf(t.out, format, a...)
}

// run 逐行读取输入直到 /quit、EOF 或 ctx 取消
func (t *terminal) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	defer t.closeAll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if quit := t.handle(line); quit {
				return nil
			}
		}
	}
}

// handle 处理一行输入，返回是否退出
func (t *terminal) handle(line string) bool {
	cmd, arg := parseCommand(line)
	switch cmd {
	case "":
		return false
	case "quit":
		return true
	case "help":
		t.printf("%s\n", helpText)
	case "join":
		t.join(arg)
	case "leave":
		t.leave(arg)
	case "switch":
		t.switchTo(arg)
	case "rooms":
		t.listRooms()
	case "dismiss":
		t.dismiss(arg)
	case "say":
		t.say(arg)
	default:
		t.printf("unknown command /%s, try /help\n", cmd)
	}
	return false
}

// parseCommand 解析输入行，普通文本视为 say
func parseCommand(line string) (cmd, arg string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ""
	}
	if !strings.HasPrefix(line, "/") {
		return "say", line
	}
	cmd, arg, _ = strings.Cut(line[1:], " ")
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func (t *terminal) join(roomName string) {
	if roomName == "" {
		t.printf("usage: /join <room>\n")
		return
	}
	t.mu.Lock()
	if _, ok := t.panels[roomName]; ok {
		t.active = roomName
		t.mu.Unlock()
		t.printf("switched to %s\n", roomName)
		return
	}
	t.mu.Unlock()

	p := t.newPanel(roomName, newRoomRenderer(t, roomName))
	if err := p.Open(); err != nil {
		t.printf("join %s: %v\n", roomName, err)
		return
	}

	t.mu.Lock()
	t.panels[roomName] = p
	t.active = roomName
	t.mu.Unlock()
}

func (t *terminal) leave(roomName string) {
	t.mu.Lock()
	if roomName == "" {
		roomName = t.active
	}
	p, ok := t.panels[roomName]
	if ok {
		delete(t.panels, roomName)
		if t.active == roomName {
			t.active = firstRoom(t.panels)
		}
	}
	active := t.active
	t.mu.Unlock()

	if !ok {
		t.printf("not in room %q\n", roomName)
		return
	}
	if err := p.Close(); err != nil {
		t.printf("leave %s: %v\n", roomName, err)
	}
	t.printf("left %s\n", roomName)
	if active != "" {
		t.printf("switched to %s\n", active)
	}
}

func (t *terminal) switchTo(roomName string) {
	t.mu.Lock()
	_, ok := t.panels[roomName]
	if ok {
		t.active = roomName
	}
	t.mu.Unlock()
	if !ok {
		t.printf("not in room %q, use /join\n", roomName)
		return
	}
	t.printf("switched to %s\n", roomName)
}

func (t *terminal) listRooms() {
	t.mu.Lock()
	names := make([]string, 0, len(t.panels))
	for name := range t.panels {
		names = append(names, name)
	}
	sort.Strings(names)
	views := make([]room.View, len(names))
	for i, name := range names {
		views[i] = t.panels[name].View()
	}
	active := t.active
	t.mu.Unlock()

	if len(views) == 0 {
		t.printf("no rooms, use /join <room>\n")
		return
	}
	for _, v := range views {
		marker := " "
		if v.Room == active {
			marker = "*"
		}
		t.printf("%s %-16s %-12s online=%d messages=%d\n", marker, v.Room, v.State, v.Presence, len(v.Entries))
	}
}

func (t *terminal) dismiss(arg string) {
	p := t.current()
	if p == nil {
		t.printf("no active room\n")
		return
	}
	id, err := strconv.Atoi(arg)
	if err != nil {
		t.printf("usage: /dismiss <id>\n")
		return
	}
	if !p.Dismiss(id) {
		t.printf("no notice #%d\n", id)
	}
}

func (t *terminal) say(text string) {
	p := t.current()
	if p == nil {
		t.printf("no active room, use /join <room>\n")
		return
	}
	// 失败时面板已显示提示
	_ = p.Submit(text)
}

func (t *terminal) current() *room.Panel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.panels[t.active]
}

func (t *terminal) closeAll() {
	t.mu.Lock()
	panels := t.panels
	t.panels = make(map[string]*room.Panel)
	t.active = ""
	t.mu.Unlock()
	for _, p := range panels {
		_ = p.Close()
	}
}

func firstRoom(panels map[string]*room.Panel) string {
	first := ""
	for name := range panels {
		if first == "" || name < first {
			first = name
		}
	}
	return first
}

// roomRenderer 只输出增量：新消息、状态与人数变化、新提示
type roomRenderer struct {
	t    *terminal
	room string

	mu         sync.Mutex
	printed    map[room.DedupKey]bool
	state      room.JoinState
	presence   int
	lastNotice int
}

func newRoomRenderer(t *terminal, roomName string) *roomRenderer {
	return &roomRenderer{t: t, room: roomName, printed: make(map[room.DedupKey]bool), lastNotice: -1}
}

func (r *roomRenderer) Render(v room.View) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.State != r.state {
		r.state = v.State
		r.t.printf("[%s] %s\n", r.room, v.State)
	}
	for _, e := range v.Entries {
		key := e.Message.Key()
		if r.printed[key] {
			continue
		}
		r.printed[key] = true
		r.t.printf("%s\n", formatEntry(e))
	}
	if v.Presence != r.presence {
		r.presence = v.Presence
		r.t.printf("[%s] %d online\n", r.room, v.Presence)
	}
	for _, n := range v.Notices {
		if n.ID > r.lastNotice {
			r.lastNotice = n.ID
			r.t.printf("[%s] ! #%d %s\n", r.room, n.ID, n.Text)
		}
	}
}

func (r *roomRenderer) ScrollToEnd() {}

// formatEntry [room] 作者: 正文，本会话的未确认消息带 (sending)
func formatEntry(e room.Entry) string {
	author := e.Message.Author()
	if e.Self {
		author += " (me)"
	}
	line := fmt.Sprintf("[%s] %s: %s", e.Message.Room, author, e.Message.Text)
	if e.State == room.Pending {
		line += " (sending)"
	}
	return line
}
