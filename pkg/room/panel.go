package room

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/forum/pkg/logger"
)

// Renderer 面板输出
type Renderer interface {
	// Render 每次状态变化后调用，参数为快照
	Render(View)
	// ScrollToEnd 每追加一条消息后调用
	ScrollToEnd()
}

// Notice 可关闭的内联提示
type Notice struct {
	ID   int
	Text string
	At   time.Time
}

// View 面板快照
type View struct {
	Room     string
	Entries  []Entry
	Presence int
	Notices  []Notice
	State    JoinState
}

// PanelOption 面板选项
type PanelOption func(*Panel)

// WithRenderer 设置输出
func WithRenderer(r Renderer) PanelOption {
	return func(p *Panel) {
		p.renderer = r
	}
}

// WithClock 设置时钟（生成本地时间戳）
func WithClock(clock func() time.Time) PanelOption {
	return func(p *Panel) {
		p.clock = clock
	}
}

// WithDisplayName 设置本会话的显示名
func WithDisplayName(name string) PanelOption {
	return func(p *Panel) {
		p.displayName = name
	}
}

// Panel 单个房间的视图模型
type Panel struct {
	ctrl        *Controller
	room        string
	clientID    ClientID
	renderer    Renderer
	clock       func() time.Time
	displayName string
	log         logger.Logger

	mu         sync.Mutex
	sub        *Subscription
	entries    []Entry
	index      map[DedupKey]int // 去重集合，值为 entries 下标
	presence   int
	notices    []Notice
	nextNotice int
	closed     bool
}

// NewPanel 创建面板，Open 后才加入房间
func NewPanel(ctrl *Controller, room string, clientID ClientID, opts ...PanelOption) *Panel {
	p := &Panel{
		ctrl:     ctrl,
		room:     room,
		clientID: clientID,
		clock:    time.Now,
		index:    make(map[DedupKey]int),
		log:      ctrl.log.With(logger.Room(room)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open 加入房间
func (p *Panel) Open() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPanelClosed
	}
	if p.sub != nil {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	sub, err := p.ctrl.Join(p.room, p.clientID, Handlers{
		OnBacklog:  p.onBacklog,
		OnPresence: p.onPresence,
		OnMessage:  p.onMessage,
		OnError:    p.onError,
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.sub = sub
	p.mu.Unlock()
	p.render(false)
	return nil
}

// Close 离开房间并注销监听器，之后所有事件不再改变面板（幂等）
func (p *Panel) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	sub := p.sub
	p.mu.Unlock()

	if sub == nil {
		return nil
	}
	err := p.ctrl.Leave(p.room, p.clientID)
	sub.Close()
	return err
}

// Submit 乐观发送：先写入去重集合并显示为 Pending，再发送
// 发送失败时保留 Pending 条目并显示提示
func (p *Panel) Submit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPanelClosed
	}
	msg := Message{
		Room:      p.room,
		Text:      text,
		SenderID:  p.clientID,
		Timestamp: p.clock().UTC().Format(time.RFC3339Nano),
		Username:  p.displayName,
	}
	appended, _ := p.insertLocked(msg, Pending)
	p.mu.Unlock()
	p.render(appended)

	if err := p.ctrl.SendMessage(p.room, text, p.clientID, msg.Timestamp); err != nil {
		p.log.Warn("room send failed", zap.Error(err))
		p.notify(err.Error())
		return err
	}
	return nil
}

// Dismiss 关闭提示
func (p *Panel) Dismiss(id int) bool {
	p.mu.Lock()
	found := false
	for i, n := range p.notices {
		if n.ID == id {
			p.notices = append(p.notices[:i:i], p.notices[i+1:]...)
			found = true
			break
		}
	}
	p.mu.Unlock()
	if found {
		p.render(false)
	}
	return found
}

// View 当前快照
func (p *Panel) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewLocked()
}

// Keys 去重集合（按条目顺序）
func (p *Panel) Keys() []DedupKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]DedupKey, len(p.entries))
	for i, e := range p.entries {
		keys[i] = e.Message.Key()
	}
	return keys
}

// Room 房间名
func (p *Panel) Room() string { return p.room }

// onBacklog 整体替换消息列表并重建去重集合
func (p *Panel) onBacklog(msgs []Message) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.entries = make([]Entry, 0, len(msgs))
	p.index = make(map[DedupKey]int, len(msgs))
	for _, m := range msgs {
		p.insertLocked(m, Confirmed)
	}
	p.mu.Unlock()
	p.render(false)
}

// onPresence 后到覆盖
func (p *Panel) onPresence(n int) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.presence = n
	p.mu.Unlock()
	p.render(false)
}

// onMessage 去重追加；自己的乐观回显在此被确认
func (p *Panel) onMessage(m Message) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	appended, changed := p.insertLocked(m, Confirmed)
	p.mu.Unlock()
	if changed {
		p.render(appended)
	}
}

func (p *Panel) onError(err error) {
	p.notify(err.Error())
}

// notify 追加提示，不影响消息列表与后续发送
func (p *Panel) notify(text string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.nextNotice++
	p.notices = append(p.notices, Notice{ID: p.nextNotice, Text: text, At: p.clock()})
	p.mu.Unlock()
	p.render(false)
}

// insertLocked 按键合并；新键追加时 appended 为 true，Pending 被确认时 changed 为 true
func (p *Panel) insertLocked(m Message, state EntryState) (appended, changed bool) {
	key := m.Key()
	if i, ok := p.index[key]; ok {
		if state != Confirmed {
			return false, false
		}
		merged := p.entries[i].merge(m)
		if merged == p.entries[i] {
			return false, false
		}
		p.entries[i] = merged
		return false, true
	}
	p.index[key] = len(p.entries)
	p.entries = append(p.entries, Entry{
		Message: m,
		State:   state,
		Self:    m.SenderID == p.clientID,
	})
	return true, true
}

func (p *Panel) viewLocked() View {
	v := View{
		Room:     p.room,
		Entries:  append([]Entry(nil), p.entries...),
		Presence: p.presence,
		Notices:  append([]Notice(nil), p.notices...),
		State:    NotJoined,
	}
	if p.sub != nil {
		v.State = p.sub.State()
	}
	return v
}

// render 在锁外调用渲染器
func (p *Panel) render(scroll bool) {
	if p.renderer == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	v := p.viewLocked()
	p.mu.Unlock()

	p.renderer.Render(v)
	if scroll {
		p.renderer.ScrollToEnd()
	}
}
