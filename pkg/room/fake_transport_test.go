package room

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeListener struct {
	id int
	fn func(json.RawMessage)
}

type emitted struct {
	event string
	data  json.RawMessage
}

// fakeTransport 同步分发的内存 Transport
type fakeTransport struct {
	mu        sync.Mutex
	nextID    int
	opened    int
	connected bool
	listeners map[string][]fakeListener
	emits     []emitted
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{listeners: make(map[string][]fakeListener)}
}

func (f *fakeTransport) Open() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
}

func (f *fakeTransport) On(event string, fn func(json.RawMessage)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.listeners[event] = append(f.listeners[event], fakeListener{id: id, fn: fn})
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		ls := f.listeners[event]
		for i, l := range ls {
			if l.id == id {
				f.listeners[event] = append(ls[:i:i], ls[i+1:]...)
				return
			}
		}
	}
}

func (f *fakeTransport) Emit(event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	f.emits = append(f.emits, emitted{event: event, data: raw})
	return nil
}

// deliver 在调用方协程上依次调用监听器
func (f *fakeTransport) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = b
	}
	f.mu.Lock()
	ls := append([]fakeListener(nil), f.listeners[event]...)
	f.mu.Unlock()
	for _, l := range ls {
		l.fn(raw)
	}
}

func (f *fakeTransport) connect(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.deliver(t, EventConnect, nil)
}

func (f *fakeTransport) disconnect(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.deliver(t, EventDisconnect, nil)
}

func (f *fakeTransport) listenerCount(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners[event])
}

func (f *fakeTransport) clearEmits() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = nil
}

func (f *fakeTransport) joins(t *testing.T) []JoinRequest {
	t.Helper()
	return decodeEmits[JoinRequest](t, f, EventJoin)
}

func (f *fakeTransport) sends(t *testing.T) []SendRequest {
	t.Helper()
	return decodeEmits[SendRequest](t, f, EventSend)
}

func decodeEmits[T any](t *testing.T, f *fakeTransport, event string) []T {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []T
	for _, e := range f.emits {
		if e.event != event {
			continue
		}
		var v T
		require.NoError(t, json.Unmarshal(e.data, &v))
		out = append(out, v)
	}
	return out
}

// recordingRenderer 记录渲染调用
type recordingRenderer struct {
	mu      sync.Mutex
	renders int
	scrolls int
	last    View
}

func (r *recordingRenderer) Render(v View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders++
	r.last = v
}

func (r *recordingRenderer) ScrollToEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scrolls++
}

func (r *recordingRenderer) counts() (renders, scrolls int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renders, r.scrolls
}
