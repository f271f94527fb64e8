package ws

import (
	"encoding/json"
	"sync"
)

// listener 一个事件监听器
type listener struct {
	id uint64
	fn func(json.RawMessage)
}

// listenerSet 按事件名登记的监听器，同一事件按注册顺序调用
type listenerSet struct {
	mu     sync.Mutex
	nextID uint64
	byName map[string][]listener
}

func newListenerSet() *listenerSet {
	return &listenerSet{byName: make(map[string][]listener)}
}

// add 注册监听器，返回幂等的注销函数
func (s *listenerSet) add(event string, fn func(json.RawMessage)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.byName[event] = append(s.byName[event], listener{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(event, id) })
	}
}

// remove 注销监听器
func (s *listenerSet) remove(event string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls := s.byName[event]
	for i, l := range ls {
		if l.id == id {
			// 复制而非原地修改，正在分发的快照不受影响
			next := make([]listener, 0, len(ls)-1)
			next = append(next, ls[:i]...)
			next = append(next, ls[i+1:]...)
			if len(next) == 0 {
				delete(s.byName, event)
			} else {
				s.byName[event] = next
			}
			return
		}
	}
}

// snapshot 当前监听器快照
func (s *listenerSet) snapshot(event string) []listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byName[event]
}

// count 事件的监听器数量
func (s *listenerSet) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byName[event])
}

// dispatch 依次调用监听器；监听器在分发过程中被注销时不再调用
func (s *listenerSet) dispatch(event string, data json.RawMessage) {
	for _, l := range s.snapshot(event) {
		if !s.alive(event, l.id) {
			continue
		}
		l.fn(data)
	}
}

// alive 监听器是否仍在注册中
func (s *listenerSet) alive(event string, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.byName[event] {
		if l.id == id {
			return true
		}
	}
	return false
}
