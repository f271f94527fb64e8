package hub

import "sync"

// roomLocks 按房间名分配的互斥锁，无人持有时回收
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[string]*roomLock)}
}

// lock 持有房间锁，返回释放函数
func (l *roomLocks) lock(name string) func() {
	l.mu.Lock()
	rl, ok := l.locks[name]
	if !ok {
		rl = &roomLock{}
		l.locks[name] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, name)
		}
		l.mu.Unlock()
	}
}

func (l *roomLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
