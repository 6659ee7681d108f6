package orchestrator

import "sync"

// lockTable hands out one mutex per session id. Entries are reference
// counted and dropped when the last holder releases.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sessionLock)}
}

// lock blocks until id is held and returns the release func.
func (t *lockTable) lock(id string) func() {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &sessionLock{}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}

func (t *lockTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
