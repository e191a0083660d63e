package relay

import "sync"

// handleLocks serializes engine operations per identity handle, so that
// goOnline, deliverOrQueue and disconnect interleavings for the same handle
// cannot race (e.g. a message queued durably just after the owner connection
// was bound). Operations on distinct handles proceed concurrently. Entries
// are refcounted and dropped when idle to keep the table bounded.
type handleLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (l *handleLocks) lock(handle string) (unlock func()) {
	l.mu.Lock()
	if l.entries == nil {
		l.entries = make(map[string]*lockEntry)
	}
	e, ok := l.entries[handle]
	if !ok {
		e = &lockEntry{}
		l.entries[handle] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, handle)
		}
		l.mu.Unlock()
	}
}
