package relay

import "sync"

// Registry maps each online handle to the one session currently authorized to
// act as it, and each session to the set of handles it controls. The two maps
// are updated together under one lock, so the binding invariant (a handle is
// bound iff it appears in exactly one session's set) always holds. Reads take
// the shared lock and never block each other.
type Registry struct {
	mu     sync.RWMutex
	owners map[string]*Session
	bound  map[*Session]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		owners: make(map[string]*Session),
		bound:  make(map[*Session]map[string]struct{}),
	}
}

// Bind records that sess now owns handle. If the handle was bound to another
// session, that binding is silently overwritten: last writer wins, and the
// displaced session is not notified. This is deliberate policy, not an
// accident of implementation.
func (r *Registry) Bind(sess *Session, handle string) {
	if sess == nil || handle == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owners[handle]; ok && prev != sess {
		delete(r.bound[prev], handle)
	}

	r.owners[handle] = sess
	set, ok := r.bound[sess]
	if !ok {
		set = make(map[string]struct{})
		r.bound[sess] = set
	}
	set[handle] = struct{}{}
}

// Unbind releases handle only if sess is its current owner; otherwise no-op.
func (r *Registry) Unbind(sess *Session, handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owners[handle] != sess {
		return
	}
	delete(r.owners, handle)
	delete(r.bound[sess], handle)
}

func (r *Registry) OwnerOf(handle string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.owners[handle]
	return sess, ok
}

func (r *Registry) Owns(sess *Session, handle string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owners[handle] == sess
}

// HandlesOf returns a snapshot of the handles sess currently controls.
func (r *Registry) HandlesOf(sess *Session) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.bound[sess]
	handles := make([]string, 0, len(set))
	for h := range set {
		handles = append(handles, h)
	}
	return handles
}

// UnbindAll releases every handle sess owns and returns them. Called on
// disconnect.
func (r *Registry) UnbindAll(sess *Session) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.bound[sess]
	handles := make([]string, 0, len(set))
	for h := range set {
		handles = append(handles, h)
		delete(r.owners, h)
	}
	delete(r.bound, sess)
	return handles
}

// BoundCount reports how many handles are currently online.
func (r *Registry) BoundCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners)
}
