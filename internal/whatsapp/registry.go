package whatsapp

import "sync"

// Registry is the process-wide map of account id to live client handle.
// It is constructed by the composition root and injected; all membership
// changes go through it so insert-if-absent and remove are atomic.
type Registry struct {
	mu      sync.RWMutex
	handles map[int64]*Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[int64]*Handle)}
}

// PutIfAbsent registers h unless a handle already exists for the account.
// It returns the handle now in the registry and whether it was already
// present. There is no separate check-then-act window for callers to race
// through.
func (r *Registry) PutIfAbsent(accountID int64, h *Handle) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.handles[accountID]; ok {
		return existing, true
	}
	r.handles[accountID] = h
	return h, false
}

// Get returns the handle for the account, or nil.
func (r *Registry) Get(accountID int64) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[accountID]
}

// Remove deregisters and returns the account's handle, or nil if none was
// registered. Removing is idempotent.
func (r *Registry) Remove(accountID int64) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.handles[accountID]
	delete(r.handles, accountID)
	return h
}

// Len reports the number of registered handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Range calls fn for each registered handle until fn returns false.
func (r *Registry) Range(fn func(accountID int64, h *Handle) bool) {
	r.mu.RLock()
	snapshot := make(map[int64]*Handle, len(r.handles))
	for id, h := range r.handles {
		snapshot[id] = h
	}
	r.mu.RUnlock()
	for id, h := range snapshot {
		if !fn(id, h) {
			return
		}
	}
}
