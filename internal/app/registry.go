package app

import "sync"

// Registry tracks known applications by uuid. Callers create one and
// pass it to whatever needs app lookup; there is no package-level
// instance.
type Registry struct {
	mu   sync.RWMutex
	apps map[string]*App
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{apps: make(map[string]*App)}
}

// Put registers an application, replacing any previous one with the
// same uuid. Re-registration happens when an app is redeployed.
func (r *Registry) Put(a *App) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[a.UUID] = a
}

// Get returns the application with the given uuid.
func (r *Registry) Get(uuid string) (*App, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.apps[uuid]
	return a, ok
}

// Len returns the number of registered applications.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.apps)
}
