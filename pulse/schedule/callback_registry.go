package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Callback is invoked when a registration fires
type Callback func(ctx context.Context, payload []byte) error

// CallbackRegistry maps callback names to functions.
// Registrations refer to callbacks by name so no executable code is stored.
type CallbackRegistry struct {
	mu        sync.RWMutex
	callbacks map[string]Callback
}

// NewCallbackRegistry creates an empty registry
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{callbacks: make(map[string]Callback)}
}

// Register adds a callback. Panics on duplicate names: registration happens at startup.
func (r *CallbackRegistry) Register(name string, cb Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.callbacks[name]; exists {
		panic(fmt.Sprintf("callback %q already registered", name))
	}
	r.callbacks[name] = cb
}

// Get returns the callback for name
func (r *CallbackRegistry) Get(name string) (Callback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.callbacks[name]
	return cb, ok
}

// Has reports whether name is registered
func (r *CallbackRegistry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns registered callback names, sorted
func (r *CallbackRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.callbacks))
	for name := range r.callbacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
