package migration

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/teranos/qntx-migrate/errors"
)

// Func is a migration callable: a zero-argument operation on its target model.
// The returned value is logged; an error or panic fails the migration.
type Func func(ctx context.Context) (any, error)

// Registry maps target models to their migration functions.
// Thread-safe for concurrent registration and lookup.
//
// A model may be registered without functions: it then validates as a target,
// and every run against it fails at invocation time.
type Registry struct {
	mu     sync.RWMutex
	models map[string]map[string]Func // model -> function -> callable
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]map[string]Func)}
}

// RegisterModel declares a target model. Registering an existing model is a no-op.
func (r *Registry) RegisterModel(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[model]; !ok {
		r.models[model] = make(map[string]Func)
	}
}

// Register adds function fn to model, declaring the model if needed.
// Panics on a duplicate model/function pair: registration happens at startup.
func (r *Registry) Register(model, function string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()

	funcs, ok := r.models[model]
	if !ok {
		funcs = make(map[string]Func)
		r.models[model] = funcs
	}
	if _, exists := funcs[function]; exists {
		panic(fmt.Sprintf("migration function already registered: %s.%s", model, function))
	}
	funcs[function] = fn
}

// HasModel reports whether model is a known target
func (r *Registry) HasModel(model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.models[model]
	return ok
}

// Resolve returns the callable for model.function.
// An unknown model is a validation error; an unknown function is an invocation error.
func (r *Registry) Resolve(model, function string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	funcs, ok := r.models[model]
	if !ok {
		return nil, errors.NewValidationError("model %q is not registered", model)
	}
	fn, ok := funcs[function]
	if !ok {
		return nil, errors.WrapInvocationError(
			errors.NewNotFoundError("model %q has no function %q", model, function), "resolve")
	}
	return fn, nil
}

// Models returns registered model names, sorted
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Functions returns the function names of model, sorted
func (r *Registry) Functions(model string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	funcs := r.models[model]
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
