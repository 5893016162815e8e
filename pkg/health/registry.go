package health

import (
	"context"
	"sync"
)

// Registry holds one Checker and Status per named target (typically
// "<host>/<kind>") and runs them on demand for the /healthz endpoint.
type Registry struct {
	mu       sync.Mutex
	config   Config
	checkers map[string]Checker
	statuses map[string]*Status
}

// NewRegistry builds an empty Registry using config for every
// registered Checker.
func NewRegistry(config Config) *Registry {
	return &Registry{
		config:   config,
		checkers: make(map[string]Checker),
		statuses: make(map[string]*Status),
	}
}

// Register adds or replaces the Checker for name.
func (r *Registry) Register(name string, checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = checker
	if _, ok := r.statuses[name]; !ok {
		r.statuses[name] = NewStatus()
	}
}

// CheckAll runs every registered Checker and updates its Status,
// returning a snapshot keyed by name.
func (r *Registry) CheckAll(ctx context.Context) map[string]Status {
	r.mu.Lock()
	checkers := make(map[string]Checker, len(r.checkers))
	for name, c := range r.checkers {
		checkers[name] = c
	}
	r.mu.Unlock()

	snapshot := make(map[string]Status, len(checkers))
	for name, checker := range checkers {
		result := checker.Check(ctx)

		r.mu.Lock()
		status := r.statuses[name]
		status.Update(result, r.config)
		snapshot[name] = *status
		r.mu.Unlock()
	}
	return snapshot
}
