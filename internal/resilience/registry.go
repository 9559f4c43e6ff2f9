package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// StateReporter exposes the circuit breaker state of a guarded backend.
type StateReporter interface {
	State() gobreaker.State
	Counts() gobreaker.Counts
}

// DegradationReporter is implemented by backends that can serve from a fallback.
type DegradationReporter interface {
	Degraded() bool
}

// BackendHealth represents the health status of a storage backend.
type BackendHealth struct {
	// Name is the backend identifier.
	Name string

	// CircuitState is the current circuit breaker state.
	CircuitState gobreaker.State

	// Counts contains circuit breaker statistics.
	Counts gobreaker.Counts

	// Fallback is true while requests are served from a secondary store.
	Fallback bool

	// LastSuccessAt is the timestamp of the last successful call.
	LastSuccessAt *time.Time

	// LastFailureAt is the timestamp of the last failed call.
	LastFailureAt *time.Time

	// LastError is the most recent error message, if any.
	LastError string
}

// IsHealthy returns true if the backend is considered healthy.
func (h *BackendHealth) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed && !h.Fallback
}

// IsDegraded returns true if the backend is half-open or serving from a fallback.
func (h *BackendHealth) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen || (h.Fallback && h.CircuitState != gobreaker.StateOpen)
}

// IsUnhealthy returns true if the backend circuit is open.
func (h *BackendHealth) IsUnhealthy() bool {
	return h.CircuitState == gobreaker.StateOpen
}

// Registry tracks registered backends and their health status.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*registeredBackend
}

type registeredBackend struct {
	reporter      StateReporter
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewRegistry creates a new backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]*registeredBackend),
	}
}

// Register adds a backend to the registry.
func (r *Registry) Register(name string, reporter StateReporter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = &registeredBackend{
		reporter: reporter,
	}
}

// Unregister removes a backend from the registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.backends, name)
}

// RecordSuccess records a successful call for a backend.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.backends[name]; ok {
		now := time.Now()
		b.lastSuccessAt = &now
	}
}

// RecordFailure records a failed call for a backend.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.backends[name]; ok {
		now := time.Now()
		b.lastFailureAt = &now
		if err != nil {
			b.lastError = err.Error()
		}
	}
}

// GetHealth returns the health status of a specific backend.
func (r *Registry) GetHealth(name string) *BackendHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[name]
	if !ok {
		return nil
	}
	return b.health(name)
}

// GetAllHealth returns the health status of all registered backends, ordered by name.
func (r *Registry) GetAllHealth() []*BackendHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	health := make([]*BackendHealth, 0, len(r.backends))
	for name, b := range r.backends {
		health = append(health, b.health(name))
	}
	sort.Slice(health, func(i, j int) bool { return health[i].Name < health[j].Name })
	return health
}

func (b *registeredBackend) health(name string) *BackendHealth {
	h := &BackendHealth{
		Name:          name,
		CircuitState:  b.reporter.State(),
		Counts:        b.reporter.Counts(),
		LastSuccessAt: b.lastSuccessAt,
		LastFailureAt: b.lastFailureAt,
		LastError:     b.lastError,
	}
	if d, ok := b.reporter.(DegradationReporter); ok {
		h.Fallback = d.Degraded()
	}
	return h
}
