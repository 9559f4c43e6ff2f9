package featureflags

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/flagplane/flagplane/internal/resilience"
)

// FallbackConfig holds configuration for FallbackRepository.
type FallbackConfig struct {
	// Name identifies the guarded store in logs and the health registry.
	// Default: "flag-store"
	Name string

	// Primary is the remote store.
	Primary Repository

	// Secondary serves requests while Primary is unavailable.
	// Default: an empty InMemoryRepository
	Secondary Repository

	// Sticky keeps serving reads and writes from Secondary once Primary has
	// failed, until restart. When false, only reads fall back; writes fail with
	// ErrStorageUnavailable while Primary is down, and calls return to Primary as
	// soon as its circuit closes again.
	Sticky bool

	// CircuitBreaker configures the breaker guarding Primary.
	// If nil, the breaker trips after 3 consecutive storage failures.
	CircuitBreaker *resilience.CircuitBreakerConfig

	// Registry receives success and failure reports. Optional.
	Registry *resilience.Registry

	Logger zerolog.Logger
}

// FallbackRepository decorates a remote Repository with a circuit breaker and an
// in-process fallback. Storage failures and an open circuit switch reads to the
// secondary store, and writes too in sticky mode; domain errors such as
// ErrFlagNotFound pass through untouched.
type FallbackRepository struct {
	name      string
	primary   Repository
	secondary Repository
	sticky    bool
	breaker   *gobreaker.CircuitBreaker[any]
	registry  *resilience.Registry
	logger    zerolog.Logger

	degraded atomic.Bool
}

// NewFallbackRepository creates a new fallback decorator.
func NewFallbackRepository(cfg FallbackConfig) *FallbackRepository {
	name := cfg.Name
	if name == "" {
		name = "flag-store"
	}
	secondary := cfg.Secondary
	if secondary == nil {
		secondary = NewInMemoryRepository()
	}

	r := &FallbackRepository{
		name:      name,
		primary:   cfg.Primary,
		secondary: secondary,
		sticky:    cfg.Sticky,
		registry:  cfg.Registry,
		logger:    cfg.Logger.With().Str("store", name).Logger(),
	}

	cbConfig := resilience.DefaultCircuitBreakerConfig(name)
	cbConfig.ReadyToTrip = resilience.ConsecutiveFailures(3)
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}
	cbConfig.IsSuccessful = func(err error) bool {
		return !errors.Is(err, ErrStorageUnavailable)
	}
	cbConfig.OnStateChange = func(name string, from, to gobreaker.State) {
		r.logger.Warn().
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("flag store circuit breaker state changed")
	}
	r.breaker = resilience.NewCircuitBreaker[any](cbConfig)

	if r.registry != nil {
		r.registry.Register(name, r)
	}
	return r
}

// Degraded reports whether requests are currently served from the secondary store.
func (r *FallbackRepository) Degraded() bool {
	return r.degraded.Load()
}

// State returns the circuit breaker state of the primary store.
func (r *FallbackRepository) State() gobreaker.State {
	return r.breaker.State()
}

// Counts returns the circuit breaker counters of the primary store.
func (r *FallbackRepository) Counts() gobreaker.Counts {
	return r.breaker.Counts()
}

// GetAll retrieves every stored flag.
func (r *FallbackRepository) GetAll(ctx context.Context) ([]*FeatureFlag, error) {
	return guardedRead(r, "get_all", func(repo Repository) ([]*FeatureFlag, error) {
		return repo.GetAll(ctx)
	})
}

// GetByID retrieves a flag by its id.
func (r *FallbackRepository) GetByID(ctx context.Context, id string) (*FeatureFlag, error) {
	return guardedRead(r, "get_by_id", func(repo Repository) (*FeatureFlag, error) {
		return repo.GetByID(ctx, id)
	})
}

// GetByKey retrieves a flag by key, ignoring case.
func (r *FallbackRepository) GetByKey(ctx context.Context, key string) (*FeatureFlag, error) {
	return guardedRead(r, "get_by_key", func(repo Repository) (*FeatureFlag, error) {
		return repo.GetByKey(ctx, key)
	})
}

// Create stores a new flag.
func (r *FallbackRepository) Create(ctx context.Context, flag *FeatureFlag) (*FeatureFlag, error) {
	return guardedWrite(r, "create", func(repo Repository) (*FeatureFlag, error) {
		return repo.Create(ctx, flag)
	})
}

// Update replaces an existing flag.
func (r *FallbackRepository) Update(ctx context.Context, flag *FeatureFlag) (*FeatureFlag, error) {
	return guardedWrite(r, "update", func(repo Repository) (*FeatureFlag, error) {
		return repo.Update(ctx, flag)
	})
}

// Delete removes a flag by id.
func (r *FallbackRepository) Delete(ctx context.Context, id string) (bool, error) {
	return guardedWrite(r, "delete", func(repo Repository) (bool, error) {
		return repo.Delete(ctx, id)
	})
}

// GetByTags retrieves flags carrying at least one of the tags.
func (r *FallbackRepository) GetByTags(ctx context.Context, tags []string) ([]*FeatureFlag, error) {
	return guardedRead(r, "get_by_tags", func(repo Repository) ([]*FeatureFlag, error) {
		return repo.GetByTags(ctx, tags)
	})
}

// Ping checks the primary store when it supports it.
func (r *FallbackRepository) Ping(ctx context.Context) error {
	if p, ok := r.primary.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func guardedRead[T any](r *FallbackRepository, op string, fn func(Repository) (T, error)) (T, error) {
	return guarded(r, op, false, fn)
}

func guardedWrite[T any](r *FallbackRepository, op string, fn func(Repository) (T, error)) (T, error) {
	return guarded(r, op, true, fn)
}

func guarded[T any](r *FallbackRepository, op string, write bool, fn func(Repository) (T, error)) (T, error) {
	if r.sticky && r.degraded.Load() {
		return fn(r.secondary)
	}

	res, err := r.breaker.Execute(func() (any, error) {
		return fn(r.primary)
	})
	if !isStorageFailure(err) {
		r.recordSuccess()
		v, _ := res.(T)
		return v, err
	}

	r.recordFailure(op, err)
	if write && !r.sticky {
		// The secondary is discarded once the primary recovers, so a write
		// accepted there would be lost.
		var zero T
		if errors.Is(err, ErrStorageUnavailable) {
			return zero, err
		}
		return zero, fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, r.name, err)
	}
	return fn(r.secondary)
}

func (r *FallbackRepository) recordSuccess() {
	if r.registry != nil {
		r.registry.RecordSuccess(r.name)
	}
	if r.degraded.CompareAndSwap(true, false) {
		r.logger.Info().Msg("flag store recovered, serving from primary")
	}
}

func (r *FallbackRepository) recordFailure(op string, err error) {
	if r.registry != nil && !errors.Is(err, gobreaker.ErrOpenState) {
		r.registry.RecordFailure(r.name, err)
	}
	if r.degraded.CompareAndSwap(false, true) {
		r.logger.Error().
			Err(err).
			Str("operation", op).
			Bool("sticky", r.sticky).
			Msg("flag store unavailable, serving from in-memory fallback")
	}
}

func isStorageFailure(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Ensure FallbackRepository implements Repository interface.
var _ Repository = (*FallbackRepository)(nil)
