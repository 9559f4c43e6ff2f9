package resilience_test

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagplane/flagplane/internal/resilience"
)

// fallbackBreaker wraps a breaker and reports a fixed fallback mode.
type fallbackBreaker struct {
	*gobreaker.CircuitBreaker[any]
	degraded bool
}

func (f fallbackBreaker) Degraded() bool { return f.degraded }

func TestRegistry_RegisterAndGetHealth(t *testing.T) {
	registry := resilience.NewRegistry()
	registry.Register("postgres", resilience.NewCircuitBreaker[any](resilience.DefaultCircuitBreakerConfig("postgres")))

	assert.Len(t, registry.GetAllHealth(), 1)

	health := registry.GetHealth("postgres")
	require.NotNil(t, health)
	assert.Equal(t, "postgres", health.Name)
	assert.Equal(t, gobreaker.StateClosed, health.CircuitState)
	assert.True(t, health.IsHealthy())
	assert.False(t, health.IsDegraded())
	assert.False(t, health.IsUnhealthy())
	assert.False(t, health.Fallback)
}

func TestRegistry_Unregister(t *testing.T) {
	registry := resilience.NewRegistry()
	registry.Register("postgres", resilience.NewCircuitBreaker[any](resilience.DefaultCircuitBreakerConfig("postgres")))

	registry.Unregister("postgres")

	assert.Empty(t, registry.GetAllHealth())
	assert.Nil(t, registry.GetHealth("postgres"))
}

func TestRegistry_RecordSuccessAndFailure(t *testing.T) {
	registry := resilience.NewRegistry()
	registry.Register("redis", resilience.NewCircuitBreaker[any](resilience.DefaultCircuitBreakerConfig("redis")))

	health := registry.GetHealth("redis")
	require.NotNil(t, health)
	assert.Nil(t, health.LastSuccessAt)
	assert.Nil(t, health.LastFailureAt)

	registry.RecordSuccess("redis")
	registry.RecordFailure("redis", errors.New("i/o timeout"))

	health = registry.GetHealth("redis")
	require.NotNil(t, health.LastSuccessAt)
	require.NotNil(t, health.LastFailureAt)
	assert.WithinDuration(t, time.Now(), *health.LastSuccessAt, time.Second)
	assert.Equal(t, "i/o timeout", health.LastError)
}

func TestRegistry_RecordUnknownBackend(t *testing.T) {
	registry := resilience.NewRegistry()

	registry.RecordSuccess("missing")
	registry.RecordFailure("missing", errBackend)

	assert.Nil(t, registry.GetHealth("missing"))
}

func TestRegistry_Fallback(t *testing.T) {
	cb := resilience.NewCircuitBreaker[any](resilience.CircuitBreakerConfig{
		Name:        "mongo",
		Timeout:     time.Minute,
		ReadyToTrip: resilience.ConsecutiveFailures(1),
	})
	registry := resilience.NewRegistry()
	registry.Register("mongo", fallbackBreaker{CircuitBreaker: cb, degraded: true})

	health := registry.GetHealth("mongo")
	require.NotNil(t, health)
	assert.True(t, health.Fallback)
	assert.False(t, health.IsHealthy())
	assert.True(t, health.IsDegraded(), "closed breaker serving from fallback")

	_, _ = cb.Execute(func() (any, error) { return nil, errBackend })

	health = registry.GetHealth("mongo")
	assert.True(t, health.IsUnhealthy())
	assert.False(t, health.IsDegraded())
}

func TestRegistry_GetAllHealthSorted(t *testing.T) {
	registry := resilience.NewRegistry()
	for _, name := range []string{"redis", "mongo", "postgres"} {
		registry.Register(name, resilience.NewCircuitBreaker[any](resilience.DefaultCircuitBreakerConfig(name)))
	}

	all := registry.GetAllHealth()
	require.Len(t, all, 3)
	assert.Equal(t, "mongo", all[0].Name)
	assert.Equal(t, "postgres", all[1].Name)
	assert.Equal(t, "redis", all[2].Name)
}
