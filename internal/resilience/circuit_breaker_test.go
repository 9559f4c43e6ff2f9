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

var errBackend = errors.New("backend down")

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	cfg := resilience.DefaultCircuitBreakerConfig("postgres")

	assert.Equal(t, "postgres", cfg.Name)
	assert.Equal(t, uint32(1), cfg.MaxRequests)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.NotNil(t, cfg.ReadyToTrip)
}

func TestDefaultReadyToTrip(t *testing.T) {
	tests := []struct {
		name   string
		counts gobreaker.Counts
		want   bool
	}{
		{"no requests", gobreaker.Counts{}, false},
		{"below minimum requests", gobreaker.Counts{Requests: 4, TotalFailures: 4}, false},
		{"half failing", gobreaker.Counts{Requests: 10, TotalFailures: 5}, true},
		{"mostly succeeding", gobreaker.Counts{Requests: 10, TotalFailures: 4}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resilience.DefaultReadyToTrip(tt.counts))
		})
	}
}

func TestConsecutiveFailures(t *testing.T) {
	trip := resilience.ConsecutiveFailures(3)

	assert.False(t, trip(gobreaker.Counts{ConsecutiveFailures: 2}))
	assert.True(t, trip(gobreaker.Counts{ConsecutiveFailures: 3}))
}

func TestNewCircuitBreaker_Trips(t *testing.T) {
	var transitions []gobreaker.State
	cb := resilience.NewCircuitBreaker[any](resilience.CircuitBreakerConfig{
		Name:        "redis",
		Timeout:     time.Minute,
		ReadyToTrip: resilience.ConsecutiveFailures(2),
		OnStateChange: func(_ string, _, to gobreaker.State) {
			transitions = append(transitions, to)
		},
	})

	for range 2 {
		_, err := cb.Execute(func() (any, error) { return nil, errBackend })
		require.ErrorIs(t, err, errBackend)
	}

	assert.Equal(t, gobreaker.StateOpen, cb.State())
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)

	_, err := cb.Execute(func() (any, error) { return "unreachable", nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestNewCircuitBreaker_IsSuccessful(t *testing.T) {
	errNotFound := errors.New("not found")
	cb := resilience.NewCircuitBreaker[any](resilience.CircuitBreakerConfig{
		Name:         "mongo",
		ReadyToTrip:  resilience.ConsecutiveFailures(1),
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, errNotFound) },
	})

	_, err := cb.Execute(func() (any, error) { return nil, errNotFound })
	require.ErrorIs(t, err, errNotFound)

	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Counts().ConsecutiveFailures)
}
