package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flagplane/flagplane/internal/featureflags"
)

// AuditLog records flag change events as structured log entries.
type AuditLog struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	metrics AuditMetrics
}

// AuditMetrics counts processed change events.
type AuditMetrics struct {
	TotalEvents int64
	Created     int64
	Updated     int64
	Deleted     int64
	Unknown     int64
	LastEventAt time.Time
}

// NewAuditLog creates a new audit log writing to logger.
func NewAuditLog(logger zerolog.Logger) *AuditLog {
	return &AuditLog{
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Record writes one audit entry. Unknown actions are logged and counted but not rejected.
func (a *AuditLog) Record(_ context.Context, event featureflags.ChangeEvent) {
	entry := a.logger.Info().
		Str("action", string(event.Action)).
		Str("flag_id", event.FlagID).
		Str("flag", event.Key).
		Time("occurred_at", event.OccurredAt)

	if event.Flag != nil {
		entry = entry.
			Bool("enabled", event.Flag.Enabled).
			Strs("tags", event.Flag.Tags).
			Int("environments", len(event.Flag.EnvironmentConfigs))
	}
	entry.Msg("feature flag changed")

	a.mu.Lock()
	defer a.mu.Unlock()

	a.metrics.TotalEvents++
	switch event.Action {
	case featureflags.ChangeCreated:
		a.metrics.Created++
	case featureflags.ChangeUpdated:
		a.metrics.Updated++
	case featureflags.ChangeDeleted:
		a.metrics.Deleted++
	default:
		a.metrics.Unknown++
	}
	if event.OccurredAt.After(a.metrics.LastEventAt) {
		a.metrics.LastEventAt = event.OccurredAt
	}
}

// GetMetrics returns a copy of the current metrics.
func (a *AuditLog) GetMetrics() AuditMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.metrics
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (a *AuditLog) MetricsSnapshot() map[string]interface{} {
	m := a.GetMetrics()
	return map[string]interface{}{
		"total_events":  m.TotalEvents,
		"created":       m.Created,
		"updated":       m.Updated,
		"deleted":       m.Deleted,
		"unknown":       m.Unknown,
		"last_event_at": m.LastEventAt,
	}
}
