// Package events publishes feature flag change events.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/flagplane/flagplane/internal/featureflags"
)

// Message attributes and types shared by publishers and the worker.
const (
	AttrType    = "type"
	AttrAction  = "action"
	AttrFlagKey = "flag_key"

	TypeFlagChange  = "flag_change"
	TypeHealthCheck = "health_check"
)

// EncodeChange builds the Pub/Sub message for a change event.
func EncodeChange(event featureflags.ChangeEvent) (*pubsub.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encoding change event: %w", err)
	}
	return &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrType:    TypeFlagChange,
			AttrAction:  string(event.Action),
			AttrFlagKey: event.Key,
		},
		OrderingKey: event.FlagID,
	}, nil
}

// DecodeChange parses a change event from a message payload.
func DecodeChange(data []byte) (featureflags.ChangeEvent, error) {
	var event featureflags.ChangeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("decoding change event: %w", err)
	}
	if event.Action == "" || event.FlagID == "" {
		return event, fmt.Errorf("decoding change event: missing action or flag id")
	}
	return event, nil
}

// LogPublisher writes change events to a logger. It is used when no broker is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a publisher that only logs.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event.
func (p *LogPublisher) Publish(_ context.Context, event featureflags.ChangeEvent) error {
	p.logger.Info().
		Str("action", string(event.Action)).
		Str("flag_id", event.FlagID).
		Str("flag", event.Key).
		Time("occurred_at", event.OccurredAt).
		Msg("feature flag change")
	return nil
}

var _ featureflags.ChangePublisher = (*LogPublisher)(nil)
