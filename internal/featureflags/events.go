package featureflags

import (
	"context"
	"time"
)

// ChangeAction names the mutation a ChangeEvent describes.
type ChangeAction string

// Change actions.
const (
	ChangeCreated ChangeAction = "created"
	ChangeUpdated ChangeAction = "updated"
	ChangeDeleted ChangeAction = "deleted"
)

// ChangeEvent is published after a flag is created, updated or deleted.
type ChangeEvent struct {
	Action     ChangeAction `json:"action"`
	FlagID     string       `json:"flagId"`
	Key        string       `json:"key,omitempty"`
	OccurredAt time.Time    `json:"occurredAt"`
	Flag       *FeatureFlag `json:"flag,omitempty"`
}

// ChangePublisher delivers change events to interested consumers.
type ChangePublisher interface {
	Publish(ctx context.Context, event ChangeEvent) error
}
