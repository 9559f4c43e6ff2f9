package events

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/flagplane/flagplane/internal/featureflags"
)

// PubSubConfig holds configuration for the Pub/Sub publisher.
type PubSubConfig struct {
	ProjectID string
	TopicName string
	Logger    zerolog.Logger
}

// PubSubPublisher publishes change events to a Google Cloud Pub/Sub topic.
type PubSubPublisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topicName string
	logger    zerolog.Logger
}

// NewPubSubPublisher creates a new Pub/Sub publisher.
func NewPubSubPublisher(ctx context.Context, cfg PubSubConfig) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	publisher := client.Publisher(cfg.TopicName)
	publisher.EnableMessageOrdering = true

	return &PubSubPublisher{
		client:    client,
		publisher: publisher,
		topicName: cfg.TopicName,
		logger:    cfg.Logger,
	}, nil
}

// Publish sends the event and waits for the server to acknowledge it.
func (p *PubSubPublisher) Publish(ctx context.Context, event featureflags.ChangeEvent) error {
	msg, err := EncodeChange(event)
	if err != nil {
		return err
	}

	result := p.publisher.Publish(ctx, msg)
	serverID, err := result.Get(ctx)
	if err != nil {
		// Ordered publishing pauses the key after a failure.
		p.publisher.ResumePublish(msg.OrderingKey)
		return fmt.Errorf("publishing to %s: %w", p.topicName, err)
	}

	p.logger.Debug().
		Str("message_id", serverID).
		Str("action", string(event.Action)).
		Str("flag", event.Key).
		Msg("published feature flag change")
	return nil
}

// Close flushes pending messages and closes the client.
func (p *PubSubPublisher) Close() error {
	p.publisher.Stop()
	return p.client.Close()
}

var _ featureflags.ChangePublisher = (*PubSubPublisher)(nil)
