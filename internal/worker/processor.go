package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/flagplane/flagplane/internal/events"
)

// Processor dispatches worker messages by type.
type Processor struct {
	audit  *AuditLog
	check  *CheckJob
	logger zerolog.Logger
}

// NewProcessor creates a message processor. check may be nil, in which case
// health check messages are acknowledged without running a check.
func NewProcessor(audit *AuditLog, check *CheckJob, logger zerolog.Logger) *Processor {
	return &Processor{audit: audit, check: check, logger: logger}
}

// Process handles one message. A returned error means the message should be redelivered.
func (p *Processor) Process(ctx context.Context, msgType string, data []byte) error {
	startTime := time.Now()

	switch msgType {
	case events.TypeFlagChange, "":
		event, err := events.DecodeChange(data)
		if err != nil {
			// Malformed payloads are not retried.
			p.logger.Error().Err(err).Msg("failed to parse change event")
			return nil
		}
		p.audit.Record(ctx, event)

	case events.TypeHealthCheck:
		if p.check == nil {
			return nil
		}
		result, err := p.check.Run(ctx)
		if err != nil {
			return fmt.Errorf("flag store check: %w", err)
		}
		if result.Invalid > 0 {
			for _, issue := range result.Issues {
				p.logger.Warn().
					Str("flag_id", issue.FlagID).
					Str("flag", issue.Key).
					Str("reason", issue.Reason).
					Msg("stored flag failed check")
			}
		}

	default:
		p.logger.Warn().Str("type", msgType).Msg("unknown message type")
		return nil
	}

	p.logger.Debug().
		Str("type", msgType).
		Dur("duration", time.Since(startTime)).
		Msg("message processed")
	return nil
}
