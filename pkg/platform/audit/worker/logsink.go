package worker

import (
	"context"
	"log/slog"

	audit "coinledger/pkg/platform/audit"
)

// LogSink writes relayed entries to the log. It stands in for a broker in
// single-node deployments so the outbox still drains.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, entries []audit.OutboxEntry) error {
	for _, e := range entries {
		s.logger.InfoContext(ctx, "economy event",
			"log_type", "outbox",
			"event_id", e.ID.String(),
			"event_type", e.EventType,
			"key", e.Key,
			"payload", string(e.Payload),
		)
	}
	return nil
}
