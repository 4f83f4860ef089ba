package notify

import (
	"context"

	"log/slog"

	"github.com/ceer-lab/ceer/internal/domain"
)

// LogSink records every notification in the structured log. It is the only sink
// in development setups without SMTP or Kafka.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *slog.Logger) LogSink {
	return LogSink{logger: logger}
}

// Notify implements Notifier.
func (s LogSink) Notify(ctx context.Context, n domain.Notification) error {
	s.logger.InfoContext(ctx, "notification",
		"kind", n.Kind,
		"recipient", n.Recipient.ID,
		"email", n.Recipient.Email,
		"bom_id", n.BOMID,
		"team", n.TeamName,
		"actor", n.Actor.ID,
	)
	return nil
}
