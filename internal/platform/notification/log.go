package notification

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes messages to the structured log. Used when no broker is
// configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, msg Message) error {
	l.logger.Warn().
		Str("notification_id", msg.ID).
		Str("template", msg.TemplateID).
		Str("subject", msg.Subject).
		Msg(msg.Body)
	return nil
}
