package consumer

import (
	"context"

	"go.uber.org/zap"
)

// LogHandler writes every mutation event to the structured log.
type LogHandler struct {
	logger *zap.Logger
}

// NewLogHandler constructs a LogHandler.
func NewLogHandler(logger *zap.Logger) *LogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogHandler{logger: logger}
}

// Handle implements Handler.
func (h *LogHandler) Handle(_ context.Context, msg Message) error {
	h.logger.Info("activity mutation",
		zap.String("event_id", msg.Event.EventID),
		zap.String("event_type", msg.Event.Type),
		zap.String("activity_id", msg.Event.ActivityID),
		zap.String("owner_id", msg.Event.OwnerID),
		zap.Time("occurred_at", msg.Event.OccurredAt),
		zap.Int64("offset", msg.Offset),
	)
	return nil
}

// Chain runs handlers in order and stops at the first error.
type Chain []Handler

// Handle implements Handler.
func (c Chain) Handle(ctx context.Context, msg Message) error {
	for _, handler := range c {
		if err := handler.Handle(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}
