// Package consumer reads mutation events back from Kafka for auditing.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/linhptit/strava-webhook-vercel/internal/events"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages from Kafka.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is a decoded mutation event together with its Kafka coordinates.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Event     events.MutationEvent
	Payload   json.RawMessage
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// DefaultFetchRetryDelay is the pause after a failed fetch before trying again.
const DefaultFetchRetryDelay = 500 * time.Millisecond

// WithFetchRetryDelay overrides DefaultFetchRetryDelay.
func WithFetchRetryDelay(delay time.Duration) Option {
	return func(p *Processor) {
		if delay > 0 {
			p.retryDelay = delay
		}
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler.
type Processor struct {
	reader     Reader
	handler    Handler
	logger     *zap.Logger
	retryDelay time.Duration
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:     reader,
		handler:    handler,
		logger:     zap.L().Named("consumer"),
		retryDelay: DefaultFetchRetryDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes Kafka messages until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			// io.EOF means the reader was closed.
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return err
			}
			p.logger.Warn("fetch error", zap.Error(err), zap.Duration("retry_in", p.retryDelay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.retryDelay):
			}
			continue
		}

		decoded, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			p.logger.Warn("decode error",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(decodeErr),
			)
			recordDecodeError(msg.Topic)
			// Commit malformed messages to avoid poison-pill loops.
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Error("commit error after decode failure", zap.Error(commitErr))
			}
			continue
		}

		if handleErr := p.handler.Handle(ctx, decoded); handleErr != nil {
			p.logger.Error("handler error",
				zap.String("event_type", decoded.Event.Type),
				zap.String("event_id", decoded.Event.EventID),
				zap.Error(handleErr),
			)
			recordHandlerError(decoded)
			continue
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Error("commit error", zap.Error(commitErr))
		} else {
			recordProcessed(decoded)
		}
	}
}

func decodeMessage(msg kafka.Message) (Message, error) {
	eventType, ok := headerValue(msg, "event_type")
	if !ok {
		return Message{}, errors.New("missing event_type header")
	}

	var event events.MutationEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return Message{}, fmt.Errorf("decode payload: %w", err)
	}
	if event.Type != string(eventType) {
		return Message{}, fmt.Errorf("event_type header %q does not match payload %q", eventType, event.Type)
	}
	if strings.TrimSpace(event.EventID) == "" || strings.TrimSpace(event.ActivityID) == "" {
		return Message{}, errors.New("event_id and activity_id are required")
	}

	return Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Event:     event,
		Payload:   json.RawMessage(append([]byte(nil), msg.Value...)),
	}, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
