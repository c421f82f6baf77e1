// Package dispatch routes verified webhook events to the activity mutator.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/linhptit/strava-webhook-vercel/internal/credentials"
	"github.com/linhptit/strava-webhook-vercel/internal/events"
	"github.com/linhptit/strava-webhook-vercel/internal/observability"
	"github.com/linhptit/strava-webhook-vercel/internal/redact"
	"github.com/linhptit/strava-webhook-vercel/internal/webhook"
)

// TokenExchanger trades a refresh token for an access token.
type TokenExchanger interface {
	Exchange(ctx context.Context, refreshToken redact.Secret) (redact.Secret, error)
}

// Mutator applies the per-aspect change to an activity.
type Mutator interface {
	Enrich(ctx context.Context, accessToken redact.Secret, activityID string) (string, error)
	Retract(ctx context.Context, accessToken redact.Secret, activityID string) (bool, error)
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithPublisher sets the sink for mutation events.
func WithPublisher(publisher events.Publisher) Option {
	return func(d *Dispatcher) {
		if publisher != nil {
			d.publisher = publisher
		}
	}
}

// DefaultPublishTimeout bounds one background publish.
const DefaultPublishTimeout = 5 * time.Second

// WithPublishTimeout overrides DefaultPublishTimeout.
func WithPublishTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.publishTimeout = timeout
		}
	}
}

// Dispatcher resolves credentials, exchanges tokens and invokes the mutator.
type Dispatcher struct {
	resolver  credentials.Resolver
	exchanger TokenExchanger
	mutator   Mutator
	publisher events.Publisher
	logger    *zap.Logger

	publishTimeout time.Duration
	inflight       sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(resolver credentials.Resolver, exchanger TokenExchanger, mutator Mutator, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		resolver:  resolver,
		exchanger: exchanger,
		mutator:   mutator,
		publisher:      events.NoopPublisher{},
		logger:         zap.NewNop(),
		publishTimeout: DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch handles one event and returns its terminal outcome. It never retries.
func (d *Dispatcher) Dispatch(ctx context.Context, event webhook.Event) Outcome {
	start := time.Now()
	outcome := d.dispatch(ctx, event)
	observability.RecordWebhookOutcome(event.AspectType, outcome.String(), time.Since(start))
	return outcome
}

func (d *Dispatcher) dispatch(ctx context.Context, event webhook.Event) Outcome {
	if !event.HasOwner() {
		return OutcomeOwnerMissing
	}
	if event.ObjectType != webhook.ObjectActivity {
		return OutcomeInvalidObjectType
	}

	logger := d.logger.With(
		zap.String("owner_id", event.OwnerID),
		zap.String("object_id", event.ObjectID),
		zap.String("aspect_type", event.AspectType),
	)

	cred, err := d.resolver.Resolve(ctx, event.OwnerID)
	if err != nil {
		if !errors.Is(err, credentials.ErrCredentialNotFound) {
			logger.Error("credential lookup failed", zap.Error(err))
		}
		return OutcomeCredentialMissing
	}

	switch event.AspectType {
	case webhook.AspectCreate, webhook.AspectUpdate:
	default:
		logger.Debug("ignoring event aspect")
		return OutcomeIgnored
	}

	accessToken, err := d.exchanger.Exchange(ctx, cred.RefreshToken)
	if err != nil {
		logger.Error("token exchange failed", zap.Error(err))
		return OutcomeFailed
	}

	if event.AspectType == webhook.AspectCreate {
		if _, err := d.mutator.Enrich(ctx, accessToken, event.ObjectID); err != nil {
			logger.Error("activity enrichment failed", zap.Error(err))
			return OutcomeFailed
		}
		logger.Info("activity enriched")
		d.publish(ctx, logger, events.TypeActivityEnriched, event)
		return OutcomeEnriched
	}

	changed, err := d.mutator.Retract(ctx, accessToken, event.ObjectID)
	if err != nil {
		logger.Error("activity retraction failed", zap.Error(err))
		return OutcomeFailed
	}
	if !changed {
		return OutcomeUnchanged
	}
	logger.Info("activity marker removed")
	d.publish(ctx, logger, events.TypeActivityRetracted, event)
	return OutcomeRetracted
}

// publish hands the event to the publisher in the background so the webhook is acknowledged
// without waiting on the broker.
func (d *Dispatcher) publish(ctx context.Context, logger *zap.Logger, eventType string, event webhook.Event) {
	mutation := events.NewMutationEvent(eventType, event.ObjectID, event.OwnerID)
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.publishTimeout)

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer cancel()
		if err := d.publisher.Publish(publishCtx, mutation); err != nil {
			observability.RecordPublishFailure(eventType)
			logger.Warn("publish mutation event failed", zap.String("event_type", eventType), zap.Error(err))
		}
	}()
}

// Wait blocks until background publishes have finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}
