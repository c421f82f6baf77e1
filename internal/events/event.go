// Package events publishes records of the mutations the relay applied to Strava.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types written to Kafka.
const (
	TypeActivityEnriched  = "activity.enriched"
	TypeActivityRetracted = "activity.retracted"
)

// MutationEvent records that an activity was changed. It carries identifiers only, never activity content.
type MutationEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"event_type"`
	ActivityID string    `json:"activity_id"`
	OwnerID    string    `json:"owner_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewMutationEvent stamps a fresh event id and time.
func NewMutationEvent(eventType, activityID, ownerID string) MutationEvent {
	return MutationEvent{
		EventID:    uuid.NewString(),
		Type:       eventType,
		ActivityID: activityID,
		OwnerID:    ownerID,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher hands mutation events to a downstream sink.
type Publisher interface {
	Publish(ctx context.Context, event MutationEvent) error
}

// NoopPublisher discards events. It is used when no broker is configured.
type NoopPublisher struct{}

// Publish implements Publisher.
func (NoopPublisher) Publish(context.Context, MutationEvent) error { return nil }
