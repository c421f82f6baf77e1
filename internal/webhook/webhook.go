// Package webhook validates Strava push subscription traffic.
package webhook

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/linhptit/strava-webhook-vercel/internal/redact"
)

// Object and aspect types sent by Strava.
const (
	ObjectActivity = "activity"
	ObjectAthlete  = "athlete"

	AspectCreate = "create"
	AspectUpdate = "update"
	AspectDelete = "delete"
)

var (
	// ErrVerifyTokenMismatch is returned when a subscription handshake carries the wrong token.
	ErrVerifyTokenMismatch = errors.New("webhook: verify token mismatch")
	// ErrMalformedEvent is wrapped by every ParseError.
	ErrMalformedEvent = errors.New("webhook: malformed event")
)

// VerifySubscription echoes challenge when providedToken matches expectedToken.
func VerifySubscription(challenge, providedToken string, expectedToken redact.Secret) (string, error) {
	if expectedToken.Empty() {
		return "", ErrVerifyTokenMismatch
	}
	if subtle.ConstantTimeCompare([]byte(providedToken), []byte(expectedToken.Reveal())) != 1 {
		return "", ErrVerifyTokenMismatch
	}
	return challenge, nil
}

// Event is one push notification.
type Event struct {
	ObjectType     string
	AspectType     string
	ObjectID       string
	OwnerID        string
	SubscriptionID string
	EventTime      time.Time
	Updates        map[string]any
	Raw            json.RawMessage
}

// HasOwner reports whether the event names the athlete who owns the object.
func (e Event) HasOwner() bool {
	return e.OwnerID != ""
}

// ParseError describes why a payload was rejected.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("webhook: malformed event: %s", e.Reason)
	}
	return fmt.Sprintf("webhook: malformed event: %s %s", e.Field, e.Reason)
}

// Unwrap lets callers match ErrMalformedEvent.
func (e *ParseError) Unwrap() error { return ErrMalformedEvent }

type wireEvent struct {
	ObjectType     *string         `json:"object_type"`
	AspectType     *string         `json:"aspect_type"`
	ObjectID       json.RawMessage `json:"object_id"`
	OwnerID        json.RawMessage `json:"owner_id"`
	SubscriptionID json.RawMessage `json:"subscription_id"`
	EventTime      *int64          `json:"event_time"`
	Updates        map[string]any  `json:"updates"`
}

// ParseEvent decodes a push payload. object_type, aspect_type and object_id are required;
// a missing or null owner_id is accepted and left empty.
func ParseEvent(raw []byte) (Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Event{}, &ParseError{Reason: "body must be a JSON object"}
	}

	var wire wireEvent
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return Event{}, &ParseError{Reason: err.Error()}
	}

	if wire.ObjectType == nil {
		return Event{}, &ParseError{Field: "object_type", Reason: "is required"}
	}
	if wire.AspectType == nil || strings.TrimSpace(*wire.AspectType) == "" {
		return Event{}, &ParseError{Field: "aspect_type", Reason: "is required"}
	}

	objectID, err := identifier(wire.ObjectID)
	if err != nil {
		return Event{}, &ParseError{Field: "object_id", Reason: err.Error()}
	}
	if objectID == "" {
		return Event{}, &ParseError{Field: "object_id", Reason: "is required"}
	}
	ownerID, err := identifier(wire.OwnerID)
	if err != nil {
		return Event{}, &ParseError{Field: "owner_id", Reason: err.Error()}
	}
	subscriptionID, err := identifier(wire.SubscriptionID)
	if err != nil {
		return Event{}, &ParseError{Field: "subscription_id", Reason: err.Error()}
	}

	event := Event{
		ObjectType:     strings.TrimSpace(*wire.ObjectType),
		AspectType:     strings.TrimSpace(*wire.AspectType),
		ObjectID:       objectID,
		OwnerID:        ownerID,
		SubscriptionID: subscriptionID,
		Updates:        wire.Updates,
		Raw:            append(json.RawMessage(nil), trimmed...),
	}
	if wire.EventTime != nil && *wire.EventTime > 0 {
		event.EventTime = time.Unix(*wire.EventTime, 0).UTC()
	}
	return event, nil
}

// identifier accepts a JSON integer or string and returns it as a decimal string.
// Absent and null values yield "".
func identifier(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", errors.New("must be a string or integer")
		}
		return strings.TrimSpace(s), nil
	default:
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return "", errors.New("must be a string or integer")
		}
		return strconv.FormatInt(n, 10), nil
	}
}
