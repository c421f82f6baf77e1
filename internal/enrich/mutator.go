// Package enrich applies and retracts quote enrichment on Strava activities.
package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/linhptit/strava-webhook-vercel/internal/quotes"
	"github.com/linhptit/strava-webhook-vercel/internal/redact"
	"github.com/linhptit/strava-webhook-vercel/internal/strava"
)

// ActivityAPI is the part of the Strava client the mutator needs.
type ActivityAPI interface {
	GetActivity(ctx context.Context, accessToken redact.Secret, activityID string) (strava.Activity, error)
	UpdateActivity(ctx context.Context, accessToken redact.Secret, activityID string, update strava.ActivityUpdate) (strava.Activity, error)
}

// Mutator performs at most one read and one write per routine.
type Mutator struct {
	api    ActivityAPI
	quotes quotes.Selector
	marker string
}

// NewMutator constructs a Mutator. marker is the description substring removed by Retract.
func NewMutator(api ActivityAPI, selector quotes.Selector, marker string) *Mutator {
	return &Mutator{api: api, quotes: selector, marker: marker}
}

// Enrich overwrites the title and name of a new activity with one quote and returns it.
func (m *Mutator) Enrich(ctx context.Context, accessToken redact.Secret, activityID string) (string, error) {
	quote := m.quotes.Pick()
	update := strava.ActivityUpdate{Title: &quote, Name: &quote}
	if _, err := m.api.UpdateActivity(ctx, accessToken, activityID, update); err != nil {
		return "", fmt.Errorf("enrich activity %s: %w", activityID, err)
	}
	return quote, nil
}

// Retract removes the marker from the activity description. It reports whether a write happened;
// an activity without the marker is left untouched.
func (m *Mutator) Retract(ctx context.Context, accessToken redact.Secret, activityID string) (bool, error) {
	activity, err := m.api.GetActivity(ctx, accessToken, activityID)
	if err != nil {
		return false, fmt.Errorf("read activity %s: %w", activityID, err)
	}

	description, changed := StripMarker(activity.Description, m.marker)
	if !changed {
		return false, nil
	}

	if _, err := m.api.UpdateActivity(ctx, accessToken, activityID, strava.ActivityUpdate{Description: &description}); err != nil {
		return false, fmt.Errorf("retract activity %s: %w", activityID, err)
	}
	return true, nil
}

// StripMarker removes the first occurrence of marker and trims surrounding whitespace.
// The rest of the description is preserved verbatim.
func StripMarker(description, marker string) (string, bool) {
	if marker == "" || !strings.Contains(description, marker) {
		return description, false
	}
	return strings.TrimSpace(strings.Replace(description, marker, "", 1)), true
}
