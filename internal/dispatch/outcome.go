package dispatch

// Outcome is the terminal state of one webhook event. Every outcome is acknowledged with HTTP 200.
type Outcome int

// Outcomes in the order the guards are evaluated.
const (
	OutcomeOwnerMissing Outcome = iota
	OutcomeInvalidObjectType
	OutcomeCredentialMissing
	OutcomeEnriched
	OutcomeRetracted
	OutcomeUnchanged
	OutcomeIgnored
	OutcomeFailed
)

// Acknowledgement body shared by every event that passed the guards.
const eventReceived = "EVENT_RECEIVED"

// Message is the plain-text response body for the outcome.
func (o Outcome) Message() string {
	switch o {
	case OutcomeOwnerMissing:
		return "Owner ID is null"
	case OutcomeInvalidObjectType:
		return "Invalid object type"
	case OutcomeCredentialMissing:
		return "Refresh token not found"
	default:
		return eventReceived
	}
}

// String is the metric label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeOwnerMissing:
		return "owner_missing"
	case OutcomeInvalidObjectType:
		return "invalid_object_type"
	case OutcomeCredentialMissing:
		return "credential_missing"
	case OutcomeEnriched:
		return "enriched"
	case OutcomeRetracted:
		return "retracted"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}
