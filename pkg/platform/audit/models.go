package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose, which selects
// retention and delivery guarantees downstream.
type EventCategory string

const (
	// CategoryCompliance covers events with legal significance: grants,
	// revocations and request decisions. Delivered synchronously.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers denied access attempts worth alerting on.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity such as allowed reads.
	// Delivered asynchronously and may be dropped under pressure.
	CategoryOperations EventCategory = "operations"
)

// Action names an audited consent action.
type Action string

const (
	ActionConsentGranted  Action = "consent_granted"
	ActionConsentRevoked  Action = "consent_revoked"
	ActionConsentReissued Action = "consent_reissued"
	ActionConsentChecked  Action = "consent_checked"
	ActionConsentScanned  Action = "consent_scanned"
	ActionRequestCreated  Action = "consent_requested"
	ActionRequestApproved Action = "consent_request_approved"
	ActionRequestDenied   Action = "consent_request_denied"
	ActionAccessDenied    Action = "consent_access_denied"
)

var actionCategories = map[Action]EventCategory{
	ActionConsentGranted:  CategoryCompliance,
	ActionConsentRevoked:  CategoryCompliance,
	ActionRequestApproved: CategoryCompliance,
	ActionRequestDenied:   CategoryCompliance,

	ActionAccessDenied: CategorySecurity,

	ActionConsentReissued: CategoryOperations,
	ActionConsentChecked:  CategoryOperations,
	ActionConsentScanned:  CategoryOperations,
	ActionRequestCreated:  CategoryOperations,
}

// Category returns the EventCategory for this action.
// Unknown actions default to CategoryOperations.
func (a Action) Category() EventCategory {
	if cat, ok := actionCategories[a]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is emitted from domain logic to capture key actions. It never carries
// medical data, only identifiers and outcomes.
type Event struct {
	Action      Action        `json:"action"`
	Category    EventCategory `json:"category"`
	Timestamp   time.Time     `json:"timestamp"`
	ActorID     string        `json:"actor_id,omitempty"`
	PatientID   string        `json:"patient_id,omitempty"`
	RecipientID string        `json:"recipient_id,omitempty"`
	ConsentID   string        `json:"consent_id,omitempty"`
	ConsentReq  string        `json:"consent_request_id,omitempty"`
	Scope       []string      `json:"scope,omitempty"`
	Decision    string        `json:"decision,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	RequestID   string        `json:"request_id,omitempty"`
	ClientIP    string        `json:"client_ip,omitempty"`
	Device      string        `json:"device,omitempty"`
}

// Publisher delivers audit events to a sink.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
}

// Normalize fills the derived fields of an event.
func Normalize(event Event, now time.Time) Event {
	if event.Category == "" {
		event.Category = event.Action.Category()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = now
	}
	return event
}
