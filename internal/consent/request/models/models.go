// Package models holds the consent request entity and its state machine.
package models

import (
	"time"

	consentmodels "ehrconsent/internal/consent/models"
)

// MaxPurposeLength bounds the free-text purpose a recipient can attach.
const MaxPurposeLength = 500

// Status is the state of a consent request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusDenied
}

func (s Status) IsValid() bool {
	return s == StatusPending || s.IsTerminal()
}

// ConsentRequest is a recipient's ask for access to a patient's records.
// Only the named patient may decide it, and only once.
type ConsentRequest struct {
	ID                  string                 `json:"id"`
	PatientID           string                 `json:"patient_id"`
	RecipientID         string                 `json:"recipient_id"`
	RecipientHospitalID string                 `json:"recipient_hospital_id"`
	Scope               consentmodels.ScopeSet `json:"scope"`
	Purpose             string                 `json:"purpose"`
	Status              Status                 `json:"status"`
	ConsentID           string                 `json:"consent_id,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	DecidedAt           *time.Time             `json:"decided_at,omitempty"`
}

// IsParty reports whether callerID is the patient or the requesting recipient.
func (r *ConsentRequest) IsParty(callerID string) bool {
	return callerID != "" && (callerID == r.PatientID || callerID == r.RecipientID)
}

// Decision is the compare-and-set transition applied by a store. It only
// succeeds while the request is still pending.
type Decision struct {
	RequestID string
	Status    Status
	ConsentID string
	DecidedAt time.Time
}
