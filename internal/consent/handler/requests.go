package handler

import (
	"strings"
	"time"

	"ehrconsent/internal/consent/models"
	"ehrconsent/internal/consent/service"
	dErrors "ehrconsent/pkg/domain-errors"
)

// GrantRequest is the body of POST /consent/grant. At most one of
// DurationMinutes and DurationDays may be set; neither means the default.
type GrantRequest struct {
	PatientID           string   `json:"patientId"`
	RecipientID         string   `json:"recipientId"`
	RecipientHospitalID string   `json:"recipientHospitalId"`
	Scope               []string `json:"scope"`
	DurationMinutes     *int     `json:"durationMinutes,omitempty"`
	DurationDays        *int     `json:"durationDays,omitempty"`
}

// Normalize trims identifiers in place.
func (r *GrantRequest) Normalize() {
	r.PatientID = strings.TrimSpace(r.PatientID)
	r.RecipientID = strings.TrimSpace(r.RecipientID)
	r.RecipientHospitalID = strings.TrimSpace(r.RecipientHospitalID)
}

// Validate checks shape only; scope membership is checked by ParseScopes.
func (r *GrantRequest) Validate() error {
	if r.RecipientID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "recipientId is required")
	}
	if r.RecipientHospitalID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "recipientHospitalId is required")
	}
	if len(r.Scope) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "scope is required")
	}
	if r.DurationMinutes != nil && r.DurationDays != nil {
		return dErrors.New(dErrors.CodeBadRequest, "provide durationMinutes or durationDays, not both")
	}
	if r.DurationMinutes != nil && *r.DurationMinutes <= 0 {
		return dErrors.New(dErrors.CodeBadRequest, "durationMinutes must be positive")
	}
	if r.DurationDays != nil && *r.DurationDays <= 0 {
		return dErrors.New(dErrors.CodeBadRequest, "durationDays must be positive")
	}
	return nil
}

// Duration resolves the requested grant duration, or fallback when none was given.
// Requests beyond service.DefaultMaxDuration resolve to it; the service then
// applies its configured cap.
func (r *GrantRequest) Duration(fallback time.Duration) time.Duration {
	switch {
	case r.DurationMinutes != nil:
		return units(*r.DurationMinutes, time.Minute)
	case r.DurationDays != nil:
		return units(*r.DurationDays, 24*time.Hour)
	default:
		return fallback
	}
}

// units multiplies n by unit, saturating at service.DefaultMaxDuration so
// large counts cannot wrap.
func units(n int, unit time.Duration) time.Duration {
	if int64(n) > int64(service.DefaultMaxDuration/unit) {
		return service.DefaultMaxDuration
	}
	return time.Duration(n) * unit
}

// ScopeSet parses the requested scopes.
func (r *GrantRequest) ScopeSet() (models.ScopeSet, error) {
	return models.ParseScopes(r.Scope)
}

// RevokeRequest is the body of POST /consent/revoke.
type RevokeRequest struct {
	ConsentID string `json:"consentId"`
}

func (r *RevokeRequest) Validate() error {
	r.ConsentID = strings.TrimSpace(r.ConsentID)
	if r.ConsentID == "" {
		return dErrors.New(dErrors.CodeBadRequest, "consentId is required")
	}
	return nil
}

// ScanRequest is the body of POST /consent/scan.
type ScanRequest struct {
	Payload string `json:"payload"`
}

func (r *ScanRequest) Validate() error {
	r.Payload = strings.TrimSpace(r.Payload)
	if r.Payload == "" {
		return dErrors.New(dErrors.CodeBadRequest, "payload is required")
	}
	return nil
}
