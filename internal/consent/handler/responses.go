package handler

import (
	"time"

	"ehrconsent/internal/consent/models"
)

type GrantResponse struct {
	ConsentID    string    `json:"consentId"`
	ConsentToken string    `json:"consentToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type RevokeResponse struct {
	ConsentID string `json:"consentId"`
	Revoked   bool   `json:"revoked"`
}

// ConsentSummary is the public view of a ConsentRecord.
type ConsentSummary struct {
	ConsentID           string     `json:"consentId"`
	PatientID           string     `json:"patientId"`
	RecipientID         string     `json:"recipientId"`
	RecipientHospitalID string     `json:"recipientHospitalId"`
	Scope               []string   `json:"scope"`
	Status              string     `json:"status"`
	GrantedAt           time.Time  `json:"grantedAt"`
	ExpiresAt           time.Time  `json:"expiresAt"`
	RevokedAt           *time.Time `json:"revokedAt,omitempty"`
}

func toSummary(r *models.ConsentRecord, now time.Time) ConsentSummary {
	return ConsentSummary{
		ConsentID:           r.ID,
		PatientID:           r.PatientID,
		RecipientID:         r.RecipientID,
		RecipientHospitalID: r.RecipientHospitalID,
		Scope:               r.Scope.Strings(),
		Status:              r.StatusAt(now),
		GrantedAt:           r.GrantedAt,
		ExpiresAt:           r.ExpiresAt,
		RevokedAt:           r.RevokedAt,
	}
}

type StatusResponse struct {
	ConsentID string         `json:"consentId"`
	Valid     bool           `json:"valid"`
	Expired   bool           `json:"expired"`
	Revoked   bool           `json:"revoked"`
	Consent   ConsentSummary `json:"consent"`
}

type ListResponse struct {
	Consents []ConsentSummary `json:"consents"`
}

type QRResponse struct {
	ConsentID string    `json:"consentId"`
	Payload   string    `json:"payload"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ScanResponse carries the referenced consent's state and, for the bound
// recipient of a valid consent, a freshly issued token.
type ScanResponse struct {
	StatusResponse
	ConsentToken string `json:"consentToken,omitempty"`
}
