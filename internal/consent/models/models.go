package models

import (
	"time"
)

// ConsentRecord is the authoritative grant, keyed by the token's jti.
// Invariant: Revoked only ever moves false -> true.
type ConsentRecord struct {
	ID                  string     `json:"id"`
	PatientID           string     `json:"patient_id"`
	RecipientID         string     `json:"recipient_id"`
	RecipientHospitalID string     `json:"recipient_hospital_id"`
	Scope               ScopeSet   `json:"scope"`
	GrantedAt           time.Time  `json:"granted_at"`
	ExpiresAt           time.Time  `json:"expires_at"`
	Revoked             bool       `json:"revoked"`
	RevokedAt           *time.Time `json:"revoked_at,omitempty"`
	RevokedBy           string     `json:"revoked_by,omitempty"`
}

// IsExpired reports whether the grant's natural expiry has passed. A grant is
// still valid at the exact instant of expiry.
func (c *ConsentRecord) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// IsActive returns true when the consent currently authorizes reads.
func (c *ConsentRecord) IsActive(now time.Time) bool {
	return !c.Revoked && !c.IsExpired(now)
}

// IsParty reports whether callerID is the granting patient or the recipient.
func (c *ConsentRecord) IsParty(callerID string) bool {
	return callerID != "" && (callerID == c.PatientID || callerID == c.RecipientID)
}

// ApplyRevocation marks the record revoked. It is a no-op on an already revoked
// record so the first revocation's timestamp and actor are kept.
func (c *ConsentRecord) ApplyRevocation(by string, at time.Time) {
	if c.Revoked {
		return
	}
	c.Revoked = true
	c.RevokedAt = &at
	c.RevokedBy = by
}

// RevokeOutcome is what a store revocation did to the record.
type RevokeOutcome int

const (
	// RevokeMissing means no live record had the key.
	RevokeMissing RevokeOutcome = iota
	// RevokeApplied means this call flipped the record to revoked.
	RevokeApplied
	// RevokeAlready means an earlier call had revoked it.
	RevokeAlready
)

// TTL returns the remaining lifetime of the record at now, never negative.
func (c *ConsentRecord) TTL(now time.Time) time.Duration {
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Status labels used in API responses.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
	StatusRevoked = "revoked"
)

// StatusAt renders the record's state for listings.
func (c *ConsentRecord) StatusAt(now time.Time) string {
	switch {
	case c.Revoked:
		return StatusRevoked
	case c.IsExpired(now):
		return StatusExpired
	default:
		return StatusActive
	}
}
