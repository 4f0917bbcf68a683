// Package postgres persists audit events in an append-only table. It is the
// durable sink when no Kafka brokers are configured.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	audit "ehrconsent/pkg/platform/audit"
)

//go:embed schema.sql
var schema string

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Migrate creates the audit_events table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate audit_events: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Emit implements audit.Publisher.
func (s *Store) Emit(ctx context.Context, event audit.Event) error {
	event = audit.Normalize(event, s.now())
	query := `
		INSERT INTO audit_events (id, action, category, occurred_at, actor_id, patient_id,
			recipient_id, consent_id, consent_request_id, scope, decision, reason,
			request_id, client_ip, device)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.New(), string(event.Action), string(event.Category), event.Timestamp,
		nullable(event.ActorID), nullable(event.PatientID), nullable(event.RecipientID),
		nullable(event.ConsentID), nullable(event.ConsentReq), pq.Array(event.Scope),
		nullable(event.Decision), nullable(event.Reason), nullable(event.RequestID),
		nullable(event.ClientIP), nullable(event.Device),
	)
	if err != nil {
		return fmt.Errorf("insert audit event %s: %w", event.Action, err)
	}
	return nil
}

// ListByPatient returns the newest events about patientID, at most limit.
func (s *Store) ListByPatient(ctx context.Context, patientID string, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action, category, occurred_at, actor_id, patient_id, recipient_id, consent_id,
			consent_request_id, scope, decision, reason, request_id, client_ip, device
		FROM audit_events
		WHERE patient_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			e                                              audit.Event
			action, category                               string
			actor, patient, recipient, consent, consentReq sql.NullString
			decision, reason, requestID, clientIP, device  sql.NullString
			scope                                          []string
		)
		if err := rows.Scan(&action, &category, &e.Timestamp, &actor, &patient, &recipient,
			&consent, &consentReq, pq.Array(&scope), &decision, &reason, &requestID,
			&clientIP, &device); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Action = audit.Action(action)
		e.Category = audit.EventCategory(category)
		e.Timestamp = e.Timestamp.UTC()
		e.ActorID, e.PatientID, e.RecipientID = actor.String, patient.String, recipient.String
		e.ConsentID, e.ConsentReq = consent.String, consentReq.String
		e.Scope = scope
		e.Decision, e.Reason, e.RequestID = decision.String, reason.String, requestID.String
		e.ClientIP, e.Device = clientIP.String, device.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
