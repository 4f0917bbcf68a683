package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	consentmodels "ehrconsent/internal/consent/models"
	"ehrconsent/internal/consent/request/models"
	"ehrconsent/pkg/platform/sentinel"
)

//go:embed schema.sql
var schema string

const selectColumns = `id, patient_id, recipient_id, recipient_hospital_id, scope, purpose,
	status, consent_id, created_at, decided_at`

// PostgresStore persists consent requests in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed consent request store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the consent_requests table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate consent_requests: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Create(ctx context.Context, req *models.ConsentRequest) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("create consent request: %w", sentinel.ErrInvalidState)
	}
	query := `
		INSERT INTO consent_requests (id, patient_id, recipient_id, recipient_hospital_id,
			scope, purpose, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		req.ID, req.PatientID, req.RecipientID, req.RecipientHospitalID,
		pq.Array(req.Scope.Strings()), req.Purpose, string(req.Status), req.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("create consent request %s: %w", req.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("create consent request: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.ConsentRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM consent_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find consent request: %w", err)
	}
	return req, nil
}

// Decide applies d only while the request is pending. The WHERE clause is the
// compare-and-set: of two racing decisions exactly one updates a row.
func (s *PostgresStore) Decide(ctx context.Context, d models.Decision) (*models.ConsentRequest, error) {
	query := `
		UPDATE consent_requests
		SET status = $2, consent_id = NULLIF($3, ''), decided_at = $4
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + selectColumns
	row := s.db.QueryRowContext(ctx, query, d.RequestID, string(d.Status), d.ConsentID, d.DecidedAt)
	req, err := scanRequest(row)
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decide consent request: %w", err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM consent_requests WHERE id = $1)`, d.RequestID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("decide consent request: %w", err)
	}
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return nil, fmt.Errorf("decide consent request %s: %w", d.RequestID, sentinel.ErrConflict)
}

// Reopen returns an approved request to pending when the grant it triggered
// failed. It only matches the approval that carried consentID.
func (s *PostgresStore) Reopen(ctx context.Context, requestID, consentID string) error {
	query := `
		UPDATE consent_requests
		SET status = 'pending', consent_id = NULL, decided_at = NULL
		WHERE id = $1 AND status = 'approved' AND consent_id = $2
	`
	result, err := s.db.ExecContext(ctx, query, requestID, consentID)
	if err != nil {
		return fmt.Errorf("reopen consent request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reopen consent request: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("reopen consent request %s: %w", requestID, sentinel.ErrConflict)
	}
	return nil
}

func (s *PostgresStore) ListByPatient(ctx context.Context, patientID string) ([]*models.ConsentRequest, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM consent_requests
		WHERE patient_id = $1 ORDER BY created_at DESC, id`, patientID)
}

func (s *PostgresStore) ListByRecipient(ctx context.Context, recipientID string) ([]*models.ConsentRequest, error) {
	return s.list(ctx, `SELECT `+selectColumns+` FROM consent_requests
		WHERE recipient_id = $1 ORDER BY created_at DESC, id`, recipientID)
}

func (s *PostgresStore) list(ctx context.Context, query string, arg string) ([]*models.ConsentRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list consent requests: %w", err)
	}
	defer rows.Close()

	out := make([]*models.ConsentRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list consent requests: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*models.ConsentRequest, error) {
	var (
		req       models.ConsentRequest
		scope     []string
		status    string
		consentID sql.NullString
		decidedAt sql.NullTime
	)
	err := row.Scan(
		&req.ID, &req.PatientID, &req.RecipientID, &req.RecipientHospitalID,
		pq.Array(&scope), &req.Purpose, &status, &consentID, &req.CreatedAt, &decidedAt,
	)
	if err != nil {
		return nil, err
	}
	set, err := consentmodels.ParseScopes(scope)
	if err != nil {
		return nil, fmt.Errorf("stored scope: %w", err)
	}
	req.Scope = set
	req.Status = models.Status(status)
	req.ConsentID = consentID.String
	if decidedAt.Valid {
		t := decidedAt.Time.UTC()
		req.DecidedAt = &t
	}
	req.CreatedAt = req.CreatedAt.UTC()
	return &req, nil
}

// PurgeDecidedBefore deletes approved and denied requests decided before
// cutoff. Pending requests are never purged.
func (s *PostgresStore) PurgeDecidedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM consent_requests WHERE status <> 'pending' AND decided_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge consent requests: %w", err)
	}
	return result.RowsAffected()
}
