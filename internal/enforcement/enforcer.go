// Package enforcement gates every EHR read behind a consent check.
//
// Each check verifies the presented consent token and then consults the live
// consent store. Nothing is cached between checks: a revocation is visible on
// the very next read. Any store failure denies access.
package enforcement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"ehrconsent/internal/consent/models"
	"ehrconsent/internal/consent/token"
	"ehrconsent/internal/platform/metrics"
	dErrors "ehrconsent/pkg/domain-errors"
	audit "ehrconsent/pkg/platform/audit"
	"ehrconsent/pkg/platform/sentinel"
	"ehrconsent/pkg/requestcontext"
)

var tracer = otel.Tracer("ehrconsent/enforcement")

// TokenVerifier checks a consent token's structure and signature.
type TokenVerifier interface {
	Verify(tokenString string) (*token.ConsentClaims, error)
}

// RecordReader is the read-only slice of the consent store the enforcer needs.
type RecordReader interface {
	Get(ctx context.Context, jti string) (*models.ConsentRecord, error)
}

// AccessRequest is one attempted EHR read.
type AccessRequest struct {
	CallerID     string
	ConsentToken string
	PatientID    string
	Scope        models.Scope
}

// Decision is returned when a read is permitted.
type Decision struct {
	ConsentID           string
	PatientID           string
	RecipientID         string
	RecipientHospitalID string
	Scope               models.Scope
	ExpiresAt           time.Time
	CheckedAt           time.Time
}

// Enforcer validates consent tokens against the live consent store.
type Enforcer struct {
	verifier TokenVerifier
	records  RecordReader
	auditor  audit.Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures the Enforcer.
type Option func(*Enforcer)

func WithAuditor(p audit.Publisher) Option {
	return func(e *Enforcer) { e.auditor = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Enforcer) { e.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Enforcer) { e.logger = l }
}

func New(verifier TokenVerifier, records RecordReader, opts ...Option) *Enforcer {
	e := &Enforcer{verifier: verifier, records: records, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check runs the full authorization sequence for one read:
//
//  1. token signature and structure   -> invalid_token
//  2. token expiry                    -> expired
//  3. sub == patient, aud == caller   -> audience_mismatch
//  4. record present in the store     -> not_found
//  5. record not revoked              -> revoked
//  6. requested scope granted         -> scope_denied
//
// The first failing step is terminal.
func (e *Enforcer) Check(ctx context.Context, req AccessRequest) (*Decision, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "enforcement.Check")
	defer span.End()

	decision, claims, err := e.check(ctx, req)

	outcome := "allow"
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(attribute.String("enforcement.outcome", outcome))
	e.metrics.ObserveDecision(outcome, float64(time.Since(start).Microseconds())/1000.0)
	e.audit(ctx, req, claims, err)
	return decision, err
}

func (e *Enforcer) check(ctx context.Context, req AccessRequest) (*Decision, *token.ConsentClaims, error) {
	if req.CallerID == "" {
		return nil, nil, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	if req.ConsentToken == "" {
		return nil, nil, dErrors.New(dErrors.CodeInvalidToken, "consent token required")
	}
	if !req.Scope.IsValid() {
		return nil, nil, dErrors.New(dErrors.CodeBadRequest, "unsupported scope")
	}

	claims, err := e.verifier.Verify(req.ConsentToken)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInvalidToken, "consent token is invalid")
	}

	now := requestcontext.Now(ctx)
	if now.After(claims.ExpiresAt) {
		return nil, claims, dErrors.New(dErrors.CodeExpired, "consent token has expired")
	}

	if claims.PatientID != req.PatientID || claims.RecipientID != req.CallerID {
		return nil, claims, dErrors.New(dErrors.CodeAudienceMismatch, "consent token is not bound to this caller and patient")
	}

	record, err := e.records.Get(ctx, claims.ConsentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, claims, dErrors.New(dErrors.CodeNotFound, "consent not found")
		}
		e.logger.ErrorContext(ctx, "consent store unavailable during enforcement",
			"error", err,
			"consent_id", claims.ConsentID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, claims, dErrors.Wrap(err, dErrors.CodeInternal, "consent could not be verified")
	}

	if record.Revoked {
		return nil, claims, dErrors.New(dErrors.CodeRevoked, "consent has been revoked")
	}
	// the record is authoritative; a token that outlives it is not honored
	if now.After(record.ExpiresAt) {
		return nil, claims, dErrors.New(dErrors.CodeExpired, "consent has expired")
	}
	if record.PatientID != claims.PatientID || record.RecipientID != claims.RecipientID {
		return nil, claims, dErrors.New(dErrors.CodeAudienceMismatch, "consent token does not match the grant")
	}

	if !record.Scope.Contains(req.Scope) {
		return nil, claims, dErrors.New(dErrors.CodeScopeDenied, "consent does not cover "+string(req.Scope))
	}

	return &Decision{
		ConsentID:           record.ID,
		PatientID:           record.PatientID,
		RecipientID:         record.RecipientID,
		RecipientHospitalID: record.RecipientHospitalID,
		Scope:               req.Scope,
		ExpiresAt:           record.ExpiresAt,
		CheckedAt:           now,
	}, claims, nil
}

func (e *Enforcer) audit(ctx context.Context, req AccessRequest, claims *token.ConsentClaims, err error) {
	if e.auditor == nil {
		return
	}
	event := audit.Event{
		Action:    audit.ActionConsentChecked,
		ActorID:   req.CallerID,
		PatientID: req.PatientID,
		Scope:     []string{string(req.Scope)},
		Decision:  "allow",
	}
	if claims != nil {
		event.ConsentID = claims.ConsentID
		event.RecipientID = claims.RecipientID
	}
	if err != nil {
		event.Action = audit.ActionAccessDenied
		event.Decision = "deny"
		event.Reason = string(dErrors.CodeOf(err))
	}
	event = audit.Enrich(ctx, event)
	if emitErr := e.auditor.Emit(ctx, event); emitErr != nil {
		e.logger.WarnContext(ctx, "failed to emit enforcement audit event",
			"error", emitErr,
			"request_id", event.RequestID,
		)
	}
}
