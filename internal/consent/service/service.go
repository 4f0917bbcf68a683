// Package service is the consent lifecycle: the only component that mints
// consent tokens or writes consent records.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
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

var tracer = otel.Tracer("ehrconsent/consent")

// Store is the ConsentStore contract. Every method is a single atomic
// round trip against the backing store.
type Store interface {
	Put(ctx context.Context, record *models.ConsentRecord, ttl time.Duration) error
	Get(ctx context.Context, jti string) (*models.ConsentRecord, error)
	Revoke(ctx context.Context, jti string, revokedBy string, at time.Time) (models.RevokeOutcome, error)
	ListByPatient(ctx context.Context, patientID string) ([]*models.ConsentRecord, error)
	ListByRecipient(ctx context.Context, recipientID string) ([]*models.ConsentRecord, error)
}

// TokenSigner mints consent tokens.
type TokenSigner interface {
	Sign(claims token.ConsentClaims) (string, error)
}

// Defaults applied when Config leaves a field zero.
const (
	DefaultGrantDuration = 60 * time.Minute
	DefaultMaxDuration   = 30 * 24 * time.Hour
)

// Config bounds grant durations.
type Config struct {
	DefaultDuration      time.Duration
	MaxDuration          time.Duration
	AllowRecipientRevoke bool
}

// Service grants, inspects and revokes consents.
type Service struct {
	store   Store
	signer  TokenSigner
	auditor audit.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     Config
}

// Option configures the Service.
type Option func(*Service)

func WithAuditor(p audit.Publisher) Option {
	return func(s *Service) { s.auditor = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func New(store Store, signer TokenSigner, cfg Config, opts ...Option) *Service {
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = DefaultGrantDuration
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.DefaultDuration > cfg.MaxDuration {
		cfg.DefaultDuration = cfg.MaxDuration
	}
	s := &Service{
		store:  store,
		signer: signer,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultDuration is the grant duration used when a caller does not pick one.
func (s *Service) DefaultDuration() time.Duration {
	return s.cfg.DefaultDuration
}

// GrantCommand describes a new grant. ConsentID is optional; the request
// workflow pre-allocates it so the approval CAS and the grant share one ID.
type GrantCommand struct {
	ConsentID           string
	PatientID           string
	RecipientID         string
	RecipientHospitalID string
	Scope               models.ScopeSet
	Duration            time.Duration
}

// GrantResult carries the stored record and the bearer token handed to the
// recipient. The token itself is never stored.
type GrantResult struct {
	Record *models.ConsentRecord
	Token  string
}

// Grant validates the command, signs a token and stores the record with a TTL
// equal to the grant duration. Invalid input never reaches the store.
func (s *Service) Grant(ctx context.Context, cmd GrantCommand) (*GrantResult, error) {
	ctx, span := tracer.Start(ctx, "consent.Grant")
	defer span.End()

	if cmd.PatientID == "" || cmd.RecipientID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "patientId and recipientId are required")
	}
	if cmd.RecipientHospitalID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "recipientHospitalId is required")
	}
	if cmd.PatientID == cmd.RecipientID {
		return nil, dErrors.New(dErrors.CodeBadRequest, "a patient cannot grant consent to themselves")
	}
	scope, err := models.NewScopeSet(cmd.Scope...)
	if err != nil {
		return nil, err
	}
	if cmd.Duration <= 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "duration must be positive")
	}
	duration := min(cmd.Duration, s.cfg.MaxDuration).Truncate(time.Second)
	if duration <= 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "duration must be at least one second")
	}

	consentID := cmd.ConsentID
	if consentID == "" {
		consentID = uuid.NewString()
	}
	now := requestcontext.Now(ctx).UTC().Truncate(time.Second)
	record := &models.ConsentRecord{
		ID:                  consentID,
		PatientID:           cmd.PatientID,
		RecipientID:         cmd.RecipientID,
		RecipientHospitalID: cmd.RecipientHospitalID,
		Scope:               scope,
		GrantedAt:           now,
		ExpiresAt:           now.Add(duration),
	}
	span.SetAttributes(attribute.String("consent.id", consentID), attribute.StringSlice("consent.scope", scope.Strings()))

	signed, err := s.signer.Sign(token.ConsentClaims{
		ConsentID:   record.ID,
		PatientID:   record.PatientID,
		RecipientID: record.RecipientID,
		Scope:       record.Scope,
		IssuedAt:    record.GrantedAt,
		ExpiresAt:   record.ExpiresAt,
	})
	if err != nil {
		span.SetStatus(codes.Error, "sign")
		s.logger.ErrorContext(ctx, "failed to sign consent token",
			"error", err,
			"consent_id", consentID,
			"request_id", requestcontext.RequestID(ctx),
		)
		if dErrors.HasCode(err, dErrors.CodeSigningError) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeSigningError, "failed to sign consent token")
	}

	if err := s.store.Put(ctx, record, duration); err != nil {
		span.SetStatus(codes.Error, "store")
		s.logger.ErrorContext(ctx, "failed to store consent",
			"error", err,
			"consent_id", consentID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store consent")
	}

	s.metrics.IncrementGranted()
	s.emit(ctx, audit.Event{
		Action:      audit.ActionConsentGranted,
		ActorID:     record.PatientID,
		PatientID:   record.PatientID,
		RecipientID: record.RecipientID,
		ConsentID:   record.ID,
		Scope:       record.Scope.Strings(),
		Decision:    "granted",
	})
	return &GrantResult{Record: record, Token: signed}, nil
}

// StatusResult is a read-only audit view of a grant.
type StatusResult struct {
	Exists  bool
	Expired bool
	Revoked bool
	Valid   bool
	Record  *models.ConsentRecord
}

// Status reports the state of a grant to one of its parties. Unknown, lapsed
// and foreign grants all read as Exists=false so existence is never leaked.
func (s *Service) Status(ctx context.Context, consentID, callerID string) (*StatusResult, error) {
	ctx, span := tracer.Start(ctx, "consent.Status")
	defer span.End()

	if consentID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "consentId is required")
	}
	record, err := s.store.Get(ctx, consentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return &StatusResult{}, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent")
	}
	if !record.IsParty(callerID) {
		return &StatusResult{}, nil
	}

	now := requestcontext.Now(ctx)
	expired := record.IsExpired(now)
	return &StatusResult{
		Exists:  true,
		Expired: expired,
		Revoked: record.Revoked,
		Valid:   !expired && !record.Revoked,
		Record:  record,
	}, nil
}

// Revoke invalidates a grant immediately. Only the granting patient, or the
// recipient relinquishing it when allowed, may revoke. Revoking an already
// revoked grant succeeds and keeps the first revocation's details.
func (s *Service) Revoke(ctx context.Context, consentID, requestedBy string) (*models.ConsentRecord, error) {
	ctx, span := tracer.Start(ctx, "consent.Revoke")
	defer span.End()

	if consentID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "consentId is required")
	}
	if requestedBy == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}

	record, err := s.store.Get(ctx, consentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "consent not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent")
	}
	allowed := requestedBy == record.PatientID ||
		(s.cfg.AllowRecipientRevoke && requestedBy == record.RecipientID)
	if !allowed {
		s.logger.WarnContext(ctx, "consent revoke forbidden",
			"consent_id", consentID,
			"caller_id", requestedBy,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, dErrors.New(dErrors.CodeForbidden, "only the granting patient may revoke this consent")
	}

	now := requestcontext.Now(ctx).UTC()
	outcome, err := s.store.Revoke(ctx, consentID, requestedBy, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke consent",
			"error", err,
			"consent_id", consentID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke consent")
	}
	switch outcome {
	case models.RevokeMissing:
		// lapsed between the read and the revoke; nothing left to authorize
		return nil, dErrors.New(dErrors.CodeNotFound, "consent not found")
	case models.RevokeAlready:
		// another caller won the flip and owns the audit event
		if current, err := s.store.Get(ctx, consentID); err == nil {
			return current, nil
		}
		record.ApplyRevocation(requestedBy, now)
		return record, nil
	}
	record.ApplyRevocation(requestedBy, now)
	s.metrics.IncrementRevoked()
	s.emit(ctx, audit.Event{
		Action:      audit.ActionConsentRevoked,
		ActorID:     requestedBy,
		PatientID:   record.PatientID,
		RecipientID: record.RecipientID,
		ConsentID:   record.ID,
		Decision:    "revoked",
	})
	return record, nil
}

// ListGranted returns the live grants a patient has issued.
func (s *Service) ListGranted(ctx context.Context, patientID string) ([]*models.ConsentRecord, error) {
	if patientID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	records, err := s.store.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list consents")
	}
	return records, nil
}

// ListReceived returns the live grants issued to a recipient.
func (s *Service) ListReceived(ctx context.Context, recipientID string) ([]*models.ConsentRecord, error) {
	if recipientID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	records, err := s.store.ListByRecipient(ctx, recipientID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list consents")
	}
	return records, nil
}

// Reissue mints a fresh token for an existing, still valid grant. Only the
// bound recipient may obtain it; used after an in-person QR scan. The new token
// shares the grant's jti and expiry, so revocation covers both.
func (s *Service) Reissue(ctx context.Context, consentID, callerID string) (*GrantResult, error) {
	ctx, span := tracer.Start(ctx, "consent.Reissue")
	defer span.End()

	record, err := s.store.Get(ctx, consentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "consent not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent")
	}
	if callerID == "" || callerID != record.RecipientID {
		return nil, dErrors.New(dErrors.CodeAudienceMismatch, "consent was not granted to this caller")
	}
	now := requestcontext.Now(ctx)
	if record.Revoked {
		return nil, dErrors.New(dErrors.CodeRevoked, "consent has been revoked")
	}
	if record.IsExpired(now) {
		return nil, dErrors.New(dErrors.CodeExpired, "consent has expired")
	}

	signed, err := s.signer.Sign(token.ConsentClaims{
		ConsentID:   record.ID,
		PatientID:   record.PatientID,
		RecipientID: record.RecipientID,
		Scope:       record.Scope,
		IssuedAt:    now,
		ExpiresAt:   record.ExpiresAt,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to sign consent token",
			"error", err,
			"consent_id", consentID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, dErrors.Wrap(err, dErrors.CodeSigningError, "failed to sign consent token")
	}

	s.emit(ctx, audit.Event{
		Action:      audit.ActionConsentReissued,
		ActorID:     callerID,
		PatientID:   record.PatientID,
		RecipientID: record.RecipientID,
		ConsentID:   record.ID,
	})
	return &GrantResult{Record: record, Token: signed}, nil
}

// ScanResult is the outcome of presenting a decoded QR reference.
type ScanResult struct {
	StatusResult
	Token string
}

// Scan resolves a consent reference taken from a QR payload for callerID.
// Non-parties get not found. The bound recipient of a valid consent also
// receives a fresh token.
func (s *Service) Scan(ctx context.Context, consentID, callerID string) (*ScanResult, error) {
	ctx, span := tracer.Start(ctx, "consent.Scan")
	defer span.End()

	status, err := s.Status(ctx, consentID, callerID)
	if err != nil {
		return nil, err
	}
	if !status.Exists {
		return nil, dErrors.New(dErrors.CodeNotFound, "consent not found")
	}

	result := &ScanResult{StatusResult: *status}
	if status.Valid && status.Record.RecipientID == callerID {
		reissued, err := s.Reissue(ctx, consentID, callerID)
		if err != nil {
			return nil, err
		}
		result.Token = reissued.Token
	}

	decision := "valid"
	if !status.Valid {
		decision = "invalid"
	}
	s.emit(ctx, audit.Event{
		Action:      audit.ActionConsentScanned,
		ActorID:     callerID,
		PatientID:   status.Record.PatientID,
		RecipientID: status.Record.RecipientID,
		ConsentID:   status.Record.ID,
		Decision:    decision,
	})
	return result, nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	event = audit.Enrich(ctx, event)
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"error", err,
			"action", string(event.Action),
			"consent_id", event.ConsentID,
			"request_id", event.RequestID,
		)
	}
}
