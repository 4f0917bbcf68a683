// Package service is the consent request workflow: recipients ask, patients
// decide, and an approval turns into a consent grant.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	consentmodels "ehrconsent/internal/consent/models"
	"ehrconsent/internal/consent/request/models"
	consentservice "ehrconsent/internal/consent/service"
	"ehrconsent/internal/platform/metrics"
	dErrors "ehrconsent/pkg/domain-errors"
	audit "ehrconsent/pkg/platform/audit"
	"ehrconsent/pkg/platform/sentinel"
	"ehrconsent/pkg/requestcontext"
)

var tracer = otel.Tracer("ehrconsent/consent-request")

// Store persists requests. Decide must be an atomic compare-and-set on the
// pending status and report sentinel.ErrConflict when it loses.
type Store interface {
	Create(ctx context.Context, req *models.ConsentRequest) error
	FindByID(ctx context.Context, id string) (*models.ConsentRequest, error)
	Decide(ctx context.Context, d models.Decision) (*models.ConsentRequest, error)
	Reopen(ctx context.Context, requestID, consentID string) error
	ListByPatient(ctx context.Context, patientID string) ([]*models.ConsentRequest, error)
	ListByRecipient(ctx context.Context, recipientID string) ([]*models.ConsentRequest, error)
}

// Granter is the consent lifecycle as seen by the workflow.
type Granter interface {
	Grant(ctx context.Context, cmd consentservice.GrantCommand) (*consentservice.GrantResult, error)
	DefaultDuration() time.Duration
}

// Service runs the request state machine.
type Service struct {
	store   Store
	granter Granter
	auditor audit.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
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

func New(store Store, granter Granter, opts ...Option) *Service {
	s := &Service{store: store, granter: granter, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateCommand is a recipient's request for access.
type CreateCommand struct {
	PatientID           string
	RecipientID         string
	RecipientHospitalID string
	Scope               []string
	Purpose             string
}

func (c CreateCommand) validate() (consentmodels.ScopeSet, string, error) {
	if c.RecipientID == "" {
		return nil, "", dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	if strings.TrimSpace(c.PatientID) == "" {
		return nil, "", dErrors.New(dErrors.CodeBadRequest, "patientId is required")
	}
	if c.PatientID == c.RecipientID {
		return nil, "", dErrors.New(dErrors.CodeBadRequest, "cannot request access to your own records")
	}
	if c.RecipientHospitalID == "" {
		return nil, "", dErrors.New(dErrors.CodeBadRequest, "recipient hospital is required")
	}
	scope, err := consentmodels.ParseScopes(c.Scope)
	if err != nil {
		return nil, "", err
	}
	purpose := strings.TrimSpace(c.Purpose)
	if purpose == "" {
		return nil, "", dErrors.New(dErrors.CodeBadRequest, "purpose is required")
	}
	if utf8.RuneCountInString(purpose) > models.MaxPurposeLength {
		return nil, "", dErrors.New(dErrors.CodeBadRequest, "purpose is too long")
	}
	return scope, purpose, nil
}

// Create records a pending request.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*models.ConsentRequest, error) {
	ctx, span := tracer.Start(ctx, "request.Create")
	defer span.End()

	scope, purpose, err := cmd.validate()
	if err != nil {
		return nil, err
	}
	req := &models.ConsentRequest{
		ID:                  uuid.NewString(),
		PatientID:           cmd.PatientID,
		RecipientID:         cmd.RecipientID,
		RecipientHospitalID: cmd.RecipientHospitalID,
		Scope:               scope,
		Purpose:             purpose,
		Status:              models.StatusPending,
		CreatedAt:           requestcontext.Now(ctx).UTC(),
	}
	span.SetAttributes(attribute.String("request.id", req.ID))

	if err := s.store.Create(ctx, req); err != nil {
		s.logger.ErrorContext(ctx, "failed to store consent request",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create consent request")
	}

	s.metrics.IncrementTransition(string(models.StatusPending))
	s.emit(ctx, audit.Event{
		Action:      audit.ActionRequestCreated,
		ActorID:     req.RecipientID,
		PatientID:   req.PatientID,
		RecipientID: req.RecipientID,
		ConsentReq:  req.ID,
		Scope:       req.Scope.Strings(),
	})
	return req, nil
}

// Get returns a request to one of its parties. Other callers see not found.
func (s *Service) Get(ctx context.Context, requestID, callerID string) (*models.ConsentRequest, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.IsParty(callerID) {
		return nil, dErrors.New(dErrors.CodeNotFound, "consent request not found")
	}
	return req, nil
}

// ApproveResult carries the decided request and the grant it produced.
type ApproveResult struct {
	Request *models.ConsentRequest
	Grant   *consentservice.GrantResult
}

// Approve transitions a pending request to approved and grants the consent.
// The transition happens first so a racing decision can never double-grant;
// if the grant then fails the request is reopened.
func (s *Service) Approve(ctx context.Context, requestID, patientID string) (*ApproveResult, error) {
	ctx, span := tracer.Start(ctx, "request.Approve")
	defer span.End()

	req, err := s.loadForDecision(ctx, requestID, patientID)
	if err != nil {
		return nil, err
	}

	consentID := uuid.NewString()
	decided, err := s.decide(ctx, models.Decision{
		RequestID: req.ID,
		Status:    models.StatusApproved,
		ConsentID: consentID,
		DecidedAt: requestcontext.Now(ctx).UTC(),
	})
	if err != nil {
		return nil, err
	}

	grant, err := s.granter.Grant(ctx, consentservice.GrantCommand{
		ConsentID:           consentID,
		PatientID:           decided.PatientID,
		RecipientID:         decided.RecipientID,
		RecipientHospitalID: decided.RecipientHospitalID,
		Scope:               decided.Scope,
		Duration:            s.granter.DefaultDuration(),
	})
	if err != nil {
		span.SetStatus(codes.Error, "grant")
		if reopenErr := s.store.Reopen(ctx, decided.ID, consentID); reopenErr != nil {
			s.logger.ErrorContext(ctx, "failed to reopen consent request after grant failure",
				"error", reopenErr,
				"consent_request_id", decided.ID,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		return nil, err
	}

	s.metrics.IncrementTransition(string(models.StatusApproved))
	s.emit(ctx, audit.Event{
		Action:      audit.ActionRequestApproved,
		ActorID:     patientID,
		PatientID:   decided.PatientID,
		RecipientID: decided.RecipientID,
		ConsentID:   consentID,
		ConsentReq:  decided.ID,
		Scope:       decided.Scope.Strings(),
		Decision:    string(models.StatusApproved),
	})
	return &ApproveResult{Request: decided, Grant: grant}, nil
}

// Deny transitions a pending request to denied. Nothing is granted.
func (s *Service) Deny(ctx context.Context, requestID, patientID string) (*models.ConsentRequest, error) {
	ctx, span := tracer.Start(ctx, "request.Deny")
	defer span.End()

	req, err := s.loadForDecision(ctx, requestID, patientID)
	if err != nil {
		return nil, err
	}
	decided, err := s.decide(ctx, models.Decision{
		RequestID: req.ID,
		Status:    models.StatusDenied,
		DecidedAt: requestcontext.Now(ctx).UTC(),
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementTransition(string(models.StatusDenied))
	s.emit(ctx, audit.Event{
		Action:      audit.ActionRequestDenied,
		ActorID:     patientID,
		PatientID:   decided.PatientID,
		RecipientID: decided.RecipientID,
		ConsentReq:  decided.ID,
		Decision:    string(models.StatusDenied),
	})
	return decided, nil
}

// ListForPatient returns every request addressed to the patient, newest first.
func (s *Service) ListForPatient(ctx context.Context, patientID string) ([]*models.ConsentRequest, error) {
	if patientID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	reqs, err := s.store.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list consent requests")
	}
	return reqs, nil
}

// ListForRecipient returns every request the recipient raised, newest first.
func (s *Service) ListForRecipient(ctx context.Context, recipientID string) ([]*models.ConsentRequest, error) {
	if recipientID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	reqs, err := s.store.ListByRecipient(ctx, recipientID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list consent requests")
	}
	return reqs, nil
}

func (s *Service) load(ctx context.Context, requestID string) (*models.ConsentRequest, error) {
	if requestID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request id is required")
	}
	req, err := s.store.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "consent request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent request")
	}
	return req, nil
}

func (s *Service) loadForDecision(ctx context.Context, requestID, patientID string) (*models.ConsentRequest, error) {
	if patientID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "caller identity required")
	}
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.PatientID != patientID {
		if req.RecipientID == patientID {
			return nil, dErrors.New(dErrors.CodeForbidden, "only the patient may decide this request")
		}
		return nil, dErrors.New(dErrors.CodeNotFound, "consent request not found")
	}
	if req.Status.IsTerminal() {
		return nil, dErrors.New(dErrors.CodeAlreadyDecided, "consent request already "+string(req.Status))
	}
	return req, nil
}

func (s *Service) decide(ctx context.Context, d models.Decision) (*models.ConsentRequest, error) {
	decided, err := s.store.Decide(ctx, d)
	switch {
	case err == nil:
		return decided, nil
	case errors.Is(err, sentinel.ErrConflict):
		return nil, dErrors.New(dErrors.CodeAlreadyDecided, "consent request already decided")
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "consent request not found")
	default:
		s.logger.ErrorContext(ctx, "failed to decide consent request",
			"error", err,
			"consent_request_id", d.RequestID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decide consent request")
	}
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
			"consent_request_id", event.ConsentReq,
			"request_id", event.RequestID,
		)
	}
}
