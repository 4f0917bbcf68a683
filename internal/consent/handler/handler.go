package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ehrconsent/internal/consent/models"
	"ehrconsent/internal/consent/qr"
	"ehrconsent/internal/consent/service"
	"ehrconsent/internal/platform/metrics"
	dErrors "ehrconsent/pkg/domain-errors"
	"ehrconsent/pkg/platform/httputil"
	"ehrconsent/pkg/requestcontext"
)

// Service defines the interface for consent lifecycle operations.
type Service interface {
	Grant(ctx context.Context, cmd service.GrantCommand) (*service.GrantResult, error)
	Status(ctx context.Context, consentID, callerID string) (*service.StatusResult, error)
	Revoke(ctx context.Context, consentID, requestedBy string) (*models.ConsentRecord, error)
	ListGranted(ctx context.Context, patientID string) ([]*models.ConsentRecord, error)
	ListReceived(ctx context.Context, recipientID string) ([]*models.ConsentRecord, error)
	Scan(ctx context.Context, consentID, callerID string) (*service.ScanResult, error)
	DefaultDuration() time.Duration
}

// QRCodec encodes consent references for in-person exchange.
type QRCodec interface {
	Encode(consentID string, consentExpiresAt time.Time) (*qr.Payload, error)
	Decode(payload string) (string, error)
}

// Handler handles consent endpoints. Routes expect an authenticated caller.
type Handler struct {
	logger  *slog.Logger
	consent Service
	qr      QRCodec
	metrics *metrics.Metrics
}

// New creates a new consent Handler.
func New(consent Service, qrCodec QRCodec, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		logger:  logger,
		consent: consent,
		qr:      qrCodec,
		metrics: m,
	}
}

// Register registers the consent routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/consent/grant", h.handleGrant)
	r.Post("/consent/revoke", h.handleRevoke)
	r.Get("/consent/status/{consentId}", h.handleStatus)
	r.Get("/consent/my", h.handleListGranted)
	r.Get("/consent/received", h.handleListReceived)
	r.Get("/consent/{consentId}/qr", h.handleQR)
	r.Post("/consent/scan", h.handleScan)
}

// callerOrFail returns the authenticated caller or writes an error.
func (h *Handler) callerOrFail(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	callerID := requestcontext.CallerID(ctx)
	if callerID == "" {
		h.logger.ErrorContext(ctx, "caller missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return "", false
	}
	return callerID, true
}

func (h *Handler) handleGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID, ok := h.callerOrFail(w, r)
	if !ok {
		return
	}

	var req GrantRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid grant request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	req.Normalize()
	if req.PatientID == "" {
		req.PatientID = callerID
	}
	if req.PatientID != callerID {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "consent can only be granted by the patient"))
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	scope, err := req.ScopeSet()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.consent.Grant(ctx, service.GrantCommand{
		PatientID:           req.PatientID,
		RecipientID:         req.RecipientID,
		RecipientHospitalID: req.RecipientHospitalID,
		Scope:               scope,
		Duration:            req.Duration(h.consent.DefaultDuration()),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, GrantResponse{
		ConsentID:    result.Record.ID,
		ConsentToken: result.Token,
		ExpiresAt:    result.Record.ExpiresAt,
	})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.callerOrFail(w, r)
	if !ok {
		return
	}
	var req RevokeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	record, err := h.consent.Revoke(r.Context(), req.ConsentID, callerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RevokeResponse{ConsentID: record.ID, Revoked: record.Revoked})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.callerOrFail(w, r)
	if !ok {
		return
	}
	status, err := h.status(r.Context(), chi.URLParam(r, "consentId"), callerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) status(ctx context.Context, consentID, callerID string) (*StatusResponse, error) {
	result, err := h.consent.Status(ctx, consentID, callerID)
	if err != nil {
		return nil, err
	}
	if !result.Exists {
		return nil, dErrors.New(dErrors.CodeNotFound, "consent not found")
	}
	resp := statusResponse(ctx, result)
	return &resp, nil
}

func statusResponse(ctx context.Context, result *service.StatusResult) StatusResponse {
	return StatusResponse{
		ConsentID: result.Record.ID,
		Valid:     result.Valid,
		Expired:   result.Expired,
		Revoked:   result.Revoked,
		Consent:   toSummary(result.Record, requestcontext.Now(ctx)),
	}
}

func (h *Handler) handleListGranted(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.callerOrFail(w, r)
	if !ok {
		return
	}
	records, err := h.consent.ListGranted(r.Context(), callerID)
	h.writeList(w, r, records, err)
}

func (h *Handler) handleListReceived(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.callerOrFail(w, r)
	if !ok {
		return
	}
	records, err := h.consent.ListReceived(r.Context(), callerID)
	h.writeList(w, r, records, err)
}

func (h *Handler) writeList(w http.ResponseWriter, r *http.Request, records []*models.ConsentRecord, err error) {
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	now := requestcontext.Now(r.Context())
	resp := ListResponse{Consents: make([]ConsentSummary, 0, len(records))}
	for _, record := range records {
		resp.Consents = append(resp.Consents, toSummary(record, now))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleQR renders a QR payload for a consent the caller granted.
func (h *Handler) handleQR(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID, ok := h.callerOrFail(w, r)
	if !ok {
		return
	}
	consentID := chi.URLParam(r, "consentId")

	result, err := h.consent.Status(ctx, consentID, callerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !result.Exists {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "consent not found"))
		return
	}
	if result.Record.PatientID != callerID {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "only the granting patient can share this consent"))
		return
	}
	switch {
	case result.Revoked:
		httputil.WriteError(w, dErrors.New(dErrors.CodeRevoked, "consent has been revoked"))
		return
	case result.Expired:
		httputil.WriteError(w, dErrors.New(dErrors.CodeExpired, "consent has expired"))
		return
	}

	payload, err := h.qr.Encode(result.Record.ID, result.Record.ExpiresAt)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeExpired) {
			h.logger.ErrorContext(ctx, "failed to encode qr payload",
				"error", err,
				"consent_id", consentID,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, QRResponse{
		ConsentID: result.Record.ID,
		Payload:   payload.Value,
		ExpiresAt: payload.ExpiresAt,
	})
}

// handleScan decodes a scanned QR payload and reports the referenced consent.
// The bound recipient of a valid consent also receives a fresh token.
func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID, ok := h.callerOrFail(w, r)
	if !ok {
		return
	}
	var req ScanRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	consentID, err := h.qr.Decode(req.Payload)
	if err != nil {
		h.metrics.IncrementScan("invalid_payload")
		h.logger.WarnContext(ctx, "rejected qr payload",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}

	result, err := h.consent.Scan(ctx, consentID, callerID)
	if err != nil {
		h.metrics.IncrementScan(string(dErrors.CodeOf(err)))
		httputil.WriteError(w, err)
		return
	}
	resp := ScanResponse{
		StatusResponse: statusResponse(ctx, &result.StatusResult),
		ConsentToken:   result.Token,
	}
	h.metrics.IncrementScan("ok")
	httputil.WriteJSON(w, http.StatusOK, resp)
}
