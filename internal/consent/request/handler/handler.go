// Package handler exposes the consent request workflow over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ehrconsent/internal/consent/request/models"
	"ehrconsent/internal/consent/request/service"
	dErrors "ehrconsent/pkg/domain-errors"
	"ehrconsent/pkg/platform/httputil"
	"ehrconsent/pkg/requestcontext"
)

// Service defines the interface for consent request operations.
type Service interface {
	Create(ctx context.Context, cmd service.CreateCommand) (*models.ConsentRequest, error)
	Get(ctx context.Context, requestID, callerID string) (*models.ConsentRequest, error)
	Approve(ctx context.Context, requestID, patientID string) (*service.ApproveResult, error)
	Deny(ctx context.Context, requestID, patientID string) (*models.ConsentRequest, error)
	ListForPatient(ctx context.Context, patientID string) ([]*models.ConsentRequest, error)
	ListForRecipient(ctx context.Context, recipientID string) ([]*models.ConsentRequest, error)
}

// Handler handles consent request endpoints.
type Handler struct {
	logger   *slog.Logger
	requests Service
}

// New creates a new request Handler.
func New(requests Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, requests: requests}
}

// Register registers the request routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/consent/request", h.handleCreate)
	r.Get("/consent/requests/my", h.handleListForPatient)
	r.Get("/consent/requests/sent", h.handleListForRecipient)
	r.Get("/consent/requests/{id}", h.handleGet)
	r.Post("/consent/requests/{id}/approve", h.handleApprove)
	r.Post("/consent/requests/{id}/deny", h.handleDeny)
}

// CreateRequest is the body of POST /consent/request.
type CreateRequest struct {
	PatientID string   `json:"patientId"`
	Scope     []string `json:"scope"`
	Purpose   string   `json:"purpose"`
}

type CreateResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

// RequestSummary is the public view of a ConsentRequest.
type RequestSummary struct {
	RequestID           string     `json:"requestId"`
	PatientID           string     `json:"patientId"`
	RecipientID         string     `json:"recipientId"`
	RecipientHospitalID string     `json:"recipientHospitalId"`
	Scope               []string   `json:"scope"`
	Purpose             string     `json:"purpose"`
	Status              string     `json:"status"`
	ConsentID           string     `json:"consentId,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	DecidedAt           *time.Time `json:"decidedAt,omitempty"`
}

type ListResponse struct {
	Requests []RequestSummary `json:"requests"`
}

// DecisionResponse is returned by approve and deny. Approvals carry the
// minted consent so the patient can hand the token to the recipient.
type DecisionResponse struct {
	RequestID    string     `json:"requestId"`
	Status       string     `json:"status"`
	ConsentID    string     `json:"consentId,omitempty"`
	ConsentToken string     `json:"consentToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

func toSummary(r *models.ConsentRequest) RequestSummary {
	return RequestSummary{
		RequestID:           r.ID,
		PatientID:           r.PatientID,
		RecipientID:         r.RecipientID,
		RecipientHospitalID: r.RecipientHospitalID,
		Scope:               r.Scope.Strings(),
		Purpose:             r.Purpose,
		Status:              string(r.Status),
		ConsentID:           r.ConsentID,
		CreatedAt:           r.CreatedAt,
		DecidedAt:           r.DecidedAt,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req CreateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.logger.WarnContext(ctx, "invalid consent request body",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	created, err := h.requests.Create(ctx, service.CreateCommand{
		PatientID:           strings.TrimSpace(req.PatientID),
		RecipientID:         requestcontext.CallerID(ctx),
		RecipientHospitalID: requestcontext.HospitalID(ctx),
		Scope:               req.Scope,
		Purpose:             req.Purpose,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, CreateResponse{RequestID: created.ID, Status: string(created.Status)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := h.requests.Get(ctx, chi.URLParam(r, "id"), requestcontext.CallerID(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSummary(req))
}

func (h *Handler) handleListForPatient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqs, err := h.requests.ListForPatient(ctx, requestcontext.CallerID(ctx))
	writeList(w, reqs, err)
}

func (h *Handler) handleListForRecipient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqs, err := h.requests.ListForRecipient(ctx, requestcontext.CallerID(ctx))
	writeList(w, reqs, err)
}

func writeList(w http.ResponseWriter, reqs []*models.ConsentRequest, err error) {
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := ListResponse{Requests: make([]RequestSummary, 0, len(reqs))}
	for _, req := range reqs {
		resp.Requests = append(resp.Requests, toSummary(req))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chi.URLParam(r, "id")
	result, err := h.requests.Approve(ctx, requestID, requestcontext.CallerID(ctx))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeAlreadyDecided) {
			h.logger.InfoContext(ctx, "consent request decision lost race",
				"consent_request_id", requestID,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		httputil.WriteError(w, err)
		return
	}
	expiresAt := result.Grant.Record.ExpiresAt
	httputil.WriteJSON(w, http.StatusOK, DecisionResponse{
		RequestID:    result.Request.ID,
		Status:       string(result.Request.Status),
		ConsentID:    result.Grant.Record.ID,
		ConsentToken: result.Grant.Token,
		ExpiresAt:    &expiresAt,
	})
}

func (h *Handler) handleDeny(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	denied, err := h.requests.Deny(ctx, chi.URLParam(r, "id"), requestcontext.CallerID(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DecisionResponse{RequestID: denied.ID, Status: string(denied.Status)})
}
