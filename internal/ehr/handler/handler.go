// Package handler serves consent-gated EHR reads.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ehrconsent/internal/ehr"
	"ehrconsent/internal/enforcement"
	dErrors "ehrconsent/pkg/domain-errors"
	"ehrconsent/pkg/platform/httputil"
	"ehrconsent/pkg/requestcontext"
)

// Handler proxies EHR reads that passed enforcement.
type Handler struct {
	logger   *slog.Logger
	reader   ehr.Reader
	enforcer *enforcement.Enforcer
}

func New(reader ehr.Reader, enforcer *enforcement.Enforcer, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, reader: reader, enforcer: enforcer}
}

// Register mounts the EHR read route behind the consent enforcement middleware.
func (h *Handler) Register(r chi.Router) {
	r.With(enforcement.Middleware(h.enforcer, h.logger)).
		Get("/ehr/patients/{patientId}/{scope}", h.handleRead)
}

type ReadResponse struct {
	ConsentID string `json:"consentId"`
	*ehr.Section
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	decision, ok := enforcement.DecisionFromContext(ctx)
	if !ok {
		h.logger.ErrorContext(ctx, "ehr read reached handler without an enforcement decision",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "consent required"))
		return
	}

	section, err := h.reader.Read(ctx, decision.PatientID, decision.Scope)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			h.logger.ErrorContext(ctx, "ehr upstream read failed",
				"error", err,
				"consent_id", decision.ConsentID,
				"scope", string(decision.Scope),
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ReadResponse{ConsentID: decision.ConsentID, Section: section})
}
