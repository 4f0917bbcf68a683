package enforcement

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"ehrconsent/internal/consent/models"
	dErrors "ehrconsent/pkg/domain-errors"
	"ehrconsent/pkg/platform/httputil"
	"ehrconsent/pkg/requestcontext"
)

// HeaderConsentToken carries the consent bearer credential on EHR reads.
const HeaderConsentToken = "X-Consent-Token"

type decisionKey struct{}

// DecisionFromContext returns the decision attached by Middleware.
func DecisionFromContext(ctx context.Context) (*Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(*Decision)
	return d, ok && d != nil
}

// Middleware enforces consent on routes that carry {patientId} and {scope}
// URL parameters. It must run after auth.RequireAuth.
func Middleware(enforcer *Enforcer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			consentToken := strings.TrimSpace(r.Header.Get(HeaderConsentToken))
			if consentToken == "" {
				logger.WarnContext(ctx, "ehr read without consent token",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "missing "+HeaderConsentToken+" header"))
				return
			}

			scope, err := models.ParseScope(chi.URLParam(r, "scope"))
			if err != nil {
				httputil.WriteError(w, err)
				return
			}

			decision, err := enforcer.Check(ctx, AccessRequest{
				CallerID:     requestcontext.CallerID(ctx),
				ConsentToken: consentToken,
				PatientID:    chi.URLParam(r, "patientId"),
				Scope:        scope,
			})
			if err != nil {
				httputil.WriteError(w, err)
				return
			}

			ctx = context.WithValue(ctx, decisionKey{}, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
