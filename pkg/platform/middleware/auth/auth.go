package auth

import (
	"log/slog"
	"net/http"
	"strings"

	dErrors "ehrconsent/pkg/domain-errors"
	"ehrconsent/pkg/platform/httputil"
	request "ehrconsent/pkg/platform/middleware/request"
	"ehrconsent/pkg/requestcontext"
)

// IdentityValidator validates the caller identity token issued by the external
// authentication system.
type IdentityValidator interface {
	ValidateToken(tokenString string) (*Identity, error)
}

// Identity is what the middleware needs from a validated identity token.
type Identity struct {
	CallerID   string
	HospitalID string
	Role       string
}

// GetCallerID retrieves the authenticated caller from the context.
func GetCallerID(r *http.Request) string {
	return requestcontext.CallerID(r.Context())
}

// RequireAuth rejects requests without a valid `Authorization: Bearer` identity
// token with 401, and stores the caller identity in the request context.
func RequireAuth(validator IdentityValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := request.GetRequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			identity, err := validator.ValidateToken(strings.TrimSpace(token))
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired identity token"))
				return
			}
			if identity.CallerID == "" {
				logger.WarnContext(ctx, "unauthorized access - identity without subject",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired identity token"))
				return
			}

			ctx = requestcontext.WithCaller(ctx, identity.CallerID, identity.HospitalID, identity.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
