package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	dErrors "ehrconsent/pkg/domain-errors"
	"ehrconsent/pkg/platform/httputil"
	"ehrconsent/pkg/platform/middleware/admin"
	authmw "ehrconsent/pkg/platform/middleware/auth"
	"ehrconsent/pkg/platform/middleware/metadata"
	request "ehrconsent/pkg/platform/middleware/request"
	"ehrconsent/pkg/platform/middleware/requesttime"
)

// RouteRegistrar is implemented by every domain handler.
type RouteRegistrar interface {
	Register(r chi.Router)
}

// Dependencies are the pieces the router mounts. Health and Metrics are served
// without caller identity (Metrics optionally behind MetricsToken); everything
// in Routes sits behind RequireAuth.
type Dependencies struct {
	Logger         *slog.Logger
	Identity       authmw.IdentityValidator
	RequestTimeout time.Duration
	Health         http.Handler
	Metrics        http.Handler
	MetricsToken   string
	Routes         []RouteRegistrar
}

// NewRouter wires the middleware chain and all public endpoints.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(request.RequestID)
	r.Use(request.Recovery(deps.Logger))
	r.Use(request.Logger(deps.Logger))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	if deps.RequestTimeout > 0 {
		r.Use(request.Timeout(deps.RequestTimeout))
	}
	r.Use(request.ContentTypeJSON)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.ErrorResponse{
			Error:            "method_not_allowed",
			ErrorDescription: "method not allowed",
		})
	})

	if deps.Health != nil {
		r.Method(http.MethodGet, "/health", deps.Health)
	}
	if deps.Metrics != nil {
		r.With(admin.RequireAdminToken(deps.MetricsToken, deps.Logger)).
			Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(deps.Identity, deps.Logger))
		for _, routes := range deps.Routes {
			routes.Register(r)
		}
	})

	return r
}
