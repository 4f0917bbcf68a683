package testutil

import (
	"net/http"
	"time"

	"ehrconsent/pkg/requestcontext"
)

// WithCaller adds an authenticated caller to the request context.
// This simulates what the auth middleware would do for authenticated requests.
func WithCaller(req *http.Request, callerID, hospitalID, role string) *http.Request {
	ctx := requestcontext.WithCaller(req.Context(), callerID, hospitalID, role)
	return req.WithContext(ctx)
}

// WithTime pins the request-scoped clock.
func WithTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}
