// Package requestcontext carries request-scoped values without net/http.
//
// Middleware writes them; services and audit enrichment read them:
//
//	caller := requestcontext.CallerID(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests pin them directly, e.g. requestcontext.WithTime(ctx, fixed).
package requestcontext

import (
	"context"
	"time"
)

type key int

const (
	keyCallerID key = iota
	keyHospitalID
	keyRole
	keyClientIP
	keyUserAgent
	keyRequestID
	keyRequestTime
)

func lookup[T any](ctx context.Context, k key) (T, bool) {
	v, ok := ctx.Value(k).(T)
	return v, ok
}

func str(ctx context.Context, k key) string {
	v, _ := lookup[string](ctx, k)
	return v
}

// CallerID is the authenticated subject, empty when unauthenticated.
func CallerID(ctx context.Context) string { return str(ctx, keyCallerID) }

// HospitalID is the caller's institution, if the identity carried one.
func HospitalID(ctx context.Context) string { return str(ctx, keyHospitalID) }

// Role is the caller's role claim: "patient", "doctor" or "staff".
func Role(ctx context.Context) string { return str(ctx, keyRole) }

func WithCaller(ctx context.Context, callerID, hospitalID, role string) context.Context {
	ctx = context.WithValue(ctx, keyCallerID, callerID)
	ctx = context.WithValue(ctx, keyHospitalID, hospitalID)
	return context.WithValue(ctx, keyRole, role)
}

func ClientIP(ctx context.Context) string  { return str(ctx, keyClientIP) }
func UserAgent(ctx context.Context) string { return str(ctx, keyUserAgent) }

func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, keyClientIP, clientIP)
	return context.WithValue(ctx, keyUserAgent, userAgent)
}

func RequestID(ctx context.Context) string { return str(ctx, keyRequestID) }

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// Now is the time pinned for this request, or the wall clock outside one.
func Now(ctx context.Context) time.Time {
	if t, ok := lookup[time.Time](ctx, keyRequestTime); ok {
		return t
	}
	return time.Now()
}

func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, keyRequestTime, t)
}
