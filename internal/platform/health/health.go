// Package health reports reachability of the service's backing stores.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"ehrconsent/pkg/platform/httputil"
)

// Pinger is any dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Checker pings every registered dependency on each request.
type Checker struct {
	deps    map[string]Pinger
	timeout time.Duration
	logger  *slog.Logger
}

func NewChecker(logger *slog.Logger) *Checker {
	return &Checker{deps: map[string]Pinger{}, timeout: 3 * time.Second, logger: logger}
}

// Add registers a dependency. Nil pingers are ignored so optional backends can
// be passed straight through.
func (c *Checker) Add(name string, p Pinger) *Checker {
	if p != nil {
		c.deps[name] = p
	}
	return c
}

// Check pings all dependencies and returns the per-dependency result.
func (c *Checker) Check(ctx context.Context) Response {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	names := make([]string, 0, len(c.deps))
	for name := range c.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := Response{Status: "healthy", Checks: map[string]string{}}
	for _, name := range names {
		if err := c.deps[name].Ping(ctx); err != nil {
			c.logger.WarnContext(ctx, "health check failed", "dependency", name, "error", err)
			resp.Status = "unhealthy"
			resp.Checks[name] = "unreachable"
			continue
		}
		resp.Checks[name] = "ok"
	}
	return resp
}

// ServeHTTP answers 200 when every dependency is reachable and 503 otherwise.
func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := c.Check(r.Context())
	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}
