package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"ehrconsent/pkg/testutil"
)

func TestChecker(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	up := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	t.Run("all dependencies reachable", func(t *testing.T) {
		checker := NewChecker(logger).Add("redis", up).Add("postgres", up).Add("kafka", nil)
		rr := testutil.DoRequest(checker, testutil.NewRequest(t, http.MethodGet, "/health"))

		testutil.AssertStatusOK(t, rr)
		resp := testutil.UnmarshalResponse[Response](t, rr)
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, map[string]string{"redis": "ok", "postgres": "ok"}, resp.Checks)
	})

	t.Run("one dependency down", func(t *testing.T) {
		checker := NewChecker(logger).Add("redis", up).Add("postgres", down)
		rr := testutil.DoRequest(checker, testutil.NewRequest(t, http.MethodGet, "/health"))

		testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
		resp := testutil.UnmarshalResponse[Response](t, rr)
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Equal(t, "unreachable", resp.Checks["postgres"])
	})

	t.Run("no dependencies configured", func(t *testing.T) {
		rr := testutil.DoRequest(NewChecker(logger), testutil.NewRequest(t, http.MethodGet, "/health"))
		testutil.AssertStatusOK(t, rr)
	})
}
