package admin

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"ehrconsent/pkg/testutil"
)

func TestRequireAdminToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	serve := func(expected, presented string) int {
		req := testutil.NewRequest(t, http.MethodGet, "/metrics")
		if presented != "" {
			req.Header.Set(HeaderAdminToken, presented)
		}
		return testutil.DoRequest(RequireAdminToken(expected, logger)(ok), req).Code
	}

	cases := map[string]struct {
		expected, presented string
		status              int
	}{
		"matching token":    {"scrape-token-0001", "scrape-token-0001", http.StatusOK},
		"wrong token":       {"scrape-token-0001", "scrape-token-0002", http.StatusUnauthorized},
		"missing token":     {"scrape-token-0001", "", http.StatusUnauthorized},
		"check disabled":    {"", "", http.StatusOK},
		"disabled, ignored": {"", "anything", http.StatusOK},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := serve(tc.expected, tc.presented); got != tc.status {
				t.Fatalf("status = %d, want %d", got, tc.status)
			}
		})
	}
}
