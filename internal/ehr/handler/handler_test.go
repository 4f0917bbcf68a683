package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ehrconsent/internal/consent/models"
	"ehrconsent/internal/consent/service"
	"ehrconsent/internal/consent/store"
	"ehrconsent/internal/consent/token"
	"ehrconsent/internal/ehr"
	"ehrconsent/internal/enforcement"
	dErrors "ehrconsent/pkg/domain-errors"
	"ehrconsent/pkg/testutil"
)

// TestConsentGatedRead walks a grant through reads and a revocation over HTTP.
func TestConsentGatedRead(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	codec := token.NewCodec([]byte(strings.Repeat("k", 32)), "ehrconsent-test")
	records := store.NewInMemory()
	consents := service.New(records, codec, service.Config{})

	router := chi.NewRouter()
	New(ehr.StubReader{}, enforcement.New(codec, records), logger).Register(router)

	scope, err := models.NewScopeSet(models.ScopePrescriptions)
	require.NoError(t, err)
	granted, err := consents.Grant(context.Background(), service.GrantCommand{
		PatientID:           "P1",
		RecipientID:         "R1",
		RecipientHospitalID: "H1",
		Scope:               scope,
		Duration:            15 * time.Minute,
	})
	require.NoError(t, err)

	read := func(scope string) *http.Request {
		req := testutil.NewRequest(t, http.MethodGet, "/ehr/patients/P1/"+scope)
		req.Header.Set(enforcement.HeaderConsentToken, granted.Token)
		return testutil.WithCaller(req, "R1", "H1", "doctor")
	}

	testutil.Given(t, "an active grant for prescriptions", func(t *testing.T) {
		testutil.When(t, "the recipient reads prescriptions", func(t *testing.T) {
			rr := testutil.DoRequest(router, read("prescriptions"))
			testutil.AssertStatusOK(t, rr)
			resp := testutil.UnmarshalResponse[ReadResponse](t, rr)
			assert.Equal(t, granted.Record.ID, resp.ConsentID)
			assert.Equal(t, "P1", resp.PatientID)
		})

		testutil.When(t, "the recipient reads test reports", func(t *testing.T) {
			rr := testutil.DoRequest(router, read("test_reports"))
			testutil.AssertStatusAndError(t, rr, http.StatusForbidden, string(dErrors.CodeScopeDenied))
		})
	})

	testutil.Given(t, "the patient revoked the grant", func(t *testing.T) {
		_, err := consents.Revoke(context.Background(), granted.Record.ID, "P1")
		require.NoError(t, err)

		testutil.Then(t, "the next read is refused", func(t *testing.T) {
			rr := testutil.DoRequest(router, read("prescriptions"))
			testutil.AssertStatusAndError(t, rr, http.StatusForbidden, string(dErrors.CodeRevoked))
		})
	})
}
