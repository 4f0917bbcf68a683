package enforcement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"ehrconsent/internal/consent/models"
	"ehrconsent/internal/consent/service"
	"ehrconsent/internal/consent/store"
	"ehrconsent/internal/consent/token"
	dErrors "ehrconsent/pkg/domain-errors"
	audit "ehrconsent/pkg/platform/audit"
	auditmemory "ehrconsent/pkg/platform/audit/store/memory"
	"ehrconsent/pkg/requestcontext"
	"ehrconsent/pkg/testutil"
)

const (
	patientID   = "patient-1"
	recipientID = "doctor-1"
	hospitalID  = "hospital-1"
)

type EnforcerSuite struct {
	suite.Suite
	now      time.Time
	ctx      context.Context
	codec    *token.Codec
	store    *store.InMemoryStore
	consents *service.Service
	auditor  *auditmemory.InMemoryStore
	enforcer *Enforcer
}

func TestEnforcerSuite(t *testing.T) {
	suite.Run(t, new(EnforcerSuite))
}

func (s *EnforcerSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.codec = token.NewCodec([]byte(strings.Repeat("k", 32)), "ehrconsent-test")
	s.store = store.NewInMemory(store.WithClock(func() time.Time { return s.now }))
	s.consents = service.New(s.store, s.codec, service.Config{})
	s.auditor = auditmemory.NewInMemoryStore()
	s.enforcer = New(s.codec, s.store, WithAuditor(s.auditor))
}

func (s *EnforcerSuite) grant(scopes ...models.Scope) *service.GrantResult {
	set, err := models.NewScopeSet(scopes...)
	s.Require().NoError(err)
	result, err := s.consents.Grant(s.ctx, service.GrantCommand{
		PatientID:           patientID,
		RecipientID:         recipientID,
		RecipientHospitalID: hospitalID,
		Scope:               set,
		Duration:            15 * time.Minute,
	})
	s.Require().NoError(err)
	return result
}

func (s *EnforcerSuite) check(consentToken string, scope models.Scope) (*Decision, error) {
	return s.enforcer.Check(s.ctx, AccessRequest{
		CallerID:     recipientID,
		ConsentToken: consentToken,
		PatientID:    patientID,
		Scope:        scope,
	})
}

func (s *EnforcerSuite) TestGrantReadRevoke() {
	granted := s.grant(models.ScopePrescriptions)

	s.Run("granted scope is readable", func() {
		decision, err := s.check(granted.Token, models.ScopePrescriptions)
		s.Require().NoError(err)
		s.Equal(granted.Record.ID, decision.ConsentID)
		s.Equal(hospitalID, decision.RecipientHospitalID)
	})

	s.Run("scope outside the grant is denied", func() {
		_, err := s.check(granted.Token, models.ScopeTestReports)
		s.True(dErrors.HasCode(err, dErrors.CodeScopeDenied))
	})

	s.Run("revocation is visible on the next read", func() {
		_, err := s.consents.Revoke(s.ctx, granted.Record.ID, patientID)
		s.Require().NoError(err)

		_, err = s.check(granted.Token, models.ScopePrescriptions)
		s.True(dErrors.HasCode(err, dErrors.CodeRevoked))
	})
}

func (s *EnforcerSuite) TestTokenFailures() {
	granted := s.grant(models.ScopePrescriptions)

	s.Run("tampered token", func() {
		parts := strings.Split(granted.Token, ".")
		s.Require().Len(parts, 3)
		tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
		_, err := s.check(tampered, models.ScopePrescriptions)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	})

	s.Run("token signed with another key", func() {
		other := token.NewCodec([]byte(strings.Repeat("x", 32)), "ehrconsent-test")
		forged, err := other.Sign(token.ConsentClaims{
			ConsentID:   granted.Record.ID,
			PatientID:   patientID,
			RecipientID: recipientID,
			Scope:       granted.Record.Scope,
			IssuedAt:    s.now,
			ExpiresAt:   s.now.Add(time.Hour),
		})
		s.Require().NoError(err)
		_, err = s.check(forged, models.ScopePrescriptions)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	})

	s.Run("empty token", func() {
		_, err := s.check("", models.ScopePrescriptions)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	})
}

func (s *EnforcerSuite) TestExpiry() {
	granted := s.grant(models.ScopePrescriptions)

	s.Run("expired after the deadline", func() {
		ctx := requestcontext.WithTime(context.Background(), granted.Record.ExpiresAt.Add(time.Second))
		_, err := s.enforcer.Check(ctx, AccessRequest{
			CallerID: recipientID, ConsentToken: granted.Token, PatientID: patientID, Scope: models.ScopePrescriptions,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeExpired))
	})
}

func (s *EnforcerSuite) TestAudienceMismatch() {
	granted := s.grant(models.ScopePrescriptions)

	s.Run("different recipient presents the token", func() {
		_, err := s.enforcer.Check(s.ctx, AccessRequest{
			CallerID: "doctor-2", ConsentToken: granted.Token, PatientID: patientID, Scope: models.ScopePrescriptions,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeAudienceMismatch))
	})

	s.Run("token used against a different patient", func() {
		_, err := s.enforcer.Check(s.ctx, AccessRequest{
			CallerID: recipientID, ConsentToken: granted.Token, PatientID: "patient-2", Scope: models.ScopePrescriptions,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeAudienceMismatch))
	})
}

func (s *EnforcerSuite) TestUnknownConsent() {
	signed, err := s.codec.Sign(token.ConsentClaims{
		ConsentID:   "never-stored",
		PatientID:   patientID,
		RecipientID: recipientID,
		Scope:       models.ScopeSet{models.ScopePrescriptions},
		IssuedAt:    s.now,
		ExpiresAt:   s.now.Add(time.Hour),
	})
	s.Require().NoError(err)

	_, err = s.check(signed, models.ScopePrescriptions)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *EnforcerSuite) TestStoreOutageFailsClosed() {
	granted := s.grant(models.ScopePrescriptions)
	enforcer := New(s.codec, failingReader{})

	_, err := enforcer.Check(s.ctx, AccessRequest{
		CallerID: recipientID, ConsentToken: granted.Token, PatientID: patientID, Scope: models.ScopePrescriptions,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *EnforcerSuite) TestAuditTrail() {
	granted := s.grant(models.ScopePrescriptions)

	_, err := s.check(granted.Token, models.ScopePrescriptions)
	s.Require().NoError(err)
	_, err = s.check(granted.Token, models.ScopeIoTDevices)
	s.Require().Error(err)

	allowed := s.auditor.ListByAction(audit.ActionConsentChecked)
	s.Require().Len(allowed, 1)
	s.Equal(granted.Record.ID, allowed[0].ConsentID)

	denied := s.auditor.ListByAction(audit.ActionAccessDenied)
	s.Require().Len(denied, 1)
	s.Equal("deny", denied[0].Decision)
	s.Equal(string(dErrors.CodeScopeDenied), denied[0].Reason)
}

type failingReader struct{}

func (failingReader) Get(context.Context, string) (*models.ConsentRecord, error) {
	return nil, errors.New("connection refused")
}

func TestMiddleware(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	codec := token.NewCodec([]byte(strings.Repeat("k", 32)), "")
	records := store.NewInMemory()
	consents := service.New(records, codec, service.Config{})
	enforcer := New(codec, records)

	set, err := models.NewScopeSet(models.ScopePrescriptions)
	require.NoError(t, err)
	granted, err := consents.Grant(requestcontext.WithTime(context.Background(), now), service.GrantCommand{
		PatientID: patientID, RecipientID: recipientID, RecipientHospitalID: hospitalID,
		Scope: set, Duration: time.Hour,
	})
	require.NoError(t, err)

	router := chi.NewRouter()
	router.With(Middleware(enforcer, testLogger())).Get("/ehr/patients/{patientId}/{scope}", func(w http.ResponseWriter, r *http.Request) {
		decision, ok := DecisionFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(decision.ConsentID))
	})

	read := func(scope, consentToken string) *httptest.ResponseRecorder {
		req := testutil.NewRequest(t, http.MethodGet, "/ehr/patients/"+patientID+"/"+scope)
		req = testutil.WithCaller(req, recipientID, hospitalID, "doctor")
		if consentToken != "" {
			req.Header.Set(HeaderConsentToken, consentToken)
		}
		return testutil.DoRequest(router, req)
	}

	t.Run("granted read passes through", func(t *testing.T) {
		rr := read("prescriptions", granted.Token)
		testutil.AssertStatusOK(t, rr)
		assert.Equal(t, granted.Record.ID, rr.Body.String())
	})

	t.Run("missing consent header is forbidden", func(t *testing.T) {
		rr := read("prescriptions", "")
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, string(dErrors.CodeForbidden))
	})

	t.Run("scope outside grant is forbidden", func(t *testing.T) {
		rr := read("test_reports", granted.Token)
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, string(dErrors.CodeScopeDenied))
	})

	t.Run("unknown scope is a bad request", func(t *testing.T) {
		rr := read("genome", granted.Token)
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
