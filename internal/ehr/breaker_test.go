package ehr

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ehrconsent/internal/consent/models"
	dErrors "ehrconsent/pkg/domain-errors"
	"ehrconsent/pkg/platform/circuit"
)

type scriptedReader struct {
	errs  []error
	calls int
}

func (s *scriptedReader) Read(ctx context.Context, patientID string, scope models.Scope) (*Section, error) {
	var err error
	if s.calls < len(s.errs) {
		err = s.errs[s.calls]
	}
	s.calls++
	if err != nil {
		return nil, err
	}
	return StubReader{}.Read(ctx, patientID, scope)
}

func TestGuardedReader(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	down := dErrors.New(dErrors.CodeInternal, "EHR upstream returned 502")
	missing := dErrors.New(dErrors.CodeNotFound, "no profile on record")
	ctx := context.Background()

	t.Run("opens after consecutive upstream failures and fails fast", func(t *testing.T) {
		now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		upstream := &scriptedReader{errs: []error{down, down, nil}}
		breaker := circuit.New("ehr", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1),
			circuit.WithCooldown(time.Minute), circuit.WithClock(func() time.Time { return now }))
		reader := NewGuardedReader(upstream, breaker, logger)

		for range 2 {
			_, err := reader.Read(ctx, "patient-1", models.ScopeProfile)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
		}
		_, err := reader.Read(ctx, "patient-1", models.ScopeProfile)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
		assert.Equal(t, 2, upstream.calls, "open breaker must not reach the upstream")

		now = now.Add(time.Minute)
		section, err := reader.Read(ctx, "patient-1", models.ScopeProfile)
		require.NoError(t, err)
		assert.Equal(t, "patient-1", section.PatientID)
		assert.False(t, breaker.IsOpen())
	})

	t.Run("missing sections do not trip the breaker", func(t *testing.T) {
		upstream := &scriptedReader{errs: []error{missing, missing, missing}}
		breaker := circuit.New("ehr", circuit.WithFailureThreshold(2))
		reader := NewGuardedReader(upstream, breaker, logger)

		for range 3 {
			_, err := reader.Read(ctx, "patient-1", models.ScopeProfile)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
		}
		assert.False(t, breaker.IsOpen())
	})
}
