package ehr

import (
	"context"
	"log/slog"

	"ehrconsent/internal/consent/models"
	dErrors "ehrconsent/pkg/domain-errors"
	"ehrconsent/pkg/platform/circuit"
)

// GuardedReader fails fast while the upstream is known to be down. Only
// upstream failures trip the breaker; a missing section is a healthy answer.
type GuardedReader struct {
	next    Reader
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewGuardedReader(next Reader, breaker *circuit.Breaker, logger *slog.Logger) *GuardedReader {
	return &GuardedReader{next: next, breaker: breaker, logger: logger}
}

func (g *GuardedReader) Read(ctx context.Context, patientID string, scope models.Scope) (*Section, error) {
	if !g.breaker.Allow() {
		return nil, dErrors.New(dErrors.CodeTimeout, "EHR upstream unavailable")
	}

	section, err := g.next.Read(ctx, patientID, scope)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
		if _, change := g.breaker.RecordFailure(); change.Opened {
			g.logger.WarnContext(ctx, "EHR upstream circuit opened", "breaker", g.breaker.Name(), "error", err)
		}
		return nil, err
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.logger.InfoContext(ctx, "EHR upstream circuit closed", "breaker", g.breaker.Name())
	}
	return section, err
}
