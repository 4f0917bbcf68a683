// Package ehr reads patient record sections from the EHR system of record.
// This service stores no medical data; reads are proxied only after an
// enforcement decision allowed them.
package ehr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ehrconsent/internal/consent/models"
	dErrors "ehrconsent/pkg/domain-errors"
	"ehrconsent/pkg/requestcontext"
)

// maxSectionBytes bounds an upstream response body.
const maxSectionBytes = 4 << 20

// Section is one scope's worth of a patient's record.
type Section struct {
	PatientID string          `json:"patientId"`
	Scope     models.Scope    `json:"scope"`
	Data      json.RawMessage `json:"data"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// Reader is the EHR port.
type Reader interface {
	Read(ctx context.Context, patientID string, scope models.Scope) (*Section, error)
}

// HTTPReader fetches sections from an upstream EHR API at
// GET {base}/patients/{patientId}/{scope}.
type HTTPReader struct {
	base   *url.URL
	client *http.Client
}

func NewHTTPReader(baseURL string, timeout time.Duration) (*HTTPReader, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid EHR upstream url %q", baseURL)
	}
	return &HTTPReader{base: base, client: &http.Client{Timeout: timeout}}, nil
}

func (r *HTTPReader) Read(ctx context.Context, patientID string, scope models.Scope) (*Section, error) {
	endpoint := r.base.JoinPath("patients", patientID, string(scope))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build EHR request")
	}
	req.Header.Set("Accept", "application/json")
	if id := requestcontext.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "EHR upstream timed out")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "EHR upstream unavailable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, dErrors.New(dErrors.CodeNotFound, "no "+string(scope)+" on record")
	case resp.StatusCode != http.StatusOK:
		return nil, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("EHR upstream returned %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSectionBytes))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read EHR response")
	}
	if !json.Valid(body) {
		return nil, dErrors.New(dErrors.CodeInternal, "EHR upstream returned invalid JSON")
	}
	return &Section{
		PatientID: patientID,
		Scope:     scope,
		Data:      body,
		FetchedAt: requestcontext.Now(ctx).UTC(),
	}, nil
}

// StubReader answers every read with an empty section. Used when no upstream
// is configured.
type StubReader struct{}

func (StubReader) Read(ctx context.Context, patientID string, scope models.Scope) (*Section, error) {
	return &Section{
		PatientID: patientID,
		Scope:     scope,
		Data:      json.RawMessage(`[]`),
		FetchedAt: requestcontext.Now(ctx).UTC(),
	}, nil
}
