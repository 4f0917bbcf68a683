// Package store persists consent requests. Both backends implement the
// pending-only compare-and-set that makes approve and deny race-safe.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ehrconsent/internal/consent/request/models"
	"ehrconsent/pkg/platform/sentinel"
)

// InMemoryStore keeps requests in a map guarded by a mutex.
type InMemoryStore struct {
	mu       sync.Mutex
	requests map[string]*models.ConsentRequest
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{requests: make(map[string]*models.ConsentRequest)}
}

func (s *InMemoryStore) Create(_ context.Context, req *models.ConsentRequest) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("create consent request: %w", sentinel.ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("create consent request %s: %w", req.ID, sentinel.ErrConflict)
	}
	stored := clone(req)
	s.requests[req.ID] = stored
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id string) (*models.ConsentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(req), nil
}

// Decide applies d only while the request is pending.
func (s *InMemoryStore) Decide(_ context.Context, d models.Decision) (*models.ConsentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[d.RequestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if req.Status != models.StatusPending {
		return nil, fmt.Errorf("decide consent request %s: %w", d.RequestID, sentinel.ErrConflict)
	}
	decidedAt := d.DecidedAt
	req.Status = d.Status
	req.ConsentID = d.ConsentID
	req.DecidedAt = &decidedAt
	return clone(req), nil
}

// Reopen returns an approved request to pending when the grant it triggered
// failed. It only matches the approval that carried consentID.
func (s *InMemoryStore) Reopen(_ context.Context, requestID, consentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if req.Status != models.StatusApproved || req.ConsentID != consentID {
		return fmt.Errorf("reopen consent request %s: %w", requestID, sentinel.ErrConflict)
	}
	req.Status = models.StatusPending
	req.ConsentID = ""
	req.DecidedAt = nil
	return nil
}

func (s *InMemoryStore) ListByPatient(_ context.Context, patientID string) ([]*models.ConsentRequest, error) {
	return s.filter(func(r *models.ConsentRequest) bool { return r.PatientID == patientID }), nil
}

func (s *InMemoryStore) ListByRecipient(_ context.Context, recipientID string) ([]*models.ConsentRequest, error) {
	return s.filter(func(r *models.ConsentRequest) bool { return r.RecipientID == recipientID }), nil
}

func (s *InMemoryStore) filter(keep func(*models.ConsentRequest) bool) []*models.ConsentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ConsentRequest, 0)
	for _, req := range s.requests {
		if keep(req) {
			out = append(out, clone(req))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func clone(r *models.ConsentRequest) *models.ConsentRequest {
	c := *r
	c.Scope = append(c.Scope[:0:0], r.Scope...)
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}

func (s *InMemoryStore) PurgeDecidedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.requests {
		if r.Status.IsTerminal() && r.DecidedAt != nil && r.DecidedAt.Before(cutoff) {
			delete(s.requests, id)
			n++
		}
	}
	return n, nil
}
