package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ehrconsent/internal/consent/models"
	"ehrconsent/pkg/platform/sentinel"
)

type memoryEntry struct {
	record   models.ConsentRecord
	deadline time.Time
}

// InMemoryStore is a single-process ConsentStore for development and tests.
// TTL is enforced lazily on read against the injected clock.
type InMemoryStore struct {
	mu          sync.RWMutex
	records     map[string]memoryEntry
	byPatient   map[string]map[string]struct{}
	byRecipient map[string]map[string]struct{}
	clock       func() time.Time
}

// MemoryOption configures an InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithClock sets the clock used for TTL evaluation.
func WithClock(clock func() time.Time) MemoryOption {
	return func(s *InMemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewInMemory(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		records:     make(map[string]memoryEntry),
		byPatient:   make(map[string]map[string]struct{}),
		byRecipient: make(map[string]map[string]struct{}),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Put(_ context.Context, record *models.ConsentRecord, ttl time.Duration) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("put consent: %w", sentinel.ErrInvalidState)
	}
	if ttl <= 0 {
		return fmt.Errorf("put consent: ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = memoryEntry{record: cloneRecord(*record), deadline: s.clock().Add(ttl)}
	addIndex(s.byPatient, record.PatientID, record.ID)
	addIndex(s.byRecipient, record.RecipientID, record.ID)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, jti string) (*models.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.live(jti)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	record := cloneRecord(entry.record)
	return &record, nil
}

func (s *InMemoryStore) Revoke(_ context.Context, jti string, revokedBy string, at time.Time) (models.RevokeOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(jti)
	if !ok {
		return models.RevokeMissing, nil
	}
	if entry.record.Revoked {
		return models.RevokeAlready, nil
	}
	entry.record.ApplyRevocation(revokedBy, at)
	s.records[jti] = entry
	return models.RevokeApplied, nil
}

func (s *InMemoryStore) ListByPatient(_ context.Context, patientID string) ([]*models.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(s.byPatient[patientID]), nil
}

func (s *InMemoryStore) ListByRecipient(_ context.Context, recipientID string) ([]*models.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(s.byRecipient[recipientID]), nil
}

// live must be called with the lock held.
func (s *InMemoryStore) live(jti string) (memoryEntry, bool) {
	entry, ok := s.records[jti]
	if !ok || !s.clock().Before(entry.deadline) {
		return memoryEntry{}, false
	}
	return entry, true
}

func (s *InMemoryStore) list(ids map[string]struct{}) []*models.ConsentRecord {
	out := make([]*models.ConsentRecord, 0, len(ids))
	for jti := range ids {
		if entry, ok := s.live(jti); ok {
			record := cloneRecord(entry.record)
			out = append(out, &record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GrantedAt.After(out[j].GrantedAt)
	})
	return out
}

func addIndex(idx map[string]map[string]struct{}, key, jti string) {
	if idx[key] == nil {
		idx[key] = make(map[string]struct{})
	}
	idx[key][jti] = struct{}{}
}

func cloneRecord(r models.ConsentRecord) models.ConsentRecord {
	r.Scope = append(models.ScopeSet(nil), r.Scope...)
	if r.RevokedAt != nil {
		at := *r.RevokedAt
		r.RevokedAt = &at
	}
	return r
}
