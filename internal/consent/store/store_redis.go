package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"ehrconsent/internal/consent/models"
	"ehrconsent/pkg/platform/sentinel"
)

var storeDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "ehrconsent_consent_store_duration_ms",
	Help:    "Latency of consent store round trips in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
}, []string{"op"})

const (
	consentKeyPrefix        = "consent:"
	patientIndexKeyPrefix   = "consent:patient:"
	recipientIndexKeyPrefix = "consent:recipient:"

	// revokeMaxRetries bounds optimistic retries when a concurrent writer
	// touches the same key between WATCH and EXEC.
	revokeMaxRetries = 5
)

func consentKey(jti string) string       { return consentKeyPrefix + jti }
func patientIndexKey(id string) string   { return patientIndexKeyPrefix + id }
func recipientIndexKey(id string) string { return recipientIndexKeyPrefix + id }

// RedisStore keeps consent records under `consent:<jti>` with the grant's TTL.
// Redis expiry is the lapse mechanism; there is no sweeper in this process.
type RedisStore struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed consent store. The client lifecycle is
// managed by the caller.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func observe(op string, start time.Time) {
	storeDurationMs.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}

// Put stores the record with automatic expiry and adds it to the party indexes.
// Re-putting the same jti overwrites in place.
func (s *RedisStore) Put(ctx context.Context, record *models.ConsentRecord, ttl time.Duration) error {
	defer observe("put", time.Now())
	if record == nil || record.ID == "" {
		return fmt.Errorf("put consent: %w", sentinel.ErrInvalidState)
	}
	if ttl <= 0 {
		return fmt.Errorf("put consent: ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal consent: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, consentKey(record.ID), data, ttl)
		for _, idx := range []string{patientIndexKey(record.PatientID), recipientIndexKey(record.RecipientID)} {
			pipe.SAdd(ctx, idx, record.ID)
			// the index lives as long as its longest-lived member
			pipe.ExpireNX(ctx, idx, ttl)
			pipe.ExpireGT(ctx, idx, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put consent: %w", err)
	}
	return nil
}

// Get returns the record or sentinel.ErrNotFound when it was never granted or
// its TTL lapsed.
func (s *RedisStore) Get(ctx context.Context, jti string) (*models.ConsentRecord, error) {
	defer observe("get", time.Now())
	raw, err := s.client.Get(ctx, consentKey(jti)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get consent: %w", err)
	}
	return decodeRecord(raw)
}

// Revoke flips revoked=true in place, keeping the remaining TTL. Only the
// call that performs the flip reports RevokeApplied; revoking twice is not an
// error.
func (s *RedisStore) Revoke(ctx context.Context, jti string, revokedBy string, at time.Time) (models.RevokeOutcome, error) {
	defer observe("revoke", time.Now())
	key := consentKey(jti)

	var outcome models.RevokeOutcome
	txf := func(tx *redis.Tx) error {
		outcome = models.RevokeMissing
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		record, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		if record.Revoked {
			outcome = models.RevokeAlready
			return nil
		}
		record.ApplyRevocation(revokedBy, at)
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// XX: never resurrect a key that lapsed after the read
			pipe.SetArgs(ctx, key, data, redis.SetArgs{Mode: "XX", KeepTTL: true})
			return nil
		})
		if err == nil {
			outcome = models.RevokeApplied
		}
		return err
	}

	for range revokeMaxRetries {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return outcome, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return models.RevokeMissing, fmt.Errorf("revoke consent: %w", err)
	}
	return models.RevokeMissing, fmt.Errorf("revoke consent: %w", sentinel.ErrConflict)
}

// ListByPatient returns the live records granted by a patient.
func (s *RedisStore) ListByPatient(ctx context.Context, patientID string) ([]*models.ConsentRecord, error) {
	defer observe("list", time.Now())
	return s.listIndex(ctx, patientIndexKey(patientID))
}

// ListByRecipient returns the live records granted to a recipient.
func (s *RedisStore) ListByRecipient(ctx context.Context, recipientID string) ([]*models.ConsentRecord, error) {
	defer observe("list", time.Now())
	return s.listIndex(ctx, recipientIndexKey(recipientID))
}

func (s *RedisStore) listIndex(ctx context.Context, idx string) ([]*models.ConsentRecord, error) {
	jtis, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return nil, fmt.Errorf("list consent index: %w", err)
	}
	if len(jtis) == 0 {
		return []*models.ConsentRecord{}, nil
	}

	keys := make([]string, len(jtis))
	for i, jti := range jtis {
		keys[i] = consentKey(jti)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load consents: %w", err)
	}

	records := make([]*models.ConsentRecord, 0, len(values))
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, jtis[i])
			continue
		}
		record, err := decodeRecord([]byte(raw))
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if len(stale) > 0 {
		// best effort: a failed prune only costs a larger MGET next time
		_ = s.client.SRem(ctx, idx, stale...).Err()
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].GrantedAt.After(records[j].GrantedAt)
	})
	return records, nil
}

// Ping reports whether Redis is reachable, for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decodeRecord(raw []byte) (*models.ConsentRecord, error) {
	var record models.ConsentRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode consent: %w", err)
	}
	return &record, nil
}
