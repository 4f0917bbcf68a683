//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"ehrconsent/internal/consent/models"
	"ehrconsent/internal/consent/store"
	"ehrconsent/pkg/platform/sentinel"
	"ehrconsent/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *store.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = store.NewRedis(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) record(id string) *models.ConsentRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.ConsentRecord{
		ID:                  id,
		PatientID:           "patient-1",
		RecipientID:         "doctor-1",
		RecipientHospitalID: "hospital-1",
		Scope:               models.ScopeSet{models.ScopePrescriptions, models.ScopeTestReports},
		GrantedAt:           now,
		ExpiresAt:           now.Add(time.Hour),
	}
}

func (s *RedisStoreSuite) TestPutUsesConsentKeyAndTTL() {
	ctx := context.Background()
	s.Require().NoError(s.store.Put(ctx, s.record("c-1"), 90*time.Second))

	ttl, err := s.redis.Client.TTL(ctx, "consent:c-1").Result()
	s.Require().NoError(err)
	s.InDelta(90, ttl.Seconds(), 2)

	got, err := s.store.Get(ctx, "c-1")
	s.Require().NoError(err)
	s.Equal([]string{"prescriptions", "test_reports"}, got.Scope.Strings())
	s.True(got.ExpiresAt.Equal(s.record("c-1").ExpiresAt))
}

func (s *RedisStoreSuite) TestRevokeKeepsTTL() {
	ctx := context.Background()
	s.Require().NoError(s.store.Put(ctx, s.record("c-1"), time.Minute))

	outcome, err := s.store.Revoke(ctx, "c-1", "patient-1", time.Now().UTC())
	s.Require().NoError(err)
	s.Equal(models.RevokeApplied, outcome)

	got, err := s.store.Get(ctx, "c-1")
	s.Require().NoError(err)
	s.True(got.Revoked)
	s.Equal("patient-1", got.RevokedBy)

	ttl, err := s.redis.Client.TTL(ctx, "consent:c-1").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0), "revocation must not make the record permanent")

	outcome, err = s.store.Revoke(ctx, "c-1", "doctor-1", time.Now().UTC())
	s.Require().NoError(err)
	s.Equal(models.RevokeAlready, outcome)
	got, err = s.store.Get(ctx, "c-1")
	s.Require().NoError(err)
	s.Equal("patient-1", got.RevokedBy)

	outcome, err = s.store.Revoke(ctx, "never-granted", "patient-1", time.Now())
	s.Require().NoError(err)
	s.Equal(models.RevokeMissing, outcome)
}

func (s *RedisStoreSuite) TestLapse() {
	ctx := context.Background()
	s.Require().NoError(s.store.Put(ctx, s.record("short"), time.Second))

	s.Eventually(func() bool {
		_, err := s.store.Get(ctx, "short")
		return err == sentinel.ErrNotFound
	}, 5*time.Second, 100*time.Millisecond)

	list, err := s.store.ListByPatient(ctx, "patient-1")
	s.Require().NoError(err)
	s.Empty(list)

	members, err := s.redis.Client.SMembers(ctx, "consent:patient:patient-1").Result()
	s.Require().NoError(err)
	s.Empty(members, "stale index members are pruned on read")
}

func (s *RedisStoreSuite) TestListings() {
	ctx := context.Background()
	s.Require().NoError(s.store.Put(ctx, s.record("c-1"), time.Hour))
	s.Require().NoError(s.store.Put(ctx, s.record("c-2"), time.Hour))

	granted, err := s.store.ListByPatient(ctx, "patient-1")
	s.Require().NoError(err)
	s.Len(granted, 2)

	received, err := s.store.ListByRecipient(ctx, "doctor-1")
	s.Require().NoError(err)
	s.Len(received, 2)

	none, err := s.store.ListByRecipient(ctx, "doctor-9")
	s.Require().NoError(err)
	s.Empty(none)
}

// TestConcurrentRevoke verifies optimistic revocation under contention: every
// caller succeeds and exactly one of them applies the flip.
func (s *RedisStoreSuite) TestConcurrentRevoke() {
	ctx := context.Background()
	s.Require().NoError(s.store.Put(ctx, s.record("c-1"), time.Hour))
	const goroutines = 20

	var wg sync.WaitGroup
	var applied, already atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := s.store.Revoke(ctx, "c-1", "patient-1", time.Now().UTC())
			if err != nil {
				return
			}
			switch outcome {
			case models.RevokeApplied:
				applied.Add(1)
			case models.RevokeAlready:
				already.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), applied.Load())
	s.Equal(int32(goroutines-1), already.Load())
	got, err := s.store.Get(ctx, "c-1")
	s.Require().NoError(err)
	s.True(got.Revoked)
}
