package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPurger struct {
	mu      sync.Mutex
	cutoffs []time.Time
	n       int64
	err     error
}

func (p *recordingPurger) PurgeDecidedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, cutoff)
	return p.n, p.err
}

func (p *recordingPurger) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cutoffs)
}

func TestNew(t *testing.T) {
	purger := &recordingPurger{}

	_, err := New(purger, 0, "@daily")
	assert.Error(t, err, "zero retention")

	_, err = New(purger, time.Hour, "every tuesday")
	assert.Error(t, err, "bad schedule")

	for _, spec := range []string{"@daily", "@every 10m", "30 3 * * *"} {
		_, err = New(purger, time.Hour, spec)
		assert.NoError(t, err, spec)
	}
}

func TestSweepUsesRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	purger := &recordingPurger{n: 4}
	s, err := New(purger, 30*24*time.Hour, "@daily", WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.Len(t, purger.cutoffs, 1)
	assert.Equal(t, now.Add(-30*24*time.Hour), purger.cutoffs[0])
}

func TestSweepPropagatesStoreError(t *testing.T) {
	purger := &recordingPurger{err: errors.New("connection reset")}
	s, err := New(purger, time.Hour, "@daily")
	require.NoError(t, err)

	_, err = s.Sweep(context.Background())
	assert.EqualError(t, err, "connection reset")
}

func TestScheduledSweepRuns(t *testing.T) {
	purger := &recordingPurger{}
	s, err := New(purger, time.Hour, "@every 1s")
	require.NoError(t, err)

	s.Start()
	assert.Eventually(t, func() bool { return purger.calls() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
