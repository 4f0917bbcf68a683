package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "ehrconsent/pkg/platform/audit"
	"ehrconsent/pkg/platform/audit/store/memory"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)

	consentID := uuid.NewString()
	err := pub.Emit(context.Background(), audit.Event{Action: audit.ActionConsentGranted, ConsentID: consentID})
	require.NoError(t, err)

	events := store.ListAll()
	require.Len(t, events, 1)
	assert.Equal(t, consentID, events[0].ConsentID)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: audit.ActionConsentChecked}))
	}
	require.NoError(t, pub.Close(context.Background()))

	assert.Len(t, store.ListByAction(audit.ActionConsentChecked), 10, "all events should be drained on close")
}

func TestPublisher_AsyncSurvivesCancelledRequest(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pub.Emit(ctx, audit.Event{Action: audit.ActionConsentScanned}))
	cancel()
	require.NoError(t, pub.Close(context.Background()))

	assert.Len(t, store.ListByAction(audit.ActionConsentScanned), 1)
}

func TestPublisher_BufferFull(t *testing.T) {
	release := make(chan struct{})
	sink := &blockingSink{release: release, started: make(chan struct{}, 1)}
	pub := NewPublisher(sink, WithAsyncBuffer(1))

	require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: audit.ActionConsentChecked}))
	<-sink.started // the worker now holds the first event
	require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: audit.ActionConsentChecked}))

	err := pub.Emit(context.Background(), audit.Event{Action: audit.ActionConsentChecked})
	assert.ErrorIs(t, err, ErrBufferFull)

	close(release)
	require.NoError(t, pub.Close(context.Background()))
	assert.Equal(t, 2, sink.count())
}

func TestPublisher_ComplianceBypassesBuffer(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	defer func() { _ = pub.Close(context.Background()) }()

	require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: audit.ActionConsentRevoked}))
	assert.Len(t, store.ListByAction(audit.ActionConsentRevoked), 1, "compliance events are stored before Emit returns")
}

func TestPublisher_ConcurrentEmitsDoNotPanic(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pub.Emit(context.Background(), audit.Event{Action: audit.ActionAccessDenied})
			if err != nil {
				assert.ErrorIs(t, err, ErrBufferFull)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, pub.Close(context.Background()))
}

func TestPublisher_Timestamps(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("sets a missing timestamp", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		pub := NewPublisher(store, WithClock(func() time.Time { return fixed }))
		require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: audit.ActionConsentGranted}))
		assert.Equal(t, fixed, store.ListAll()[0].Timestamp)
	})

	t.Run("preserves an existing timestamp", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		custom := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		pub := NewPublisher(store, WithClock(func() time.Time { return fixed }))
		require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: audit.ActionConsentGranted, Timestamp: custom}))
		assert.Equal(t, custom, store.ListAll()[0].Timestamp)
	})
}

func TestPublisher_EmitAfterCloseIsSynchronous(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(4))
	require.NoError(t, pub.Close(context.Background()))
	require.NoError(t, pub.Close(context.Background()))

	require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: audit.ActionRequestCreated}))
	assert.Len(t, store.ListAll(), 1)
}

func TestPublisher_SyncSinkError(t *testing.T) {
	pub := NewPublisher(failingSink{})
	err := pub.Emit(context.Background(), audit.Event{Action: audit.ActionConsentGranted})
	assert.Error(t, err)
}

type blockingSink struct {
	mu      sync.Mutex
	n       int
	release chan struct{}
	started chan struct{}
}

func (s *blockingSink) Emit(context.Context, audit.Event) error {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-s.release
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
	return nil
}

func (s *blockingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

type failingSink struct{}

func (failingSink) Emit(context.Context, audit.Event) error { return errors.New("broker unavailable") }
