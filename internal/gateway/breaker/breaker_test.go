package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const upstream = "http://booking-a:8080"

func newTestBreaker() (*CircuitBreaker, *MemoryStore) {
	store := NewMemoryStore()
	return New(store, &Config{FailureThreshold: 3, OpenDuration: time.Minute}), store
}

func TestOpensAfterThreshold(t *testing.T) {
	ctx := context.Background()
	cb, _ := newTestBreaker()

	assert.True(t, cb.Allow(ctx, upstream))
	cb.RecordFailure(ctx, upstream)
	cb.RecordFailure(ctx, upstream)
	assert.Equal(t, StateClosed, cb.StateOf(ctx, upstream))
	assert.True(t, cb.Allow(ctx, upstream))

	cb.RecordFailure(ctx, upstream)
	assert.Equal(t, StateOpen, cb.StateOf(ctx, upstream))
	assert.False(t, cb.Allow(ctx, upstream))
}

func TestSuccessResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	cb, store := newTestBreaker()

	cb.RecordFailure(ctx, upstream)
	cb.RecordFailure(ctx, upstream)
	cb.RecordSuccess(ctx, upstream)

	entry, err := store.Get(ctx, upstream)
	require.NoError(t, err)
	assert.Equal(t, 0, entry.Failures)

	cb.RecordFailure(ctx, upstream)
	cb.RecordFailure(ctx, upstream)
	assert.Equal(t, StateClosed, cb.StateOf(ctx, upstream))
}

func TestHalfOpenProbeAfterWindow(t *testing.T) {
	ctx := context.Background()
	cb, store := newTestBreaker()

	require.NoError(t, store.Set(ctx, upstream, Entry{
		State:    StateOpen,
		Failures: 3,
		OpenedAt: time.Now().Add(-2 * time.Minute),
	}))

	assert.True(t, cb.Allow(ctx, upstream))
	assert.Equal(t, StateHalfOpen, cb.StateOf(ctx, upstream))
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	ctx := context.Background()
	cb, store := newTestBreaker()

	require.NoError(t, store.Set(ctx, upstream, Entry{
		State:    StateOpen,
		Failures: 3,
		OpenedAt: time.Now().Add(-2 * time.Minute),
	}))

	require.True(t, cb.Allow(ctx, upstream))
	cb.RecordSuccess(ctx, upstream)
	assert.Equal(t, StateClosed, cb.StateOf(ctx, upstream))
	assert.True(t, cb.Allow(ctx, upstream))
}

func TestHalfOpenFailureReopens(t *testing.T) {
	ctx := context.Background()
	cb, store := newTestBreaker()

	require.NoError(t, store.Set(ctx, upstream, Entry{
		State:    StateOpen,
		Failures: 3,
		OpenedAt: time.Now().Add(-2 * time.Minute),
	}))

	require.True(t, cb.Allow(ctx, upstream))
	cb.RecordFailure(ctx, upstream)
	assert.Equal(t, StateOpen, cb.StateOf(ctx, upstream))
	assert.False(t, cb.Allow(ctx, upstream))
}

type failingStore struct{}

func (failingStore) Get(ctx context.Context, upstream string) (Entry, error) {
	return Entry{}, errors.New("store down")
}

func (failingStore) Set(ctx context.Context, upstream string, entry Entry) error {
	return errors.New("store down")
}

func TestStoreErrorsFailOpen(t *testing.T) {
	ctx := context.Background()
	cb := New(failingStore{}, nil)

	assert.True(t, cb.Allow(ctx, upstream))
	cb.RecordFailure(ctx, upstream)
	assert.True(t, cb.Allow(ctx, upstream))
	assert.Equal(t, StateClosed, cb.StateOf(ctx, upstream))
}

func TestUpstreamsAreIndependent(t *testing.T) {
	ctx := context.Background()
	cb, _ := newTestBreaker()

	other := "http://booking-b:8080"
	for i := 0; i < 3; i++ {
		cb.RecordFailure(ctx, upstream)
	}
	assert.False(t, cb.Allow(ctx, upstream))
	assert.True(t, cb.Allow(ctx, other))
}
