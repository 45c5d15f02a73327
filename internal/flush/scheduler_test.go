package flush

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neohum/achievement-criteria/internal/cache"
)

// flakyStore fails a configurable number of writes before succeeding.
type flakyStore struct {
	mu        sync.Mutex
	failures  int
	snapshots map[string][]byte
}

func newFlakyStore(failures int) *flakyStore {
	return &flakyStore{failures: failures, snapshots: make(map[string][]byte)}
}

func (f *flakyStore) UpsertSnapshot(_ context.Context, boardID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("store unavailable")
	}
	f.snapshots[boardID] = append([]byte(nil), data...)
	return nil
}

func (f *flakyStore) GetSnapshot(_ context.Context, boardID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.snapshots[boardID]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (f *flakyStore) Close() error { return nil }

func TestFlushNowPersistsDirtyBoard(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	st := newFlakyStore(0)
	s := New(c, st, time.Hour, zerolog.Nop())

	require.NoError(t, c.SetSnapshot(ctx, "b1", []byte(`{"cards":[]}`)))
	s.MarkDirty("b1")

	require.NoError(t, s.FlushNow(ctx, "b1"))

	got, err := st.GetSnapshot(ctx, "b1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"cards":[]}`, string(got))
	assert.Empty(t, s.Dirty())
}

func TestFlushNowSkipsCleanBoard(t *testing.T) {
	s := New(cache.NewMemory(), newFlakyStore(0), time.Hour, zerolog.Nop())
	assert.NoError(t, s.FlushNow(context.Background(), "never-dirtied"))
}

func TestFailedFlushStaysDirtyAndRetries(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	st := newFlakyStore(1)
	s := New(c, st, time.Hour, zerolog.Nop())

	require.NoError(t, c.SetSnapshot(ctx, "b1", []byte(`{"v":1}`)))
	s.MarkDirty("b1")

	// First cycle fails; the board must remain dirty.
	s.FlushAll(ctx)
	assert.Equal(t, []string{"b1"}, s.Dirty())

	// Next cycle succeeds: at-least-once, never at-most-once.
	s.FlushAll(ctx)
	assert.Empty(t, s.Dirty())
	got, err := st.GetSnapshot(ctx, "b1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(got))
}

func TestMissingCacheEntryClearsDirtyFlag(t *testing.T) {
	s := New(cache.NewMemory(), newFlakyStore(0), time.Hour, zerolog.Nop())
	s.MarkDirty("ghost")
	s.FlushAll(context.Background())
	assert.Empty(t, s.Dirty())
}

func TestNilStoreIsDegradedNotFatal(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory()
	s := New(c, nil, time.Hour, zerolog.Nop())

	require.NoError(t, c.SetSnapshot(ctx, "b1", []byte(`{}`)))
	s.MarkDirty("b1")

	err := s.FlushNow(ctx, "b1")
	assert.ErrorIs(t, err, ErrNoStore)
	// Still dirty: a store appearing later can service the flush.
	assert.Equal(t, []string{"b1"}, s.Dirty())
}

func TestRunFlushesOnTickAndOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := cache.NewMemory()
	st := newFlakyStore(0)
	s := New(c, st, 10*time.Millisecond, zerolog.Nop())

	require.NoError(t, c.SetSnapshot(ctx, "b1", []byte(`{"v":1}`)))
	s.MarkDirty("b1")

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		_, err := st.GetSnapshot(context.Background(), "b1")
		return err == nil
	}, time.Second, 5*time.Millisecond)

	// Dirty again, then shut down: the final pass must drain it.
	require.NoError(t, c.SetSnapshot(ctx, "b1", []byte(`{"v":2}`)))
	s.MarkDirty("b1")
	cancel()
	<-done

	got, err := st.GetSnapshot(context.Background(), "b1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))
}
