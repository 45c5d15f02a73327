// Package flush implements the write-back scheduler: it tracks boards whose
// cached snapshot is ahead of the durable store and persists them on a
// fixed interval, or immediately when a room drains.
package flush

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/neohum/achievement-criteria/internal/cache"
	"github.com/neohum/achievement-criteria/internal/store"
)

// ErrNoStore is returned when no durable store is configured. Boards stay
// dirty so a later tick can retry once one appears; the relay keeps running.
var ErrNoStore = errors.New("flush: no durable store configured")

// DefaultInterval matches the reference flush cycle of 10 time-units.
const DefaultInterval = 10 * time.Second

// SnapshotReader is the slice of the cache the scheduler needs.
type SnapshotReader interface {
	GetSnapshot(ctx context.Context, boardID string) ([]byte, error)
}

// Scheduler owns the dirty set. A board is removed from the set only after
// a confirmed durable write; every failure path leaves it in place, so
// delivery to the store is at-least-once.
type Scheduler struct {
	cache    SnapshotReader
	store    store.Store // may be nil: degraded mode
	interval time.Duration
	log      zerolog.Logger

	mu    sync.Mutex
	dirty map[string]struct{}
}

// New builds a scheduler. st may be nil when the durable store is absent.
func New(c SnapshotReader, st store.Store, interval time.Duration, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		cache:    c,
		store:    st,
		interval: interval,
		log:      log.With().Str("component", "flush").Logger(),
		dirty:    make(map[string]struct{}),
	}
}

// MarkDirty records that the board's durable copy is stale.
func (s *Scheduler) MarkDirty(boardID string) {
	s.mu.Lock()
	s.dirty[boardID] = struct{}{}
	s.mu.Unlock()
}

// Dirty returns the boards currently awaiting a flush.
func (s *Scheduler) Dirty() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		out = append(out, id)
	}
	return out
}

// FlushNow persists one board out of cycle. Used on room drain so an idle
// room's loss window is not a whole tick.
func (s *Scheduler) FlushNow(ctx context.Context, boardID string) error {
	s.mu.Lock()
	_, isDirty := s.dirty[boardID]
	s.mu.Unlock()
	if !isDirty {
		return nil
	}
	return s.flush(ctx, boardID)
}

// FlushAll services the whole dirty set once. Failed boards stay dirty.
func (s *Scheduler) FlushAll(ctx context.Context) {
	for _, boardID := range s.Dirty() {
		if err := s.flush(ctx, boardID); err != nil {
			s.log.Warn().Err(err).Str("board", boardID).Msg("flush failed, will retry next cycle")
		}
	}
}

// Run ticks until ctx is cancelled, then makes one final pass so a clean
// shutdown drains the dirty set.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.FlushAll(ctx)
		case <-ctx.Done():
			s.FlushAll(context.Background())
			return
		}
	}
}

func (s *Scheduler) flush(ctx context.Context, boardID string) error {
	if s.store == nil {
		return ErrNoStore
	}
	data, err := s.cache.GetSnapshot(ctx, boardID)
	if errors.Is(err, cache.ErrSnapshotNotFound) {
		// Nothing cached to persist; the dirty flag is stale.
		s.clear(boardID)
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.store.UpsertSnapshot(ctx, boardID, data); err != nil {
		return err
	}
	s.clear(boardID)
	s.log.Debug().Str("board", boardID).Int("bytes", len(data)).Msg("flushed board")
	return nil
}

func (s *Scheduler) clear(boardID string) {
	s.mu.Lock()
	delete(s.dirty, boardID)
	s.mu.Unlock()
}
