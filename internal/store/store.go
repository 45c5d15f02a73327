// Package store binds the durable-store collaborator: the last-known-good
// snapshot per board, written by the write-back scheduler and read back on
// board load.
//
// Two implementations exist: Postgres for normal deployments and Bolt as
// the local fallback when no DATABASE_URL is configured. The relay also
// runs with no store at all; boards then simply stay dirty and the flush
// scheduler keeps retrying, which is the documented degraded mode.
package store

import (
	"context"
	"errors"
)

// ErrSnapshotNotFound is returned when a board has never been flushed.
var ErrSnapshotNotFound = errors.New("store: snapshot not found")

// Store is the durable-store surface consumed by the flush scheduler.
type Store interface {
	// UpsertSnapshot writes the board's full snapshot blob, replacing any
	// previous row.
	UpsertSnapshot(ctx context.Context, boardID string, data []byte) error
	// GetSnapshot reads the last flushed snapshot.
	GetSnapshot(ctx context.Context, boardID string) ([]byte, error)
	Close() error
}
