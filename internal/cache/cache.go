// Package cache binds the fast-cache collaborator: the authoritative hot
// copy of each board snapshot plus the cross-process message bus used to
// fan durable updates out between relay instances.
package cache

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrSnapshotNotFound is returned when no snapshot is cached for a board.
var ErrSnapshotNotFound = errors.New("cache: snapshot not found")

// PubMessage is the envelope published on a board's channel. Instance lets
// the originating relay skip its own echo (its local connections already
// received the broadcast); SessionID lets remote relays suppress self-echo
// to the originating session.
type PubMessage struct {
	Instance  string          `json:"instance"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload"`
}

// Cache is the fast-cache surface the relay depends on.
type Cache interface {
	// SetSnapshot overwrites the board's hot snapshot, last write wins.
	SetSnapshot(ctx context.Context, boardID string, data []byte) error
	// GetSnapshot reads the hot snapshot, ErrSnapshotNotFound if absent.
	GetSnapshot(ctx context.Context, boardID string) ([]byte, error)
	// Publish fans a durable update out to other relay instances.
	Publish(ctx context.Context, boardID string, msg PubMessage) error
	// Subscribe delivers other instances' updates for the board until the
	// returned stop function is called.
	Subscribe(ctx context.Context, boardID string) (<-chan PubMessage, func())
}

func snapshotKey(boardID string) string { return "board:" + boardID }
func channelName(boardID string) string { return "board-updates:" + boardID }
