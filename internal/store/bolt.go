package store

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var boardsBucket = []byte("boards")

// Bolt stores snapshots in a local bbolt file, one key per board. Used when
// no Postgres URL is configured.
type Bolt struct {
	db *bolt.DB
}

// NewBolt opens (or creates) the database file.
func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open bolt db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boardsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ensure boards bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) UpsertSnapshot(_ context.Context, boardID string, data []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boardsBucket).Put([]byte(boardID), data)
	})
	if err != nil {
		return fmt.Errorf("store: upsert board %s: %w", boardID, err)
	}
	return nil
}

func (b *Bolt) GetSnapshot(_ context.Context, boardID string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(boardsBucket).Get([]byte(boardID)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: get board %s: %w", boardID, err)
	}
	if data == nil {
		return nil, ErrSnapshotNotFound
	}
	return data, nil
}

func (b *Bolt) Close() error { return b.db.Close() }
