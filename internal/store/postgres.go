package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createBoardsTable = `
CREATE TABLE IF NOT EXISTS boards (
	id         TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres stores one row per board with the snapshot as JSONB.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, verifies the connection and ensures the schema.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createBoardsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ensure boards table: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) UpsertSnapshot(ctx context.Context, boardID string, data []byte) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO boards (id, data, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		boardID, data)
	if err != nil {
		return fmt.Errorf("store: upsert board %s: %w", boardID, err)
	}
	return nil
}

func (p *Postgres) GetSnapshot(ctx context.Context, boardID string) ([]byte, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM boards WHERE id = $1`, boardID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get board %s: %w", boardID, err)
	}
	return data, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
