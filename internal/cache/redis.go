package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis implements Cache on a single Redis instance: one string key per
// board snapshot, one pub/sub channel per board.
type Redis struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewRedis connects and pings the instance. password may be empty.
func NewRedis(ctx context.Context, addr, password string, log zerolog.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connect redis at %s: %w", addr, err)
	}
	return &Redis{rdb: rdb, log: log.With().Str("component", "cache").Logger()}, nil
}

func (r *Redis) SetSnapshot(ctx context.Context, boardID string, data []byte) error {
	if err := r.rdb.Set(ctx, snapshotKey(boardID), data, 0).Err(); err != nil {
		return fmt.Errorf("cache: set snapshot %s: %w", boardID, err)
	}
	return nil
}

func (r *Redis) GetSnapshot(ctx context.Context, boardID string) ([]byte, error) {
	data, err := r.rdb.Get(ctx, snapshotKey(boardID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get snapshot %s: %w", boardID, err)
	}
	return data, nil
}

func (r *Redis) Publish(ctx context.Context, boardID string, msg PubMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("cache: encode pub message: %w", err)
	}
	if err := r.rdb.Publish(ctx, channelName(boardID), data).Err(); err != nil {
		return fmt.Errorf("cache: publish %s: %w", boardID, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, boardID string) (<-chan PubMessage, func()) {
	pubsub := r.rdb.Subscribe(ctx, channelName(boardID))
	out := make(chan PubMessage, 32)
	go func() {
		defer close(out)
		for m := range pubsub.Channel() {
			var msg PubMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.log.Warn().Err(err).Str("board", boardID).Msg("dropping malformed pub message")
				continue
			}
			select {
			case out <- msg:
			default:
				r.log.Warn().Str("board", boardID).Msg("subscriber backlog full, dropping update")
			}
		}
	}()
	return out, func() { _ = pubsub.Close() }
}

// Close releases the client.
func (r *Redis) Close() error { return r.rdb.Close() }
