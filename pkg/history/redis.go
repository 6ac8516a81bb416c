package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// maxTxRetries bounds optimistic transaction retries under contention.
const maxTxRetries = 8

// RedisStore keeps each session's history as one JSON value with a TTL that is
// refreshed on every access. Writes use WATCH/MULTI/EXEC so concurrent
// appends and first-time creation never lose or duplicate messages.
type RedisStore struct {
	client *redis.Client
	opts   options
	logger *slog.Logger
}

// NewRedisStore creates a Redis-backed store using client.
func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	o := buildOptions(opts)
	return &RedisStore{
		client: client,
		opts:   o,
		logger: o.logger.With("component", "history.redis"),
	}
}

// OpenRedis parses a redis:// URL, verifies connectivity and returns a store.
func OpenRedis(ctx context.Context, url string, opts ...Option) (*RedisStore, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("history: parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("history: ping redis: %w", err)
	}
	return NewRedisStore(client, opts...), nil
}

// GetOrCreate implements Store.
func (s *RedisStore) GetOrCreate(ctx context.Context, sessionID string) ([]Message, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	key := s.key(sessionID)

	var out []Message
	err := s.update(ctx, key, func(tx *redis.Tx) error {
		msgs, err := s.load(ctx, tx, key)
		if errors.Is(err, ErrNotFound) {
			msgs = []Message{{Role: RoleSystem, Content: s.opts.systemPrompt}}
		} else if err != nil {
			return err
		}
		out = msgs
		return s.store(ctx, tx, key, msgs)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Append implements Store.
func (s *RedisStore) Append(ctx context.Context, sessionID string, msg Message) ([]Message, error) {
	key := s.key(sessionID)

	var out []Message
	err := s.update(ctx, key, func(tx *redis.Tx) error {
		msgs, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
		out = msgs
		return s.store(ctx, tx, key, msgs)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Messages implements Store. Refreshes the TTL on read.
func (s *RedisStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	key := s.key(sessionID)
	msgs, err := s.load(ctx, s.client, key)
	if err != nil {
		return nil, err
	}
	if err := s.client.Expire(ctx, key, s.opts.ttl).Err(); err != nil {
		s.logger.Warn("ttl refresh failed", "session_id", sessionID, "error", err)
	}
	return msgs, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// update runs fn inside WATCH on key, retrying when another writer wins.
func (s *RedisStore) update(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("transaction conflict, retrying", "key", key, "attempt", attempt+1)
			continue
		}
		return err
	}
	return fmt.Errorf("history: %s: too much contention", key)
}

func (s *RedisStore) load(ctx context.Context, c getter, key string) ([]Message, error) {
	val, err := c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := json.Unmarshal(val, &msgs); err != nil {
		return nil, fmt.Errorf("history: decode %s: %w", key, err)
	}
	return msgs, nil
}

func (s *RedisStore) store(ctx context.Context, tx *redis.Tx, key string, msgs []Message) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, s.opts.ttl)
		return nil
	})
	return err
}

func (s *RedisStore) key(sessionID string) string {
	return s.opts.keyPrefix + sessionID
}

var _ Store = (*RedisStore)(nil)
