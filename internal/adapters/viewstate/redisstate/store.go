// Package redisstate stores per-scope display filter state in Redis so several
// clients of the same board share one grouping configuration.
package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hylla/tavla/internal/domain"
)

// DefaultPrefix namespaces every key written by Store.
const DefaultPrefix = "tavla:view_state:"

// Store implements app.ViewStateStore on a Redis client.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Options tunes a Store. A zero TTL keeps entries forever.
type Options struct {
	Prefix string
	TTL    time.Duration
}

// New connects to redisURL and verifies the connection.
func New(ctx context.Context, redisURL string, opts Options) (*Store, error) {
	parsed, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(parsed)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewWithClient(client, opts), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, opts Options) *Store {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix, ttl: max(opts.TTL, 0)}
}

func (s *Store) key(scope domain.Scope) string {
	return s.prefix + scope.Key()
}

// GetFilterState returns the stored filter state for scope.
func (s *Store) GetFilterState(ctx context.Context, scope domain.Scope) (domain.FilterState, bool, error) {
	raw, err := s.client.Get(ctx, s.key(scope)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.FilterState{}, false, nil
	}
	if err != nil {
		return domain.FilterState{}, false, fmt.Errorf("get view state: %w", err)
	}
	var fs domain.FilterState
	if err := json.Unmarshal(raw, &fs); err != nil {
		return domain.FilterState{}, false, fmt.Errorf("unmarshal view state: %w", err)
	}
	return fs, true, nil
}

// SaveFilterState stores fs for scope, refreshing the TTL.
func (s *Store) SaveFilterState(ctx context.Context, scope domain.Scope, fs domain.FilterState) error {
	raw, err := json.Marshal(fs)
	if err != nil {
		return fmt.Errorf("marshal view state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(scope), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save view state: %w", err)
	}
	return nil
}

// DeleteFilterState forgets the stored state for scope.
func (s *Store) DeleteFilterState(ctx context.Context, scope domain.Scope) error {
	if err := s.client.Del(ctx, s.key(scope)).Err(); err != nil {
		return fmt.Errorf("delete view state: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
