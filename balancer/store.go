package balancer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RouteStore shares token -> backend URL mappings between balancer replicas.
// The pool's own map stays authoritative; the store is consulted on a miss.
type RouteStore interface {
	Get(ctx context.Context, token string) (string, bool, error)
	Set(ctx context.Context, token, backendURL string, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
	Close() error
}

// MemoryRouteStore keeps mappings in process. Useful for a single balancer and tests.
type MemoryRouteStore struct {
	mu     sync.Mutex
	routes map[string]memoryRoute
}

type memoryRoute struct {
	url     string
	expires time.Time
}

// NewMemoryRouteStore creates an empty store.
func NewMemoryRouteStore() *MemoryRouteStore {
	return &MemoryRouteStore{routes: make(map[string]memoryRoute)}
}

func (s *MemoryRouteStore) Get(_ context.Context, token string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routes[token]
	if !ok {
		return "", false, nil
	}
	if !r.expires.IsZero() && time.Now().After(r.expires) {
		delete(s.routes, token)
		return "", false, nil
	}
	return r.url, true, nil
}

func (s *MemoryRouteStore) Set(_ context.Context, token, backendURL string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := memoryRoute{url: backendURL}
	if ttl > 0 {
		r.expires = time.Now().Add(ttl)
	}
	s.routes[token] = r
	return nil
}

func (s *MemoryRouteStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.routes, token)
	return nil
}

func (s *MemoryRouteStore) Close() error { return nil }

// RedisRouteStore keeps mappings in Redis under a key prefix.
type RedisRouteStore struct {
	client *redis.Client
	prefix string
}

// NewRedisRouteStore connects to addr and verifies it with a PING.
func NewRedisRouteStore(ctx context.Context, addr, prefix string) (*RedisRouteStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		MaxRetries:   2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &RedisRouteStore{client: client, prefix: prefix}, nil
}

func (s *RedisRouteStore) key(token string) string {
	return s.prefix + token
}

func (s *RedisRouteStore) Get(ctx context.Context, token string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get route %s: %w", token, err)
	}
	return val, true, nil
}

func (s *RedisRouteStore) Set(ctx context.Context, token, backendURL string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(token), backendURL, ttl).Err(); err != nil {
		return fmt.Errorf("set route %s: %w", token, err)
	}
	return nil
}

func (s *RedisRouteStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("delete route %s: %w", token, err)
	}
	return nil
}

func (s *RedisRouteStore) Close() error {
	return s.client.Close()
}

// OpenRouteStore returns a Redis store when addr is set, falling back to
// memory when it is empty or unreachable.
func OpenRouteStore(ctx context.Context, addr string, logger *slog.Logger) RouteStore {
	if addr == "" {
		return NewMemoryRouteStore()
	}
	store, err := NewRedisRouteStore(ctx, addr, "arcade:route:")
	if err != nil {
		logger.Warn("redis route store unavailable, using memory", "addr", addr, "error", err)
		return NewMemoryRouteStore()
	}
	logger.Info("sharing routes through redis", "addr", addr)
	return store
}
