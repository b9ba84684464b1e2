// Package storage implements the durable ordered key-value store RoomCore
// and AuthFront persist state through: get/put/delete/list(prefix)/deleteAll
// plus an explicit flush barrier. Two implementations are provided: a
// Redis-backed Store for production and an in-memory Store for
// single-instance deployments and tests.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/room-sync/fabric/internal/v1/logging"
	"github.com/room-sync/fabric/internal/v1/metrics"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Entry is one key/value pair returned by a prefix scan, ordered
// lexicographically by key.
type Entry struct {
	Key   string
	Value json.RawMessage
}

// Store is the durable KV contract consumed by kvstore.TxStore. Values are
// opaque JSON; ordering for List is lexicographic over the raw key bytes.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Put(ctx context.Context, key string, value json.RawMessage) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string, start, end string) ([]Entry, error)
	DeleteAll(ctx context.Context, prefix string) error
	// Flush is a write barrier: it returns only once all writes issued
	// before the call are durable. The in-memory store treats every
	// write as already durable; the Redis store is a no-op here too
	// since SET/DEL are acknowledged synchronously, but batched
	// implementations may use it to await a pipeline flush.
	Flush(ctx context.Context) error
}

// RedisStore is the production Store, gobreaker-wrapped against transient
// Redis failures the same way bus.Service guards pub/sub.
type RedisStore struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	prefix string
}

// NewRedisStore builds a RedisStore against an already-connected client.
// prefix namespaces all keys (e.g. "fabric:kv:") so the KV store can share
// a Redis instance with bus.Service's pub/sub channels.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	st := gobreaker.Settings{
		Name:        "storage",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("storage").Set(stateVal)
		},
	}
	return &RedisStore{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(st),
		prefix: prefix,
	}
}

func (s *RedisStore) k(key string) string {
	return s.prefix + key
}

// Get fetches a single key.
func (s *RedisStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	start := time.Now()
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.Get(ctx, s.k(key)).Bytes()
	})
	metrics.StorageOperationDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())

	if err == redis.Nil {
		metrics.StorageOperations.WithLabelValues("get", "miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("storage").Inc()
		}
		metrics.StorageOperations.WithLabelValues("get", "error").Inc()
		return nil, false, fmt.Errorf("storage get %q: %w", key, err)
	}

	metrics.StorageOperations.WithLabelValues("get", "hit").Inc()
	return res.([]byte), true, nil
}

// Put writes a single key.
func (s *RedisStore) Put(ctx context.Context, key string, value json.RawMessage) error {
	start := time.Now()
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, s.k(key), []byte(value), 0).Err()
	})
	metrics.StorageOperationDuration.WithLabelValues("put").Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.StorageOperations.WithLabelValues("put", "error").Inc()
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("storage").Inc()
		}
		return fmt.Errorf("storage put %q: %w", key, err)
	}
	metrics.StorageOperations.WithLabelValues("put", "ok").Inc()
	return nil
}

// Delete removes a single key. Deleting an absent key is not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Del(ctx, s.k(key)).Err()
	})
	if err != nil {
		metrics.StorageOperations.WithLabelValues("delete", "error").Inc()
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("storage").Inc()
		}
		return fmt.Errorf("storage delete %q: %w", key, err)
	}
	metrics.StorageOperations.WithLabelValues("delete", "ok").Inc()
	return nil
}

// List scans all keys with the given prefix, in lexicographic order,
// optionally restricted to the half-open range [start, end) of the
// remainder after the prefix.
func (s *RedisStore) List(ctx context.Context, prefix string, start, end string) ([]Entry, error) {
	pattern := s.k(prefix) + "*"
	var keys []string

	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		metrics.StorageOperations.WithLabelValues("list", "error").Inc()
		return nil, fmt.Errorf("storage list %q: %w", prefix, err)
	}

	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		rest := strings.TrimPrefix(key, prefix)
		if start != "" && rest < start {
			continue
		}
		if end != "" && rest >= end {
			continue
		}
		val, ok, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		entries = append(entries, Entry{Key: key, Value: val})
	}

	metrics.StorageOperations.WithLabelValues("list", "ok").Inc()
	return entries, nil
}

// DeleteAll removes every key with the given prefix. kvstore's Commit
// calls it with "user/" when a turn ran the deleteAll mutator.
func (s *RedisStore) DeleteAll(ctx context.Context, prefix string) error {
	entries, err := s.List(ctx, prefix, "", "")
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := s.Delete(ctx, e.Key); err != nil {
			return err
		}
	}
	return nil
}

// Flush is a no-op for RedisStore: SET/DEL/SCAN are acknowledged
// synchronously, so there is nothing to await.
func (s *RedisStore) Flush(ctx context.Context) error {
	return nil
}

// MemStore is an in-memory Store for single-instance deployments and
// tests. All operations are guarded by a single mutex; a room's commit
// rate (tens of Hz) never makes this a bottleneck.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]json.RawMessage)}
}

func (m *MemStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemStore) Put(ctx context.Context, key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemStore) List(ctx context.Context, prefix string, start, end string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		rest := strings.TrimPrefix(k, prefix)
		if start != "" && rest < start {
			continue
		}
		if end != "" && rest >= end {
			continue
		}
		entries = append(entries, Entry{Key: k, Value: m.data[k]})
	}
	return entries, nil
}

func (m *MemStore) DeleteAll(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	return nil
}

func (m *MemStore) Flush(ctx context.Context) error {
	return nil
}

// New builds the Store appropriate to cfg: Redis-backed when enabled,
// in-memory otherwise (single-instance mode, matching bus.Service's
// nil-client fallback).
func New(ctx context.Context, redisClient *redis.Client, prefix string) Store {
	if redisClient == nil {
		logging.Info(ctx, "storage using memory store (redis disabled or unavailable)")
		return NewMemStore()
	}
	logging.Info(ctx, "storage using redis store", zap.String("prefix", prefix))
	return NewRedisStore(redisClient, prefix)
}
