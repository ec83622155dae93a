// Package persist stores room snapshots in Redis so documents survive
// process restarts: the CRDT storage tree as JSON and the opaque Yjs
// payload as raw bytes. All round-trips run behind a circuit breaker;
// persistence failures degrade to in-memory-only rooms instead of
// failing connections.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/liveroom/liveroom/internal/v1/crdt"
	"github.com/liveroom/liveroom/internal/v1/logging"
	"github.com/liveroom/liveroom/internal/v1/metrics"
	"github.com/liveroom/liveroom/internal/v1/types"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Store handles snapshot persistence against a Redis backend.
type Store struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	ttl    time.Duration
}

// NewStore connects to Redis and verifies connectivity. ttl bounds how
// long an idle room's snapshot is retained; zero keeps snapshots
// forever.
func NewStore(addr, password string, ttl time.Duration) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	logging.Info(context.Background(), "Connected to Redis snapshot store", zap.String("addr", addr))
	return &Store{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
		ttl:    ttl,
	}, nil
}

// NewStoreWithClient wraps an existing client. Used by tests with
// miniredis.
func NewStoreWithClient(client *redis.Client, ttl time.Duration) *Store {
	return &Store{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "redis"}),
		ttl:    ttl,
	}
}

func storageKey(roomID types.RoomIDType) string {
	return fmt.Sprintf("liveroom:room:%s:storage", roomID)
}

func yjsKey(roomID types.RoomIDType) string {
	return fmt.Sprintf("liveroom:room:%s:yjs", roomID)
}

// LoadSnapshot fetches a room's serialized storage tree. Returns
// (nil, nil) when no snapshot exists or the breaker is open.
func (s *Store) LoadSnapshot(ctx context.Context, roomID types.RoomIDType) (*crdt.SerializedNode, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		data, err := s.client.Get(ctx, storageKey(roomID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.CircuitBreakerRejections.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "Redis circuit breaker open: skipping snapshot load", zap.String("roomId", string(roomID)))
			return nil, nil
		}
		metrics.SnapshotPersistErrors.Inc()
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	data, _ := res.([]byte)
	if len(data) == 0 {
		return nil, nil
	}

	var root crdt.SerializedNode
	if err := json.Unmarshal(data, &root); err != nil {
		metrics.SnapshotPersistErrors.Inc()
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &root, nil
}

// SaveSnapshot writes a room's serialized storage tree. A nil root is a
// no-op.
func (s *Store) SaveSnapshot(ctx context.Context, roomID types.RoomIDType, root *crdt.SerializedNode) error {
	if root == nil {
		return nil
	}
	data, err := json.Marshal(root)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, storageKey(roomID), data, s.ttl).Err()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.CircuitBreakerRejections.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "Redis circuit breaker open: dropping snapshot save", zap.String("roomId", string(roomID)))
			return nil
		}
		metrics.SnapshotPersistErrors.Inc()
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LoadYjs fetches a room's opaque Yjs payload, (nil, nil) when absent.
func (s *Store) LoadYjs(ctx context.Context, roomID types.RoomIDType) ([]byte, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		data, err := s.client.Get(ctx, yjsKey(roomID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.CircuitBreakerRejections.WithLabelValues("redis").Inc()
			return nil, nil
		}
		metrics.SnapshotPersistErrors.Inc()
		return nil, fmt.Errorf("failed to load yjs payload: %w", err)
	}
	data, _ := res.([]byte)
	return data, nil
}

// SaveYjs writes a room's opaque Yjs payload.
func (s *Store) SaveYjs(ctx context.Context, roomID types.RoomIDType, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, yjsKey(roomID), payload, s.ttl).Err()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			metrics.CircuitBreakerRejections.WithLabelValues("redis").Inc()
			return nil
		}
		metrics.SnapshotPersistErrors.Inc()
		return fmt.Errorf("failed to save yjs payload: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Client returns the underlying Redis client, shared with the rate
// limiter store.
func (s *Store) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// Close shuts down the Redis connection.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
