// Package store wraps the KV collaborator (§6 "KV store") used by the rule
// resolver. It mirrors the teacher's internal/db/redis.go RedisStore shape:
// a thin struct holding a *redis.Client and a background context, with
// OpenTelemetry tracing instrumentation installed once at construction.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotFound is returned by Get when the key has no value — not a wrapped
// error, since a KV miss is routine control flow for the resolver (§7).
var ErrNotFound = errors.New("store: key not found")

// KV is the narrow interface the rule resolver depends on, so tests can
// substitute a map-backed fake instead of miniredis where no TTL/pubsub
// behavior is exercised.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// RedisKV is the production KV implementation.
type RedisKV struct {
	Client *redis.Client
}

// Init connects to Redis at addr and installs tracing instrumentation.
func Init(addr string) (*RedisKV, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("instrument redis tracing: %w", err)
	}
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	zap.L().Info("connected to KV store", zap.String("addr", addr))
	return &RedisKV{Client: client}, nil
}

// Get fetches the raw JSON bundle bytes for key, or ErrNotFound on a miss.
func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %q: %w", key, err)
	}
	return val, nil
}

// Put stores value at key with no expiry; rule bundles are managed by the
// control plane, not by this engine.
func (r *RedisKV) Put(ctx context.Context, key string, value []byte) error {
	if err := r.Client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("kv put %q: %w", key, err)
	}
	return nil
}

// Close shuts down the underlying client.
func (r *RedisKV) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("kv store close", zap.Error(err))
		}
	}
}
