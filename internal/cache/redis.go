// Package cache persists last-known bus positions in Redis so they survive
// server restarts. The in-memory store stays authoritative; Redis is a
// write-through copy restored on warm start.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"unibus/internal/domain"
)

type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedis(addr, password string, db int, ttl time.Duration, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &Redis{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "position_cache"),
	}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(k string) string {
	return keyPrefix + k
}

// SavePosition writes one position through to Redis. Implements
// store.Persister.
func (r *Redis) SavePosition(ctx context.Context, p domain.Position) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	if err := r.client.Set(ctx, r.key(keyPosition(p.BusID)), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// LoadPositions scans every persisted position for warm start. Records that
// fail to decode are skipped with a log line, not fatal.
func (r *Redis) LoadPositions(ctx context.Context) ([]domain.Position, error) {
	var positions []domain.Position

	iter := r.client.Scan(ctx, 0, r.key(keyPositionPattern), 0).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get %s: %w", iter.Val(), err)
		}
		var p domain.Position
		if err := json.Unmarshal(data, &p); err != nil {
			r.logger.Warn("skipping undecodable cached position", "key", iter.Val(), "error", err)
			continue
		}
		positions = append(positions, p)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return positions, nil
}
