package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// offlineTTL is how long an offline marker keeps its last transition time.
const offlineTTL = 24 * time.Hour

// PresenceStatus is the mirrored presence of one address.
type PresenceStatus struct {
	Online bool
	Since  time.Time
}

// RedisPresence mirrors online/offline transitions into Redis hashes keyed by address.
// Online markers expire after ttl unless refreshed, so a crashed server does not leave
// addresses online forever.
type RedisPresence struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPresence connects to redisURL.
func NewRedisPresence(ctx context.Context, redisURL string, ttl time.Duration) (*RedisPresence, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisPresence{client: client, ttl: ttl}, nil
}

// presenceKey returns the key of an address's presence hash.
func presenceKey(address string) string {
	return "presence:" + address
}

// SetOnline marks address online.
func (p *RedisPresence) SetOnline(ctx context.Context, address string, at time.Time) error {
	return p.set(ctx, address, true, at, p.ttl)
}

// SetOffline marks address offline.
func (p *RedisPresence) SetOffline(ctx context.Context, address string, at time.Time) error {
	return p.set(ctx, address, false, at, offlineTTL)
}

func (p *RedisPresence) set(ctx context.Context, address string, online bool, at time.Time, ttl time.Duration) error {
	key := presenceKey(address)

	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "online", online, "since", at.UnixMilli())
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set presence %s: %w", address, err)
	}
	return nil
}

// Refresh extends the online markers of addresses.
func (p *RedisPresence) Refresh(ctx context.Context, addresses []string) error {
	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, address := range addresses {
			key := presenceKey(address)
			pipe.HSetNX(ctx, key, "since", time.Now().UnixMilli())
			pipe.HSet(ctx, key, "online", true)
			pipe.Expire(ctx, key, p.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("refresh presence: %w", err)
	}
	return nil
}

// Lookup returns the mirrored presence of address. found is false when no marker exists.
func (p *RedisPresence) Lookup(ctx context.Context, address string) (status PresenceStatus, found bool, err error) {
	vals, err := p.client.HGetAll(ctx, presenceKey(address)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(vals) == 0) {
		return PresenceStatus{}, false, nil
	}
	if err != nil {
		return PresenceStatus{}, false, fmt.Errorf("lookup presence %s: %w", address, err)
	}

	online, _ := strconv.ParseBool(vals["online"])
	status.Online = online
	if ms, err := strconv.ParseInt(vals["since"], 10, 64); err == nil {
		status.Since = time.UnixMilli(ms)
	}
	return status, true, nil
}

// Ping checks the Redis connection.
func (p *RedisPresence) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (p *RedisPresence) Close() error {
	return p.client.Close()
}
