package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/bookcost/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache. Each book is stored whole as
// JSON under book:{exchange}:{symbol} and expires after ttl, so a dead feed
// cannot leave a stale book behind.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a cache whose entries live for ttl. A zero ttl
// stores entries without expiry.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{rdb: c.Underlying(), ttl: ttl}
}

func snapshotKey(exchange, symbol string) string {
	return "book:" + exchange + ":" + symbol
}

// SetSnapshot replaces the cached book.
func (sc *SnapshotCache) SetSnapshot(ctx context.Context, snap domain.OrderBookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot: %w", err)
	}
	key := snapshotKey(snap.Exchange, snap.Symbol)
	if err := sc.rdb.Set(ctx, key, data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// GetSnapshot returns domain.ErrNotFound when no live entry exists.
func (sc *SnapshotCache) GetSnapshot(ctx context.Context, exchange, symbol string) (domain.OrderBookSnapshot, error) {
	key := snapshotKey(exchange, symbol)
	data, err := sc.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OrderBookSnapshot{}, fmt.Errorf("redis: get %s: %w", key, domain.ErrNotFound)
		}
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: get %s: %w", key, err)
	}
	var snap domain.OrderBookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: decode %s: %w", key, err)
	}
	return snap, nil
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)
