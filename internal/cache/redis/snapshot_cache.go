package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predator/internal/domain"
)

// SnapshotCache stores the latest JSON view of each component at
// "<prefix>snapshot:<kind>" with a TTL so a dead engine's view ages out.
type SnapshotCache struct {
	c   *Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache. ttl <= 0 keeps entries forever.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{c: c, ttl: ttl}
}

func (sc *SnapshotCache) snapshotKey(kind string) string {
	return sc.c.key("snapshot:" + kind)
}

// Put stores v as JSON under kind.
func (sc *SnapshotCache) Put(ctx context.Context, kind string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", kind, err)
	}
	ttl := sc.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := sc.c.rdb.Set(ctx, sc.snapshotKey(kind), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put snapshot %s: %w", kind, err)
	}
	return nil
}

// Get decodes the snapshot stored under kind into v. A missing key returns
// domain.ErrNotFound.
func (sc *SnapshotCache) Get(ctx context.Context, kind string, v any) error {
	raw, err := sc.c.rdb.Get(ctx, sc.snapshotKey(kind)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("redis: get snapshot %s: %w", kind, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("redis: decode snapshot %s: %w", kind, err)
	}
	return nil
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)
