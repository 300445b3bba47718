package domain

import (
	"context"
	"time"
)

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// SnapshotCache keeps the latest dashboard view of each component under a
// short key such as "state" or "liquidity".
type SnapshotCache interface {
	Put(ctx context.Context, kind string, v any) error
	Get(ctx context.Context, kind string, v any) error
}

// Lease is an exclusive, expiring claim on a named role. Renew extends it;
// Release gives it up early.
type Lease interface {
	Renew(ctx context.Context) error
	Release()
}

// LeaseManager hands out leases. Acquire returns ErrLeaseHeld when another
// holder owns the role.
type LeaseManager interface {
	Acquire(ctx context.Context, role string, ttl time.Duration) (Lease, error)
}
