package domain

import (
	"context"
	"time"
)

// Bus channels and streams. Queue updates and alerts are fire-and-forget;
// snapshots are kept in a capped stream so late consumers can replay them.
const (
	ChannelQueueUpdates = "troveview:queue_updates"
	ChannelAlerts       = "troveview:alerts"
	StreamSnapshots     = "troveview:snapshots"
)

// DebtCache keeps the latest debt-in-front result per trove so repeated
// lookups skip the queue scan. Get returns ErrNotFound on a miss.
type DebtCache interface {
	Get(ctx context.Context, ref TroveRef) (DebtInFrontResult, error)
	Set(ctx context.Context, result DebtInFrontResult) error
	Invalidate(ctx context.Context, ref TroveRef) error
}

// RateLimiter meters API clients (Allow) and paces indexer reads (Wait)
// across replicas.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager elects the replica that runs a monitor cycle. Acquire fails
// with ErrLockHeld while another replica holds name.
type LockManager interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), err error)
}

// StreamMessage is one entry of a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus fans queue updates and alerts out to every API replica.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
