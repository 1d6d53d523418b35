package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SnapshotStore persists debt-in-front history.
type SnapshotStore interface {
	Insert(ctx context.Context, snap QueueSnapshot) error
	Latest(ctx context.Context, ref TroveRef) (QueueSnapshot, error)
	ListByTrove(ctx context.Context, ref TroveRef, opts ListOpts) ([]QueueSnapshot, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]QueueSnapshot, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// WatchlistStore persists the troves tracked by the monitor.
type WatchlistStore interface {
	Add(ctx context.Context, w WatchedTrove) error
	Remove(ctx context.Context, ref TroveRef) error
	List(ctx context.Context) ([]WatchedTrove, error)
}

// AuditEntry is a single audit log row. Trove is set when the event
// concerns one trove.
type AuditEntry struct {
	ID        int64
	Event     string
	Trove     *TroveRef
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListByTrove(ctx context.Context, ref TroveRef, opts ListOpts) ([]AuditEntry, error)
}
