package domain

import (
	"context"
	"io"
	"time"
)

// ArchiveObject describes one archived batch of queue snapshots in object
// storage. Key is relative to the configured key prefix.
type ArchiveObject struct {
	Key        string
	Size       int64
	ModifiedAt time.Time
}

// BlobWriter uploads archive batches. Large bodies may be sent as multipart
// uploads.
type BlobWriter interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// BlobReader reads archive batches back.
type BlobReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]ArchiveObject, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// Archiver moves queue snapshots past retention to cold storage and serves
// them from there.
type Archiver interface {
	ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error)
	// ArchivedSnapshots returns ref's archived snapshots calculated in
	// [from, to), oldest first.
	ArchivedSnapshots(ctx context.Context, ref TroveRef, from, to time.Time) ([]QueueSnapshot, error)
}
