package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/troveview/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	archiveRoot      = "snapshots/"

	// DefaultBatchSize is the number of snapshots written per archive object.
	DefaultBatchSize = 5000
)

// SnapshotArchiveStore is the slice of domain.SnapshotStore the archiver
// needs.
type SnapshotArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.QueueSnapshot, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// ArchiveImpl implements domain.Archiver. Each batch of old snapshots is
// uploaded as one JSONL object and only deleted from the primary store once
// the upload has succeeded.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	snapshots SnapshotArchiveStore
	audit     domain.AuditStore
	batchSize int
	logger    *slog.Logger
}

// NewArchiver creates a new ArchiveImpl. A non-positive batchSize selects
// DefaultBatchSize.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	snapshots SnapshotArchiveStore,
	audit domain.AuditStore,
	batchSize int,
	logger *slog.Logger,
) *ArchiveImpl {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ArchiveImpl{
		writer:    writer,
		reader:    reader,
		snapshots: snapshots,
		audit:     audit,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "snapshot_archiver")),
	}
}

// ArchiveSnapshots moves every snapshot calculated before the cutoff to
// object storage and returns how many were archived.
func (a *ArchiveImpl) ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		snaps, err := a.snapshots.ListBefore(ctx, before, a.batchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive snapshots query: %w", err)
		}
		if len(snaps) == 0 {
			return total, nil
		}

		n, err := a.archiveBatch(ctx, snaps, before)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, fmt.Errorf("s3blob: archive snapshots: batch of %d uploaded but none deleted", len(snaps))
		}
		if len(snaps) < a.batchSize {
			return total, nil
		}
	}
}

func (a *ArchiveImpl) archiveBatch(ctx context.Context, snaps []domain.QueueSnapshot, before time.Time) (int64, error) {
	records := make([]snapshotRecord, len(snaps))
	ids := make([]string, len(snaps))
	for i, s := range snaps {
		records[i] = toRecord(s)
		ids[i] = s.ID
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots marshal: %w", err)
	}

	key, err := a.freeKey(ctx, archiveKey(snaps[0].CalculatedAt))
	if err != nil {
		return 0, err
	}

	if err := a.writer.Put(ctx, key, buf, jsonlContentType); err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots upload: %w", err)
	}

	deleted, err := a.snapshots.DeleteByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive snapshots delete after upload to %s: %w", key, err)
	}

	a.logger.InfoContext(ctx, "archived snapshots",
		slog.String("key", key),
		slog.Int("count", len(snaps)),
		slog.Int64("deleted", deleted),
	)

	if err := a.audit.Log(ctx, "archive.snapshots", map[string]any{
		"key":     key,
		"count":   len(snaps),
		"deleted": deleted,
		"before":  before.Format(time.RFC3339),
	}); err != nil {
		return deleted, fmt.Errorf("s3blob: archive snapshots audit log: %w", err)
	}
	return deleted, nil
}

// freeKey returns key, or key with a numeric suffix when an object with
// that key already exists.
func (a *ArchiveImpl) freeKey(ctx context.Context, key string) (string, error) {
	candidate := key
	for i := 1; ; i++ {
		exists, err := a.reader.Exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive snapshots exists check: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s.%d.jsonl", strings.TrimSuffix(key, ".jsonl"), i)
	}
}

// ArchivedSnapshots scans the batches that may hold snapshots in [from, to)
// and returns ref's, oldest first. Batches are written in calculation order,
// so a batch ends where the next one starts.
func (a *ArchiveImpl) ArchivedSnapshots(ctx context.Context, ref domain.TroveRef, from, to time.Time) ([]domain.QueueSnapshot, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("s3blob: %w: empty archive range", domain.ErrInvalidInput)
	}
	objects, err := a.reader.List(ctx, archiveRoot)
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archives: %w", err)
	}

	type batch struct {
		key   string
		start time.Time
	}
	batches := make([]batch, 0, len(objects))
	for _, obj := range objects {
		start, ok := batchStart(obj.Key)
		if !ok {
			a.logger.WarnContext(ctx, "skipping unrecognised archive object", slog.String("key", obj.Key))
			continue
		}
		batches = append(batches, batch{key: obj.Key, start: start})
	}
	slices.SortStableFunc(batches, func(x, y batch) int { return x.start.Compare(y.start) })

	var out []domain.QueueSnapshot
	for i, b := range batches {
		if !b.start.Before(to) {
			break
		}
		if i+1 < len(batches) && !batches[i+1].start.After(from) {
			continue
		}
		snaps, err := ReadSnapshots(ctx, a.reader, b.key)
		if err != nil {
			return nil, fmt.Errorf("s3blob: read archive %s: %w", b.key, err)
		}
		for _, s := range snaps {
			if s.CollateralType == ref.CollateralType && s.TroveID == ref.ID &&
				!s.CalculatedAt.Before(from) && s.CalculatedAt.Before(to) {
				out = append(out, s)
			}
		}
	}
	slices.SortStableFunc(out, func(x, y domain.QueueSnapshot) int { return x.CalculatedAt.Compare(y.CalculatedAt) })
	return out, nil
}

// batchStart parses the oldest calculation time from an archive key such as
// snapshots/2025/01/31/1738281600.1.jsonl.
func batchStart(key string) (time.Time, bool) {
	name := path.Base(key)
	stamp, _, _ := strings.Cut(name, ".")
	unix, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil || !strings.HasSuffix(name, ".jsonl") {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

// ReadSnapshots loads an archive object written by ArchiveSnapshots.
func ReadSnapshots(ctx context.Context, reader domain.BlobReader, key string) ([]domain.QueueSnapshot, error) {
	body, err := reader.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return decodeJSONL(body)
}

// snapshotRecord is the archived JSON form of a domain.QueueSnapshot.
type snapshotRecord struct {
	ID             string          `json:"id"`
	CollateralType string          `json:"collateral_type"`
	TroveID        string          `json:"trove_id"`
	InterestRate   float64         `json:"interest_rate"`
	TargetDebt     decimal.Decimal `json:"target_debt"`
	DebtInFront    decimal.Decimal `json:"debt_in_front"`
	TrovesAhead    int             `json:"troves_ahead"`
	LowerBound     bool            `json:"lower_bound"`
	CalculatedAt   time.Time       `json:"calculated_at"`
}

func toRecord(s domain.QueueSnapshot) snapshotRecord {
	return snapshotRecord{
		ID:             s.ID,
		CollateralType: string(s.CollateralType),
		TroveID:        s.TroveID,
		InterestRate:   s.InterestRate,
		TargetDebt:     s.TargetDebt,
		DebtInFront:    s.DebtInFront,
		TrovesAhead:    s.TrovesAhead,
		LowerBound:     s.LowerBound,
		CalculatedAt:   s.CalculatedAt.UTC(),
	}
}

func (r snapshotRecord) toDomain() domain.QueueSnapshot {
	return domain.QueueSnapshot{
		ID:             r.ID,
		CollateralType: domain.CollateralType(r.CollateralType),
		TroveID:        r.TroveID,
		InterestRate:   r.InterestRate,
		TargetDebt:     r.TargetDebt,
		DebtInFront:    r.DebtInFront,
		TrovesAhead:    r.TrovesAhead,
		LowerBound:     r.LowerBound,
		CalculatedAt:   r.CalculatedAt,
	}
}

// archiveKey builds the object key for a batch whose oldest snapshot was
// calculated at oldest.
//
//	snapshots/2025/01/31/1738281600.jsonl
func archiveKey(oldest time.Time) string {
	oldest = oldest.UTC()
	return fmt.Sprintf("%s%s/%d.jsonl", archiveRoot, oldest.Format("2006/01/02"), oldest.Unix())
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func decodeJSONL(r io.Reader) ([]domain.QueueSnapshot, error) {
	var out []domain.QueueSnapshot
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var rec snapshotRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("s3blob: decode snapshot line %d: %w", line, err)
		}
		out = append(out, rec.toDomain())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: read snapshots: %w", err)
	}
	return out, nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
