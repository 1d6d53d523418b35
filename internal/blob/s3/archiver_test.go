package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/troveview/internal/domain"
)

type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemBlob() *memBlob { return &memBlob{objects: map[string][]byte{}} }

func (m *memBlob) Put(_ context.Context, key string, body []byte, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

func (m *memBlob) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) List(_ context.Context, prefix string) ([]domain.ArchiveObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ArchiveObject
	for k, b := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, domain.ArchiveObject{Key: k, Size: int64(len(b))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memBlob) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

type memSnapshots struct {
	snaps []domain.QueueSnapshot
}

func (m *memSnapshots) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.QueueSnapshot, error) {
	var out []domain.QueueSnapshot
	for _, s := range m.snaps {
		if s.CalculatedAt.Before(before) {
			out = append(out, s)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memSnapshots) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	kept := m.snaps[:0]
	var n int64
	for _, s := range m.snaps {
		if drop[s.ID] {
			n++
			continue
		}
		kept = append(kept, s)
	}
	m.snaps = kept
	return n, nil
}

type memAudit struct {
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (m *memAudit) ListByTrove(context.Context, domain.TroveRef, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

var base = time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

func seed(n int) []domain.QueueSnapshot {
	out := make([]domain.QueueSnapshot, n)
	for i := range out {
		out[i] = domain.QueueSnapshot{
			ID:             "id-" + string(rune('a'+i)),
			CollateralType: domain.CollateralWETH,
			TroveID:        "42",
			InterestRate:   4.5,
			TargetDebt:     decimal.RequireFromString("1050.25"),
			DebtInFront:    decimal.NewFromInt(int64(1000 * i)),
			TrovesAhead:    i,
			CalculatedAt:   base.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func TestArchiveSnapshots(t *testing.T) {
	blob := newMemBlob()
	store := &memSnapshots{snaps: seed(5)}
	audit := &memAudit{}
	a := NewArchiver(blob, blob, store, audit, 2, slog.Default())

	n, err := a.ArchiveSnapshots(context.Background(), base.Add(4*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	require.Len(t, store.snaps, 1)
	assert.Equal(t, "id-e", store.snaps[0].ID)
	assert.Equal(t, []string{"archive.snapshots", "archive.snapshots"}, audit.events)

	infos, err := blob.List(context.Background(), "snapshots/2025/01/31/")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "snapshots/2025/01/31/1738281600.jsonl", infos[0].Key)

	got, err := ReadSnapshots(context.Background(), blob, infos[0].Key)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "id-a", got[0].ID)
	assert.True(t, got[1].DebtInFront.Equal(decimal.NewFromInt(1000)))
	assert.True(t, got[0].TargetDebt.Equal(decimal.RequireFromString("1050.25")))
}

func TestArchivedSnapshotsFiltersRangeAndTrove(t *testing.T) {
	blob := newMemBlob()
	snaps := seed(6)
	snaps[3].TroveID = "7"
	store := &memSnapshots{snaps: snaps}
	a := NewArchiver(blob, blob, store, &memAudit{}, 2, slog.Default())
	_, err := a.ArchiveSnapshots(context.Background(), base.Add(24*time.Hour))
	require.NoError(t, err)
	blob.objects["snapshots/README.txt"] = []byte("not an archive")

	ref := domain.TroveRef{CollateralType: domain.CollateralWETH, ID: "42"}
	got, err := a.ArchivedSnapshots(context.Background(), ref, base.Add(time.Hour), base.Add(5*time.Hour))
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, s := range got {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"id-b", "id-c", "id-e"}, ids)

	_, err = a.ArchivedSnapshots(context.Background(), ref, base, base)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBatchStart(t *testing.T) {
	start, ok := batchStart("snapshots/2025/01/31/1738281600.1.jsonl")
	require.True(t, ok)
	assert.Equal(t, base, start)
	_, ok = batchStart("snapshots/README.txt")
	assert.False(t, ok)
}

func TestArchiveSnapshotsAvoidsOverwrite(t *testing.T) {
	blob := newMemBlob()
	blob.objects["snapshots/2025/01/31/1738281600.jsonl"] = []byte("{}\n")
	store := &memSnapshots{snaps: seed(1)}
	a := NewArchiver(blob, blob, store, &memAudit{}, 10, slog.Default())

	n, err := a.ArchiveSnapshots(context.Background(), base.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Contains(t, blob.objects, "snapshots/2025/01/31/1738281600.1.jsonl")
}

func TestArchiveSnapshotsKeepsRowsOnUploadFailure(t *testing.T) {
	blob := newMemBlob()
	blob.putErr = errors.New("boom")
	store := &memSnapshots{snaps: seed(3)}
	a := NewArchiver(blob, blob, store, &memAudit{}, 10, slog.Default())

	n, err := a.ArchiveSnapshots(context.Background(), base.Add(24*time.Hour))
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Len(t, store.snaps, 3)
}

func TestArchiveSnapshotsNothingToDo(t *testing.T) {
	blob := newMemBlob()
	a := NewArchiver(blob, blob, &memSnapshots{}, &memAudit{}, 0, slog.Default())

	n, err := a.ArchiveSnapshots(context.Background(), base)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blob.objects)
}

func TestClientKey(t *testing.T) {
	c := &Client{prefix: normalisePrefix("/troveview/")}
	assert.Equal(t, "troveview/snapshots/a.jsonl", c.Key("snapshots/a.jsonl"))
	assert.Equal(t, "snapshots/a.jsonl", c.relative("troveview/snapshots/a.jsonl"))
	assert.Equal(t, "snapshots/a.jsonl", (&Client{}).Key("/snapshots/a.jsonl"))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
}
