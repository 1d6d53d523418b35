package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/troveview/internal/domain"
)

// maxArchiveRange bounds one archive query, which reads whole batches.
const maxArchiveRange = 31 * 24 * time.Hour

// ArchiveReader serves snapshots moved to cold storage.
type ArchiveReader interface {
	ArchivedSnapshots(ctx context.Context, ref domain.TroveRef, from, to time.Time) ([]domain.QueueSnapshot, error)
}

// ArchiveHandler serves archived queue-position history. The reader is nil
// outside the archive and full modes.
type ArchiveHandler struct {
	archive ArchiveReader
	logger  *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archive ArchiveReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archive: archive, logger: logger}
}

// ArchivedSnapshots returns a trove's archived snapshots between since and
// until, oldest first. Both bounds are required and may span at most 31 days.
// GET /api/troves/{collateral}/{id}/snapshots/archived
func (h *ArchiveHandler) ArchivedSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot archive is not configured")
		return
	}
	ref, ok := troveRef(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid collateral type or trove id")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if opts.Since == nil || opts.Until == nil {
		writeError(w, http.StatusBadRequest, "since and until are required")
		return
	}
	if span := opts.Until.Sub(*opts.Since); span <= 0 || span > maxArchiveRange {
		writeError(w, http.StatusBadRequest, "until must be after since and at most 31 days later")
		return
	}

	snaps, err := h.archive.ArchivedSnapshots(r.Context(), ref, *opts.Since, *opts.Until)
	if err != nil {
		writeDomainError(w, r, h.logger, "archived snapshots", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": toSnapshotResponses(snaps),
		"count":     len(snaps),
	})
}
