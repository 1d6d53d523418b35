package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/troveview/internal/domain"
)

// WatchlistStore implements domain.WatchlistStore using PostgreSQL.
type WatchlistStore struct {
	pool *pgxpool.Pool
}

// NewWatchlistStore creates a new WatchlistStore backed by the given pool.
func NewWatchlistStore(pool *pgxpool.Pool) *WatchlistStore {
	return &WatchlistStore{pool: pool}
}

// Add inserts w, updating label and threshold if the trove is already
// watched.
func (s *WatchlistStore) Add(ctx context.Context, w domain.WatchedTrove) error {
	const query = `
		INSERT INTO watched_troves (collateral_type, trove_id, label, alert_threshold)
		VALUES ($1, $2, $3, $4::numeric)
		ON CONFLICT (collateral_type, trove_id) DO UPDATE SET
			label = EXCLUDED.label,
			alert_threshold = EXCLUDED.alert_threshold`

	_, err := s.pool.Exec(ctx, query, string(w.CollateralType), w.TroveID, w.Label, w.AlertThreshold.String())
	if err != nil {
		return fmt.Errorf("postgres: watch %s/%s: %w", w.CollateralType, w.TroveID, err)
	}
	return nil
}

// Remove stops watching ref. It returns domain.ErrNotFound if ref was not
// watched.
func (s *WatchlistStore) Remove(ctx context.Context, ref domain.TroveRef) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM watched_troves WHERE collateral_type = $1 AND trove_id = $2`,
		string(ref.CollateralType), ref.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: unwatch %s/%s: %w", ref.CollateralType, ref.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: unwatch %s/%s: %w", ref.CollateralType, ref.ID, domain.ErrNotFound)
	}
	return nil
}

// List returns every watched trove ordered by creation time.
func (s *WatchlistStore) List(ctx context.Context) ([]domain.WatchedTrove, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT collateral_type, trove_id, label, alert_threshold::text, created_at
		FROM watched_troves
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list watched troves: %w", err)
	}
	defer rows.Close()

	var out []domain.WatchedTrove
	for rows.Next() {
		var w domain.WatchedTrove
		var collateral, threshold string
		if err := rows.Scan(&collateral, &w.TroveID, &w.Label, &threshold, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan watched trove: %w", err)
		}
		w.CollateralType = domain.CollateralType(collateral)
		if w.AlertThreshold, err = decimal.NewFromString(threshold); err != nil {
			return nil, fmt.Errorf("postgres: parse alert threshold: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list watched troves rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.WatchlistStore = (*WatchlistStore)(nil)
