package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/troveview/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL. Amounts
// are stored as NUMERIC and moved across the wire as text so no precision is
// lost.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const snapshotSelectCols = `id::text, collateral_type, trove_id, interest_rate,
	target_debt::text, debt_in_front::text, troves_ahead, lower_bound, calculated_at`

func scanSnapshot(row pgx.Row) (domain.QueueSnapshot, error) {
	var s domain.QueueSnapshot
	var collateral, targetDebt, debtInFront string

	if err := row.Scan(
		&s.ID, &collateral, &s.TroveID, &s.InterestRate,
		&targetDebt, &debtInFront, &s.TrovesAhead, &s.LowerBound, &s.CalculatedAt,
	); err != nil {
		return domain.QueueSnapshot{}, err
	}
	s.CollateralType = domain.CollateralType(collateral)

	var err error
	if s.TargetDebt, err = decimal.NewFromString(targetDebt); err != nil {
		return domain.QueueSnapshot{}, fmt.Errorf("parse target_debt: %w", err)
	}
	if s.DebtInFront, err = decimal.NewFromString(debtInFront); err != nil {
		return domain.QueueSnapshot{}, fmt.Errorf("parse debt_in_front: %w", err)
	}
	return s, nil
}

func scanSnapshots(rows pgx.Rows) ([]domain.QueueSnapshot, error) {
	var out []domain.QueueSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Insert stores snap. A missing ID is generated.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.QueueSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	const query = `
		INSERT INTO queue_snapshots (
			id, collateral_type, trove_id, interest_rate,
			target_debt, debt_in_front, troves_ahead, lower_bound, calculated_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		snap.ID, string(snap.CollateralType), snap.TroveID, snap.InterestRate,
		snap.TargetDebt.String(), snap.DebtInFront.String(),
		snap.TrovesAhead, snap.LowerBound, snap.CalculatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot %s/%s: %w", snap.CollateralType, snap.TroveID, err)
	}
	return nil
}

// Latest returns the most recent snapshot for ref.
func (s *SnapshotStore) Latest(ctx context.Context, ref domain.TroveRef) (domain.QueueSnapshot, error) {
	query := `SELECT ` + snapshotSelectCols + `
		FROM queue_snapshots
		WHERE collateral_type = $1 AND trove_id = $2
		ORDER BY calculated_at DESC
		LIMIT 1`

	snap, err := scanSnapshot(s.pool.QueryRow(ctx, query, string(ref.CollateralType), ref.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.QueueSnapshot{}, fmt.Errorf("postgres: latest snapshot %s/%s: %w", ref.CollateralType, ref.ID, domain.ErrNotFound)
		}
		return domain.QueueSnapshot{}, fmt.Errorf("postgres: latest snapshot %s/%s: %w", ref.CollateralType, ref.ID, err)
	}
	return snap, nil
}

// ListByTrove returns snapshots for ref, newest first.
func (s *SnapshotStore) ListByTrove(ctx context.Context, ref domain.TroveRef, opts domain.ListOpts) ([]domain.QueueSnapshot, error) {
	query, args := listByTroveQuery(ref, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots %s/%s: %w", ref.CollateralType, ref.ID, err)
	}
	defer rows.Close()

	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan snapshots: %w", err)
	}
	return snaps, nil
}

func listByTroveQuery(ref domain.TroveRef, opts domain.ListOpts) (string, []any) {
	query := `SELECT ` + snapshotSelectCols + ` FROM queue_snapshots WHERE collateral_type = $1 AND trove_id = $2`
	args := []any{string(ref.CollateralType), ref.ID}
	argIdx := 3

	if opts.Since != nil {
		query += fmt.Sprintf(" AND calculated_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND calculated_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY calculated_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

// ListBefore returns up to limit snapshots calculated before the cutoff,
// oldest first.
func (s *SnapshotStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.QueueSnapshot, error) {
	query := `SELECT ` + snapshotSelectCols + `
		FROM queue_snapshots
		WHERE calculated_at < $1
		ORDER BY calculated_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan snapshots: %w", err)
	}
	return snaps, nil
}

// DeleteByIDs removes the given snapshots and returns how many were deleted.
func (s *SnapshotStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM queue_snapshots WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete %d snapshots: %w", len(ids), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
