package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/troveview/internal/domain"
)

// Detail keys that identify the trove an audit event concerns.
const (
	auditKeyCollateral = "collateral"
	auditKeyTroveID    = "trove_id"
)

// AuditStore implements domain.AuditStore. Events whose detail names a
// trove are indexed by it so alert history can be listed per trove.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an AuditStore on pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// auditTrove extracts the trove named by detail, if any.
func auditTrove(detail map[string]any) *domain.TroveRef {
	collateral, _ := detail[auditKeyCollateral].(string)
	id, _ := detail[auditKeyTroveID].(string)
	if collateral == "" || id == "" {
		return nil
	}
	return &domain.TroveRef{CollateralType: domain.CollateralType(collateral), ID: id}
}

// Log appends an audit entry. detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}

	var collateral, troveID *string
	if ref := auditTrove(detail); ref != nil {
		c := string(ref.CollateralType)
		collateral, troveID = &c, &ref.ID
	}

	const query = `
		INSERT INTO audit_log (event, collateral_type, trove_id, detail)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, event, collateral, troveID, detailJSON); err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// List returns audit entries newest first.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := auditQuery(nil, opts)
	return s.query(ctx, query, args)
}

// ListByTrove returns the audit entries recorded for ref, newest first.
func (s *AuditStore) ListByTrove(ctx context.Context, ref domain.TroveRef, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := auditQuery(&ref, opts)
	return s.query(ctx, query, args)
}

func auditQuery(ref *domain.TroveRef, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT id, event, collateral_type, trove_id, detail, created_at FROM audit_log`)

	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if ref != nil {
		add("collateral_type = $%d", string(ref.CollateralType))
		add("trove_id = $%d", ref.ID)
	}
	if opts.Since != nil {
		add("created_at >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		add("created_at <= $%d", *opts.Until)
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC")

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

func (s *AuditStore) query(ctx context.Context, query string, args []any) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanAuditEntry)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	return entries, nil
}

func scanAuditEntry(row pgx.CollectableRow) (domain.AuditEntry, error) {
	var (
		e              domain.AuditEntry
		collateral, id *string
		detailJSON     []byte
	)
	if err := row.Scan(&e.ID, &e.Event, &collateral, &id, &detailJSON, &e.CreatedAt); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("scan audit entry: %w", err)
	}
	if collateral != nil && id != nil {
		e.Trove = &domain.TroveRef{CollateralType: domain.CollateralType(*collateral), ID: *id}
	}
	if detailJSON != nil {
		if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
			return domain.AuditEntry{}, fmt.Errorf("unmarshal audit detail: %w", err)
		}
	}
	return e, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
