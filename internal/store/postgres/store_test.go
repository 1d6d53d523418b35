package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/troveview/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/troves?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "troves"}))
	assert.Equal(t, "postgres://override", DSN(ClientConfig{DSN: "postgres://override", Host: "ignored"}))
	assert.Equal(t, "postgres://u:p@db:6432/troves?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6432, User: "u", Password: "p", Database: "troves", SSLMode: "require"}))
}

func TestDSNEscapesCredentials(t *testing.T) {
	assert.Equal(t, "postgres://trove%40ops:p%40ss%2Fw@db:5432/troves?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "trove@ops", Password: "p@ss/w", Database: "troves"}))
}

func TestMigrationFilesOrdered(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(names), 2)
	assert.Equal(t, "001_init.sql", names[0])
	assert.Equal(t, "002_audit_trove.sql", names[1])
}

func TestListByTroveQuery(t *testing.T) {
	ref := domain.TroveRef{CollateralType: domain.CollateralWETH, ID: "9"}

	query, args := listByTroveQuery(ref, domain.ListOpts{})
	assert.NotContains(t, query, "LIMIT")
	assert.Equal(t, []any{"WETH", "9"}, args)

	since := time.Unix(1_700_000_000, 0)
	query, args = listByTroveQuery(ref, domain.ListOpts{Since: &since, Limit: 20, Offset: 40})
	assert.Contains(t, query, "calculated_at >= $3")
	assert.Contains(t, query, "LIMIT $4")
	assert.Contains(t, query, "OFFSET $5")
	assert.Equal(t, []any{"WETH", "9", since, 20, 40}, args)
}

func TestAuditQuery(t *testing.T) {
	query, args := auditQuery(nil, domain.ListOpts{})
	assert.NotContains(t, query, "WHERE")
	assert.Empty(t, args)

	ref := domain.TroveRef{CollateralType: domain.CollateralWETH, ID: "9"}
	until := time.Unix(1_700_000_000, 0)
	query, args = auditQuery(&ref, domain.ListOpts{Until: &until, Limit: 10})
	assert.Contains(t, query, "WHERE collateral_type = $1 AND trove_id = $2 AND created_at <= $3")
	assert.Contains(t, query, "LIMIT $4")
	assert.Equal(t, []any{"WETH", "9", until, 10}, args)
}

func TestAuditTrove(t *testing.T) {
	ref := auditTrove(map[string]any{"collateral": "WETH", "trove_id": "9", "kind": "sharp_drop"})
	assert.Equal(t, &domain.TroveRef{CollateralType: domain.CollateralWETH, ID: "9"}, ref)
	assert.Nil(t, auditTrove(map[string]any{"path": "snapshots/2025/01/01/1.jsonl"}))
	assert.Nil(t, auditTrove(map[string]any{"collateral": "WETH", "trove_id": 9}))
}
