// Package pgtest prepares a migrated, empty Postgres schema for integration tests.
package pgtest

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/ayo6706/transfer-orchestrator/internal/db"
	"github.com/ayo6706/transfer-orchestrator/internal/models"
	"github.com/ayo6706/transfer-orchestrator/internal/repository"
	"github.com/ayo6706/transfer-orchestrator/internal/shard"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
)

// Setup connects to DATABASE_URL, applies migrations, creates the router's
// partitions and truncates every table. The test is skipped when no
// database is configured.
func Setup(t *testing.T, router *shard.Router) *pgxpool.Pool {
	t.Helper()

	_ = godotenv.Load("../../.env")
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}

	require.NoError(t, db.Migrate(dbURL))

	ctx := context.Background()
	pool, err := db.Connect(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.EnsurePartitions(ctx, pool, router))

	tables := []string{"audit_log", "transfers_archive", "transfer_idempotency_keys", "ledger_credits", "ledger_reservations", "accounts"}
	for _, table := range router.Tables() {
		tables = append(tables, table.Identifier())
	}
	for _, table := range tables {
		_, err := pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		require.NoError(t, err, "truncate %s", table)
	}
	return pool
}

// Router returns a sharded router with count partitions.
func Router(t *testing.T, count int) *shard.Router {
	t.Helper()
	r, err := shard.New(shard.Config{Enabled: true, Count: count, TablePrefix: "transfers", Workers: 4})
	require.NoError(t, err)
	return r
}

// SeedAccount creates an account with the given balance in micros.
func SeedAccount(t *testing.T, pool *pgxpool.Pool, currency string, balance int64) uuid.UUID {
	t.Helper()
	account := &models.Account{ID: uuid.New(), Currency: currency, Balance: balance}
	require.NoError(t, repository.New(pool).CreateAccount(context.Background(), account))
	return account.ID
}
