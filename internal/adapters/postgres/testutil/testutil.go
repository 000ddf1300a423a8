package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/Overland-East-Bay/catalog-intake-api/internal/adapters/postgres"
)

// EnvDatabaseURL names the DSN used by Postgres-backed tests.
const EnvDatabaseURL = "TEST_DATABASE_URL"

// OpenMigratedPool connects to TEST_DATABASE_URL, applies the schema and empties
// every table. The test is skipped when the variable is unset.
func OpenMigratedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv(EnvDatabaseURL)
	if dsn == "" {
		t.Skipf("%s not set; skipping postgres test", EnvDatabaseURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, dsn, postgres.PoolOptions{MaxConns: 8})
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE records, idempotency_keys RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}
