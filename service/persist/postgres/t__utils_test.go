package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/require"

	migrate "github.com/mikeydub/comment-references/db"
	"github.com/mikeydub/comment-references/docker"
)

// setupTest starts a postgres container, migrates it and returns a pool connected to it. The test is
// skipped in short mode or when docker isn't reachable.
func setupTest(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	pg, err := docker.InitPostgres("../../../docker-compose.yml")
	if err != nil {
		t.Skipf("postgres unavailable: %s", err)
	}
	t.Cleanup(func() {
		if err := pg.Close(); err != nil {
			t.Logf("could not purge resource: %s", err)
		}
	})

	ctx := context.Background()

	db, err := NewSQLClient(ctx, WithRetries(DefaultConnectRetry))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, migrate.RunMigration(db))

	pool, err := NewPgxClient(ctx)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}
