//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relaycore/relaycore/internal/config"
)

// newPostgresTestDB starts a real PostgreSQL container, grounded on the
// teacher's internal/testutil.NewTestDB, for the one migration behavior
// sqlite can't stand in for: exercising the actual postgres driver path.
// Gated behind the "integration" build tag since it needs a Docker
// daemon; the default test run exercises Migrate against sqlite instead.
func newPostgresTestDB(t *testing.T) (cfg config.DatabaseConfig, cleanup func()) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("relaycore_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	cleanup = func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}
	return config.DatabaseConfig{Driver: "postgres", DSN: dsn}, cleanup
}

func TestOpenAndMigrate_Postgres(t *testing.T) {
	cfg, cleanup := newPostgresTestDB(t)
	defer cleanup()

	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	require.NoError(t, Ping(context.Background(), db))
}
