package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func getTestDB(t *testing.T) (*sql.DB, func()) {
	if testing.Short() {
		t.Skip("skipping migration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)

	cleanup := func() {
		_ = db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return db, cleanup
}

func getMigrationsPath(t *testing.T) string {
	projectRoot, err := filepath.Abs("../..")
	require.NoError(t, err)

	migrationsPath := filepath.Join(projectRoot, "migrations")
	return migrationsPath
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var exists bool
	err := db.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = 'public' AND table_name = $1
		)
	`, table).Scan(&exists)
	require.NoError(t, err)
	return exists
}

func TestRunMigrations(t *testing.T) {
	db, cleanup := getTestDB(t)
	defer cleanup()

	err := Run(db, getMigrationsPath(t))
	require.NoError(t, err)

	for _, table := range []string{"registry", "plans", "vaults", "user_subscriptions", "token_accounts"} {
		require.True(t, tableExists(t, db, table), "table %q should exist", table)
	}

	var exists bool
	err = db.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM pg_indexes
			WHERE schemaname = 'public'
			AND tablename = 'user_subscriptions'
			AND indexname = 'idx_user_subscriptions_subscriber'
		)
	`).Scan(&exists)
	require.NoError(t, err)
	require.True(t, exists, "Index should exist")
}

func TestMigrationIdempotency(t *testing.T) {
	db, cleanup := getTestDB(t)
	defer cleanup()

	migrationsPath := getMigrationsPath(t)

	require.NoError(t, Run(db, migrationsPath))
	require.NoError(t, Run(db, migrationsPath), "Running migrations twice should not fail")
}

func TestRegistryIsSingleton(t *testing.T) {
	db, cleanup := getTestDB(t)
	defer cleanup()

	require.NoError(t, Run(db, getMigrationsPath(t)))

	insert := `INSERT INTO registry (address, admin, automation_queue, queue_authority, fee_vault, fee_basis_points)
		VALUES ($1, 'admin', 'billing', 'authority', 'fees', 0)`
	_, err := db.Exec(insert, "first")
	require.NoError(t, err)
	_, err = db.Exec(insert, "second")
	require.Error(t, err, "second registry row must violate the singleton constraint")
}

func TestSubscriptionRequiresVault(t *testing.T) {
	db, cleanup := getTestDB(t)
	defer cleanup()

	require.NoError(t, Run(db, getMigrationsPath(t)))

	_, err := db.Exec(`INSERT INTO plans (address, merchant, name, mint, merchant_account, amount, interval_seconds, max_failure_count)
		VALUES ('plan', 'merchant', 'pro', 'mint', 'merchant-ata', 10, 60, 1)`)
	require.NoError(t, err)

	insert := `INSERT INTO user_subscriptions (address, subscriber, plan, vault, status, next_task_id, next_run_at)
		VALUES ('sub', 'subscriber', 'plan', 'vault', 'active', 0, NOW())`
	_, err = db.Exec(insert)
	require.Error(t, err, "subscription must reference an existing vault")

	_, err = db.Exec(`INSERT INTO vaults (address, owner, mint) VALUES ('vault', 'subscriber', 'mint')`)
	require.NoError(t, err)
	_, err = db.Exec(insert)
	require.NoError(t, err)

	_, err = db.Exec(`DELETE FROM vaults WHERE address = 'vault'`)
	require.Error(t, err, "referenced vault must not be deleted")
}
