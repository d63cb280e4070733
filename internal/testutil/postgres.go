// ABOUTME: Test helper that starts a Postgres testcontainer with all migrations applied.
// ABOUTME: Use NewTestDB(t) in integration tests that need a real database.
package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/dbawebdesign/lailms-sub004/internal/store"
	"github.com/dbawebdesign/lailms-sub004/migrations"
)

// appRole is the unprivileged login the RLS tests connect as.
const appRole = "coursegen_app"

// TestDB wraps the superuser Store used for data setup with a second Store
// that connects as appRole (NOBYPASSRLS), so row level security applies.
type TestDB struct {
	*store.Store
	// AppStore connects as coursegen_app. Use it for tenant isolation tests.
	AppStore *store.Store
}

// NewTestDB starts a Postgres testcontainer, runs all migrations, and returns
// a TestDB backed by the test DB. The container and pools are cleaned up via t.Cleanup.
//
// Skipped under -short so unit tests run without Docker.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres integration test in -short mode")
	}
	ctx := context.Background()

	pgCtr, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("coursegen_test"),
		tcpostgres.WithUsername("coursegen_test"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgCtr.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	connStr, err := pgCtr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	// Same migration path as `coursegen migrate`.
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		t.Fatalf("migration source: %v", err)
	}

	connCfg, err := pgx.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("parse db url: %v", err)
	}
	// Simple protocol runs multi-statement migration files natively.
	connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	db := stdlib.OpenDB(*connCfg)
	defer db.Close() //nolint:errcheck

	driver, err := migratepg.WithInstance(db, &migratepg.Config{MultiStatementEnabled: true})
	if err != nil {
		t.Fatalf("migration driver: %v", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		t.Fatalf("migrate init: %v", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrate up: %v", err)
	}

	// Deployments grant the app role through their own provisioning, the
	// test database does it here.
	if _, err := db.ExecContext(ctx, `
		DO $$ BEGIN
			IF NOT EXISTS (SELECT FROM pg_roles WHERE rolname = '`+appRole+`') THEN
				CREATE ROLE `+appRole+` LOGIN NOBYPASSRLS PASSWORD 'apptestpw';
			END IF;
		END $$;
		GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO `+appRole); err != nil {
		t.Fatalf("create %s role: %v", appRole, err)
	}

	// Superuser pool for data setup (bypasses RLS).
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	t.Cleanup(pool.Close)

	appPoolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("parse app pool config: %v", err)
	}
	appPoolCfg.ConnConfig.User = appRole
	appPoolCfg.ConnConfig.Password = "apptestpw"
	appPool, err := pgxpool.NewWithConfig(ctx, appPoolCfg)
	if err != nil {
		t.Fatalf("pgxpool (%s): %v", appRole, err)
	}
	t.Cleanup(appPool.Close)

	return &TestDB{
		Store:    store.New(pool),
		AppStore: store.New(appPool),
	}
}
