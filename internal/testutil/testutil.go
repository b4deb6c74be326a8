// Package testutil provides Postgres and Redis fixtures for integration
// tests. Tests skip when the backing infrastructure is absent unless
// TEST_REQUIRE_DB / TEST_REQUIRE_REDIS / TEST_REQUIRE_INFRA demand it.
package testutil

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	// pgx driver registration for database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ryuqq/fileflow/internal/migrate"
)

// TestingTB covers the slice of *testing.T and *testing.B the fixtures need.
type TestingTB interface {
	Helper()
	Skip(args ...interface{})
	Skipf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Logf(format string, args ...interface{})
}

// TestDBConfig names the Postgres instance tests run against. The defaults
// match the docker-compose test profile (port 55432); CI overrides via the
// TEST_DB_* variables.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// DefaultTestDBConfig reads the TEST_DB_* environment, falling back to the
// local compose defaults.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     envOr("TEST_DB_HOST", "localhost"),
		Port:     envOr("TEST_DB_PORT", "55432"),
		User:     envOr("TEST_DB_USER", "fileflow"),
		Password: envOr("TEST_DB_PASSWORD", "fileflow"),
		DBName:   envOr("TEST_DB_NAME", "fileflow"),
	}
}

func (c TestDBConfig) dsn(extra url.Values) string {
	q := url.Values{"sslmode": {envOr("DB_SSL_MODE", "disable")}}
	for k, vs := range extra {
		q[k] = vs
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// SkipIfNoTestDB skips (or fails, when the DB is required) if the test
// database does not answer a ping.
func SkipIfNoTestDB(t TestingTB) {
	t.Helper()
	if err := probePostgres(DefaultTestDBConfig().dsn(nil)); err != nil {
		if requireDB() {
			t.Fatal("test database required but not available:", err)
		}
		t.Skip("test database not available:", err)
	}
}

func probePostgres(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// WithAutoDB hands fn a migrated database. With TEST_DB_EPHEMERAL set the
// test gets a throwaway schema dropped on cleanup; otherwise it shares the
// test database, truncated before and after.
func WithAutoDB(t TestingTB, fn func(*sql.DB)) {
	t.Helper()
	if envBool("TEST_DB_EPHEMERAL") {
		fn(setupEphemeralSchema(t))
		return
	}

	db := setupSharedDB(t)
	defer func() {
		truncateAll(t, db)
		if err := db.Close(); err != nil {
			t.Logf("warning: close test db: %v", err)
		}
	}()
	fn(db)
}

func setupSharedDB(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	db := openPostgres(t, DefaultTestDBConfig().dsn(nil), 5*time.Second)
	runMigrations(t, db)
	truncateAll(t, db)
	return db
}

func openPostgres(t TestingTB, dsn string, pingTimeout time.Duration) *sql.DB {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatal("open database:", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		closeQuiet(t, "database", db)
		t.Fatal("connect to test database (is docker-compose up?):", err)
	}
	return db
}

func runMigrations(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := migrate.Run(ctx, db); err != nil {
		closeQuiet(t, "database", db)
		t.Fatal("run migrations:", err)
	}
}

// truncateAll clears test rows. outbox_messages references operations, so it
// goes first.
func truncateAll(t TestingTB, db *sql.DB) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, table := range []string{"outbox_messages", "operations"} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("clean up table %s: %v", table, err)
		}
	}
}

// setupEphemeralSchema gives the test a private schema, migrated and dropped
// on cleanup, so packages can run against one database without interfering.
func setupEphemeralSchema(t TestingTB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	cfg := DefaultTestDBConfig()
	admin := openPostgres(t, cfg.dsn(nil), 5*time.Second)

	schema := randomSchemaName()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		closeQuiet(t, "admin db", admin)
		t.Fatalf("create schema %s: %v", schema, err)
	}

	db := openPostgres(t, cfg.dsn(url.Values{"search_path": {schema + ",public"}}), 10*time.Second)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	t.Logf("using ephemeral schema %s", schema)
	onCleanup(t, func() {
		dropCtx, dropCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dropCancel()
		closeQuiet(t, "schema db", db)
		if _, err := admin.ExecContext(dropCtx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("warning: drop schema %s: %v", schema, err)
		}
		closeQuiet(t, "admin db", admin)
	})

	runMigrations(t, db)
	return db
}

func randomSchemaName() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("t_%d", time.Now().UnixNano())
	}
	return "t_" + hex.EncodeToString(b)
}

// onCleanup registers fn with t.Cleanup. Custom TestingTB implementations
// without Cleanup leak the resource; the schema name in the log makes that
// recoverable by hand.
func onCleanup(t TestingTB, fn func()) {
	if tc, ok := any(t).(interface{ Cleanup(func()) }); ok {
		tc.Cleanup(fn)
		return
	}
	t.Logf("warning: TestingTB without Cleanup, skipping teardown")
}

func closeQuiet(t TestingTB, name string, closer interface{ Close() error }) {
	if err := closer.Close(); err != nil {
		t.Logf("warning: close %s: %v", name, err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func requireDB() bool    { return envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") }
func requireRedis() bool { return envBool("TEST_REQUIRE_REDIS") || envBool("TEST_REQUIRE_INFRA") }
