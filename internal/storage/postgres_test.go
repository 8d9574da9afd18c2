package storage

import (
	"fmt"
	"os"
	"testing"

	"github.com/cfd-ledger/internal/config"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

// testPostgresConfig points at the local development database unless POSTGRES_* overrides it
func testPostgresConfig() *config.PostgresConfig {
	get := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}
	return &config.PostgresConfig{
		Host:           get("POSTGRES_HOST", "localhost"),
		Port:           get("POSTGRES_PORT", "5432"),
		Database:       get("POSTGRES_DB", "cfd_ledger_test"),
		User:           get("POSTGRES_USER", "ledger"),
		Password:       get("POSTGRES_PASSWORD", "ledger_dev_password"),
		MaxConnections: 10,
	}
}

// openTestPostgres connects to the test database or skips the test
func openTestPostgres(t *testing.T) (*PostgresDB, *config.PostgresConfig) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	db, err := NewPostgresDB(testContext(t), cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)
	return db, cfg
}

func TestNewPostgresDB(t *testing.T) {
	db, _ := openTestPostgres(t)

	if err := db.Ping(testContext(t)); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if db.Pool() == nil {
		t.Error("Pool() returned nil")
	}
}

func TestNewPostgresDB_Unreachable(t *testing.T) {
	cfg := testPostgresConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = "1"

	if _, err := NewPostgresDB(testContext(t), cfg); err == nil {
		t.Error("NewPostgresDB() expected error for unreachable host")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "unique violation", err: &pgconn.PgError{Code: pgUniqueViolation}, want: true},
		{name: "wrapped unique violation", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgUniqueViolation}), want: true},
		{name: "check violation", err: &pgconn.PgError{Code: "23514"}},
		{name: "plain error", err: fmt.Errorf("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}

func TestDuplicateMapsToErrDuplicate(t *testing.T) {
	err := duplicate(&pgconn.PgError{Code: pgUniqueViolation}, "insert purchase")
	assert.ErrorIs(t, err, ErrDuplicate)

	err = duplicate(fmt.Errorf("connection reset"), "insert purchase")
	assert.NotErrorIs(t, err, ErrDuplicate)
}
