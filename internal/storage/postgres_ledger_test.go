package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testMigrationsPath = "../../migrations/postgres"

func TestPostgresLedger(t *testing.T) {
	db, cfg := openTestPostgres(t)
	require.NoError(t, RunMigrations(cfg.URL(), testMigrationsPath))

	version, dirty, err := MigrationVersion(cfg.URL(), testMigrationsPath)
	require.NoError(t, err)
	require.False(t, dirty)
	require.EqualValues(t, 1, version)

	testLedgerContract(t, func(t *testing.T) Ledger {
		_, err := db.Pool().Exec(testContext(t), `
			TRUNCATE dividend_distributions, dividend_claims, dividend_accounts, purchases, sale_phases
		`)
		require.NoError(t, err)
		return NewPostgresLedger(db)
	})
}
