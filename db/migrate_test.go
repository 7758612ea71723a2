package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenWithMigrations(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{
		"schema_migrations", "generation_jobs", "credit_accounts", "credit_entries",
		"courses", "lessons", "content_variations", "content_variation_versions", "ai_model_usage",
	} {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}

	versions, err := AppliedVersions(db)
	require.NoError(t, err)
	assert.Equal(t, []string{"000", "001", "002", "003", "004"}, versions)
}

func TestMigrate_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenWithMigrations(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db, nil))

	versions, err := AppliedVersions(db)
	require.NoError(t, err)
	assert.Len(t, versions, 5)
}

func TestMigrate_StatusCheckConstraint(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO generation_jobs (id, owner_id, job_type, status, created_at, updated_at)
		VALUES ('j1', 'o1', 'outline', 'queued', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
	assert.Error(t, err, "unknown status must be rejected")
}

func TestIsUniqueViolation(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	insert := `INSERT INTO credit_accounts (owner_id, credits_remaining, created_at, updated_at)
		VALUES ('o1', 0, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`
	_, err = db.Exec(insert)
	require.NoError(t, err)

	_, err = db.Exec(insert)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsUniqueViolation(nil))
}
