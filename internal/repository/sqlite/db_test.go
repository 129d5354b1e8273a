package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/apexcoding/apexcoding/internal/repository/testcases"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	db, err := NewDB(ctx, DefaultConfig(filepath.Join(t.TempDir(), "apex.db")), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx))
	return db
}

func TestDB(t *testing.T) {
	testcases.RunAll(t, NewRepositories(newTestDB(t)), true)
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate(context.Background()))

	var version int
	require.NoError(t, db.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version))
	require.Equal(t, 1, version)
}

func TestMigrationVersion(t *testing.T) {
	v, err := migrationVersion("migrations/000012_add_index.up.sql")
	require.NoError(t, err)
	require.Equal(t, 12, v)

	_, err = migrationVersion("migrations/init.sql")
	require.Error(t, err)
}
