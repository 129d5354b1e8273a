package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/apexcoding/apexcoding/internal/repository/testcases"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set")
	}

	ctx := context.Background()
	db, err := Dial(ctx, Config{
		URI:            uri,
		Database:       "apex_test_" + xid.New().String(),
		ConnectTimeout: 5 * time.Second,
	}, zerolog.Nop())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = db.Close()
	})

	require.NoError(t, db.EnsureIndexes(ctx))
	return db
}

func TestDB(t *testing.T) {
	db := setupTestDB(t)
	testcases.RunAll(t, NewRepositories(db), db.SupportsTransactions(context.Background()))
}

func TestEnsureIndexes_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.EnsureIndexes(context.Background()))
}
