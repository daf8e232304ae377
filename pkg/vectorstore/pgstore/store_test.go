package pgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"ragout-bot/internal/model"
	"ragout-bot/pkg/database"
	"ragout-bot/pkg/vectorstore"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		notMigrated bool
	}{
		{name: "missing table", err: &pgconn.PgError{Code: "42P01", Message: `relation "document_chunks" does not exist`}, notMigrated: true},
		{name: "missing vector type", err: fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "42704"}), notMigrated: true},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}},
		{name: "other", err: errors.New("connection refused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.notMigrated, errors.Is(classify(tt.err), ErrNotMigrated))
		})
	}
	assert.NoError(t, classify(nil))
}

func TestDecodeMetadata(t *testing.T) {
	meta, err := decodeMetadata(datatypes.JSON(`{"source":"notes.txt"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"source": "notes.txt"}, meta)

	meta, err = decodeMetadata(nil)
	require.NoError(t, err)
	assert.Nil(t, meta)

	_, err = decodeMetadata(datatypes.JSON(`{"source":`))
	assert.ErrorContains(t, err, "decode chunk metadata")
}

// Requires a Postgres with pgvector: PGVECTOR_TEST_DSN="postgres://...".
func TestStoreAgainstPostgres(t *testing.T) {
	dsn := os.Getenv("PGVECTOR_TEST_DSN")
	if dsn == "" {
		t.Skip("PGVECTOR_TEST_DSN not set")
	}
	db, err := database.NewGormDBFromDSN(dsn)
	require.NoError(t, err)
	require.NoError(t, db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error)
	require.NoError(t, db.AutoMigrate(&model.DocumentChunk{}))

	ctx := context.Background()
	store := NewStore(db)
	key := "pgstore_test_0"
	t.Cleanup(func() { _ = store.DeleteKey(ctx, key) })

	require.NoError(t, store.Upsert(ctx, key, []vectorstore.Chunk{
		{Index: 0, Text: "east", Vector: []float32{1, 0, 0}},
		{Index: 1, Text: "north", Vector: []float32{0, 1, 0}},
	}))

	got, err := store.Search(ctx, key, []float32{0.1, 0.9, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "north", got[0].Text)
	assert.Greater(t, got[0].Score, got[1].Score)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, key)

	require.NoError(t, store.DeleteKey(ctx, key))
	got, err = store.Search(ctx, key, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	assert.Empty(t, got)
}
