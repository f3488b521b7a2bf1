package pgvector_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lancejames221b/haivemind/internal/adapter/pgvector"
	vs "github.com/lancejames221b/haivemind/internal/port/vectorstore"
)

// Compile-time interface check.
var _ vs.Store = (*pgvector.Store)(nil)

func setupVectorStore(t *testing.T) *pgvector.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return pgvector.NewStore(pool)
}

func TestStore_UpsertSearchDelete(t *testing.T) {
	store := setupVectorStore(t)
	ctx := context.Background()

	category := "test_" + uuid.New().String()[:8]
	if err := store.EnsureCollection(ctx, category, 3); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	id1, id2 := uuid.New().String(), uuid.New().String()
	if err := store.Upsert(ctx, category, id1, []float32{1, 0, 0}); err != nil {
		t.Fatalf("Upsert id1: %v", err)
	}
	if err := store.Upsert(ctx, category, id2, []float32{0, 1, 0}); err != nil {
		t.Fatalf("Upsert id2: %v", err)
	}

	matches, err := store.Search(ctx, category, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) == 0 || matches[0].MemoryID != id1 {
		t.Fatalf("expected closest match to be id1, got %+v", matches)
	}

	if err := store.Delete(ctx, category, id1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	matches, err = store.Search(ctx, category, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search after delete: %v", err)
	}
	for _, m := range matches {
		if m.MemoryID == id1 {
			t.Fatal("expected deleted embedding to be excluded from search results")
		}
	}
}
