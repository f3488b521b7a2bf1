package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lancejames221b/haivemind/internal/adapter/postgres"
	"github.com/lancejames221b/haivemind/internal/domain"
	"github.com/lancejames221b/haivemind/internal/domain/memory"
)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use Store. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()

	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewStore(pool)
}

func testMemory() *memory.Memory {
	return &memory.Memory{
		ID:                   uuid.New().String(),
		Content:              "redis eviction policy is noeviction on the cache tier",
		Category:             memory.CategoryInfrastructure,
		Tags:                 []string{"redis", "cache"},
		MachineID:            "machine-a",
		SourceAgentID:        "agent-1",
		ConfidentialityLevel: memory.ConfidentialityInternal,
		FormatVersion:        memory.FormatV2,
		DeletionState:        memory.DeletionLive,
	}
}

func TestStore_MemoryCRUD(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	m := testMemory()
	if err := store.CreateMemory(ctx, m); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	if m.ContentHash == "" {
		t.Fatal("CreateMemory did not populate ContentHash")
	}
	if m.VectorClock["machine-a"] != 1 {
		t.Fatalf("expected vector clock to be incremented, got %v", m.VectorClock)
	}
	t.Cleanup(func() { _ = store.HardDeleteMemory(ctx, m.ID) })

	t.Run("Get", func(t *testing.T) {
		got, err := store.GetMemory(ctx, m.ID)
		if err != nil {
			t.Fatalf("GetMemory: %v", err)
		}
		if got.Content != m.Content {
			t.Fatalf("expected content %q, got %q", m.Content, got.Content)
		}
	})

	t.Run("GetByContentHash", func(t *testing.T) {
		got, err := store.GetMemoryByContentHash(ctx, m.ContentHash)
		if err != nil {
			t.Fatalf("GetMemoryByContentHash: %v", err)
		}
		if got.ID != m.ID {
			t.Fatalf("expected ID %q, got %q", m.ID, got.ID)
		}
	})

	t.Run("Update", func(t *testing.T) {
		newContent := "redis eviction policy is allkeys-lru on the cache tier"
		updated, err := store.UpdateMemory(ctx, m.ID, memory.UpdatePatch{Content: &newContent})
		if err != nil {
			t.Fatalf("UpdateMemory: %v", err)
		}
		if updated.Content != newContent {
			t.Fatalf("expected updated content %q, got %q", newContent, updated.Content)
		}
		if updated.VectorClock["machine-a"] != 2 {
			t.Fatalf("expected vector clock incremented again, got %v", updated.VectorClock)
		}
	})

	t.Run("UpdateConfidentiality", func(t *testing.T) {
		if err := store.UpdateMemoryConfidentiality(ctx, m.ID, memory.ConfidentialityConfidential); err != nil {
			t.Fatalf("UpdateMemoryConfidentiality: %v", err)
		}
		got, err := store.GetMemory(ctx, m.ID)
		if err != nil {
			t.Fatalf("GetMemory: %v", err)
		}
		if got.ConfidentialityLevel != memory.ConfidentialityConfidential {
			t.Fatalf("expected confidentiality confidential, got %v", got.ConfidentialityLevel)
		}
	})

	t.Run("SoftDeleteAndRestore", func(t *testing.T) {
		expires := time.Now().Add(24 * time.Hour)
		if err := store.SoftDeleteMemory(ctx, m.ID, "agent-1", "superseded", expires); err != nil {
			t.Fatalf("SoftDeleteMemory: %v", err)
		}

		expired, err := store.ListExpiredSoftDeletes(ctx, time.Now().Add(48*time.Hour))
		if err != nil {
			t.Fatalf("ListExpiredSoftDeletes: %v", err)
		}
		found := false
		for _, e := range expired {
			if e.ID == m.ID {
				found = true
			}
		}
		if !found {
			t.Fatal("expected soft-deleted memory to appear in expired list")
		}

		restored, err := store.RestoreMemory(ctx, m.ID)
		if err != nil {
			t.Fatalf("RestoreMemory: %v", err)
		}
		if restored.DeletionState != memory.DeletionLive {
			t.Fatalf("expected restored memory to be live, got %v", restored.DeletionState)
		}
	})
}

func TestStore_MemoryNotFound(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.GetMemory(ctx, uuid.New().String())
	if err == nil {
		t.Fatal("expected error for missing memory")
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_SearchMemories(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	m := testMemory()
	m.Content = "the deploy pipeline retries three times before paging oncall"
	if err := store.CreateMemory(ctx, m); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	t.Cleanup(func() { _ = store.HardDeleteMemory(ctx, m.ID) })

	results, err := store.SearchMemories(ctx, memory.SearchRequest{
		Query:   "deploy pipeline oncall",
		Filters: memory.SearchFilters{Category: memory.CategoryInfrastructure},
		K:       10,
		Mode:    memory.SearchLexical,
	})
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	found := false
	for _, r := range results {
		if r.ID == m.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected search to return the created memory")
	}
}

func TestStore_ListRecentMemories(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	m := testMemory()
	if err := store.CreateMemory(ctx, m); err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	t.Cleanup(func() { _ = store.HardDeleteMemory(ctx, m.ID) })

	recent, err := store.ListRecentMemories(ctx, memory.SearchFilters{MachineID: "machine-a"}, time.Now().Add(-time.Hour), 50)
	if err != nil {
		t.Fatalf("ListRecentMemories: %v", err)
	}
	found := false
	for _, r := range recent {
		if r.ID == m.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("expected recent list to include the newly created memory")
	}
}
