// Package pgvector implements the vectorstore port using the pgvector
// PostgreSQL extension. Each memory category gets its own table so that
// retrieval within one category never scans another category's vectors.
package pgvector

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"

	vs "github.com/lancejames221b/haivemind/internal/port/vectorstore"
)

// Store implements vectorstore.Store using pgvector.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool. Embeddings
// are passed as pgv.Vector query parameters; no pgvector type registration
// (such as an AfterConnect hook) is done on the pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func tableName(category string) string {
	return "embeddings_" + sanitize(category)
}

func sanitize(category string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, category)
}

// EnsureCollection creates the category's embedding table and HNSW index if
// they do not already exist.
func (s *Store) EnsureCollection(ctx context.Context, category string, dimension int) error {
	table := tableName(category)
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			memory_id uuid PRIMARY KEY,
			embedding vector(%d) NOT NULL
		)`, table, dimension))
	if err != nil {
		return fmt.Errorf("ensure collection %s: %w", category, err)
	}

	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_hnsw ON %s USING hnsw (embedding vector_cosine_ops)`, table, table))
	if err != nil {
		return fmt.Errorf("ensure collection %s index: %w", category, err)
	}
	return nil
}

// Upsert stores or replaces a memory's embedding within a category's collection.
func (s *Store) Upsert(ctx context.Context, category, memoryID string, embedding []float32) error {
	table := tableName(category)
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (memory_id, embedding) VALUES ($1, $2)
		ON CONFLICT (memory_id) DO UPDATE SET embedding = EXCLUDED.embedding`, table),
		memoryID, pgv.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("upsert embedding in %s: %w", category, err)
	}
	return nil
}

// Delete removes a memory's embedding from a category's collection.
func (s *Store) Delete(ctx context.Context, category, memoryID string) error {
	table := tableName(category)
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE memory_id = $1`, table), memoryID)
	if err != nil {
		return fmt.Errorf("delete embedding from %s: %w", category, err)
	}
	return nil
}

// Search returns the k nearest neighbors by cosine distance within a
// category's collection.
func (s *Store) Search(ctx context.Context, category string, queryEmbedding []float32, k int) ([]vs.Match, error) {
	table := tableName(category)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT memory_id, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`, table),
		pgv.NewVector(queryEmbedding), k)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", category, err)
	}
	defer rows.Close()

	var matches []vs.Match
	for rows.Next() {
		var m vs.Match
		if err := rows.Scan(&m.MemoryID, &m.Score); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
