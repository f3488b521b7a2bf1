package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lancejames221b/haivemind/internal/domain/clock"
	"github.com/lancejames221b/haivemind/internal/domain/memory"
)

const memoryColumns = `id, content, content_hash, category, tags, context, project_id, user_id,
	machine_id, source_agent_id, created_at, updated_at, vector_clock, confidentiality_level,
	format_version, deletion_state, deleted_at, deleted_by, delete_reason, delete_expires_at`

func scanMemory(row scannable) (*memory.Memory, error) {
	var m memory.Memory
	var vc []byte
	if err := row.Scan(
		&m.ID, &m.Content, &m.ContentHash, &m.Category, &m.Tags, &m.Context, &m.ProjectID, &m.UserID,
		&m.MachineID, &m.SourceAgentID, &m.CreatedAt, &m.UpdatedAt, &vc, &m.ConfidentialityLevel,
		&m.FormatVersion, &m.DeletionState, &m.DeletedAt, &m.DeletedBy, &m.DeleteReason, &m.DeleteExpiresAt,
	); err != nil {
		return nil, err
	}
	if len(vc) > 0 {
		if err := json.Unmarshal(vc, &m.VectorClock); err != nil {
			return nil, fmt.Errorf("unmarshal vector_clock: %w", err)
		}
	}
	return &m, nil
}

// CreateMemory inserts a new memory, computing its content hash if unset.
func (s *Store) CreateMemory(ctx context.Context, m *memory.Memory) error {
	if m.ContentHash == "" {
		m.ContentHash = memory.HashContent(m.Content)
	}
	if m.VectorClock == nil {
		m.VectorClock = clock.Vector{}
	}
	m.VectorClock = m.VectorClock.Increment(m.MachineID)

	vc, err := json.Marshal(m.VectorClock)
	if err != nil {
		return fmt.Errorf("marshal vector_clock: %w", err)
	}

	const q = `
		INSERT INTO memories (content, content_hash, category, tags, context, project_id, user_id,
			machine_id, source_agent_id, vector_clock, confidentiality_level, format_version, deletion_state)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,'live')
		RETURNING id, created_at, updated_at`

	err = s.pool.QueryRow(ctx, q,
		m.Content, m.ContentHash, string(m.Category), pgTextArray(m.Tags), m.Context, nullIfEmpty(m.ProjectID), nullIfEmpty(m.UserID),
		m.MachineID, nullIfEmpty(m.SourceAgentID), vc, string(m.ConfidentialityLevel), string(m.FormatVersion),
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create memory: %w", err)
	}
	m.DeletionState = memory.DeletionLive
	return nil
}

// GetMemory fetches a memory by ID, excluding hard-deleted (purged) rows.
func (s *Store) GetMemory(ctx context.Context, id string) (*memory.Memory, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = $1 AND deletion_state != 'purged'`, id)
	m, err := scanMemory(row)
	if err != nil {
		return nil, notFoundWrap(err, "get memory %s", id)
	}
	return m, nil
}

// GetMemoryByContentHash looks up a live memory by its exact-match content
// hash, used by the dedup check before a new memory is created.
func (s *Store) GetMemoryByContentHash(ctx context.Context, hash string) (*memory.Memory, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE content_hash = $1 AND deletion_state = 'live'`, hash)
	m, err := scanMemory(row)
	if err != nil {
		return nil, notFoundWrap(err, "get memory by content hash")
	}
	return m, nil
}

// UpdateMemory applies a partial patch to a memory, incrementing its vector
// clock for the acting machine.
func (s *Store) UpdateMemory(ctx context.Context, id string, patch memory.UpdatePatch) (*memory.Memory, error) {
	existing, err := s.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Content != nil {
		existing.Content = *patch.Content
		existing.ContentHash = memory.HashContent(*patch.Content)
	}
	if patch.Tags != nil {
		existing.Tags = patch.Tags
	}
	if patch.Context != nil {
		existing.Context = *patch.Context
	}
	if patch.Category != nil {
		existing.Category = *patch.Category
	}
	existing.VectorClock = existing.VectorClock.Increment(existing.MachineID)

	vc, err := json.Marshal(existing.VectorClock)
	if err != nil {
		return nil, fmt.Errorf("marshal vector_clock: %w", err)
	}

	const q = `
		UPDATE memories SET content=$1, content_hash=$2, category=$3, tags=$4, context=$5,
			vector_clock=$6, updated_at=now()
		WHERE id=$7
		RETURNING updated_at`
	if err := s.pool.QueryRow(ctx, q,
		existing.Content, existing.ContentHash, string(existing.Category), pgTextArray(existing.Tags),
		existing.Context, vc, id,
	).Scan(&existing.UpdatedAt); err != nil {
		return nil, notFoundWrap(err, "update memory %s", id)
	}
	return existing, nil
}

// TouchMemory resets a memory's freshness clock by incrementing its vector
// clock and bumping updated_at, leaving content/tags/context/category
// untouched. Unlike UpdateMemory, it never builds a content patch.
func (s *Store) TouchMemory(ctx context.Context, id string) (*memory.Memory, error) {
	existing, err := s.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}

	existing.VectorClock = existing.VectorClock.Increment(existing.MachineID)
	vc, err := json.Marshal(existing.VectorClock)
	if err != nil {
		return nil, fmt.Errorf("marshal vector_clock: %w", err)
	}

	const q = `UPDATE memories SET vector_clock=$1, updated_at=now() WHERE id=$2 RETURNING updated_at`
	if err := s.pool.QueryRow(ctx, q, vc, id).Scan(&existing.UpdatedAt); err != nil {
		return nil, notFoundWrap(err, "touch memory %s", id)
	}
	return existing, nil
}

// UpdateMemoryConfidentiality ratchets a memory's confidentiality level.
// Callers must have already checked memory.CanRatchetTo; this method writes
// unconditionally.
func (s *Store) UpdateMemoryConfidentiality(ctx context.Context, id string, level memory.ConfidentialityLevel) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memories SET confidentiality_level=$1, updated_at=now() WHERE id=$2`, string(level), id)
	return execExpectOne(tag, err, "update memory confidentiality %s", id)
}

// SoftDeleteMemory marks a memory soft-deleted with a recovery window.
func (s *Store) SoftDeleteMemory(ctx context.Context, id, deletedBy, reason string, expiresAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memories SET deletion_state='soft_deleted', deleted_at=now(), deleted_by=$1,
			delete_reason=$2, delete_expires_at=$3, updated_at=now()
		 WHERE id=$4 AND deletion_state='live'`,
		deletedBy, reason, expiresAt, id)
	return execExpectOne(tag, err, "soft delete memory %s", id)
}

// HardDeleteMemory permanently removes a memory's content, leaving a tombstone.
func (s *Store) HardDeleteMemory(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memories SET deletion_state='purged', content='', updated_at=now() WHERE id=$1`, id)
	return execExpectOne(tag, err, "hard delete memory %s", id)
}

// RestoreMemory reverts a soft-deleted memory to live within its recovery window.
func (s *Store) RestoreMemory(ctx context.Context, id string) (*memory.Memory, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memories SET deletion_state='live', deleted_at=NULL, deleted_by='', delete_reason='',
			delete_expires_at=NULL, updated_at=now()
		 WHERE id=$1 AND deletion_state='soft_deleted'`, id)
	if err := execExpectOne(tag, err, "restore memory %s", id); err != nil {
		return nil, err
	}
	return s.GetMemory(ctx, id)
}

// ListExpiredSoftDeletes returns soft-deleted memories whose recovery window
// has elapsed, candidates for the hard-delete reaper.
func (s *Store) ListExpiredSoftDeletes(ctx context.Context, before time.Time) ([]memory.Memory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE deletion_state='soft_deleted' AND delete_expires_at < $1`, before)
	if err != nil {
		return nil, fmt.Errorf("list expired soft deletes: %w", err)
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

// ListRecentMemories returns live memories created since the given time,
// newest first, matching the optional category/project/machine filters.
func (s *Store) ListRecentMemories(ctx context.Context, filters memory.SearchFilters, since time.Time, limit int) ([]memory.Memory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE deletion_state = 'live' AND created_at >= $1
			AND ($2 = '' OR category = $2)
			AND ($3 = '' OR project_id = $3)
			AND ($4 = '' OR machine_id = $4)
		 ORDER BY created_at DESC
		 LIMIT $5`,
		since, string(filters.Category), filters.ProjectID, filters.MachineID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent memories: %w", err)
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

// UpsertSyncedMemory writes a full memory snapshot received from a peer under
// its origin-assigned ID, inserting it if new or overwriting every mutable
// column if already known locally. The caller (MemoryEngine.ApplySynced) has
// already resolved any vector-clock conflict; this is a blind apply.
func (s *Store) UpsertSyncedMemory(ctx context.Context, m *memory.Memory) error {
	vc, err := json.Marshal(m.VectorClock)
	if err != nil {
		return fmt.Errorf("marshal vector_clock: %w", err)
	}
	if m.ContentHash == "" {
		m.ContentHash = memory.HashContent(m.Content)
	}

	const q = `
		INSERT INTO memories (id, content, content_hash, category, tags, context, project_id, user_id,
			machine_id, source_agent_id, created_at, updated_at, vector_clock, confidentiality_level,
			format_version, deletion_state, deleted_at, deleted_by, delete_reason, delete_expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		ON CONFLICT (id) DO UPDATE SET
			content=$2, content_hash=$3, category=$4, tags=$5, context=$6, project_id=$7, user_id=$8,
			machine_id=$9, source_agent_id=$10, updated_at=$12, vector_clock=$13, confidentiality_level=$14,
			format_version=$15, deletion_state=$16, deleted_at=$17, deleted_by=$18, delete_reason=$19,
			delete_expires_at=$20`

	_, err = s.pool.Exec(ctx, q,
		m.ID, m.Content, m.ContentHash, string(m.Category), pgTextArray(m.Tags), m.Context, nullIfEmpty(m.ProjectID), nullIfEmpty(m.UserID),
		m.MachineID, nullIfEmpty(m.SourceAgentID), m.CreatedAt, m.UpdatedAt, vc, string(m.ConfidentialityLevel),
		string(m.FormatVersion), string(m.DeletionState), m.DeletedAt, m.DeletedBy, m.DeleteReason, m.DeleteExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("upsert synced memory %s: %w", m.ID, err)
	}
	return nil
}

// ListSoftDeletedMemories returns soft-deleted memories still within their
// recovery window, newest deletion first, for the `list_deleted` tool.
func (s *Store) ListSoftDeletedMemories(ctx context.Context, limit int) ([]memory.Memory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE deletion_state = 'soft_deleted'
		   AND (delete_expires_at IS NULL OR delete_expires_at >= now())
		 ORDER BY deleted_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list soft deleted memories: %w", err)
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

// ListMemoriesByUserID returns every memory (any lifecycle state, any
// category) recorded against a user_id, for GDPR export/delete.
func (s *Store) ListMemoriesByUserID(ctx context.Context, userID string) ([]memory.Memory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list memories by user id: %w", err)
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

// ListLiveMemoriesByCategory returns live memories in a category, used by the
// duplicate detector to scan a collection for near-duplicate pairs.
func (s *Store) ListLiveMemoriesByCategory(ctx context.Context, category memory.Category, limit int) ([]memory.Memory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE deletion_state = 'live' AND category = $1
		 ORDER BY created_at
		 LIMIT $2`, string(category), limit)
	if err != nil {
		return nil, fmt.Errorf("list live memories by category: %w", err)
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

// MemoryStats aggregates lifecycle, category, confidentiality, and
// format-version counts for the `stats` tool.
func (s *Store) MemoryStats(ctx context.Context) (memory.Stats, error) {
	stats := memory.Stats{
		ByCategory:        map[memory.Category]int64{},
		ByConfidentiality: map[memory.ConfidentialityLevel]int64{},
		ByFormatVersion:   map[memory.FormatVersion]int64{},
	}

	rows, err := s.pool.Query(ctx, `SELECT deletion_state, count(*) FROM memories GROUP BY deletion_state`)
	if err != nil {
		return stats, fmt.Errorf("memory stats by lifecycle: %w", err)
	}
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			rows.Close()
			return stats, fmt.Errorf("scan lifecycle stat: %w", err)
		}
		switch memory.DeletionState(state) {
		case memory.DeletionLive:
			stats.TotalLive = n
		case memory.DeletionSoftDeleted:
			stats.TotalSoftDeleted = n
		case memory.DeletionPurged:
			stats.TotalPurged = n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if err := scanGroupCount(ctx, s, `SELECT category, count(*) FROM memories WHERE deletion_state = 'live' GROUP BY category`,
		func(key string, n int64) { stats.ByCategory[memory.Category(key)] = n }); err != nil {
		return stats, fmt.Errorf("memory stats by category: %w", err)
	}
	if err := scanGroupCount(ctx, s, `SELECT confidentiality_level, count(*) FROM memories WHERE deletion_state = 'live' GROUP BY confidentiality_level`,
		func(key string, n int64) { stats.ByConfidentiality[memory.ConfidentialityLevel(key)] = n }); err != nil {
		return stats, fmt.Errorf("memory stats by confidentiality: %w", err)
	}
	if err := scanGroupCount(ctx, s, `SELECT format_version, count(*) FROM memories WHERE deletion_state = 'live' GROUP BY format_version`,
		func(key string, n int64) { stats.ByFormatVersion[memory.FormatVersion(key)] = n }); err != nil {
		return stats, fmt.Errorf("memory stats by format version: %w", err)
	}

	return stats, nil
}

func scanGroupCount(ctx context.Context, s *Store, q string, assign func(key string, n int64)) error {
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		assign(key, n)
	}
	return rows.Err()
}

func scanMemoryRows(rows pgx.Rows) ([]memory.Memory, error) {
	var result []memory.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		result = append(result, *m)
	}
	return orEmpty(result), rows.Err()
}

// SearchMemories performs lexical search via PostgreSQL full-text search.
// Semantic and hybrid modes are handled at the service layer, which blends
// this result with the vectorstore port's nearest-neighbor results.
func (s *Store) SearchMemories(ctx context.Context, req memory.SearchRequest) ([]memory.ScoredMemory, error) {
	q := `SELECT ` + memoryColumns + `, ts_rank_cd(to_tsvector('english', content), plainto_tsquery('english', $1)) AS rank
		FROM memories
		WHERE deletion_state = 'live'
			AND ($1 = '' OR to_tsvector('english', content) @@ plainto_tsquery('english', $1))
			AND ($2 = '' OR category = $2)
			AND ($3 = '' OR project_id = $3)
		ORDER BY rank DESC
		LIMIT $4`

	rows, err := s.pool.Query(ctx, q, req.Query, string(req.Filters.Category), req.Filters.ProjectID, req.K)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var result []memory.ScoredMemory
	for rows.Next() {
		var m memory.Memory
		var vc []byte
		var rank float64
		if err := rows.Scan(
			&m.ID, &m.Content, &m.ContentHash, &m.Category, &m.Tags, &m.Context, &m.ProjectID, &m.UserID,
			&m.MachineID, &m.SourceAgentID, &m.CreatedAt, &m.UpdatedAt, &vc, &m.ConfidentialityLevel,
			&m.FormatVersion, &m.DeletionState, &m.DeletedAt, &m.DeletedBy, &m.DeleteReason, &m.DeleteExpiresAt,
			&rank,
		); err != nil {
			return nil, fmt.Errorf("scan scored memory: %w", err)
		}
		if len(vc) > 0 {
			_ = json.Unmarshal(vc, &m.VectorClock)
		}
		result = append(result, memory.ScoredMemory{Memory: m, Score: rank})
	}
	return orEmpty(result), rows.Err()
}
