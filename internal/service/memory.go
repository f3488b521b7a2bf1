package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lancejames221b/haivemind/internal/adapter/otel"
	"github.com/lancejames221b/haivemind/internal/domain"
	"github.com/lancejames221b/haivemind/internal/domain/agent"
	"github.com/lancejames221b/haivemind/internal/domain/audit"
	"github.com/lancejames221b/haivemind/internal/domain/clock"
	"github.com/lancejames221b/haivemind/internal/domain/memory"
	"github.com/lancejames221b/haivemind/internal/domain/syncevent"
	"github.com/lancejames221b/haivemind/internal/port/database"
	"github.com/lancejames221b/haivemind/internal/port/embedding"
	"github.com/lancejames221b/haivemind/internal/port/messagequeue"
	"github.com/lancejames221b/haivemind/internal/port/vectorstore"
	"github.com/lancejames221b/haivemind/internal/reqctx"
)

// StoreInput is the caller-supplied content of a new memory.
type StoreInput struct {
	Content              string
	Category             memory.Category
	Tags                 []string
	Context              string
	ProjectID            string
	UserID               string
	MachineID            string
	SourceAgentID        string
	ConfidentialityLevel memory.ConfidentialityLevel
	FormatVersion        memory.FormatVersion // defaults to v2 when empty; FG stamps v1 for pre-format-guide sessions
}

// MemoryEngine owns the memory lifecycle: category routing, confidentiality
// enforcement, dedup, soft/hard delete, search, and sync event emission.
type MemoryEngine struct {
	db          database.Store
	vectors     vectorstore.Store
	embeddings  embedding.Provider
	queue       messagequeue.Queue
	dedupThreshold float64
	softDeleteTTL  time.Duration
	hardDeleteGrace time.Duration
	hybridAlpha    float64
	metrics        *otel.Metrics // optional; nil disables metric recording
}

// SetMetrics attaches OTEL instrumentation. Optional: without it, Store and
// Search behave exactly the same, just unmeasured.
func (e *MemoryEngine) SetMetrics(m *otel.Metrics) {
	e.metrics = m
}

// NewMemoryEngine creates a MemoryEngine wired to its storage and messaging
// ports, configured with the dedup similarity threshold, soft-delete
// recovery window, and hybrid-search blending weight.
func NewMemoryEngine(db database.Store, vectors vectorstore.Store, embeddings embedding.Provider, queue messagequeue.Queue,
	dedupThreshold float64, softDeleteTTL, hardDeleteGrace time.Duration, hybridAlpha float64) *MemoryEngine {
	return &MemoryEngine{
		db: db, vectors: vectors, embeddings: embeddings, queue: queue,
		dedupThreshold: dedupThreshold, softDeleteTTL: softDeleteTTL,
		hardDeleteGrace: hardDeleteGrace, hybridAlpha: hybridAlpha,
	}
}

// Store creates a new memory. Exact-hash duplicates are rejected unless the
// caller already merged them; embedding failures degrade to a lexical-only
// memory rather than failing the write.
func (e *MemoryEngine) Store(ctx context.Context, in StoreInput) (*memory.Memory, error) {
	start := time.Now()
	defer e.recordStoreDuration(ctx, start)

	if len(in.Content) > memory.MaxContentBytes {
		return nil, fmt.Errorf("%w: content exceeds %d bytes", domain.ErrContentTooLarge, memory.MaxContentBytes)
	}
	if in.ConfidentialityLevel == "" {
		in.ConfidentialityLevel = memory.ConfidentialityNormal
	}
	if !memory.ValidConfidentialityLevel(in.ConfidentialityLevel) {
		return nil, fmt.Errorf("%w: invalid confidentiality level %q", domain.ErrInvalidArgument, in.ConfidentialityLevel)
	}
	category := memory.Normalize(in.Category)
	formatVersion := in.FormatVersion
	if formatVersion == "" {
		formatVersion = memory.FormatV2
	}

	hash := memory.HashContent(in.Content)
	if existing, err := e.db.GetMemoryByContentHash(ctx, hash); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: memory %s has identical content", domain.ErrDuplicateDetected, existing.ID)
	}

	m := &memory.Memory{
		Content:              in.Content,
		ContentHash:          hash,
		Category:             category,
		Tags:                 in.Tags,
		Context:              in.Context,
		ProjectID:            in.ProjectID,
		UserID:               in.UserID,
		MachineID:            in.MachineID,
		SourceAgentID:        in.SourceAgentID,
		ConfidentialityLevel: in.ConfidentialityLevel,
		FormatVersion:        formatVersion,
	}
	if err := e.db.CreateMemory(ctx, m); err != nil {
		return nil, fmt.Errorf("create memory: %w", err)
	}

	e.embedAndIndex(ctx, m)
	e.emitSyncEvent(ctx, messagequeue.SubjectSyncEventMemoryUpsert, m.ID, m.MachineID, m.VectorClock)
	e.auditIfPrivileged(ctx, audit.OperationMemoryCreate, m.ID, audit.OutcomeSuccess, "")

	if e.metrics != nil {
		e.metrics.MemoriesStored.Add(ctx, 1)
	}

	return m, nil
}

func (e *MemoryEngine) recordStoreDuration(ctx context.Context, start time.Time) {
	if e.metrics != nil {
		e.metrics.StoreDuration.Record(ctx, time.Since(start).Seconds())
	}
}

// Retrieve fetches a memory by ID, enforcing confidentiality: pii is only
// visible from its owning machine and is audited on every such read.
func (e *MemoryEngine) Retrieve(ctx context.Context, id string) (*memory.Memory, error) {
	m, err := e.db.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.checkReadAccess(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (e *MemoryEngine) checkReadAccess(ctx context.Context, m *memory.Memory) error {
	if m.ConfidentialityLevel != memory.ConfidentialityPII {
		return nil
	}
	requester := reqctx.MachineID(ctx)
	if requester != m.MachineID {
		e.auditIfPrivileged(ctx, audit.OperationMemoryRead, m.ID, audit.OutcomeDenied, "pii read from non-owning machine")
		return fmt.Errorf("%w: pii memory readable only from its owning machine", domain.ErrForbidden)
	}
	slog.Info("pii memory read", "memory_id", m.ID, "machine_id", requester)
	e.auditIfPrivileged(ctx, audit.OperationMemoryRead, m.ID, audit.OutcomeSuccess, "pii read")
	return nil
}

// Update applies a partial patch and re-embeds if content or category changed.
func (e *MemoryEngine) Update(ctx context.Context, id string, patch memory.UpdatePatch) (*memory.Memory, error) {
	if patch.Content != nil && len(*patch.Content) > memory.MaxContentBytes {
		return nil, fmt.Errorf("%w: content exceeds %d bytes", domain.ErrContentTooLarge, memory.MaxContentBytes)
	}
	updated, err := e.db.UpdateMemory(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update memory: %w", err)
	}
	if patch.Content != nil || patch.Category != nil {
		e.embedAndIndex(ctx, updated)
	}
	e.emitSyncEvent(ctx, messagequeue.SubjectSyncEventMemoryUpsert, updated.ID, updated.MachineID, updated.VectorClock)
	e.auditIfPrivileged(ctx, audit.OperationMemoryUpdate, updated.ID, audit.OutcomeSuccess, "")
	return updated, nil
}

// TouchFreshness resets a memory's freshness clock (updated_at, vector clock)
// without mutating its content, tags, context, or category. Used after a
// confirmed/still_valid verification, which attests the memory but adds
// nothing to it.
func (e *MemoryEngine) TouchFreshness(ctx context.Context, id string) (*memory.Memory, error) {
	touched, err := e.db.TouchMemory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("touch memory: %w", err)
	}
	e.emitSyncEvent(ctx, messagequeue.SubjectSyncEventMemoryUpsert, touched.ID, touched.MachineID, touched.VectorClock)
	return touched, nil
}

// UpdateConfidentiality moves a memory's confidentiality level, enforcing the
// one-way ratchet (a level may only increase, never decrease).
func (e *MemoryEngine) UpdateConfidentiality(ctx context.Context, id string, newLevel memory.ConfidentialityLevel) error {
	m, err := e.db.GetMemory(ctx, id)
	if err != nil {
		return err
	}
	if !memory.CanRatchetTo(m.ConfidentialityLevel, newLevel) {
		e.auditIfPrivileged(ctx, audit.OperationConfidentialityRatchet, id, audit.OutcomeDenied, "downgrade attempted")
		return fmt.Errorf("%w: cannot lower confidentiality from %s to %s", domain.ErrForbidden, m.ConfidentialityLevel, newLevel)
	}
	if err := e.db.UpdateMemoryConfidentiality(ctx, id, newLevel); err != nil {
		return fmt.Errorf("persist confidentiality ratchet: %w", err)
	}
	e.emitSyncEvent(ctx, messagequeue.SubjectSyncEventMemoryUpsert, id, m.MachineID, m.VectorClock)
	e.auditIfPrivileged(ctx, audit.OperationConfidentialityRatchet, id, audit.OutcomeSuccess, fmt.Sprintf("%s -> %s", m.ConfidentialityLevel, newLevel))
	return nil
}

// Search runs a hybrid (semantic + lexical) memory search, reranking
// combined = alpha*semantic + (1-alpha)*lexical.
func (e *MemoryEngine) Search(ctx context.Context, req memory.SearchRequest) ([]memory.ScoredMemory, error) {
	start := time.Now()
	results, err := e.search(ctx, req)
	if e.metrics != nil {
		e.metrics.SearchDuration.Record(ctx, time.Since(start).Seconds())
		e.metrics.MemoriesRecalled.Add(ctx, int64(len(results)))
	}
	return results, err
}

func (e *MemoryEngine) search(ctx context.Context, req memory.SearchRequest) ([]memory.ScoredMemory, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	lexical, err := e.db.SearchMemories(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	if req.Mode == memory.SearchLexical || e.embeddings == nil {
		return e.applyPostFilters(ctx, lexical, req.Filters), nil
	}

	queryVec, err := e.embeddings.Embed(ctx, []string{req.Query})
	if err != nil || len(queryVec) == 0 {
		slog.Warn("embedding provider unavailable, falling back to lexical search", "error", err)
		return e.applyPostFilters(ctx, lexical, req.Filters), nil
	}

	category := string(memory.Normalize(req.Filters.Category))
	matches, err := e.vectors.Search(ctx, category, queryVec[0], req.K*4)
	if err != nil {
		slog.Warn("vector search failed, falling back to lexical search", "error", err)
		return e.applyPostFilters(ctx, lexical, req.Filters), nil
	}
	if req.Mode == memory.SearchSemantic {
		return e.applyPostFilters(ctx, e.hydrateMatches(ctx, matches), req.Filters), nil
	}

	return e.applyPostFilters(ctx, e.blendHybrid(lexical, matches, req.K), req.Filters), nil
}

func (e *MemoryEngine) hydrateMatches(ctx context.Context, matches []vectorstore.Match) []memory.ScoredMemory {
	var out []memory.ScoredMemory
	for _, mt := range matches {
		m, err := e.db.GetMemory(ctx, mt.MemoryID)
		if err != nil {
			continue
		}
		out = append(out, memory.ScoredMemory{Memory: *m, Score: mt.Score})
	}
	return out
}

func (e *MemoryEngine) blendHybrid(lexical []memory.ScoredMemory, semantic []vectorstore.Match, k int) []memory.ScoredMemory {
	alpha := e.hybridAlpha
	if alpha <= 0 {
		alpha = 0.7
	}
	combined := make(map[string]*memory.ScoredMemory, len(lexical))
	for i := range lexical {
		sm := lexical[i]
		sm.Score = (1 - alpha) * sm.Score
		combined[sm.ID] = &sm
	}
	for _, mt := range semantic {
		if sm, ok := combined[mt.MemoryID]; ok {
			sm.Score += alpha * mt.Score
			continue
		}
		combined[mt.MemoryID] = &memory.ScoredMemory{Memory: memory.Memory{ID: mt.MemoryID}, Score: alpha * mt.Score}
	}

	out := make([]memory.ScoredMemory, 0, len(combined))
	for _, sm := range combined {
		out = append(out, *sm)
	}
	sortScoredDescending(out)
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func sortScoredDescending(s []memory.ScoredMemory) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].Score > s[j-1].Score; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func (e *MemoryEngine) applyPostFilters(ctx context.Context, in []memory.ScoredMemory, filters memory.SearchFilters) []memory.ScoredMemory {
	requester := reqctx.MachineID(ctx)
	var out []memory.ScoredMemory
	for _, sm := range in {
		if filters.ExcludeConfidential && sm.ConfidentialityLevel == memory.ConfidentialityConfidential {
			continue
		}
		if sm.ConfidentialityLevel == memory.ConfidentialityPII && sm.MachineID != requester {
			continue
		}
		if filters.MinConfidence > 0 && sm.Score < filters.MinConfidence {
			continue
		}
		out = append(out, sm)
	}
	return out
}

// Recent returns memories created within window, matching filters, newest first.
func (e *MemoryEngine) Recent(ctx context.Context, window time.Duration, filters memory.SearchFilters, limit int) ([]memory.Memory, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.db.ListRecentMemories(ctx, filters, time.Now().Add(-window), limit)
}

// Delete soft-deletes (default) or hard-deletes a memory, removing its
// embedding and emitting the matching sync event.
func (e *MemoryEngine) Delete(ctx context.Context, id string, hard bool, deletedBy, reason string) error {
	m, err := e.db.GetMemory(ctx, id)
	if err != nil {
		return err
	}

	if hard {
		if e.vectors != nil {
			_ = e.vectors.Delete(ctx, string(m.Category), id)
		}
		if err := e.db.HardDeleteMemory(ctx, id); err != nil {
			return fmt.Errorf("hard delete memory: %w", err)
		}
		e.emitSyncEvent(ctx, messagequeue.SubjectSyncEventMemoryHardDelete, id, m.MachineID, m.VectorClock)
		e.auditIfPrivileged(ctx, audit.OperationMemoryHardDelete, id, audit.OutcomeSuccess, reason)
		return nil
	}

	expires := time.Now().Add(e.softDeleteTTL)
	if err := e.db.SoftDeleteMemory(ctx, id, deletedBy, reason, expires); err != nil {
		return fmt.Errorf("soft delete memory: %w", err)
	}
	e.emitSyncEvent(ctx, messagequeue.SubjectSyncEventMemorySoftDelete, id, m.MachineID, m.VectorClock)
	e.auditIfPrivileged(ctx, audit.OperationMemorySoftDelete, id, audit.OutcomeSuccess, reason)
	return nil
}

// Recover restores a soft-deleted memory within its recovery window.
func (e *MemoryEngine) Recover(ctx context.Context, id string) (*memory.Memory, error) {
	m, err := e.db.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.DeletedAt != nil && m.DeleteExpiresAt != nil && time.Now().After(*m.DeleteExpiresAt) {
		return nil, fmt.Errorf("%w: memory %s", domain.ErrDeletionExpired, id)
	}
	return e.db.RestoreMemory(ctx, id)
}

// SweepExpiredSoftDeletes hard-deletes every soft-deleted memory whose
// recovery window has elapsed. Intended to run on a daily schedule.
func (e *MemoryEngine) SweepExpiredSoftDeletes(ctx context.Context) (int, error) {
	expired, err := e.db.ListExpiredSoftDeletes(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("list expired soft deletes: %w", err)
	}
	swept := 0
	for _, m := range expired {
		if err := e.Delete(ctx, m.ID, true, "system", "soft-delete ttl expired"); err != nil {
			slog.Error("failed to hard delete expired memory", "memory_id", m.ID, "error", err)
			continue
		}
		swept++
	}
	return swept, nil
}

// ApplySynced reconciles an incoming memory snapshot from a peer against the
// local copy using vector-clock causality. If the incoming snapshot strictly
// dominates (or the memory is unknown locally), it is applied. If the local
// copy dominates, the incoming snapshot is a stale duplicate and ignored. If
// neither dominates, the two are concurrent and the conflict is resolved by
// the rule order from the confidence engine's credibility model: a later
// wall-clock write on a non-deletion beats an older deletion, then the
// higher-credibility source machine wins, and only then a deterministic
// tie-break on origin machine ID (the incoming and local rows share the same
// memory ID in a conflict, so the ID itself cannot break the tie).
func (e *MemoryEngine) ApplySynced(ctx context.Context, incoming memory.Memory) (syncevent.AcceptOutcome, error) {
	local, err := e.db.GetMemory(ctx, incoming.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("get local memory for sync apply: %w", err)
	}
	if local == nil {
		if err := e.db.UpsertSyncedMemory(ctx, &incoming); err != nil {
			return "", fmt.Errorf("apply synced memory: %w", err)
		}
		e.embedAndIndex(ctx, &incoming)
		return syncevent.OutcomeAccepted, nil
	}

	switch clock.Compare(local.VectorClock, incoming.VectorClock) {
	case clock.Equal, clock.After:
		return syncevent.OutcomeDuplicate, nil
	case clock.Before:
		if err := e.db.UpsertSyncedMemory(ctx, &incoming); err != nil {
			return "", fmt.Errorf("apply synced memory: %w", err)
		}
		e.embedAndIndex(ctx, &incoming)
		return syncevent.OutcomeAccepted, nil
	default: // clock.Concurrent
		winner := e.resolveConcurrentMemories(ctx, *local, incoming)
		if err := e.db.UpsertSyncedMemory(ctx, &winner); err != nil {
			return "", fmt.Errorf("apply resolved memory: %w", err)
		}
		e.embedAndIndex(ctx, &winner)
		e.auditSyncConflict(ctx, incoming.ID, winner.MachineID)
		return syncevent.OutcomeConflict, nil
	}
}

// resolveConcurrentMemories picks a winner between two concurrently-updated
// versions of the same memory, merging their vector clocks so the result
// dominates both inputs regardless of which side's content was kept.
func (e *MemoryEngine) resolveConcurrentMemories(ctx context.Context, local, incoming memory.Memory) memory.Memory {
	merged := clock.Merge(local.VectorClock, incoming.VectorClock)

	localLive := local.DeletionState == memory.DeletionLive
	incomingLive := incoming.DeletionState == memory.DeletionLive

	var winner memory.Memory
	switch {
	case localLive && !incomingLive:
		if local.UpdatedAt.After(incoming.UpdatedAt) {
			winner = local
		} else {
			winner = incoming
		}
	case incomingLive && !localLive:
		if incoming.UpdatedAt.After(local.UpdatedAt) {
			winner = incoming
		} else {
			winner = local
		}
	case e.sourceCredibilityScore(ctx, incoming.SourceAgentID, string(incoming.Category)) >
		e.sourceCredibilityScore(ctx, local.SourceAgentID, string(local.Category)):
		winner = incoming
	case e.sourceCredibilityScore(ctx, local.SourceAgentID, string(local.Category)) >
		e.sourceCredibilityScore(ctx, incoming.SourceAgentID, string(incoming.Category)):
		winner = local
	case local.MachineID <= incoming.MachineID:
		winner = local
	default:
		winner = incoming
	}

	winner.VectorClock = merged
	return winner
}

func (e *MemoryEngine) sourceCredibilityScore(ctx context.Context, sourceAgentID, category string) float64 {
	if sourceAgentID == "" {
		return agent.DefaultCredibility().Score
	}
	a, err := e.db.GetAgent(ctx, sourceAgentID)
	if err != nil {
		return agent.DefaultCredibility().Score
	}
	return a.CredibilityInCategory(category).Score
}

func (e *MemoryEngine) auditSyncConflict(ctx context.Context, memoryID, winnerMachineID string) {
	entry := audit.Entry{
		ActorAgentID:   "system",
		ActorMachineID: winnerMachineID,
		Operation:      audit.OperationSyncConflictResolve,
		TargetKind:     audit.TargetMemory,
		TargetID:       memoryID,
		Outcome:        audit.OutcomeSuccess,
		Reason:         "concurrent update resolved on apply",
		OccurredAt:     time.Now(),
	}
	if err := e.db.AppendAuditEntry(ctx, entry); err != nil {
		slog.Error("append sync conflict audit entry failed", "memory_id", memoryID, "error", err)
	}
}

func (e *MemoryEngine) embedAndIndex(ctx context.Context, m *memory.Memory) {
	if e.embeddings == nil || e.vectors == nil {
		return
	}
	vecs, err := e.embeddings.Embed(ctx, []string{m.Content})
	if err != nil || len(vecs) == 0 {
		slog.Warn("embedding failed, memory stored without vector index", "memory_id", m.ID, "error", err)
		return
	}
	category := string(memory.Normalize(m.Category))
	if err := e.vectors.EnsureCollection(ctx, category, e.embeddings.Dimension()); err != nil {
		slog.Error("ensure vector collection failed", "category", category, "error", err)
		return
	}
	if err := e.vectors.Upsert(ctx, category, m.ID, vecs[0]); err != nil {
		slog.Error("vector upsert failed", "memory_id", m.ID, "error", err)
	}
}

func (e *MemoryEngine) emitSyncEvent(ctx context.Context, subject, memoryID, machineID string, vc clock.Vector) {
	snapshot := make(map[string]int, len(vc))
	for k, v := range vc {
		snapshot[k] = int(v)
	}
	payload, err := json.Marshal(messagequeue.SyncEventPayload{
		ID:                  memoryID,
		Kind:                strings.TrimPrefix(subject, "sync.event."),
		OriginMachineID:     machineID,
		VectorClockSnapshot: snapshot,
	})
	if err != nil {
		slog.Error("marshal sync event failed", "error", err)
		return
	}
	if err := e.queue.Publish(ctx, subject, payload); err != nil {
		slog.Error("publish sync event failed", "subject", subject, "memory_id", memoryID, "error", err)
	}
}

// BulkDelete soft- or hard-deletes a batch of memories in one call. Destructive
// bulk operations require explicit confirmation.
func (e *MemoryEngine) BulkDelete(ctx context.Context, ids []string, hard bool, deletedBy, reason string, confirm bool) (int, error) {
	if !confirm {
		return 0, fmt.Errorf("%w: bulk delete of %d memories requires confirm=true", domain.ErrConfirmationRequired, len(ids))
	}
	deleted := 0
	for _, id := range ids {
		if err := e.Delete(ctx, id, hard, deletedBy, reason); err != nil {
			slog.Error("bulk delete failed for memory", "memory_id", id, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// ListDeleted returns soft-deleted memories still within their recovery window.
func (e *MemoryEngine) ListDeleted(ctx context.Context, limit int) ([]memory.Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	return e.db.ListSoftDeletedMemories(ctx, limit)
}

// Stats summarizes the memory store for the `stats` tool.
func (e *MemoryEngine) Stats(ctx context.Context) (memory.Stats, error) {
	return e.db.MemoryStats(ctx)
}

// DuplicatePair is a candidate near-duplicate found by DetectDuplicates.
type DuplicatePair struct {
	MemoryAID  string  `json:"memory_a_id"`
	MemoryBID  string  `json:"memory_b_id"`
	Similarity float64 `json:"similarity"`
}

// DetectDuplicates scans a category's live memories for near-duplicate pairs
// above the configured dedup similarity threshold. Unlike Store's exact-hash
// check, this catches paraphrased duplicates via embedding similarity.
func (e *MemoryEngine) DetectDuplicates(ctx context.Context, category memory.Category) ([]DuplicatePair, error) {
	if e.embeddings == nil || e.vectors == nil {
		return nil, nil
	}
	candidates, err := e.db.ListLiveMemoriesByCategory(ctx, memory.Normalize(category), 10000)
	if err != nil {
		return nil, fmt.Errorf("list duplicate candidates: %w", err)
	}

	collection := string(memory.Normalize(category))
	var pairs []DuplicatePair
	seen := make(map[[2]string]bool)
	for _, m := range candidates {
		vecs, err := e.embeddings.Embed(ctx, []string{m.Content})
		if err != nil || len(vecs) == 0 {
			continue
		}
		matches, err := e.vectors.Search(ctx, collection, vecs[0], 5)
		if err != nil {
			continue
		}
		for _, match := range matches {
			if match.MemoryID == m.ID || match.Score < e.dedupThreshold {
				continue
			}
			key := [2]string{m.ID, match.MemoryID}
			if key[0] > key[1] {
				key[0], key[1] = key[1], key[0]
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			pairs = append(pairs, DuplicatePair{MemoryAID: key[0], MemoryBID: key[1], Similarity: match.Score})
		}
	}
	return pairs, nil
}

// MergeDuplicates hard-deletes a set of duplicate memories in favor of the
// memory identified by keepID, which is left untouched.
func (e *MemoryEngine) MergeDuplicates(ctx context.Context, keepID string, mergeIDs []string, mergedBy string) (int, error) {
	merged := 0
	for _, id := range mergeIDs {
		if id == keepID {
			continue
		}
		if err := e.Delete(ctx, id, true, mergedBy, fmt.Sprintf("merged into %s", keepID)); err != nil {
			slog.Error("merge duplicate failed", "memory_id", id, "keep_id", keepID, "error", err)
			continue
		}
		merged++
	}
	return merged, nil
}

// GDPRExport returns every memory (any lifecycle state) recorded against a
// user_id, for a data-subject access request.
func (e *MemoryEngine) GDPRExport(ctx context.Context, userID string) ([]memory.Memory, error) {
	memories, err := e.db.ListMemoriesByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("gdpr export: %w", err)
	}
	e.auditIfPrivileged(ctx, audit.OperationMemoryRead, userID, audit.OutcomeSuccess, "gdpr export")
	return memories, nil
}

// GDPRDelete hard-deletes every memory recorded against a user_id, for a
// right-to-erasure request. Always requires confirmation since it is
// irreversible and may span many memories.
func (e *MemoryEngine) GDPRDelete(ctx context.Context, userID string, confirm bool) (int, error) {
	if !confirm {
		return 0, fmt.Errorf("%w: gdpr delete requires confirm=true", domain.ErrConfirmationRequired)
	}
	memories, err := e.db.ListMemoriesByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("gdpr delete: list memories: %w", err)
	}
	deleted := 0
	for _, m := range memories {
		if err := e.Delete(ctx, m.ID, true, "gdpr", "gdpr erasure request"); err != nil {
			slog.Error("gdpr delete failed for memory", "memory_id", m.ID, "error", err)
			continue
		}
		deleted++
	}
	e.auditIfPrivileged(ctx, audit.OperationMemoryHardDelete, userID, audit.OutcomeSuccess, "gdpr erasure request")
	return deleted, nil
}

func (e *MemoryEngine) auditIfPrivileged(ctx context.Context, op audit.Operation, targetID string, outcome audit.Outcome, reason string) {
	if op != audit.OperationMemoryHardDelete && op != audit.OperationConfidentialityRatchet && outcome == audit.OutcomeSuccess && reason != "pii read" {
		return
	}
	entry := audit.Entry{
		ActorAgentID:   reqctx.AgentID(ctx),
		ActorMachineID: reqctx.MachineID(ctx),
		Operation:      op,
		TargetKind:     audit.TargetMemory,
		TargetID:       targetID,
		Outcome:        outcome,
		Reason:         reason,
		OccurredAt:     time.Now(),
	}
	if entry.ActorAgentID == "" {
		entry.ActorAgentID = "system"
	}
	if entry.ActorMachineID == "" {
		entry.ActorMachineID = "system"
	}
	if err := e.db.AppendAuditEntry(ctx, entry); err != nil {
		slog.Error("append audit entry failed", "operation", op, "target_id", targetID, "error", err)
	}
}
