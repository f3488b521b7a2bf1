// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/lancejames221b/haivemind/internal/domain/agent"
	"github.com/lancejames221b/haivemind/internal/domain/audit"
	"github.com/lancejames221b/haivemind/internal/domain/confidence"
	"github.com/lancejames221b/haivemind/internal/domain/memory"
	"github.com/lancejames221b/haivemind/internal/domain/syncevent"
	"github.com/lancejames221b/haivemind/internal/domain/task"
)

// Store is the port interface for metadata database operations. It does not
// cover vector similarity search, which lives behind the separate
// vectorstore port.
type Store interface {
	// Memories
	CreateMemory(ctx context.Context, m *memory.Memory) error
	GetMemory(ctx context.Context, id string) (*memory.Memory, error)
	GetMemoryByContentHash(ctx context.Context, hash string) (*memory.Memory, error)
	UpdateMemory(ctx context.Context, id string, patch memory.UpdatePatch) (*memory.Memory, error)
	// TouchMemory resets a memory's freshness clock (updated_at, vector clock)
	// without mutating content, tags, context, or category. Used by a
	// confirmed/still_valid verification, which attests the memory is still
	// accurate but has nothing new to say about it.
	TouchMemory(ctx context.Context, id string) (*memory.Memory, error)
	UpdateMemoryConfidentiality(ctx context.Context, id string, level memory.ConfidentialityLevel) error
	SoftDeleteMemory(ctx context.Context, id, deletedBy, reason string, expiresAt time.Time) error
	HardDeleteMemory(ctx context.Context, id string) error
	RestoreMemory(ctx context.Context, id string) (*memory.Memory, error)
	ListExpiredSoftDeletes(ctx context.Context, before time.Time) ([]memory.Memory, error)
	SearchMemories(ctx context.Context, req memory.SearchRequest) ([]memory.ScoredMemory, error)
	ListRecentMemories(ctx context.Context, filters memory.SearchFilters, since time.Time, limit int) ([]memory.Memory, error)
	ListSoftDeletedMemories(ctx context.Context, limit int) ([]memory.Memory, error)
	ListMemoriesByUserID(ctx context.Context, userID string) ([]memory.Memory, error)
	ListLiveMemoriesByCategory(ctx context.Context, category memory.Category, limit int) ([]memory.Memory, error)
	MemoryStats(ctx context.Context) (memory.Stats, error)

	// UpsertSyncedMemory applies a full memory snapshot received from a peer,
	// inserting it with its origin-assigned ID if unknown or overwriting the
	// local row if known. Unlike CreateMemory/UpdateMemory (for local writes),
	// this never reassigns the ID or mutates the vector clock: the caller has
	// already decided the incoming snapshot should win.
	UpsertSyncedMemory(ctx context.Context, m *memory.Memory) error

	// Agents
	RegisterAgent(ctx context.Context, req agent.RegisterRequest) (*agent.Agent, error)
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	ListAgents(ctx context.Context, machineID string) ([]agent.Agent, error)
	Heartbeat(ctx context.Context, agentID string, at time.Time) error
	UpdateCredibility(ctx context.Context, agentID, category string, c agent.Credibility) error

	// Tasks
	CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasksByAgent(ctx context.Context, agentID string) ([]task.Task, error)
	ListTasksByStatus(ctx context.Context, status task.Status) ([]task.Task, error)
	AssignTask(ctx context.Context, id, agentID string) (*task.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status task.Status, result *task.Result) (*task.Task, error)

	// Confidence records
	UpsertConfidenceRecord(ctx context.Context, r confidence.Record) error
	GetConfidenceRecord(ctx context.Context, memoryID string) (*confidence.Record, error)

	// Verifications
	CreateVerification(ctx context.Context, v confidence.Verification) error
	ListVerifications(ctx context.Context, memoryID string) ([]confidence.Verification, error)

	// Votes
	CastVote(ctx context.Context, v confidence.Vote) error
	ListVotes(ctx context.Context, memoryID string) ([]confidence.Vote, error)

	// Usage outcomes
	RecordUsageOutcome(ctx context.Context, o confidence.UsageOutcome) error
	ListUsageOutcomes(ctx context.Context, memoryID string, since time.Time) ([]confidence.UsageOutcome, error)

	// Contradictions
	CreateContradiction(ctx context.Context, c *confidence.Contradiction) error
	GetContradiction(ctx context.Context, id string) (*confidence.Contradiction, error)
	ListOpenContradictions(ctx context.Context, memoryID string) ([]confidence.Contradiction, error)
	ResolveContradiction(ctx context.Context, id string, res confidence.Resolution) error

	// Audit trail
	AppendAuditEntry(ctx context.Context, e audit.Entry) error
	ListAuditEntries(ctx context.Context, f audit.Filter) (audit.Page, error)

	// Sync checkpoints: the last vector clock this node has durably applied
	// from each peer, used to resume a sync stream after restart.
	GetSyncCheckpoint(ctx context.Context, peerMachineID string) (*syncevent.Status, error)
	SaveSyncCheckpoint(ctx context.Context, peerMachineID string, status syncevent.Status) error
}
