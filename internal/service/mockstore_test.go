package service

import (
	"context"
	"fmt"
	"time"

	"github.com/lancejames221b/haivemind/internal/domain"
	"github.com/lancejames221b/haivemind/internal/domain/agent"
	"github.com/lancejames221b/haivemind/internal/domain/audit"
	"github.com/lancejames221b/haivemind/internal/domain/confidence"
	"github.com/lancejames221b/haivemind/internal/domain/memory"
	"github.com/lancejames221b/haivemind/internal/domain/syncevent"
	"github.com/lancejames221b/haivemind/internal/domain/task"
	"github.com/lancejames221b/haivemind/internal/port/database"
	"github.com/lancejames221b/haivemind/internal/port/embedding"
	"github.com/lancejames221b/haivemind/internal/port/messagequeue"
	"github.com/lancejames221b/haivemind/internal/port/vectorstore"
)

// Ensure mockStore and friends implement their ports at compile time.
var (
	_ database.Store        = (*mockStore)(nil)
	_ messagequeue.Queue    = (*mockQueue)(nil)
	_ vectorstore.Store     = (*mockVectorStore)(nil)
	_ embedding.Provider    = (*mockEmbedding)(nil)
)

// mockStore is a minimal in-memory implementation of database.Store for
// service-layer unit tests, in the style of the teacher's hand-rolled mocks.
type mockStore struct {
	memories       map[string]*memory.Memory
	agents         map[string]*agent.Agent
	tasks          map[string]*task.Task
	confidence     map[string]confidence.Record
	verifications  map[string][]confidence.Verification
	votes          map[string][]confidence.Vote
	usageOutcomes  map[string][]confidence.UsageOutcome
	contradictions map[string]*confidence.Contradiction
	auditEntries   []audit.Entry
	checkpoints    map[string]syncevent.Status

	nextID int

	getMemoryByContentHashErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		memories:       make(map[string]*memory.Memory),
		agents:         make(map[string]*agent.Agent),
		tasks:          make(map[string]*task.Task),
		confidence:     make(map[string]confidence.Record),
		verifications:  make(map[string][]confidence.Verification),
		votes:          make(map[string][]confidence.Vote),
		usageOutcomes:  make(map[string][]confidence.UsageOutcome),
		contradictions: make(map[string]*confidence.Contradiction),
		checkpoints:    make(map[string]syncevent.Status),
	}
}

func (m *mockStore) genID(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *mockStore) CreateMemory(_ context.Context, mem *memory.Memory) error {
	mem.ID = m.genID("mem")
	mem.CreatedAt = time.Now()
	mem.UpdatedAt = mem.CreatedAt
	mem.DeletionState = memory.DeletionLive
	cp := *mem
	m.memories[mem.ID] = &cp
	return nil
}

func (m *mockStore) GetMemory(_ context.Context, id string) (*memory.Memory, error) {
	mem, ok := m.memories[id]
	if !ok || mem.DeletionState == memory.DeletionPurged {
		return nil, domain.ErrNotFound
	}
	cp := *mem
	return &cp, nil
}

func (m *mockStore) GetMemoryByContentHash(_ context.Context, hash string) (*memory.Memory, error) {
	if m.getMemoryByContentHashErr != nil {
		return nil, m.getMemoryByContentHashErr
	}
	for _, mem := range m.memories {
		if mem.ContentHash == hash && mem.DeletionState == memory.DeletionLive {
			cp := *mem
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) UpdateMemory(_ context.Context, id string, patch memory.UpdatePatch) (*memory.Memory, error) {
	mem, ok := m.memories[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if patch.Content != nil {
		mem.Content = *patch.Content
		mem.ContentHash = memory.HashContent(*patch.Content)
	}
	if patch.Tags != nil {
		mem.Tags = patch.Tags
	}
	if patch.Context != nil {
		mem.Context = *patch.Context
	}
	if patch.Category != nil {
		mem.Category = *patch.Category
	}
	mem.VectorClock = mem.VectorClock.Increment(mem.MachineID)
	mem.UpdatedAt = time.Now()
	cp := *mem
	return &cp, nil
}

func (m *mockStore) TouchMemory(_ context.Context, id string) (*memory.Memory, error) {
	mem, ok := m.memories[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	mem.VectorClock = mem.VectorClock.Increment(mem.MachineID)
	mem.UpdatedAt = time.Now()
	cp := *mem
	return &cp, nil
}

func (m *mockStore) UpdateMemoryConfidentiality(_ context.Context, id string, level memory.ConfidentialityLevel) error {
	mem, ok := m.memories[id]
	if !ok {
		return domain.ErrNotFound
	}
	mem.ConfidentialityLevel = level
	return nil
}

func (m *mockStore) SoftDeleteMemory(_ context.Context, id, deletedBy, reason string, expiresAt time.Time) error {
	mem, ok := m.memories[id]
	if !ok {
		return domain.ErrNotFound
	}
	mem.DeletionState = memory.DeletionSoftDeleted
	now := time.Now()
	mem.DeletedAt = &now
	mem.DeletedBy = deletedBy
	mem.DeleteReason = reason
	mem.DeleteExpiresAt = &expiresAt
	return nil
}

func (m *mockStore) HardDeleteMemory(_ context.Context, id string) error {
	mem, ok := m.memories[id]
	if !ok {
		return domain.ErrNotFound
	}
	mem.DeletionState = memory.DeletionPurged
	mem.Content = ""
	return nil
}

func (m *mockStore) RestoreMemory(_ context.Context, id string) (*memory.Memory, error) {
	mem, ok := m.memories[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	mem.DeletionState = memory.DeletionLive
	mem.DeletedAt = nil
	mem.DeleteExpiresAt = nil
	cp := *mem
	return &cp, nil
}

func (m *mockStore) ListExpiredSoftDeletes(_ context.Context, before time.Time) ([]memory.Memory, error) {
	var out []memory.Memory
	for _, mem := range m.memories {
		if mem.DeletionState == memory.DeletionSoftDeleted && mem.DeleteExpiresAt != nil && mem.DeleteExpiresAt.Before(before) {
			out = append(out, *mem)
		}
	}
	return out, nil
}

func (m *mockStore) SearchMemories(_ context.Context, req memory.SearchRequest) ([]memory.ScoredMemory, error) {
	var out []memory.ScoredMemory
	for _, mem := range m.memories {
		if mem.DeletionState != memory.DeletionLive {
			continue
		}
		if req.Filters.Category != "" && mem.Category != req.Filters.Category {
			continue
		}
		out = append(out, memory.ScoredMemory{Memory: *mem, Score: 1.0})
	}
	return out, nil
}

func (m *mockStore) ListRecentMemories(_ context.Context, filters memory.SearchFilters, since time.Time, limit int) ([]memory.Memory, error) {
	var out []memory.Memory
	for _, mem := range m.memories {
		if mem.DeletionState != memory.DeletionLive || mem.CreatedAt.Before(since) {
			continue
		}
		if filters.Category != "" && mem.Category != filters.Category {
			continue
		}
		if filters.ProjectID != "" && mem.ProjectID != filters.ProjectID {
			continue
		}
		if filters.MachineID != "" && mem.MachineID != filters.MachineID {
			continue
		}
		out = append(out, *mem)
	}
	return out, nil
}

func (m *mockStore) ListSoftDeletedMemories(_ context.Context, limit int) ([]memory.Memory, error) {
	var out []memory.Memory
	for _, mem := range m.memories {
		if mem.DeletionState == memory.DeletionSoftDeleted {
			out = append(out, *mem)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) ListMemoriesByUserID(_ context.Context, userID string) ([]memory.Memory, error) {
	var out []memory.Memory
	for _, mem := range m.memories {
		if mem.UserID == userID {
			out = append(out, *mem)
		}
	}
	return out, nil
}

func (m *mockStore) ListLiveMemoriesByCategory(_ context.Context, category memory.Category, limit int) ([]memory.Memory, error) {
	var out []memory.Memory
	for _, mem := range m.memories {
		if mem.DeletionState == memory.DeletionLive && mem.Category == category {
			out = append(out, *mem)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) MemoryStats(_ context.Context) (memory.Stats, error) {
	stats := memory.Stats{
		ByCategory:        map[memory.Category]int64{},
		ByConfidentiality: map[memory.ConfidentialityLevel]int64{},
		ByFormatVersion:   map[memory.FormatVersion]int64{},
	}
	for _, mem := range m.memories {
		switch mem.DeletionState {
		case memory.DeletionLive:
			stats.TotalLive++
			stats.ByCategory[mem.Category]++
			stats.ByConfidentiality[mem.ConfidentialityLevel]++
			stats.ByFormatVersion[mem.FormatVersion]++
		case memory.DeletionSoftDeleted:
			stats.TotalSoftDeleted++
		case memory.DeletionPurged:
			stats.TotalPurged++
		}
	}
	return stats, nil
}

func (m *mockStore) UpsertSyncedMemory(_ context.Context, mem *memory.Memory) error {
	cp := *mem
	m.memories[mem.ID] = &cp
	return nil
}

func (m *mockStore) RegisterAgent(_ context.Context, req agent.RegisterRequest) (*agent.Agent, error) {
	now := time.Now()
	a := &agent.Agent{
		AgentID: req.AgentID, MachineID: req.MachineID, Role: req.Role, Description: req.Description,
		Capabilities: req.Capabilities, Status: agent.StatusActive, LastHeartbeatAt: now,
		Credibility: map[string]agent.Credibility{}, CreatedAt: now, UpdatedAt: now,
	}
	m.agents[a.AgentID] = a
	cp := *a
	return &cp, nil
}

func (m *mockStore) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	a, ok := m.agents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockStore) ListAgents(_ context.Context, machineID string) ([]agent.Agent, error) {
	var out []agent.Agent
	for _, a := range m.agents {
		if machineID == "" || a.MachineID == machineID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockStore) Heartbeat(_ context.Context, agentID string, at time.Time) error {
	a, ok := m.agents[agentID]
	if !ok {
		return domain.ErrNotFound
	}
	a.LastHeartbeatAt = at
	a.Status = agent.StatusActive
	return nil
}

func (m *mockStore) UpdateCredibility(_ context.Context, agentID, category string, c agent.Credibility) error {
	a, ok := m.agents[agentID]
	if !ok {
		return domain.ErrNotFound
	}
	if a.Credibility == nil {
		a.Credibility = map[string]agent.Credibility{}
	}
	a.Credibility[category] = c
	return nil
}

func (m *mockStore) CreateTask(_ context.Context, req task.CreateRequest) (*task.Task, error) {
	now := time.Now()
	t := &task.Task{
		TaskID: m.genID("task"), Description: req.Description, RequiredCapabilities: req.RequiredCapabilities,
		Priority: req.Priority, Status: task.StatusPending, CreatedBy: req.CreatedBy, CreatedAt: now, UpdatedAt: now,
	}
	if t.Priority == "" {
		t.Priority = task.PriorityNormal
	}
	m.tasks[t.TaskID] = t
	cp := *t
	return &cp, nil
}

func (m *mockStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockStore) ListTasksByAgent(_ context.Context, agentID string) ([]task.Task, error) {
	var out []task.Task
	for _, t := range m.tasks {
		if t.AssignedTo == agentID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockStore) ListTasksByStatus(_ context.Context, status task.Status) ([]task.Task, error) {
	var out []task.Task
	for _, t := range m.tasks {
		if t.Status == status {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockStore) AssignTask(_ context.Context, id, agentID string) (*task.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	t.AssignedTo = agentID
	t.Status = task.StatusAssigned
	t.UpdatedAt = time.Now()
	cp := *t
	return &cp, nil
}

func (m *mockStore) UpdateTaskStatus(_ context.Context, id string, status task.Status, result *task.Result) (*task.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	t.Status = status
	t.Result = result
	t.UpdatedAt = time.Now()
	cp := *t
	return &cp, nil
}

func (m *mockStore) UpsertConfidenceRecord(_ context.Context, r confidence.Record) error {
	m.confidence[r.MemoryID] = r
	return nil
}

func (m *mockStore) GetConfidenceRecord(_ context.Context, memoryID string) (*confidence.Record, error) {
	r, ok := m.confidence[memoryID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (m *mockStore) CreateVerification(_ context.Context, v confidence.Verification) error {
	m.verifications[v.MemoryID] = append(m.verifications[v.MemoryID], v)
	return nil
}

func (m *mockStore) ListVerifications(_ context.Context, memoryID string) ([]confidence.Verification, error) {
	return m.verifications[memoryID], nil
}

func (m *mockStore) CastVote(_ context.Context, v confidence.Vote) error {
	existing := m.votes[v.MemoryID]
	for i := range existing {
		if existing[i].VoterAgentID == v.VoterAgentID {
			existing[i] = v
			return nil
		}
	}
	m.votes[v.MemoryID] = append(existing, v)
	return nil
}

func (m *mockStore) ListVotes(_ context.Context, memoryID string) ([]confidence.Vote, error) {
	return m.votes[memoryID], nil
}

func (m *mockStore) RecordUsageOutcome(_ context.Context, o confidence.UsageOutcome) error {
	m.usageOutcomes[o.MemoryID] = append(m.usageOutcomes[o.MemoryID], o)
	return nil
}

func (m *mockStore) ListUsageOutcomes(_ context.Context, memoryID string, since time.Time) ([]confidence.UsageOutcome, error) {
	var out []confidence.UsageOutcome
	for _, o := range m.usageOutcomes[memoryID] {
		if o.TrackedAt.After(since) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockStore) CreateContradiction(_ context.Context, c *confidence.Contradiction) error {
	c.ID = m.genID("contradiction")
	c.DetectedAt = time.Now()
	cp := *c
	m.contradictions[c.ID] = &cp
	return nil
}

func (m *mockStore) GetContradiction(_ context.Context, id string) (*confidence.Contradiction, error) {
	c, ok := m.contradictions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockStore) ListOpenContradictions(_ context.Context, memoryID string) ([]confidence.Contradiction, error) {
	var out []confidence.Contradiction
	for _, c := range m.contradictions {
		if c.Open() && (c.MemoryAID == memoryID || c.MemoryBID == memoryID) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *mockStore) ResolveContradiction(_ context.Context, id string, res confidence.Resolution) error {
	c, ok := m.contradictions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if c.Resolution != nil {
		return domain.ErrConflictDetected
	}
	res.ResolvedAt = time.Now()
	c.Resolution = &res
	return nil
}

func (m *mockStore) AppendAuditEntry(_ context.Context, e audit.Entry) error {
	e.ID = m.genID("audit")
	e.OccurredAt = time.Now()
	m.auditEntries = append(m.auditEntries, e)
	return nil
}

func (m *mockStore) ListAuditEntries(_ context.Context, f audit.Filter) (audit.Page, error) {
	var out []audit.Entry
	for _, e := range m.auditEntries {
		if f.TargetID != "" && e.TargetID != f.TargetID {
			continue
		}
		out = append(out, e)
	}
	return audit.Page{Entries: out}, nil
}

func (m *mockStore) GetSyncCheckpoint(_ context.Context, peerMachineID string) (*syncevent.Status, error) {
	s, ok := m.checkpoints[peerMachineID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (m *mockStore) SaveSyncCheckpoint(_ context.Context, peerMachineID string, status syncevent.Status) error {
	m.checkpoints[peerMachineID] = status
	return nil
}

// mockQueue is a no-op messagequeue.Queue that records published subjects.
type mockQueue struct {
	published []string
}

func (q *mockQueue) Publish(_ context.Context, subject string, _ []byte) error {
	q.published = append(q.published, subject)
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

// mockVectorStore is an in-memory vectorstore.Store for tests that exercise
// semantic/hybrid search without a real pgvector instance.
type mockVectorStore struct {
	vectors map[string]map[string][]float32 // category -> memoryID -> embedding
}

func newMockVectorStore() *mockVectorStore {
	return &mockVectorStore{vectors: make(map[string]map[string][]float32)}
}

func (v *mockVectorStore) EnsureCollection(_ context.Context, category string, _ int) error {
	if v.vectors[category] == nil {
		v.vectors[category] = make(map[string][]float32)
	}
	return nil
}

func (v *mockVectorStore) Upsert(_ context.Context, category, memoryID string, embedding []float32) error {
	if v.vectors[category] == nil {
		v.vectors[category] = make(map[string][]float32)
	}
	v.vectors[category][memoryID] = embedding
	return nil
}

func (v *mockVectorStore) Delete(_ context.Context, category, memoryID string) error {
	delete(v.vectors[category], memoryID)
	return nil
}

func (v *mockVectorStore) Search(_ context.Context, _ string, _ []float32, _ int) ([]vectorstore.Match, error) {
	return nil, nil
}

// mockEmbedding is a deterministic embedding.Provider stub for tests.
type mockEmbedding struct {
	dimension int
	failErr   error
}

func (e *mockEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.failErr != nil {
		return nil, e.failErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 0, 0}
	}
	return out, nil
}

func (e *mockEmbedding) Dimension() int { return e.dimension }
