package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/lancejames221b/haivemind/internal/domain"
	"github.com/lancejames221b/haivemind/internal/domain/agent"
	"github.com/lancejames221b/haivemind/internal/domain/audit"
	"github.com/lancejames221b/haivemind/internal/domain/memory"
	"github.com/lancejames221b/haivemind/internal/domain/task"
	"github.com/lancejames221b/haivemind/internal/port/broadcast"
	"github.com/lancejames221b/haivemind/internal/port/database"
	"github.com/lancejames221b/haivemind/internal/port/messagequeue"
	"github.com/lancejames221b/haivemind/internal/port/notifier"
	"github.com/lancejames221b/haivemind/internal/reqctx"
)

// QueryTimeout bounds how long query_agent waits for the target agent's
// runtime to answer before giving up.
const QueryTimeout = 10 * time.Second

// RosterFilter narrows a roster listing.
type RosterFilter struct {
	Role       string
	Capability string
	MachineID  string
	Status     agent.Status
}

// BroadcastInput is the caller-supplied content of a fleet broadcast.
type BroadcastInput struct {
	Message              string
	Category             memory.Category
	Severity             string // "info", "warning", "critical"; defaults to "info"
	ConfidentialityLevel memory.ConfidentialityLevel
	FromAgentID          string
	FromMachineID        string
}

// AgentRegistry tracks fleet membership, liveness, and work delegation: agent
// registration and heartbeats, capability-matched task assignment, broadcast
// fan-out, and cross-node query rendezvous.
type AgentRegistry struct {
	db            database.Store
	queue         messagequeue.Queue
	memories      *MemoryEngine
	notifier      notifier.Notifier    // optional; nil disables critical-severity fan-out
	broadcaster   broadcast.Broadcaster // optional; nil disables live SSE fan-out
	selfMachineID string

	mu      sync.Mutex
	pending map[string]chan queryAnswer // queryID -> waiter
}

// SetBroadcaster attaches a live event sink for fleet broadcasts and roster
// changes. Optional: a registry with no broadcaster behaves exactly as
// before, just without the real-time push.
func (r *AgentRegistry) SetBroadcaster(b broadcast.Broadcaster) {
	r.broadcaster = b
}

type queryAnswer struct {
	answer string
	err    error
}

// NewAgentRegistry wires an AgentRegistry to its storage, messaging, and
// memory engine ports. notifier may be nil, in which case critical broadcasts
// are recorded and relayed but no external side-channel fan-out occurs.
func NewAgentRegistry(db database.Store, queue messagequeue.Queue, memories *MemoryEngine, n notifier.Notifier, selfMachineID string) *AgentRegistry {
	return &AgentRegistry{
		db: db, queue: queue, memories: memories, notifier: n, selfMachineID: selfMachineID,
		pending: make(map[string]chan queryAnswer),
	}
}

// Register upserts an agent's fleet membership record, marking it active.
func (r *AgentRegistry) Register(ctx context.Context, req agent.RegisterRequest) (*agent.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	a, err := r.db.RegisterAgent(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("register agent: %w", err)
	}
	r.auditAgent(ctx, audit.OperationAgentRegister, a.AgentID, audit.OutcomeSuccess, "")
	if r.broadcaster != nil {
		r.broadcaster.BroadcastEvent(ctx, "agent_registered", map[string]any{
			"agent_id": a.AgentID, "machine_id": a.MachineID, "role": a.Role,
		})
	}
	return a, nil
}

// Heartbeat refreshes an agent's liveness, returning it to active from idle
// or offline.
func (r *AgentRegistry) Heartbeat(ctx context.Context, agentID string) error {
	if err := r.db.Heartbeat(ctx, agentID, time.Now()); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// Roster lists registered agents, optionally narrowed by role, capability,
// machine, or derived liveness status.
func (r *AgentRegistry) Roster(ctx context.Context, filter RosterFilter) ([]agent.Agent, error) {
	agents, err := r.db.ListAgents(ctx, filter.MachineID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	now := time.Now()
	var out []agent.Agent
	for _, a := range agents {
		a.Status = agent.DeriveStatus(a.LastHeartbeatAt, now)
		if filter.Role != "" && a.Role != filter.Role {
			continue
		}
		if filter.Capability != "" && !a.HasCapability(filter.Capability) {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Delegate creates a task and assigns it to the best-matching active agent
// by capability specificity, load, locality, and credibility, in that order,
// with a random tiebreak. If no active agent satisfies the required
// capabilities, the task is left pending for a later retry.
func (r *AgentRegistry) Delegate(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	t, err := r.db.CreateTask(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	candidates, err := r.rankCandidates(ctx, req.RequiredCapabilities, reqctx.MachineID(ctx))
	if err != nil {
		slog.Error("rank delegate candidates failed", "task_id", t.TaskID, "error", err)
	} else if len(candidates) > 0 {
		assigned, err := r.db.AssignTask(ctx, t.TaskID, candidates[0].AgentID)
		if err != nil {
			slog.Error("assign task failed", "task_id", t.TaskID, "agent_id", candidates[0].AgentID, "error", err)
		} else {
			t = assigned
		}
	}

	r.auditAgent(ctx, audit.OperationTaskDelegate, t.TaskID, audit.OutcomeSuccess, fmt.Sprintf("assigned_to=%s", t.AssignedTo))
	r.announceTask(ctx, t)
	return t, nil
}

// rankCandidates filters active agents whose capabilities cover required,
// then orders them by specificity, load, locality to requesterMachineID, and
// credibility, breaking remaining ties at random so repeated identical
// rankings don't always favor the same agent.
func (r *AgentRegistry) rankCandidates(ctx context.Context, required []string, requesterMachineID string) ([]agent.Agent, error) {
	all, err := r.db.ListAgents(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	now := time.Now()

	type scored struct {
		a        agent.Agent
		load     int
		tiebreak float64
	}
	var candidates []scored
	for _, a := range all {
		if agent.DeriveStatus(a.LastHeartbeatAt, now) != agent.StatusActive {
			continue
		}
		if !coversCapabilities(a, required) {
			continue
		}
		inProgress, err := r.db.ListTasksByAgent(ctx, a.AgentID)
		if err != nil {
			return nil, fmt.Errorf("list tasks for agent %s: %w", a.AgentID, err)
		}
		load := 0
		for _, t := range inProgress {
			if t.Status == task.StatusAssigned || t.Status == task.StatusInProgress {
				load++
			}
		}
		candidates = append(candidates, scored{a: a, load: load, tiebreak: rand.Float64()})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		// coversCapabilities already filtered to agents covering every
		// required tag, so specificity (required tags present) is tied for
		// all candidates here; it can't discriminate further. Go straight to
		// load.
		if ci.load != cj.load {
			return ci.load < cj.load
		}
		iLocal, jLocal := ci.a.MachineID == requesterMachineID, cj.a.MachineID == requesterMachineID
		if iLocal != jLocal {
			return iLocal
		}
		iCred, jCred := bestCredibility(ci.a), bestCredibility(cj.a)
		if iCred != jCred {
			return iCred > jCred
		}
		return ci.tiebreak > cj.tiebreak
	})

	out := make([]agent.Agent, len(candidates))
	for i, c := range candidates {
		out[i] = c.a
	}
	return out, nil
}

func coversCapabilities(a agent.Agent, required []string) bool {
	for _, c := range required {
		if !a.HasCapability(c) {
			return false
		}
	}
	return true
}

func bestCredibility(a agent.Agent) float64 {
	best := 0.0
	for _, c := range a.Credibility {
		if c.Score > best {
			best = c.Score
		}
	}
	if best == 0 && len(a.Credibility) == 0 {
		return agent.DefaultCredibility().Score
	}
	return best
}

func (r *AgentRegistry) announceTask(ctx context.Context, t *task.Task) {
	payload, err := json.Marshal(messagequeue.TaskDelegatedPayload{
		TaskID: t.TaskID, RequiredCapabilities: t.RequiredCapabilities, Priority: string(t.Priority),
	})
	if err != nil {
		slog.Error("marshal task delegated payload failed", "task_id", t.TaskID, "error", err)
		return
	}
	if err := r.queue.Publish(ctx, messagequeue.SubjectTaskDelegated, payload); err != nil {
		slog.Error("publish task delegated failed", "task_id", t.TaskID, "error", err)
	}
}

// Broadcast records message as an agent-category memory, relays it as a
// broadcast sync event via the memory engine's usual emission path, and on
// severity=critical additionally fans out through the configured notifier as
// a best-effort side channel: notifier failure never fails the broadcast.
func (r *AgentRegistry) Broadcast(ctx context.Context, in BroadcastInput) (*memory.Memory, error) {
	if in.Severity == "" {
		in.Severity = "info"
	}
	category := in.Category
	if category == "" {
		category = memory.CategoryAgent
	}

	m, err := r.memories.Store(ctx, StoreInput{
		Content:              in.Message,
		Category:             category,
		Tags:                 []string{"broadcast", in.Severity},
		MachineID:            in.FromMachineID,
		SourceAgentID:        in.FromAgentID,
		ConfidentialityLevel: in.ConfidentialityLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("store broadcast memory: %w", err)
	}

	if in.Severity == "critical" && r.notifier != nil {
		note := notifier.Notification{
			Title: "haivemind broadcast", Message: in.Message,
			Level: "warning", Source: "agent_registry.broadcast",
		}
		if err := r.notifier.Send(ctx, note); err != nil {
			slog.Warn("critical broadcast notifier fan-out failed", "memory_id", m.ID, "error", err)
		}
	}

	if r.broadcaster != nil {
		r.broadcaster.BroadcastEvent(ctx, "broadcast", map[string]any{
			"memory_id":     m.ID,
			"message":       in.Message,
			"severity":      in.Severity,
			"from_agent_id": in.FromAgentID,
		})
	}

	return m, nil
}

// QueryAgent delivers question to the target agent via the sync/messaging
// layer and blocks until that agent's runtime answers through AnswerQuery,
// the context is cancelled, or QueryTimeout elapses.
func (r *AgentRegistry) QueryAgent(ctx context.Context, agentID, question string) (string, error) {
	queryID := fmt.Sprintf("%s-%d", agentID, time.Now().UnixNano())
	waiter := make(chan queryAnswer, 1)

	r.mu.Lock()
	r.pending[queryID] = waiter
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, queryID)
		r.mu.Unlock()
	}()

	payload, err := json.Marshal(map[string]string{
		"query_id": queryID, "target_agent_id": agentID, "question": question,
	})
	if err != nil {
		return "", fmt.Errorf("marshal agent query: %w", err)
	}
	if err := r.queue.Publish(ctx, "agents.query."+agentID, payload); err != nil {
		return "", fmt.Errorf("publish agent query: %w", err)
	}

	timer := time.NewTimer(QueryTimeout)
	defer timer.Stop()
	select {
	case ans := <-waiter:
		if ans.err != nil {
			return "", ans.err
		}
		return ans.answer, nil
	case <-timer.C:
		return "", fmt.Errorf("%w: agent %s did not answer within %s", domain.ErrTimeout, agentID, QueryTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// AnswerQuery delivers an asynchronous answer to a pending QueryAgent call.
// Called by the target agent's runtime (via an MCP tool) once it has composed
// a response. A query with no matching waiter (already timed out, or unknown
// queryID) is a no-op: the answer arrived too late or was never outstanding.
func (r *AgentRegistry) AnswerQuery(queryID, answer string, err error) {
	r.mu.Lock()
	waiter, ok := r.pending[queryID]
	r.mu.Unlock()
	if !ok {
		return
	}
	waiter <- queryAnswer{answer: answer, err: err}
}

func (r *AgentRegistry) auditAgent(ctx context.Context, op audit.Operation, targetID string, outcome audit.Outcome, reason string) {
	entry := audit.Entry{
		ActorAgentID:   reqctx.AgentID(ctx),
		ActorMachineID: reqctx.MachineID(ctx),
		Operation:      op,
		TargetKind:     audit.TargetAgent,
		TargetID:       targetID,
		Outcome:        outcome,
		Reason:         reason,
		OccurredAt:     time.Now(),
	}
	if op == audit.OperationTaskDelegate {
		entry.TargetKind = audit.TargetTask
	}
	if entry.ActorAgentID == "" {
		entry.ActorAgentID = "system"
	}
	if entry.ActorMachineID == "" {
		entry.ActorMachineID = r.selfMachineID
	}
	if err := r.db.AppendAuditEntry(ctx, entry); err != nil {
		slog.Error("append audit entry failed", "operation", op, "target_id", targetID, "error", err)
	}
}
