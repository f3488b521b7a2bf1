package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lancejames221b/haivemind/internal/adapter/otel"
	"github.com/lancejames221b/haivemind/internal/concurrency"
	"github.com/lancejames221b/haivemind/internal/config"
	"github.com/lancejames221b/haivemind/internal/domain/clock"
	"github.com/lancejames221b/haivemind/internal/domain/memory"
	"github.com/lancejames221b/haivemind/internal/domain/syncevent"
	"github.com/lancejames221b/haivemind/internal/port/database"
	"github.com/lancejames221b/haivemind/internal/port/messagequeue"
	"github.com/lancejames221b/haivemind/internal/port/peersync"
)

// SyncService relays local mutations to fleet peers and applies the events
// peers push back, using vector clocks to reconcile concurrent writes.
//
// The literal `pull(since_clock)` bootstrap RPC the sync protocol describes
// has no counterpart on the peersync.Client port (Push/Status/Endpoint
// only), so Bootstrap here checkpoints each peer's advertised vector clock
// without replaying its event history. A node that fell far behind catches
// up only as new mutations are pushed going forward, not via backfill. That
// tradeoff is a deliberate scope decision, not an oversight.
type SyncService struct {
	db       database.Store
	queue    messagequeue.Queue
	memories *MemoryEngine

	clients       map[string]peersync.Client
	peers         []config.Peer
	selfMachineID string
	metrics       *otel.Metrics // optional; nil disables metric recording
	relayPool     *concurrency.Pool
}

// relayFanoutLimit bounds how many peers a single relayed event is pushed to
// concurrently. A fleet with more peers than this queues the rest rather
// than opening one outbound connection per peer per event.
const relayFanoutLimit = 8

// SetMetrics attaches OTEL instrumentation. Optional: without it, relay and
// push handling behave exactly the same, just unmeasured.
func (s *SyncService) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// statusClockScanLimit bounds the owned-memory scan Status uses to
// approximate this node's vector clock. A node with more live memories than
// this under-reports its own clock in the status response; acceptable since
// Status is advisory (used for bootstrap checkpointing, not conflict
// resolution, which always compares the authoritative per-memory clock).
const statusClockScanLimit = 100000

// NewSyncService wires a SyncService to its storage, messaging, and memory
// engine ports, building one peersync.Client per configured peer via
// factory. Memory-kind events are applied through memories.ApplySynced so
// reconciliation and embedding re-indexing stay in one place.
func NewSyncService(db database.Store, queue messagequeue.Queue, memories *MemoryEngine, factory peersync.ClientFactory, peers []config.Peer, selfMachineID string) *SyncService {
	clients := make(map[string]peersync.Client, len(peers))
	for _, p := range peers {
		clients[p.MachineID] = factory.NewClient(p.Endpoint, p.Token)
	}
	return &SyncService{
		db: db, queue: queue, memories: memories, clients: clients, peers: peers, selfMachineID: selfMachineID,
		relayPool: concurrency.NewPool(relayFanoutLimit),
	}
}

// PeerCount reports how many peers this node is configured to sync with,
// for health/status reporting.
func (s *SyncService) PeerCount() int {
	return len(s.peers)
}

// Status reports this node's identity, an approximation of its own vector
// clock (merged across every memory it owns), and the last clock checkpointed
// from each peer. Served by the sync HTTP endpoint's GET /sync/status.
func (s *SyncService) Status(ctx context.Context) (*syncevent.Status, error) {
	owned, err := s.db.ListRecentMemories(ctx, memory.SearchFilters{MachineID: s.selfMachineID}, time.Time{}, statusClockScanLimit)
	if err != nil {
		return nil, fmt.Errorf("list owned memories for status: %w", err)
	}
	self := clock.Vector{}
	for _, m := range owned {
		self = clock.Merge(self, m.VectorClock)
	}

	peerClocks := make(map[string]clock.Vector, len(s.peers))
	for _, p := range s.peers {
		cp, err := s.db.GetSyncCheckpoint(ctx, p.MachineID)
		if err != nil {
			continue
		}
		peerClocks[p.MachineID] = cp.VectorClock
	}

	return &syncevent.Status{MachineID: s.selfMachineID, VectorClock: self, LastKnownPeerClocks: peerClocks}, nil
}

// HandlePush is the inbound RPC handler invoked by the sync HTTP endpoint's
// POST /sync/push: it applies each pushed event and reports a per-event
// outcome, deduplicating and resolving conflicts by vector-clock causality.
func (s *SyncService) HandlePush(ctx context.Context, events []syncevent.Event) ([]syncevent.PushResult, error) {
	origin := "unknown"
	if len(events) > 0 {
		origin = events[0].OriginMachineID
	}
	ctx, span := otel.StartSyncSpan(ctx, origin, "push")
	defer span.End()
	if s.metrics != nil {
		s.metrics.SyncEventsReceived.Add(ctx, int64(len(events)))
	}

	results := make([]syncevent.PushResult, 0, len(events))
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			results = append(results, syncevent.PushResult{EventID: ev.ID, Outcome: syncevent.OutcomeConflict})
			slog.Warn("rejected invalid sync event", "event_id", ev.ID, "error", err)
			continue
		}
		outcome, err := s.applyEvent(ctx, ev)
		if err != nil {
			slog.Error("failed to apply sync event", "event_id", ev.ID, "kind", ev.Kind, "origin", ev.OriginMachineID, "error", err)
			results = append(results, syncevent.PushResult{EventID: ev.ID, Outcome: syncevent.OutcomeConflict})
			continue
		}
		results = append(results, syncevent.PushResult{EventID: ev.ID, Outcome: outcome})
	}

	for _, p := range s.peers {
		if err := s.checkpointFrom(ctx, p.MachineID, events); err != nil {
			slog.Error("save sync checkpoint failed", "peer", p.MachineID, "error", err)
		}
	}
	return results, nil
}

func (s *SyncService) applyEvent(ctx context.Context, ev syncevent.Event) (syncevent.AcceptOutcome, error) {
	switch ev.Kind {
	case syncevent.KindMemoryUpsert, syncevent.KindMemorySoftDelete, syncevent.KindMemoryHardDelete:
		var incoming memory.Memory
		if err := json.Unmarshal(ev.Payload, &incoming); err != nil {
			return "", fmt.Errorf("unmarshal memory payload: %w", err)
		}
		incoming.VectorClock = ev.VectorClockSnapshot
		if incoming.ConfidentialityLevel == memory.ConfidentialityPII {
			return "", fmt.Errorf("pii memory must never appear in a sync event")
		}
		return s.memories.ApplySynced(ctx, incoming)
	default:
		// Other kinds (verification, vote, usage, contradiction,
		// agent_heartbeat, task_update, broadcast) are accepted as
		// idempotent notifications: nothing downstream currently derives
		// local state from their replicated form, so accepting without a
		// store write is correct until those services emit sync events of
		// their own.
		return syncevent.OutcomeAccepted, nil
	}
}

func (s *SyncService) checkpointFrom(ctx context.Context, peerMachineID string, events []syncevent.Event) error {
	var fromPeer []syncevent.Event
	for _, ev := range events {
		if ev.OriginMachineID == peerMachineID {
			fromPeer = append(fromPeer, ev)
		}
	}
	if len(fromPeer) == 0 {
		return nil
	}
	status, err := s.db.GetSyncCheckpoint(ctx, peerMachineID)
	if err != nil {
		status = &syncevent.Status{MachineID: peerMachineID, VectorClock: clock.Vector{}}
	}
	for _, ev := range fromPeer {
		status.VectorClock = clock.Merge(status.VectorClock, ev.VectorClockSnapshot)
	}
	return s.db.SaveSyncCheckpoint(ctx, peerMachineID, *status)
}

// StartRelay subscribes to every locally emitted sync event and fans it out
// to eligible peers, filtering by confidentiality: pii and confidential
// events never leave the node; internal events go only to peers configured
// Internal. The returned cancel function stops the subscription.
func (s *SyncService) StartRelay(ctx context.Context) (func(), error) {
	return s.queue.Subscribe(ctx, messagequeue.SubjectSyncEvent, s.relay)
}

func (s *SyncService) relay(ctx context.Context, _ string, data []byte) error {
	var payload messagequeue.SyncEventPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("unmarshal local sync event: %w", err)
	}
	ctx, span := otel.StartSyncSpan(ctx, s.selfMachineID, "relay")
	defer span.End()
	kind := syncevent.Kind(payload.Kind)

	entity, confidentiality, err := s.loadEntity(ctx, kind, payload.ID)
	if err != nil {
		slog.Warn("could not load entity for sync relay, skipping", "kind", kind, "id", payload.ID, "error", err)
		return nil
	}
	if confidentiality == memory.ConfidentialityPII || confidentiality == memory.ConfidentialityConfidential {
		return nil
	}

	vc := clock.Vector{}
	for machineID, count := range payload.VectorClockSnapshot {
		vc[machineID] = uint64(count)
	}
	event := syncevent.Event{
		ID:                  payload.ID,
		Kind:                kind,
		OriginMachineID:     payload.OriginMachineID,
		Payload:             entity,
		VectorClockSnapshot: vc,
	}

	eligible := s.eligiblePeers(confidentiality)
	if len(eligible) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range eligible {
		peer := p
		g.Go(func() error {
			return s.relayPool.Run(gctx, func() error {
				client := s.clients[peer.MachineID]
				if client == nil {
					return nil
				}
				results, err := client.Push(gctx, []syncevent.Event{event})
				if err != nil {
					slog.Error("push sync event to peer failed", "peer", peer.MachineID, "event_id", event.ID, "error", err)
					return nil
				}
				if s.metrics != nil {
					s.metrics.SyncEventsSent.Add(gctx, 1)
				}
				for _, r := range results {
					if r.Outcome == syncevent.OutcomeConflict {
						slog.Info("peer resolved a conflict applying our event", "peer", peer.MachineID, "event_id", r.EventID)
					}
				}
				return nil
			})
		})
	}
	return g.Wait()
}

// loadEntity fetches the full entity a local sync notification refers to and
// reports its confidentiality level, if any, so the relay can apply the
// outbound filter. Kinds with no associated confidentiality (agent/task/
// broadcast notifications) return memory.ConfidentialityNormal.
func (s *SyncService) loadEntity(ctx context.Context, kind syncevent.Kind, id string) (json.RawMessage, memory.ConfidentialityLevel, error) {
	switch kind {
	case syncevent.KindMemoryUpsert, syncevent.KindMemorySoftDelete, syncevent.KindMemoryHardDelete:
		m, err := s.db.GetMemory(ctx, id)
		if err != nil {
			return nil, "", err
		}
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, "", err
		}
		return raw, m.ConfidentialityLevel, nil
	default:
		return json.RawMessage(`{}`), memory.ConfidentialityNormal, nil
	}
}

func (s *SyncService) eligiblePeers(level memory.ConfidentialityLevel) []config.Peer {
	var out []config.Peer
	for _, p := range s.peers {
		if level == memory.ConfidentialityInternal && !p.Internal {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Bootstrap fetches every configured peer's current status concurrently and
// persists it as that peer's sync checkpoint, so a freshly started node has
// a frontier to compare future pushes against instead of starting from a
// zero clock.
func (s *SyncService) Bootstrap(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range s.peers {
		peer := p
		g.Go(func() error {
			client := s.clients[peer.MachineID]
			if client == nil {
				return nil
			}
			status, err := client.Status(gctx)
			if err != nil {
				slog.Error("bootstrap status fetch failed", "peer", peer.MachineID, "error", err)
				return nil
			}
			if err := s.db.SaveSyncCheckpoint(ctx, peer.MachineID, *status); err != nil {
				return fmt.Errorf("save bootstrap checkpoint for %s: %w", peer.MachineID, err)
			}
			return nil
		})
	}
	return g.Wait()
}
