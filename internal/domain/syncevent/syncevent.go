// Package syncevent defines the wire-level unit of replication between
// fleet peers: every mutation on a node emits exactly one Event, delivered
// at-least-once and deduplicated by (origin id, vector clock snapshot).
package syncevent

import (
	"encoding/json"
	"errors"

	"github.com/lancejames221b/haivemind/internal/domain/clock"
)

// Kind enumerates every mutation that propagates between peers.
type Kind string

const (
	KindMemoryUpsert     Kind = "memory_upsert"
	KindMemorySoftDelete Kind = "memory_soft_delete"
	KindMemoryHardDelete Kind = "memory_hard_delete"
	KindVerification     Kind = "verification"
	KindVote             Kind = "vote"
	KindUsage            Kind = "usage"
	KindContradiction    Kind = "contradiction"
	KindAgentHeartbeat   Kind = "agent_heartbeat"
	KindTaskUpdate       Kind = "task_update"
	KindBroadcast        Kind = "broadcast"
)

// ValidKinds lists every recognized sync event kind.
var ValidKinds = []Kind{
	KindMemoryUpsert, KindMemorySoftDelete, KindMemoryHardDelete,
	KindVerification, KindVote, KindUsage, KindContradiction,
	KindAgentHeartbeat, KindTaskUpdate, KindBroadcast,
}

// Event is one unit of replicated state change.
type Event struct {
	ID                  string          `json:"id"`
	Kind                Kind            `json:"kind"`
	OriginMachineID     string          `json:"origin_machine_id"`
	Payload             json.RawMessage `json:"payload"`
	VectorClockSnapshot clock.Vector    `json:"vector_clock_snapshot"`
}

// IdempotencyKey returns the key peers use to deduplicate at-least-once
// delivery: the referenced entity id paired with the vector clock snapshot
// that produced this event.
func (e Event) IdempotencyKey(entityID string) string {
	return entityID + "@" + vectorKey(e.VectorClockSnapshot)
}

func vectorKey(v clock.Vector) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// Validate checks that an Event carries a recognized kind and required fields.
func (e *Event) Validate() error {
	if e.OriginMachineID == "" {
		return errors.New("origin_machine_id is required")
	}
	found := false
	for _, k := range ValidKinds {
		if k == e.Kind {
			found = true
			break
		}
	}
	if !found {
		return errors.New("kind is not a recognized sync event kind")
	}
	return nil
}

// AcceptOutcome is the per-event result of a push RPC.
type AcceptOutcome string

const (
	OutcomeAccepted AcceptOutcome = "accepted"
	OutcomeDuplicate AcceptOutcome = "duplicate"
	OutcomeConflict  AcceptOutcome = "conflict"
)

// PushResult reports the outcome of attempting to apply one Event.
type PushResult struct {
	EventID string        `json:"event_id"`
	Outcome AcceptOutcome `json:"outcome"`
}

// Status is the SS `status` operation's response: this node's identity and
// clock state, plus the last clock observed from each peer.
type Status struct {
	MachineID           string                  `json:"machine_id"`
	VectorClock         clock.Vector            `json:"vector_clock"`
	LastKnownPeerClocks map[string]clock.Vector `json:"last_known_peer_clocks"`
}

// HardDeleteTombstoneGraceDays is the default window during which peers
// must suppress concurrent updates for a hard-deleted id to avoid resurrection.
const HardDeleteTombstoneGraceDays = 7
