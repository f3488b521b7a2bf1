// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	// Pending messages are processed; no new messages are accepted.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by haivemind. Sync event subjects
// are suffixed by kind so a peer can subscribe to a subset (e.g. only
// agent_heartbeat) without filtering in the handler.
const (
	// SubjectSyncEvent is the wildcard subscription covering every sync
	// event kind: "sync.event.>".
	SubjectSyncEvent = "sync.event.>"

	SubjectSyncEventMemoryUpsert     = "sync.event.memory_upsert"
	SubjectSyncEventMemorySoftDelete = "sync.event.memory_soft_delete"
	SubjectSyncEventMemoryHardDelete = "sync.event.memory_hard_delete"
	SubjectSyncEventVerification     = "sync.event.verification"
	SubjectSyncEventVote             = "sync.event.vote"
	SubjectSyncEventUsage            = "sync.event.usage"
	SubjectSyncEventContradiction    = "sync.event.contradiction"
	SubjectSyncEventAgentHeartbeat   = "sync.event.agent_heartbeat"
	SubjectSyncEventTaskUpdate       = "sync.event.task_update"
	SubjectSyncEventBroadcast        = "sync.event.broadcast"

	// SubjectSyncEventDLQ receives sync events that exhausted their retry
	// budget without being durably applied.
	SubjectSyncEventDLQ = "sync.event.dlq"

	// SubjectTaskDelegated announces a newly created task to candidate agents.
	SubjectTaskDelegated = "tasks.delegated"

	// SubjectAgentHeartbeat is the local (non-sync) heartbeat channel agents
	// use to report liveness to their own hub instance.
	SubjectAgentHeartbeat = "agents.heartbeat"
)

// SyncEventSubject returns the subject a sync event of the given kind
// publishes to.
func SyncEventSubject(kind string) string {
	return "sync.event." + kind
}
