// Package reqctx propagates the calling agent's identity through a request's
// context.Context: the machine ID and agent ID are set once at the MCP or
// HTTP transport boundary and read by the service and storage layers to
// enforce confidentiality visibility and stamp audit entries.
package reqctx

import "context"

// contextKey is a private type to prevent collisions with other context keys.
type contextKey struct{}

var (
	machineIDKey = contextKey{}
	agentIDKey   = contextKey{}
)

// WithMachineID returns a new context carrying the calling machine's ID.
func WithMachineID(ctx context.Context, machineID string) context.Context {
	return context.WithValue(ctx, machineIDKey, machineID)
}

// MachineID extracts the calling machine's ID from the context.
// Returns an empty string if none is set.
func MachineID(ctx context.Context) string {
	id, _ := ctx.Value(machineIDKey).(string)
	return id
}

// WithAgentID returns a new context carrying the calling agent's ID.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// AgentID extracts the calling agent's ID from the context.
// Returns an empty string if none is set.
func AgentID(ctx context.Context) string {
	id, _ := ctx.Value(agentIDKey).(string)
	return id
}
