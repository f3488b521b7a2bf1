// Package agent defines the Agent domain entity: a registered fleet member
// capable of executing delegated tasks and accumulating per-category
// credibility from the confidence engine.
package agent

import (
	"errors"
	"time"
)

// Status represents the current liveness state of a registered agent.
type Status string

const (
	StatusActive  Status = "active"
	StatusIdle    Status = "idle"
	StatusOffline Status = "offline"
)

// Credibility tracks an agent's track record within one memory category.
type Credibility struct {
	VerifiedCorrect   int     `json:"verified_correct"`
	VerifiedIncorrect int     `json:"verified_incorrect"`
	Score             float64 `json:"score"` // in [0,1]; novice default 0.5
}

// DefaultCredibility is assigned the first time an agent's output is scored
// in a category it has no track record in.
func DefaultCredibility() Credibility {
	return Credibility{Score: 0.5}
}

// Agent represents one fleet member (human-operated assistant or autonomous
// worker) known to the hub.
type Agent struct {
	AgentID         string                 `json:"agent_id"`
	MachineID       string                 `json:"machine_id"`
	Role            string                 `json:"role"`
	Description     string                 `json:"description,omitempty"`
	Capabilities    []string               `json:"capabilities"`
	Status          Status                 `json:"status"`
	LastHeartbeatAt time.Time              `json:"last_heartbeat_at"`
	Credibility     map[string]Credibility `json:"credibility,omitempty"` // category -> credibility
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// RegisterRequest is the input for registering a new agent with the fleet.
type RegisterRequest struct {
	AgentID      string
	MachineID    string
	Role         string
	Description  string
	Capabilities []string
}

// Validate checks that a RegisterRequest has all required fields and no
// duplicate capabilities.
func (r *RegisterRequest) Validate() error {
	if r.AgentID == "" {
		return errors.New("agent_id is required")
	}
	if r.MachineID == "" {
		return errors.New("machine_id is required")
	}
	if r.Role == "" {
		return errors.New("role is required")
	}

	seen := make(map[string]bool, len(r.Capabilities))
	for _, c := range r.Capabilities {
		if c == "" {
			return errors.New("capabilities must not contain empty strings")
		}
		if seen[c] {
			return errors.New("duplicate capability: " + c)
		}
		seen[c] = true
	}

	return nil
}

// Liveness timeouts, measured from the last heartbeat. An agent is expected
// to heartbeat every HeartbeatInterval; missing IdleAfter's worth demotes it
// to idle, missing OfflineAfter's worth demotes it to offline.
const (
	HeartbeatInterval = 30 * time.Second
	IdleAfter         = 90 * time.Second
	OfflineAfter      = 5 * time.Minute
)

// DeriveStatus computes the liveness status implied by the time elapsed
// since the agent's last heartbeat, relative to now.
func DeriveStatus(lastHeartbeat time.Time, now time.Time) Status {
	elapsed := now.Sub(lastHeartbeat)
	switch {
	case elapsed > OfflineAfter:
		return StatusOffline
	case elapsed > IdleAfter:
		return StatusIdle
	default:
		return StatusActive
	}
}

// CredibilityInCategory returns the agent's credibility for category,
// falling back to DefaultCredibility when the agent has no track record there.
func (a Agent) CredibilityInCategory(category string) Credibility {
	if c, ok := a.Credibility[category]; ok {
		return c
	}
	return DefaultCredibility()
}

// HasCapability reports whether the agent advertises the given capability.
func (a Agent) HasCapability(cap string) bool {
	for _, c := range a.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}
