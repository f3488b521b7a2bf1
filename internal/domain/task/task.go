// Package task defines the Task domain entity: a delegation record routed
// to a fleet agent by required capability, load, locality, and credibility.
package task

import (
	"errors"
	"time"
)

// Priority orders tasks for delegation and scheduling.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Status follows a linear DAG from pending through one terminal state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is one of the task's terminal states.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// Task is a unit of work delegated to a capable fleet agent.
type Task struct {
	TaskID               string    `json:"task_id"`
	Description          string    `json:"description"`
	RequiredCapabilities []string  `json:"required_capabilities"`
	Priority             Priority  `json:"priority"`
	AssignedTo           string    `json:"assigned_to,omitempty"`
	Status               Status    `json:"status"`
	Result               *Result   `json:"result,omitempty"`
	CreatedBy            string    `json:"created_by"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Result holds the outcome of a completed or failed task.
type Result struct {
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// CreateRequest holds the fields needed to delegate a new task.
type CreateRequest struct {
	Description          string
	RequiredCapabilities []string
	Priority             Priority // defaults to normal when empty
	CreatedBy            string
}

// Validate checks that a CreateRequest has all required fields and a legal priority.
func (r *CreateRequest) Validate() error {
	if r.Description == "" {
		return errors.New("description is required")
	}
	if r.CreatedBy == "" {
		return errors.New("created_by is required")
	}

	seen := make(map[string]bool, len(r.RequiredCapabilities))
	for _, c := range r.RequiredCapabilities {
		if c == "" {
			return errors.New("required_capabilities must not contain empty strings")
		}
		if seen[c] {
			return errors.New("duplicate required capability: " + c)
		}
		seen[c] = true
	}

	switch r.Priority {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical, "":
	default:
		return errors.New("priority must be one of low, normal, high, critical")
	}

	return nil
}

// validTransitions enumerates the task's linear DAG.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusAssigned, StatusCancelled},
	StatusAssigned:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusDone, StatusFailed, StatusCancelled},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal step
// in the task lifecycle.
func CanTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
