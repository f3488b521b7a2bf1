package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lancejames221b/haivemind/internal/domain/agent"
)

const agentColumns = `agent_id, machine_id, role, description, capabilities, status,
	last_heartbeat_at, credibility, created_at, updated_at`

func scanAgent(row scannable) (*agent.Agent, error) {
	var a agent.Agent
	var cred []byte
	if err := row.Scan(
		&a.AgentID, &a.MachineID, &a.Role, &a.Description, &a.Capabilities, &a.Status,
		&a.LastHeartbeatAt, &cred, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(cred) > 0 {
		if err := json.Unmarshal(cred, &a.Credibility); err != nil {
			return nil, fmt.Errorf("unmarshal credibility: %w", err)
		}
	}
	return &a, nil
}

// RegisterAgent inserts or re-registers a fleet agent, refreshing its
// heartbeat and advertised capabilities on conflict.
func (s *Store) RegisterAgent(ctx context.Context, req agent.RegisterRequest) (*agent.Agent, error) {
	const q = `
		INSERT INTO agents (agent_id, machine_id, role, description, capabilities, status, last_heartbeat_at, credibility)
		VALUES ($1,$2,$3,$4,$5,'active',now(),'{}')
		ON CONFLICT (agent_id) DO UPDATE SET
			machine_id = EXCLUDED.machine_id, role = EXCLUDED.role, description = EXCLUDED.description,
			capabilities = EXCLUDED.capabilities, status = 'active', last_heartbeat_at = now(), updated_at = now()
		RETURNING ` + agentColumns

	row := s.pool.QueryRow(ctx, q, req.AgentID, req.MachineID, req.Role, req.Description, pgTextArray(req.Capabilities))
	a, err := scanAgent(row)
	if err != nil {
		return nil, fmt.Errorf("register agent: %w", err)
	}
	return a, nil
}

// GetAgent fetches an agent by ID.
func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id = $1`, id)
	a, err := scanAgent(row)
	if err != nil {
		return nil, notFoundWrap(err, "get agent %s", id)
	}
	return a, nil
}

// ListAgents returns agents, optionally scoped to one machine.
func (s *Store) ListAgents(ctx context.Context, machineID string) ([]agent.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE $1 = '' OR machine_id = $1 ORDER BY agent_id`, machineID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var result []agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		result = append(result, *a)
	}
	return orEmpty(result), rows.Err()
}

// Heartbeat records a liveness ping from an agent, marking it active.
func (s *Store) Heartbeat(ctx context.Context, agentID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET last_heartbeat_at = $1, status = 'active', updated_at = now() WHERE agent_id = $2`,
		at, agentID)
	return execExpectOne(tag, err, "heartbeat for agent %s", agentID)
}

// UpdateCredibility merges a new per-category credibility record into an
// agent's tracked credibility map.
func (s *Store) UpdateCredibility(ctx context.Context, agentID, category string, c agent.Credibility) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal credibility: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET credibility = jsonb_set(coalesce(credibility, '{}'::jsonb), $1, $2::jsonb, true), updated_at = now()
		 WHERE agent_id = $3`,
		[]string{category}, string(b), agentID)
	return execExpectOne(tag, err, "update credibility for agent %s", agentID)
}
