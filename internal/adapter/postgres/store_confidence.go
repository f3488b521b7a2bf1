package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lancejames221b/haivemind/internal/domain/confidence"
)

// UpsertConfidenceRecord stores the latest computed confidence record for a
// memory, replacing any prior record.
func (s *Store) UpsertConfidenceRecord(ctx context.Context, r confidence.Record) error {
	factors, err := json.Marshal(r.Factors)
	if err != nil {
		return fmt.Errorf("marshal factors: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO confidence_records (memory_id, final_score, factors, computed_at, decay_model)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (memory_id) DO UPDATE SET
			final_score = EXCLUDED.final_score, factors = EXCLUDED.factors,
			computed_at = EXCLUDED.computed_at, decay_model = EXCLUDED.decay_model`,
		r.MemoryID, r.FinalScore, factors, r.ComputedAt, r.DecayModel)
	if err != nil {
		return fmt.Errorf("upsert confidence record: %w", err)
	}
	return nil
}

// GetConfidenceRecord fetches the current confidence record for a memory.
func (s *Store) GetConfidenceRecord(ctx context.Context, memoryID string) (*confidence.Record, error) {
	var r confidence.Record
	var factors []byte
	err := s.pool.QueryRow(ctx,
		`SELECT memory_id, final_score, factors, computed_at, decay_model FROM confidence_records WHERE memory_id = $1`,
		memoryID,
	).Scan(&r.MemoryID, &r.FinalScore, &factors, &r.ComputedAt, &r.DecayModel)
	if err != nil {
		return nil, notFoundWrap(err, "get confidence record %s", memoryID)
	}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &r.Factors); err != nil {
			return nil, fmt.Errorf("unmarshal factors: %w", err)
		}
	}
	return &r, nil
}

// CreateVerification records one agent's verification of a memory.
func (s *Store) CreateVerification(ctx context.Context, v confidence.Verification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO verifications (memory_id, verifier_agent_id, kind, verified_at, notes)
		VALUES ($1,$2,$3,$4,$5)`,
		v.MemoryID, v.VerifierAgentID, string(v.Kind), v.VerifiedAt, v.Notes)
	if err != nil {
		return fmt.Errorf("create verification: %w", err)
	}
	return nil
}

// ListVerifications returns all verifications recorded for a memory.
func (s *Store) ListVerifications(ctx context.Context, memoryID string) ([]confidence.Verification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT memory_id, verifier_agent_id, kind, verified_at, notes FROM verifications WHERE memory_id = $1 ORDER BY verified_at`,
		memoryID)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	var result []confidence.Verification
	for rows.Next() {
		var v confidence.Verification
		if err := rows.Scan(&v.MemoryID, &v.VerifierAgentID, &v.Kind, &v.VerifiedAt, &v.Notes); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		result = append(result, v)
	}
	return orEmpty(result), rows.Err()
}

// CastVote records an agent's weighed-in stance on a memory's correctness.
// A voter may only have one vote per memory; re-voting replaces it.
func (s *Store) CastVote(ctx context.Context, v confidence.Vote) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO votes (memory_id, voter_agent_id, vote, confidence, reasoning)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (memory_id, voter_agent_id) DO UPDATE SET
			vote = EXCLUDED.vote, confidence = EXCLUDED.confidence, reasoning = EXCLUDED.reasoning`,
		v.MemoryID, v.VoterAgentID, string(v.Vote), v.Confidence, v.Reasoning)
	if err != nil {
		return fmt.Errorf("cast vote: %w", err)
	}
	return nil
}

// ListVotes returns all votes cast on a memory.
func (s *Store) ListVotes(ctx context.Context, memoryID string) ([]confidence.Vote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT memory_id, voter_agent_id, vote, confidence, reasoning FROM votes WHERE memory_id = $1`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	var result []confidence.Vote
	for rows.Next() {
		var v confidence.Vote
		if err := rows.Scan(&v.MemoryID, &v.VoterAgentID, &v.Vote, &v.Confidence, &v.Reasoning); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		result = append(result, v)
	}
	return orEmpty(result), rows.Err()
}

// RecordUsageOutcome logs one agent's experience acting on a memory's advice.
func (s *Store) RecordUsageOutcome(ctx context.Context, o confidence.UsageOutcome) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_outcomes (memory_id, agent_id, action, outcome, tracked_at, details)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		o.MemoryID, o.AgentID, o.Action, string(o.Outcome), o.TrackedAt, o.Details)
	if err != nil {
		return fmt.Errorf("record usage outcome: %w", err)
	}
	return nil
}

// ListUsageOutcomes returns usage outcomes for a memory tracked since the
// given time, bounding the rolling usage-success window.
func (s *Store) ListUsageOutcomes(ctx context.Context, memoryID string, since time.Time) ([]confidence.UsageOutcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT memory_id, agent_id, action, outcome, tracked_at, details
		 FROM usage_outcomes WHERE memory_id = $1 AND tracked_at >= $2`, memoryID, since)
	if err != nil {
		return nil, fmt.Errorf("list usage outcomes: %w", err)
	}
	defer rows.Close()

	var result []confidence.UsageOutcome
	for rows.Next() {
		var o confidence.UsageOutcome
		if err := rows.Scan(&o.MemoryID, &o.AgentID, &o.Action, &o.Outcome, &o.TrackedAt, &o.Details); err != nil {
			return nil, fmt.Errorf("scan usage outcome: %w", err)
		}
		result = append(result, o)
	}
	return orEmpty(result), rows.Err()
}

// CreateContradiction records a newly detected conflict between two memories.
func (s *Store) CreateContradiction(ctx context.Context, c *confidence.Contradiction) error {
	const q = `
		INSERT INTO contradictions (memory_a_id, memory_b_id, kind, severity, detected_at)
		VALUES ($1,$2,$3,$4,now())
		RETURNING id, detected_at`
	if err := s.pool.QueryRow(ctx, q, c.MemoryAID, c.MemoryBID, string(c.Kind), c.Severity).
		Scan(&c.ID, &c.DetectedAt); err != nil {
		return fmt.Errorf("create contradiction: %w", err)
	}
	return nil
}

// GetContradiction fetches a contradiction by ID.
func (s *Store) GetContradiction(ctx context.Context, id string) (*confidence.Contradiction, error) {
	c, err := scanContradiction(s.pool.QueryRow(ctx, `
		SELECT id, memory_a_id, memory_b_id, kind, severity, detected_at,
			resolution_winner_id, resolution_strategy, resolution_resolved_at
		FROM contradictions WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get contradiction %s", id)
	}
	return c, nil
}

// ListOpenContradictions returns unresolved contradictions referencing a memory.
func (s *Store) ListOpenContradictions(ctx context.Context, memoryID string) ([]confidence.Contradiction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, memory_a_id, memory_b_id, kind, severity, detected_at,
			resolution_winner_id, resolution_strategy, resolution_resolved_at
		FROM contradictions
		WHERE (memory_a_id = $1 OR memory_b_id = $1) AND resolution_strategy IS NULL`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("list open contradictions: %w", err)
	}
	defer rows.Close()

	var result []confidence.Contradiction
	for rows.Next() {
		c, err := scanContradiction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contradiction: %w", err)
		}
		result = append(result, *c)
	}
	return orEmpty(result), rows.Err()
}

func scanContradiction(row scannable) (*confidence.Contradiction, error) {
	var c confidence.Contradiction
	var winnerID, strategy *string
	var resolvedAt *time.Time
	if err := row.Scan(
		&c.ID, &c.MemoryAID, &c.MemoryBID, &c.Kind, &c.Severity, &c.DetectedAt,
		&winnerID, &strategy, &resolvedAt,
	); err != nil {
		return nil, err
	}
	if strategy != nil {
		c.Resolution = &confidence.Resolution{
			Strategy: confidence.ResolutionStrategy(*strategy),
		}
		if winnerID != nil {
			c.Resolution.WinnerID = *winnerID
		}
		if resolvedAt != nil {
			c.Resolution.ResolvedAt = *resolvedAt
		}
	}
	return &c, nil
}

// ResolveContradiction appends a resolution to a contradiction. Resolution
// is append-only: this fails if the contradiction is already resolved.
func (s *Store) ResolveContradiction(ctx context.Context, id string, res confidence.Resolution) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE contradictions SET resolution_winner_id=$1, resolution_strategy=$2, resolution_resolved_at=$3
		WHERE id=$4 AND resolution_strategy IS NULL`,
		nullIfEmpty(res.WinnerID), string(res.Strategy), res.ResolvedAt, id)
	return execExpectOne(tag, err, "resolve contradiction %s", id)
}
