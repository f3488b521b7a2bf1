// Package confidence defines the domain model for the seven-factor memory
// confidence scoring subsystem: records, verifications, votes, usage
// outcomes, and detected contradictions between memories.
package confidence

import (
	"errors"
	"math"
	"time"
)

// Factor names weights are keyed by, matching the configurable
// confidence.weights map.
const (
	FactorFreshness          = "freshness"
	FactorSourceCredibility   = "source_credibility"
	FactorVerification        = "verification"
	FactorConsensus           = "consensus"
	FactorNoContradiction     = "no_contradiction"
	FactorUsageSuccess        = "usage_success"
	FactorContextRelevance    = "context_relevance"
)

// AllFactors lists every factor a Record must score.
var AllFactors = []string{
	FactorFreshness, FactorSourceCredibility, FactorVerification,
	FactorConsensus, FactorNoContradiction, FactorUsageSuccess, FactorContextRelevance,
}

// Record is the confidence record computed for one memory.
type Record struct {
	MemoryID    string             `json:"memory_id"`
	FinalScore  float64            `json:"final_score"`
	Factors     map[string]float64 `json:"factors"`
	ComputedAt  time.Time          `json:"computed_at"`
	DecayModel  string             `json:"decay_model"`
}

// FinalScore computes the weighted sum of factor scores. weights must sum to
// 1.0 (enforced at config load); factors missing from the map score 0.
func FinalScore(factors map[string]float64, weights map[string]float64) float64 {
	var sum float64
	for name, weight := range weights {
		sum += factors[name] * weight
	}
	if sum < 0 {
		return 0
	}
	if sum > 1 {
		return 1
	}
	return sum
}

// Freshness computes factor 1: exponential decay by category half-life.
// Verification resets the age reference (callers pass ageDays since the
// last reset, not since creation).
func Freshness(ageDays float64, halfLifeDays int) float64 {
	if halfLifeDays <= 0 {
		halfLifeDays = 60
	}
	return math.Pow(0.5, ageDays/float64(halfLifeDays))
}

// VerificationKind is the verifier's assessment of a memory's validity.
type VerificationKind string

const (
	VerificationConfirmed  VerificationKind = "confirmed"
	VerificationStillValid VerificationKind = "still_valid"
	VerificationOutdated   VerificationKind = "outdated"
	VerificationIncorrect  VerificationKind = "incorrect"
)

// Verification is one verifier agent's assessment of a memory.
type Verification struct {
	MemoryID       string            `json:"memory_id"`
	VerifierAgentID string            `json:"verifier_agent_id"`
	Kind           VerificationKind  `json:"kind"`
	VerifiedAt     time.Time         `json:"verified_at"`
	Notes          string            `json:"notes,omitempty"`
}

// VerificationLevel classifies a set of verifications into factor 3's tiers.
type VerificationLevel int

const (
	VerificationUnverified VerificationLevel = iota
	VerificationSelf
	VerificationPeer
	VerificationMulti
	VerificationConsensus
	VerificationSystem
)

// VerificationScore maps a verification level to its factor-3 score.
func VerificationScore(level VerificationLevel) float64 {
	switch level {
	case VerificationSelf:
		return 0.5
	case VerificationPeer:
		return 0.7
	case VerificationMulti:
		return 0.85
	case VerificationConsensus:
		return 0.95
	case VerificationSystem:
		return 1.0
	default:
		return 0.3
	}
}

// ClassifyVerifications derives the VerificationLevel from the set of
// confirming verifications recorded for a memory, given its source agent.
// distinctVerifiers may include the source agent itself; that entry counts
// only toward the self level.
func ClassifyVerifications(sourceAgentID string, distinctVerifiers []string, systemVerified bool) VerificationLevel {
	if systemVerified {
		return VerificationSystem
	}

	others := 0
	selfOnly := false
	for _, v := range distinctVerifiers {
		if v == sourceAgentID {
			selfOnly = true
			continue
		}
		others++
	}

	switch {
	case others >= 5:
		return VerificationConsensus
	case others >= 2:
		return VerificationMulti
	case others >= 1:
		return VerificationPeer
	case selfOnly:
		return VerificationSelf
	default:
		return VerificationUnverified
	}
}

// VoteValue is a voter's stance on a memory's correctness.
type VoteValue string

const (
	VoteAgree    VoteValue = "agree"
	VoteDisagree VoteValue = "disagree"
	VoteUnsure   VoteValue = "unsure"
)

// Vote is one agent's weighed-in stance on a memory's correctness.
type Vote struct {
	MemoryID     string    `json:"memory_id"`
	VoterAgentID string    `json:"voter_agent_id"`
	Vote         VoteValue `json:"vote"`
	Confidence   float64   `json:"confidence"`
	Reasoning    string    `json:"reasoning,omitempty"`
}

// Validate checks a Vote has a legal value and confidence in range.
func (v *Vote) Validate() error {
	if v.MemoryID == "" {
		return errors.New("memory_id is required")
	}
	if v.VoterAgentID == "" {
		return errors.New("voter_agent_id is required")
	}
	switch v.Vote {
	case VoteAgree, VoteDisagree, VoteUnsure:
	default:
		return errors.New("vote must be one of agree, disagree, unsure")
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return errors.New("confidence must be between 0 and 1")
	}
	return nil
}

// ConsensusQuorum is the minimum number of independent voters (not all
// sharing a machine) required before Consensus returns a nonzero score.
const ConsensusQuorum = 3

// Consensus computes factor 4 from votes: it is 0 until ConsensusQuorum votes
// are cast by voters on more than one machine. voterMachines maps voter agent
// ID to its machine ID.
func Consensus(votes []Vote, voterMachines map[string]string) float64 {
	machines := make(map[string]bool)
	agreeCount := 0
	total := 0
	for _, v := range votes {
		total++
		machines[voterMachines[v.VoterAgentID]] = true
		if v.Vote == VoteAgree {
			agreeCount++
		}
	}
	if total < ConsensusQuorum || len(machines) < 2 {
		return 0
	}
	return float64(agreeCount) / float64(total)
}

// UsageOutcomeKind is the result of an agent acting on a memory's content.
type UsageOutcomeKind string

const (
	OutcomeSuccess UsageOutcomeKind = "success"
	OutcomeFailure UsageOutcomeKind = "failure"
	OutcomePartial UsageOutcomeKind = "partial"
	OutcomeError   UsageOutcomeKind = "error"
)

// UsageOutcome records one agent's experience acting on a memory's advice.
type UsageOutcome struct {
	MemoryID  string           `json:"memory_id"`
	AgentID   string           `json:"agent_id"`
	Action    string           `json:"action"`
	Outcome   UsageOutcomeKind `json:"outcome"`
	TrackedAt time.Time        `json:"tracked_at"`
	Details   string           `json:"details,omitempty"`
}

// UsageSuccessWindow is the rolling window usage outcomes are scored over.
const UsageSuccessWindow = 30 * 24 * time.Hour

// UsageSuccessScore computes factor 6 from outcomes within the rolling
// window. Partial counts as half a success; error outcomes are excluded
// from the denominator (treated as non-informative, not failures).
func UsageSuccessScore(outcomes []UsageOutcome) float64 {
	var successes, failures float64
	for _, o := range outcomes {
		switch o.Outcome {
		case OutcomeSuccess:
			successes++
		case OutcomePartial:
			successes += 0.5
			failures += 0.5
		case OutcomeFailure:
			failures++
		}
	}
	if successes+failures == 0 {
		return 0.7
	}
	return successes / (successes + failures)
}

// ContradictionKind classifies the nature of a detected conflict.
type ContradictionKind string

const (
	ContradictionSemantic         ContradictionKind = "semantic"
	ContradictionFactual          ContradictionKind = "factual"
	ContradictionTemporal         ContradictionKind = "temporal"
	ContradictionMutualExclusion ContradictionKind = "mutual_exclusion"
)

// ResolutionStrategy names how a contradiction was settled.
type ResolutionStrategy string

const (
	ResolutionTemporal     ResolutionStrategy = "temporal"
	ResolutionSourceTrust  ResolutionStrategy = "source_trust"
	ResolutionConsensus    ResolutionStrategy = "consensus"
	ResolutionSystem       ResolutionStrategy = "system"
	ResolutionManual       ResolutionStrategy = "manual"
)

// Resolution records how and when a contradiction was settled.
type Resolution struct {
	WinnerID   string             `json:"winner_id"`
	Strategy   ResolutionStrategy `json:"strategy"`
	ResolvedAt time.Time          `json:"resolved_at"`
}

// Contradiction is a detected conflict between two memories. Resolution is
// append-only: once set it is never cleared or overwritten.
type Contradiction struct {
	ID          string            `json:"id"`
	MemoryAID   string            `json:"memory_a_id"`
	MemoryBID   string            `json:"memory_b_id"`
	Kind        ContradictionKind `json:"kind"`
	Severity    float64           `json:"severity"`
	DetectedAt  time.Time         `json:"detected_at"`
	Resolution  *Resolution       `json:"resolution,omitempty"`
}

// Open reports whether the contradiction still awaits resolution.
func (c Contradiction) Open() bool {
	return c.Resolution == nil
}

// NoContradictionScore computes factor 5 from the open contradictions that
// reference a memory: full score with none, otherwise 1 minus the summed
// severity, clamped to zero.
func NoContradictionScore(openSeverities []float64) float64 {
	if len(openSeverities) == 0 {
		return 1.0
	}
	var sum float64
	for _, s := range openSeverities {
		sum += s
	}
	score := 1 - sum
	if score < 0 {
		return 0
	}
	return score
}

// TemporalResolutionThreshold is the minimum age gap (in days) before the
// temporal resolution strategy declares the newer memory the winner.
const TemporalResolutionThreshold = 30.0

// SourceTrustResolutionGap is the minimum credibility gap before the
// source_trust resolution strategy declares a winner.
const SourceTrustResolutionGap = 0.2

// RiskTier names an advisory confidence threshold a caller may gate on.
type RiskTier string

const (
	RiskLow      RiskTier = "low"
	RiskMedium   RiskTier = "medium"
	RiskHigh     RiskTier = "high"
	RiskCritical RiskTier = "critical"
)

// RiskThresholds maps each advisory risk tier to its minimum final_score.
var RiskThresholds = map[RiskTier]float64{
	RiskLow:      0.40,
	RiskMedium:   0.60,
	RiskHigh:     0.75,
	RiskCritical: 0.90,
}
