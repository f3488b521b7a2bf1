package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/lancejames221b/haivemind/internal/adapter/otel"
	"github.com/lancejames221b/haivemind/internal/config"
	"github.com/lancejames221b/haivemind/internal/domain"
	"github.com/lancejames221b/haivemind/internal/domain/agent"
	"github.com/lancejames221b/haivemind/internal/domain/audit"
	"github.com/lancejames221b/haivemind/internal/domain/confidence"
	"github.com/lancejames221b/haivemind/internal/domain/memory"
	"github.com/lancejames221b/haivemind/internal/port/database"
	"github.com/lancejames221b/haivemind/internal/reqctx"
)

// ConfidenceEngine scores memories on the seven weighted factors, tracks
// verifications/votes/usage outcomes, and detects contradictions.
type ConfidenceEngine struct {
	db         database.Store
	memories   *MemoryEngine
	categories config.Categories
	weights    map[string]float64
	metrics    *otel.Metrics // optional; nil disables metric recording
}

// NewConfidenceEngine creates a ConfidenceEngine wired to the database and
// the MemoryEngine it scores and searches through.
func NewConfidenceEngine(db database.Store, memories *MemoryEngine, categories config.Categories, weights map[string]float64) *ConfidenceEngine {
	return &ConfidenceEngine{db: db, memories: memories, categories: categories, weights: weights}
}

// SetMetrics attaches OTEL instrumentation. Optional: without it, Score and
// DetectContradictions behave exactly the same, just unmeasured.
func (c *ConfidenceEngine) SetMetrics(m *otel.Metrics) {
	c.metrics = m
}

// ContextRelevanceNeutral is used when a static (non-query) score is requested.
const ContextRelevanceNeutral = 0.7

// Score computes and persists a memory's confidence record. queryContext is
// optional; when empty, factor 7 (context relevance) uses the neutral score.
func (c *ConfidenceEngine) Score(ctx context.Context, memoryID string, queryContext string) (*confidence.Record, error) {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.ConfidenceDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	m, err := c.db.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, err
	}

	factors := make(map[string]float64, len(confidence.AllFactors))

	halfLife := c.categories.CategoryHalfLife(string(m.Category))
	factors[confidence.FactorFreshness] = confidence.Freshness(time.Since(m.UpdatedAt).Hours()/24, halfLife)

	factors[confidence.FactorSourceCredibility] = c.sourceCredibility(ctx, m.SourceAgentID, string(m.Category))

	verifications, err := c.db.ListVerifications(ctx, memoryID)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	factors[confidence.FactorVerification] = confidence.VerificationScore(c.classifyVerifications(m.SourceAgentID, verifications))

	votes, err := c.db.ListVotes(ctx, memoryID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	factors[confidence.FactorConsensus] = confidence.Consensus(votes, c.voterMachines(ctx, votes))

	open, err := c.db.ListOpenContradictions(ctx, memoryID)
	if err != nil {
		return nil, fmt.Errorf("list open contradictions: %w", err)
	}
	severities := make([]float64, len(open))
	for i, o := range open {
		severities[i] = o.Severity
	}
	factors[confidence.FactorNoContradiction] = confidence.NoContradictionScore(severities)

	outcomes, err := c.db.ListUsageOutcomes(ctx, memoryID, time.Now().Add(-confidence.UsageSuccessWindow))
	if err != nil {
		return nil, fmt.Errorf("list usage outcomes: %w", err)
	}
	factors[confidence.FactorUsageSuccess] = confidence.UsageSuccessScore(outcomes)

	// Context relevance (factor 7) is computed per-query at read time by the
	// search path, not stored statically; a bare score() call always uses the
	// neutral value.
	factors[confidence.FactorContextRelevance] = ContextRelevanceNeutral

	record := confidence.Record{
		MemoryID:   memoryID,
		Factors:    factors,
		FinalScore: confidence.FinalScore(factors, c.weights),
		ComputedAt: time.Now(),
		DecayModel: "exponential_half_life",
	}
	if err := c.db.UpsertConfidenceRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("upsert confidence record: %w", err)
	}
	return &record, nil
}

func (c *ConfidenceEngine) sourceCredibility(ctx context.Context, sourceAgentID, category string) float64 {
	if sourceAgentID == "" {
		return agent.DefaultCredibility().Score
	}
	a, err := c.db.GetAgent(ctx, sourceAgentID)
	if err != nil {
		return agent.DefaultCredibility().Score
	}
	return a.CredibilityInCategory(category).Score
}

// classifyVerifications derives the verification level from recorded
// verifications, treating any non-confirming verification (outdated,
// incorrect) as absent corroboration.
func (c *ConfidenceEngine) classifyVerifications(sourceAgentID string, verifications []confidence.Verification) confidence.VerificationLevel {
	var verifiers []string
	for _, v := range verifications {
		if v.Kind == confidence.VerificationConfirmed || v.Kind == confidence.VerificationStillValid {
			verifiers = append(verifiers, v.VerifierAgentID)
		}
	}
	return confidence.ClassifyVerifications(sourceAgentID, verifiers, false)
}

func (c *ConfidenceEngine) voterMachines(ctx context.Context, votes []confidence.Vote) map[string]string {
	out := make(map[string]string, len(votes))
	for _, v := range votes {
		if _, ok := out[v.VoterAgentID]; ok {
			continue
		}
		a, err := c.db.GetAgent(ctx, v.VoterAgentID)
		if err != nil {
			out[v.VoterAgentID] = v.VoterAgentID // unknown agent, treat as its own machine
			continue
		}
		out[v.VoterAgentID] = a.MachineID
	}
	return out
}

// Verify records a verifier's assessment of a memory. A `confirmed` or
// `still_valid` verification resets the freshness clock (via updated_at); an
// `outdated` verification soft-deletes the memory and, if a contradicting
// memory is known, opens a contradiction slot.
func (c *ConfidenceEngine) Verify(ctx context.Context, memoryID string, kind confidence.VerificationKind, notes string) error {
	if _, err := c.db.GetMemory(ctx, memoryID); err != nil {
		return err
	}

	v := confidence.Verification{
		MemoryID:        memoryID,
		VerifierAgentID: reqctx.AgentID(ctx),
		Kind:            kind,
		VerifiedAt:      time.Now(),
		Notes:           notes,
	}
	if err := c.db.CreateVerification(ctx, v); err != nil {
		return fmt.Errorf("create verification: %w", err)
	}

	switch kind {
	case confidence.VerificationConfirmed, confidence.VerificationStillValid:
		if _, err := c.memories.TouchFreshness(ctx, memoryID); err != nil {
			slog.Warn("failed to reset freshness clock on verification", "memory_id", memoryID, "error", err)
		}
	case confidence.VerificationOutdated:
		if err := c.memories.Delete(ctx, memoryID, false, reqctx.AgentID(ctx), "flagged outdated by verification"); err != nil {
			return fmt.Errorf("soft delete outdated memory: %w", err)
		}
		if _, err := c.DetectContradictions(ctx, ""); err != nil {
			slog.Warn("contradiction scan after outdated verification failed", "memory_id", memoryID, "error", err)
		}
	}

	if _, err := c.Score(ctx, memoryID, ""); err != nil {
		slog.Warn("rescoring after verification failed", "memory_id", memoryID, "error", err)
	}
	return nil
}

// Vote records one agent's stance on a memory's correctness.
func (c *ConfidenceEngine) Vote(ctx context.Context, v confidence.Vote) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	if err := c.db.CastVote(ctx, v); err != nil {
		return fmt.Errorf("cast vote: %w", err)
	}
	if _, err := c.Score(ctx, v.MemoryID, ""); err != nil {
		slog.Warn("rescoring after vote failed", "memory_id", v.MemoryID, "error", err)
	}
	return nil
}

// ReportUsage records an agent's real-world outcome from acting on a
// memory's advice, feeding factor 6 on subsequent scoring.
func (c *ConfidenceEngine) ReportUsage(ctx context.Context, o confidence.UsageOutcome) error {
	o.TrackedAt = time.Now()
	if err := c.db.RecordUsageOutcome(ctx, o); err != nil {
		return fmt.Errorf("record usage outcome: %w", err)
	}
	if _, err := c.Score(ctx, o.MemoryID, ""); err != nil {
		slog.Warn("rescoring after usage report failed", "memory_id", o.MemoryID, "error", err)
	}
	return nil
}

// GetAgentCredibility returns an agent's credibility within a category,
// falling back to the novice default when it has no track record there.
func (c *ConfidenceEngine) GetAgentCredibility(ctx context.Context, agentID, category string) (agent.Credibility, error) {
	a, err := c.db.GetAgent(ctx, agentID)
	if err != nil {
		return agent.Credibility{}, err
	}
	return a.CredibilityInCategory(category), nil
}

// SearchHighConfidence delegates to the memory engine's search and filters
// results whose stored confidence score is below min_confidence.
func (c *ConfidenceEngine) SearchHighConfidence(ctx context.Context, req memory.SearchRequest, minConfidence float64) ([]memory.ScoredMemory, error) {
	results, err := c.memories.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	out := results[:0]
	for _, r := range results {
		record, err := c.db.GetConfidenceRecord(ctx, r.ID)
		if err != nil {
			continue
		}
		if record.FinalScore >= minConfidence {
			out = append(out, r)
		}
	}
	return out, nil
}

// FlagOutdated lists memories in the given category (all categories if
// empty) whose stored freshness factor has decayed below threshold.
func (c *ConfidenceEngine) FlagOutdated(ctx context.Context, category memory.Category, freshnessThreshold float64) ([]memory.Memory, error) {
	if freshnessThreshold <= 0 {
		freshnessThreshold = 0.3
	}
	recent, err := c.db.ListRecentMemories(ctx, memory.SearchFilters{Category: category}, time.Time{}, 10000)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}

	var out []memory.Memory
	for _, m := range recent {
		halfLife := c.categories.CategoryHalfLife(string(m.Category))
		freshness := confidence.Freshness(time.Since(m.UpdatedAt).Hours()/24, halfLife)
		if freshness < freshnessThreshold {
			out = append(out, m)
		}
	}
	return out, nil
}

// DetectContradictions scans open candidate pairs within a category for
// discriminator disagreement, opening a Contradiction for each conflict and
// attempting automatic resolution in strategy order.
func (c *ConfidenceEngine) DetectContradictions(ctx context.Context, category memory.Category) ([]confidence.Contradiction, error) {
	candidates, err := c.db.ListRecentMemories(ctx, memory.SearchFilters{Category: category}, time.Time{}, 10000)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	var opened []confidence.Contradiction
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			a, b := candidates[i], candidates[j]
			kind, severity, ok := detectDiscriminatorConflict(a.Content, b.Content)
			if !ok {
				continue
			}

			contradiction := &confidence.Contradiction{
				MemoryAID: a.ID,
				MemoryBID: b.ID,
				Kind:      kind,
				Severity:  severity,
			}
			if err := c.db.CreateContradiction(ctx, contradiction); err != nil {
				slog.Error("failed to create contradiction", "memory_a", a.ID, "memory_b", b.ID, "error", err)
				continue
			}

			if resolution, ok := c.autoResolve(ctx, a, b); ok {
				if err := c.db.ResolveContradiction(ctx, contradiction.ID, resolution); err != nil {
					slog.Error("failed to persist contradiction resolution", "contradiction_id", contradiction.ID, "error", err)
				} else {
					contradiction.Resolution = &resolution
				}
			}
			opened = append(opened, *contradiction)
		}
	}
	if c.metrics != nil && len(opened) > 0 {
		c.metrics.ContradictionsFound.Add(ctx, int64(len(opened)))
	}
	return opened, nil
}

// autoResolve tries resolution strategies in order: temporal, source_trust,
// consensus. It returns ok=false when none applies, leaving the
// contradiction open for manual resolution.
func (c *ConfidenceEngine) autoResolve(ctx context.Context, a, b memory.Memory) (confidence.Resolution, bool) {
	ageGapDays := a.UpdatedAt.Sub(b.UpdatedAt).Hours() / 24
	if ageGapDays < 0 {
		ageGapDays = -ageGapDays
	}
	if ageGapDays > confidence.TemporalResolutionThreshold {
		winner := a.ID
		if b.UpdatedAt.After(a.UpdatedAt) {
			winner = b.ID
		}
		return confidence.Resolution{WinnerID: winner, Strategy: confidence.ResolutionTemporal, ResolvedAt: time.Now()}, true
	}

	credA := c.sourceCredibility(ctx, a.SourceAgentID, string(a.Category))
	credB := c.sourceCredibility(ctx, b.SourceAgentID, string(b.Category))
	gap := credA - credB
	if gap < 0 {
		gap = -gap
	}
	if gap >= confidence.SourceTrustResolutionGap {
		winner := a.ID
		if credB > credA {
			winner = b.ID
		}
		return confidence.Resolution{WinnerID: winner, Strategy: confidence.ResolutionSourceTrust, ResolvedAt: time.Now()}, true
	}

	votesA, errA := c.db.ListVotes(ctx, a.ID)
	votesB, errB := c.db.ListVotes(ctx, b.ID)
	if errA == nil && errB == nil {
		scoreA := confidence.Consensus(votesA, c.voterMachines(ctx, votesA))
		scoreB := confidence.Consensus(votesB, c.voterMachines(ctx, votesB))
		if scoreA != scoreB && (scoreA > 0 || scoreB > 0) {
			winner := a.ID
			if scoreB > scoreA {
				winner = b.ID
			}
			return confidence.Resolution{WinnerID: winner, Strategy: confidence.ResolutionConsensus, ResolvedAt: time.Now()}, true
		}
	}

	return confidence.Resolution{}, false
}

// ResolveContradiction manually settles an open contradiction in favor of
// winnerID, for cases autoResolve left open. winnerID must be one of the
// contradiction's two memory IDs.
func (c *ConfidenceEngine) ResolveContradiction(ctx context.Context, contradictionID, winnerID, reason string) error {
	contradiction, err := c.db.GetContradiction(ctx, contradictionID)
	if err != nil {
		return fmt.Errorf("get contradiction: %w", err)
	}
	if contradiction.Resolution != nil {
		return fmt.Errorf("%w: contradiction %s already resolved", domain.ErrConflictDetected, contradictionID)
	}
	if winnerID != contradiction.MemoryAID && winnerID != contradiction.MemoryBID {
		return fmt.Errorf("%w: winner_id must be one of the contradiction's two memories", domain.ErrInvalidArgument)
	}

	resolution := confidence.Resolution{WinnerID: winnerID, Strategy: confidence.ResolutionManual, ResolvedAt: time.Now()}
	if err := c.db.ResolveContradiction(ctx, contradictionID, resolution); err != nil {
		return fmt.Errorf("resolve contradiction: %w", err)
	}
	c.auditContradictionResolution(ctx, contradictionID, reason)
	return nil
}

// auditContradictionResolution records a resolved contradiction in the audit
// trail; called by ResolveContradiction.
func (c *ConfidenceEngine) auditContradictionResolution(ctx context.Context, contradictionID string, reason string) {
	entry := audit.Entry{
		ActorAgentID:   reqctx.AgentID(ctx),
		ActorMachineID: reqctx.MachineID(ctx),
		Operation:      audit.OperationContradictionResolve,
		TargetKind:     audit.TargetContradiction,
		TargetID:       contradictionID,
		Outcome:        audit.OutcomeSuccess,
		Reason:         reason,
		OccurredAt:     time.Now(),
	}
	if entry.ActorAgentID == "" {
		entry.ActorAgentID = "system"
	}
	if entry.ActorMachineID == "" {
		entry.ActorMachineID = "system"
	}
	if err := c.db.AppendAuditEntry(ctx, entry); err != nil {
		slog.Error("append audit entry failed", "contradiction_id", contradictionID, "error", err)
	}
}

var numberPattern = regexp.MustCompile(`\d+`)

var booleanStatePairs = [][2]string{
	{"running", "stopped"},
	{"enabled", "disabled"},
	{"active", "inactive"},
	{"up", "down"},
}

// detectDiscriminatorConflict is a cheap lexical stand-in for the full
// cosine-similarity candidate generator: it looks for numeric tokens or
// boolean-state verbs that disagree between two memories' content. A real
// deployment would gate this on cosine similarity >= 0.8 from the embedding
// provider before running the discriminator check; here the discriminators
// themselves serve as the similarity proxy.
func detectDiscriminatorConflict(a, b string) (confidence.ContradictionKind, float64, bool) {
	al, bl := strings.ToLower(a), strings.ToLower(b)

	for _, pair := range booleanStatePairs {
		aHas0, aHas1 := strings.Contains(al, pair[0]), strings.Contains(al, pair[1])
		bHas0, bHas1 := strings.Contains(bl, pair[0]), strings.Contains(bl, pair[1])
		if (aHas0 && bHas1) || (aHas1 && bHas0) {
			return confidence.ContradictionMutualExclusion, 0.6, true
		}
	}

	aNums := numberPattern.FindAllString(al, -1)
	bNums := numberPattern.FindAllString(bl, -1)
	if len(aNums) > 0 && len(bNums) > 0 && sharePrefix(al, bl) && !sliceEqual(aNums, bNums) {
		return confidence.ContradictionFactual, 0.5, true
	}

	return "", 0, false
}

// sharePrefix is a crude proxy for "about the same subject": the two
// contents share enough of a common word prefix that a differing number is
// a conflict rather than an unrelated fact.
func sharePrefix(a, b string) bool {
	aw, bw := strings.Fields(a), strings.Fields(b)
	shared := 0
	for i := 0; i < len(aw) && i < len(bw); i++ {
		if aw[i] == bw[i] {
			shared++
		}
	}
	return shared >= 2
}

func sliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
