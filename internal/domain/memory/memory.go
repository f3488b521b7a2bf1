// Package memory provides the domain model for a shared, content-addressed
// fleet memory: category-routed, confidentiality-gated, deduplicated, and
// synchronized across machines via vector clocks.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/lancejames221b/haivemind/internal/domain/clock"
)

// Category restricts memories to a recognized taxonomy so each category can
// be routed to its own embedding collection. Unlisted categories are stored
// under CategoryOther.
type Category string

const (
	CategoryProject                Category = "project"
	CategoryConversation           Category = "conversation"
	CategoryAgent                  Category = "agent"
	CategoryGlobal                 Category = "global"
	CategoryInfrastructure         Category = "infrastructure"
	CategoryIncidents              Category = "incidents"
	CategoryDeployments            Category = "deployments"
	CategoryMonitoring             Category = "monitoring"
	CategoryRunbooks               Category = "runbooks"
	CategorySecurity               Category = "security"
	CategoryPatterns               Category = "patterns"
	CategoryPlaybookSuggestions    Category = "playbook_suggestions"
	CategoryPlaybookVersions       Category = "playbook_versions"
	CategoryPlaybookExecutions     Category = "playbook_executions"
	CategoryReviewHistory          Category = "review_history"
	CategoryRecommendationFeedback Category = "recommendation_feedback"
	CategoryOther                  Category = "other"
)

// RecognizedCategories lists every category with a dedicated embedding
// collection. A category outside this set is still accepted but is stored
// under CategoryOther's collection.
var RecognizedCategories = []Category{
	CategoryProject, CategoryConversation, CategoryAgent, CategoryGlobal,
	CategoryInfrastructure, CategoryIncidents, CategoryDeployments, CategoryMonitoring,
	CategoryRunbooks, CategorySecurity, CategoryPatterns, CategoryPlaybookSuggestions,
	CategoryPlaybookVersions, CategoryPlaybookExecutions, CategoryReviewHistory,
	CategoryRecommendationFeedback,
}

// Normalize maps an arbitrary category string onto its collection: a
// recognized category returns itself, anything else returns CategoryOther.
func Normalize(c Category) Category {
	if slices.Contains(RecognizedCategories, c) {
		return c
	}
	return CategoryOther
}

// ConfidentialityLevel orders memories along a one-way ratchet: a memory's
// level may only increase, never decrease.
type ConfidentialityLevel string

const (
	ConfidentialityNormal       ConfidentialityLevel = "normal"
	ConfidentialityInternal     ConfidentialityLevel = "internal"
	ConfidentialityConfidential ConfidentialityLevel = "confidential"
	ConfidentialityPII          ConfidentialityLevel = "pii"
)

var confidentialityRank = map[ConfidentialityLevel]int{
	ConfidentialityNormal:       0,
	ConfidentialityInternal:     1,
	ConfidentialityConfidential: 2,
	ConfidentialityPII:         3,
}

// ValidConfidentialityLevel reports whether l is one of the four recognized levels.
func ValidConfidentialityLevel(l ConfidentialityLevel) bool {
	_, ok := confidentialityRank[l]
	return ok
}

// CanRatchetTo reports whether moving from 'from' to 'to' is a legal
// (non-decreasing) confidentiality change.
func CanRatchetTo(from, to ConfidentialityLevel) bool {
	return confidentialityRank[to] >= confidentialityRank[from]
}

// FormatVersion distinguishes the verbose (v1) memory stamp used by older
// clients from the compact (v2) stamp applied once a session has received
// its first format-reference response.
type FormatVersion string

const (
	FormatV1 FormatVersion = "v1"
	FormatV2 FormatVersion = "v2"
)

// DeletionState tracks a memory through its lifecycle.
type DeletionState string

const (
	DeletionLive        DeletionState = "live"
	DeletionSoftDeleted DeletionState = "soft_deleted"
	DeletionPurged      DeletionState = "purged"
)

// Memory is a single fleet-shared memory record.
type Memory struct {
	ID                   string                `json:"id"`
	Content              string                `json:"content"`
	ContentHash           string                `json:"content_hash"`
	Category             Category              `json:"category"`
	Tags                 []string              `json:"tags,omitempty"`
	Context               string                `json:"context,omitempty"`
	ProjectID             string                `json:"project_id,omitempty"`
	UserID                string                `json:"user_id,omitempty"`
	MachineID             string                `json:"machine_id"`
	SourceAgentID         string                `json:"source_agent_id,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
	VectorClock           clock.Vector          `json:"vector_clock"`
	ConfidentialityLevel  ConfidentialityLevel  `json:"confidentiality_level"`
	FormatVersion         FormatVersion         `json:"format_version"`
	DeletionState         DeletionState         `json:"deletion_state"`
	DeletedAt             *time.Time            `json:"deleted_at,omitempty"`
	DeletedBy             string                `json:"deleted_by,omitempty"`
	DeleteReason          string                `json:"delete_reason,omitempty"`
	DeleteExpiresAt       *time.Time            `json:"delete_expires_at,omitempty"`
}

// ScoredMemory wraps a Memory with its composite retrieval score and a
// search snippet.
type ScoredMemory struct {
	Memory
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet,omitempty"`
}

// Stats summarizes the memory store for the `stats` tool: totals by
// lifecycle state, category, confidentiality level, and format version (so
// callers can see how many v1 memories remain compressible).
type Stats struct {
	TotalLive         int64                       `json:"total_live"`
	TotalSoftDeleted  int64                       `json:"total_soft_deleted"`
	TotalPurged       int64                       `json:"total_purged"`
	ByCategory        map[Category]int64           `json:"by_category"`
	ByConfidentiality map[ConfidentialityLevel]int64 `json:"by_confidentiality"`
	ByFormatVersion   map[FormatVersion]int64      `json:"by_format_version"`
}

// MaxContentBytes bounds a single memory's content size.
const MaxContentBytes = 64 * 1024

// HashContent returns the deterministic content hash used for exact-match
// deduplication: NFC-normalized, lowercased, whitespace-collapsed content run
// through SHA-256. NFC normalization ensures two memories whose content
// differs only by Unicode composition form (e.g. a precomposed "é" vs. "e"
// + combining acute accent) still hash identically.
func HashContent(content string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(norm.NFC.String(content))), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// CreateRequest is the input for storing a new memory.
type CreateRequest struct {
	Content              string
	Category             Category
	Tags                 []string
	Context              string
	ProjectID            string
	UserID               string
	MachineID            string
	SourceAgentID        string
	ConfidentialityLevel ConfidentialityLevel // defaults to normal when empty
}

// Validate checks that a CreateRequest has all required fields and legal values.
func (r *CreateRequest) Validate() error {
	if r.Content == "" {
		return errors.New("content is required")
	}
	if len(r.Content) > MaxContentBytes {
		return errors.New("content exceeds maximum size")
	}
	if r.MachineID == "" {
		return errors.New("machine_id is required")
	}
	if r.ConfidentialityLevel != "" && !ValidConfidentialityLevel(r.ConfidentialityLevel) {
		return errors.New("confidentiality_level must be one of normal, internal, confidential, pii")
	}
	return nil
}

// UpdatePatch describes a partial update to an existing memory.
type UpdatePatch struct {
	Content  *string
	Tags     []string
	Context  *string
	Category *Category
}

// SearchMode selects the retrieval strategy.
type SearchMode string

const (
	SearchSemantic SearchMode = "semantic"
	SearchLexical  SearchMode = "lexical"
	SearchHybrid   SearchMode = "hybrid"
)

// SearchFilters narrows a search or recall query.
type SearchFilters struct {
	Category           Category
	ProjectID          string
	MachineID          string
	AgentID            string
	Tags               []string
	After              *time.Time
	Before             *time.Time
	MinConfidence      float64
	ExcludeConfidential bool
}

// SearchRequest is the input for a memory search.
type SearchRequest struct {
	Query   string
	Filters SearchFilters
	K       int
	Mode    SearchMode
}

// Validate checks that a SearchRequest is well-formed.
func (r *SearchRequest) Validate() error {
	if r.Query == "" && r.Mode != SearchLexical {
		return errors.New("query is required")
	}
	if r.K <= 0 {
		return errors.New("k must be positive")
	}
	switch r.Mode {
	case SearchSemantic, SearchLexical, SearchHybrid, "":
	default:
		return errors.New("mode must be one of semantic, lexical, hybrid")
	}
	return nil
}

// VisibleTo reports whether a reader identified by machineID can see m given
// m's confidentiality level. pii memories are visible only from the owning
// machine; confidential and stricter are local-only (machine-scoped); normal
// and internal are fleet-visible.
func (m Memory) VisibleTo(machineID string) bool {
	switch m.ConfidentialityLevel {
	case ConfidentialityPII, ConfidentialityConfidential:
		return m.MachineID == machineID
	default:
		return true
	}
}
