package service

import (
	"sync"

	"github.com/lancejames221b/haivemind/internal/domain/memory"
)

// formatReference is the compact, purely informational cheat sheet prepended
// to the first memory-returning response in a session. It never changes
// server-side semantics.
const formatReference = `hAIveMind memory format (v2):
- store(content, category, tags[], confidentiality_level) -> {id}
- retrieve(id) / search(query, mode, k) -> memories with score and snippet
- category routes embeddings; unrecognized categories fall back to "other"
- confidentiality_level is a one-way ratchet: normal < internal < confidential < pii
- delete defaults to soft (30d recovery window); pass hard=true to purge`

// sessionState tracks one MCP session's first-format-guide-call state and
// cumulative memory-returning call count.
type sessionState struct {
	sawFormatGuide bool
	accessCount    int
}

// FormatGuide implements the session-scoped format reference injection and
// access-counter tracking described for the MCP facade: the first
// memory-returning call in a session gets a compact format reference
// prepended, and memories created afterward are stamped format_version=v2.
type FormatGuide struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewFormatGuide creates an empty, in-process session tracker. Session state
// is intentionally not synced or persisted: it is a per-connection transport
// concern, not fleet memory.
func NewFormatGuide() *FormatGuide {
	return &FormatGuide{sessions: make(map[string]*sessionState)}
}

func (f *FormatGuide) session(sessionID string) *sessionState {
	st, ok := f.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		f.sessions[sessionID] = st
	}
	return st
}

// OnMemoryReturningCall records one memory-returning tool call for the
// session and reports whether the format reference should be prepended to
// this particular response (true only the first time it is called for a
// given session ID).
func (f *FormatGuide) OnMemoryReturningCall(sessionID string) (reference string, shouldAttach bool) {
	if sessionID == "" {
		return "", false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.session(sessionID)
	st.accessCount++
	if st.sawFormatGuide {
		return "", false
	}
	st.sawFormatGuide = true
	return formatReference, true
}

// StampVersion returns the format_version a memory created within this
// session should be stamped with: v2 once the session has received its
// format reference, v1 beforehand (consistent with the guide describing the
// compact v2 conventions the caller has not yet seen).
func (f *FormatGuide) StampVersion(sessionID string) memory.FormatVersion {
	if sessionID == "" {
		return memory.FormatV2
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session(sessionID).sawFormatGuide {
		return memory.FormatV2
	}
	return memory.FormatV1
}

// GetFormatGuide returns the reference text outright, for the explicit
// `get_format_guide` tool (which does not depend on first-call detection).
func (f *FormatGuide) GetFormatGuide() string {
	return formatReference
}

// AccessStats reports the memory-returning call count for one session, for
// the `get_memory_access_stats` tool.
func (f *FormatGuide) AccessStats(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.sessions[sessionID]; ok {
		return st.accessCount
	}
	return 0
}
