package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/lancejames221b/haivemind/internal/adapter/otel"
	"github.com/lancejames221b/haivemind/internal/domain"
	"github.com/lancejames221b/haivemind/internal/domain/agent"
	"github.com/lancejames221b/haivemind/internal/domain/confidence"
	"github.com/lancejames221b/haivemind/internal/domain/memory"
	"github.com/lancejames221b/haivemind/internal/domain/task"
	"github.com/lancejames221b/haivemind/internal/reqctx"
	"github.com/lancejames221b/haivemind/internal/service"
)

// registerTools populates the MCP tool registry. Each entry is an explicit
// {name, schema, handler} triple; there is no reflection-based discovery.
// Tools are grouped by the service that owns their semantics, mirroring
// each component's own boundary: Memory Engine, Confidence Engine, Agent
// Registry, Format Guide, plus a handful of infrastructure conveniences.
func (s *Server) registerTools() {
	var tools []mcpserver.ServerTool
	tools = append(tools, s.memoryTools()...)
	tools = append(tools, s.confidenceTools()...)
	tools = append(tools, s.agentTools()...)
	tools = append(tools, s.infraTools()...)
	tools = append(tools, s.formatGuideTools()...)
	for i, t := range tools {
		tools[i].Handler = s.instrumented(t.Tool.Name, t.Handler)
	}
	s.mcpServer.AddTools(tools...)
}

// instrumented wraps a tool handler with an OTEL span and the tool-call
// counter, keyed by tool name and the caller's agent ID (if the request
// supplies one). Every tool goes through registerTools, so this is the one
// place that needs to know about tracing rather than each handler.
func (s *Server) instrumented(name string, next mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcplib.CallToolRequest) (result *mcplib.CallToolResult, err error) {
		agentID := argString(req.GetArguments(), "agent_id")
		ctx, span := otel.StartToolCallSpan(ctx, name, agentID)
		defer span.End()
		if s.deps.Metrics != nil {
			s.deps.Metrics.ToolCalls.Add(ctx, 1)
		}
		defer func() {
			if r := recover(); r != nil {
				result, err = errorResult(fmt.Errorf("%w: tool %s panicked: %v", domain.ErrUnavailable, name, r)), nil
			}
		}()
		return next(ctx, req)
	}
}

// --- argument extraction helpers -------------------------------------------------

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func argBool(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func argFloat(args map[string]any, key string, fallback float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}

func argInt(args map[string]any, key string, fallback int) int {
	return int(argFloat(args, key, float64(fallback)))
}

func argStringSlice(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

// --- result helpers ----------------------------------------------------------------

func errorResult(err error) *mcplib.CallToolResult {
	return mcplib.NewToolResultErrorFromErr("tool call failed", err)
}

// toolResultJSON wraps an already-marshaled JSON string as a tool result.
func toolResultJSON(s string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(s)
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Errorf("marshal result: %w", err))
	}
	return toolResultJSON(string(data))
}

// withIdentity stamps the caller's agent/machine ID (passed as explicit tool
// arguments, since MCP tool calls carry no transport-level identity beyond
// the session's bearer token) onto ctx so downstream service calls enforce
// visibility and stamp audit entries correctly.
func withIdentity(ctx context.Context, args map[string]any) context.Context {
	if id := argString(args, "agent_id"); id != "" {
		ctx = reqctx.WithAgentID(ctx, id)
	}
	if id := argString(args, "machine_id"); id != "" {
		ctx = reqctx.WithMachineID(ctx, id)
	}
	return ctx
}

// --- Memory Engine tools -------------------------------------------------------------

func (s *Server) memoryTools() []mcpserver.ServerTool {
	if s.deps.Memories == nil {
		return nil
	}
	m := s.deps.Memories

	return []mcpserver.ServerTool{
		{
			Tool: mcplib.NewTool("store",
				mcplib.WithDescription("Store a new memory in the fleet's shared store."),
				mcplib.WithString("content", mcplib.Required(), mcplib.Description("The memory content.")),
				mcplib.WithString("category", mcplib.Description("Routes the memory's embedding; unrecognized categories fall back to \"other\".")),
				mcplib.WithString("context", mcplib.Description("Freeform context for the memory.")),
				mcplib.WithString("project_id"),
				mcplib.WithString("user_id"),
				mcplib.WithString("machine_id", mcplib.Required()),
				mcplib.WithString("source_agent_id"),
				mcplib.WithString("confidentiality_level", mcplib.Description("One of normal, internal, confidential, pii. Defaults to normal.")),
				mcplib.WithArray("tags"),
				mcplib.WithString("session_id", mcplib.Description("MCP session ID; used to stamp format_version.")),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				formatVersion := memory.FormatV2
				if s.deps.Format != nil {
					formatVersion = s.deps.Format.StampVersion(argString(args, "session_id"))
				}
				mem, err := m.Store(ctx, service.StoreInput{
					Content:              argString(args, "content"),
					Category:             memory.Category(argString(args, "category")),
					Tags:                 argStringSlice(args, "tags"),
					Context:              argString(args, "context"),
					ProjectID:            argString(args, "project_id"),
					UserID:               argString(args, "user_id"),
					MachineID:            argString(args, "machine_id"),
					SourceAgentID:        argString(args, "source_agent_id"),
					ConfidentialityLevel: memory.ConfidentialityLevel(argString(args, "confidentiality_level")),
					FormatVersion:        formatVersion,
				})
				if err != nil {
					return errorResult(err), nil
				}
				return s.shapeMemoryResponse(args, mem), nil
			},
		},
		{
			Tool: mcplib.NewTool("retrieve",
				mcplib.WithDescription("Fetch a single memory by ID."),
				mcplib.WithString("id", mcplib.Required()),
				mcplib.WithString("session_id"),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				mem, err := m.Retrieve(ctx, argString(args, "id"))
				if err != nil {
					return errorResult(err), nil
				}
				return s.shapeMemoryResponse(args, mem), nil
			},
		},
		{
			Tool: mcplib.NewTool("update",
				mcplib.WithDescription("Apply a partial update to an existing memory."),
				mcplib.WithString("id", mcplib.Required()),
				mcplib.WithString("content"),
				mcplib.WithString("context"),
				mcplib.WithString("category"),
				mcplib.WithArray("tags"),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				patch := memory.UpdatePatch{Tags: argStringSlice(args, "tags")}
				if v := argString(args, "content"); v != "" {
					patch.Content = &v
				}
				if v := argString(args, "context"); v != "" {
					patch.Context = &v
				}
				if v := argString(args, "category"); v != "" {
					c := memory.Category(v)
					patch.Category = &c
				}
				mem, err := m.Update(ctx, argString(args, "id"), patch)
				if err != nil {
					return errorResult(err), nil
				}
				return jsonResult(mem), nil
			},
		},
		{
			Tool: mcplib.NewTool("update_confidentiality",
				mcplib.WithDescription("Ratchet a memory's confidentiality level up (never down)."),
				mcplib.WithString("id", mcplib.Required()),
				mcplib.WithString("confidentiality_level", mcplib.Required()),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				if err := m.UpdateConfidentiality(ctx, argString(args, "id"), memory.ConfidentialityLevel(argString(args, "confidentiality_level"))); err != nil {
					return errorResult(err), nil
				}
				return mcplib.NewToolResultText("ok"), nil
			},
		},
		{
			Tool: mcplib.NewTool("search",
				mcplib.WithDescription("Search memories by semantic, lexical, or hybrid similarity."),
				mcplib.WithString("query"),
				mcplib.WithString("mode", mcplib.Description("semantic, lexical, or hybrid; defaults to hybrid.")),
				mcplib.WithNumber("k", mcplib.Description("Result count; defaults to 10.")),
				mcplib.WithString("category"),
				mcplib.WithString("project_id"),
				mcplib.WithString("machine_id"),
				mcplib.WithString("agent_id"),
				mcplib.WithArray("tags"),
				mcplib.WithNumber("min_confidence"),
				mcplib.WithBoolean("exclude_confidential"),
				mcplib.WithString("session_id"),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				k := argInt(args, "k", 10)
				mode := memory.SearchMode(argString(args, "mode"))
				if mode == "" {
					mode = memory.SearchHybrid
				}
				results, err := m.Search(ctx, memory.SearchRequest{
					Query: argString(args, "query"),
					Mode:  mode,
					K:     k,
					Filters: memory.SearchFilters{
						Category:            memory.Category(argString(args, "category")),
						ProjectID:           argString(args, "project_id"),
						MachineID:           argString(args, "machine_id"),
						AgentID:             argString(args, "agent_id"),
						Tags:                argStringSlice(args, "tags"),
						MinConfidence:       argFloat(args, "min_confidence", 0),
						ExcludeConfidential: argBool(args, "exclude_confidential"),
					},
				})
				if err != nil {
					return errorResult(err), nil
				}
				return s.shapeMemoryResponse(args, results), nil
			},
		},
		{
			Tool: mcplib.NewTool("recent",
				mcplib.WithDescription("List memories created within a trailing time window."),
				mcplib.WithNumber("window_minutes", mcplib.Description("Defaults to 1440 (24h).")),
				mcplib.WithString("category"),
				mcplib.WithNumber("limit"),
				mcplib.WithString("session_id"),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				window := time.Duration(argFloat(args, "window_minutes", 1440)) * time.Minute
				results, err := m.Recent(ctx, window, memory.SearchFilters{Category: memory.Category(argString(args, "category"))}, argInt(args, "limit", 50))
				if err != nil {
					return errorResult(err), nil
				}
				return s.shapeMemoryResponse(args, results), nil
			},
		},
		{
			Tool: mcplib.NewTool("stats", mcplib.WithDescription("Summarize the memory store by lifecycle state, category, confidentiality, and format version.")),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				stats, err := m.Stats(ctx)
				if err != nil {
					return errorResult(err), nil
				}
				return jsonResult(stats), nil
			},
		},
		{
			Tool: mcplib.NewTool("delete",
				mcplib.WithDescription("Delete a memory. Soft by default (30-day recovery window); hard=true purges immediately."),
				mcplib.WithString("id", mcplib.Required()),
				mcplib.WithBoolean("hard"),
				mcplib.WithString("reason"),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				if err := m.Delete(ctx, argString(args, "id"), argBool(args, "hard"), reqctx.AgentID(ctx), argString(args, "reason")); err != nil {
					return errorResult(err), nil
				}
				return mcplib.NewToolResultText("ok"), nil
			},
		},
		{
			Tool: mcplib.NewTool("bulk_delete",
				mcplib.WithDescription("Delete multiple memories at once. Requires confirm=true."),
				mcplib.WithArray("ids", mcplib.Required()),
				mcplib.WithBoolean("hard"),
				mcplib.WithBoolean("confirm", mcplib.Required()),
				mcplib.WithString("reason"),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				n, err := m.BulkDelete(ctx, argStringSlice(args, "ids"), argBool(args, "hard"), reqctx.AgentID(ctx), argString(args, "reason"), argBool(args, "confirm"))
				if err != nil {
					return errorResult(err), nil
				}
				return jsonResult(map[string]int{"deleted": n}), nil
			},
		},
		{
			Tool: mcplib.NewTool("recover",
				mcplib.WithDescription("Recover a soft-deleted memory within its recovery window."),
				mcplib.WithString("id", mcplib.Required()),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				mem, err := m.Recover(ctx, argString(args, "id"))
				if err != nil {
					return errorResult(err), nil
				}
				return jsonResult(mem), nil
			},
		},
		{
			Tool: mcplib.NewTool("list_deleted",
				mcplib.WithDescription("List soft-deleted memories still within their recovery window."),
				mcplib.WithNumber("limit"),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				results, err := m.ListDeleted(ctx, argInt(args, "limit", 50))
				if err != nil {
					return errorResult(err), nil
				}
				return jsonResult(results), nil
			},
		},
		{
			Tool: mcplib.NewTool("detect_duplicates",
				mcplib.WithDescription("Scan a category's live memories for near-duplicate pairs by embedding similarity."),
				mcplib.WithString("category", mcplib.Required()),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				pairs, err := m.DetectDuplicates(ctx, memory.Category(argString(args, "category")))
				if err != nil {
					return errorResult(err), nil
				}
				return jsonResult(pairs), nil
			},
		},
		{
			Tool: mcplib.NewTool("merge_duplicates",
				mcplib.WithDescription("Merge duplicate memories into one survivor; the rest are hard-deleted."),
				mcplib.WithString("keep_id", mcplib.Required()),
				mcplib.WithArray("merge_ids", mcplib.Required()),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				n, err := m.MergeDuplicates(ctx, argString(args, "keep_id"), argStringSlice(args, "merge_ids"), reqctx.AgentID(ctx))
				if err != nil {
					return errorResult(err), nil
				}
				return jsonResult(map[string]int{"merged": n}), nil
			},
		},
		{
			Tool: mcplib.NewTool("cleanup_expired", mcplib.WithDescription("Purge soft-deleted memories whose recovery window has expired.")),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				n, err := m.SweepExpiredSoftDeletes(ctx)
				if err != nil {
					return errorResult(err), nil
				}
				return jsonResult(map[string]int{"purged": n}), nil
			},
		},
		{
			Tool: mcplib.NewTool("gdpr_export",
				mcplib.WithDescription("Export every memory attributable to a user ID, for a data-subject access request."),
				mcplib.WithString("user_id", mcplib.Required()),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				results, err := m.GDPRExport(ctx, argString(args, "user_id"))
				if err != nil {
					return errorResult(err), nil
				}
				return jsonResult(results), nil
			},
		},
		{
			Tool: mcplib.NewTool("gdpr_delete",
				mcplib.WithDescription("Hard-delete every memory attributable to a user ID. Requires confirm=true; irreversible."),
				mcplib.WithString("user_id", mcplib.Required()),
				mcplib.WithBoolean("confirm", mcplib.Required()),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				n, err := m.GDPRDelete(ctx, argString(args, "user_id"), argBool(args, "confirm"))
				if err != nil {
					return errorResult(err), nil
				}
				return jsonResult(map[string]int{"deleted": n}), nil
			},
		},
	}
}

// shapeMemoryResponse applies the Format Guide's response-shaping step: the
// first memory-returning call in a session gets the compact format
// reference prepended as a leading content block.
func (s *Server) shapeMemoryResponse(args map[string]any, payload any) *mcplib.CallToolResult {
	result := jsonResult(payload)
	if s.deps.Format == nil {
		return result
	}
	if ref, attach := s.deps.Format.OnMemoryReturningCall(argString(args, "session_id")); attach {
		result.Content = append([]mcplib.Content{mcplib.NewTextContent(ref)}, result.Content...)
	}
	return result
}

// --- Confidence Engine tools ---------------------------------------------------------

func (s *Server) confidenceTools() []mcpserver.ServerTool {
	if s.deps.Confidence == nil {
		return nil
	}
	c := s.deps.Confidence

	return []mcpserver.ServerTool{
		{
			Tool: mcplib.NewTool("score",
				mcplib.WithDescription("Compute and persist a memory's confidence score across the seven weighted factors."),
				mcplib.WithString("memory_id", mcplib.Required()),
				mcplib.WithString("query_context"),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				record, err := c.Score(ctx, argString(args, "memory_id"), argString(args, "query_context"))
				if err != nil {
					return errorResult(err), nil
				}
				return jsonResult(record), nil
			},
		},
		{
			Tool: mcplib.NewTool("verify",
				mcplib.WithDescription("Record a verification of a memory's validity: confirmed, still_valid, outdated, or incorrect."),
				mcplib.WithString("memory_id", mcplib.Required()),
				mcplib.WithString("kind", mcplib.Required()),
				mcplib.WithString("notes"),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				if err := c.Verify(ctx, argString(args, "memory_id"), confidence.VerificationKind(argString(args, "kind")), argString(args, "notes")); err != nil {
					return errorResult(err), nil
				}
				return mcplib.NewToolResultText("ok"), nil
			},
		},
		{
			Tool: mcplib.NewTool("vote",
				mcplib.WithDescription("Cast a weighed vote on a memory's correctness: agree, disagree, or unsure."),
				mcplib.WithString("memory_id", mcplib.Required()),
				mcplib.WithString("vote", mcplib.Required()),
				mcplib.WithNumber("confidence", mcplib.Required()),
				mcplib.WithString("reasoning"),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				v := confidence.Vote{
					MemoryID:     argString(args, "memory_id"),
					VoterAgentID: reqctx.AgentID(ctx),
					Vote:         confidence.VoteValue(argString(args, "vote")),
					Confidence:   argFloat(args, "confidence", 0),
					Reasoning:    argString(args, "reasoning"),
				}
				if err := c.Vote(ctx, v); err != nil {
					return errorResult(err), nil
				}
				return mcplib.NewToolResultText("ok"), nil
			},
		},
		{
			Tool: mcplib.NewTool("report_usage",
				mcplib.WithDescription("Report whether acting on a memory's advice succeeded, failed, or partially worked."),
				mcplib.WithString("memory_id", mcplib.Required()),
				mcplib.WithString("action", mcplib.Required()),
				mcplib.WithString("outcome", mcplib.Required(), mcplib.Description("success, failure, partial, or error.")),
				mcplib.WithString("details"),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				err := c.ReportUsage(ctx, confidence.UsageOutcome{
					MemoryID: argString(args, "memory_id"),
					AgentID:  reqctx.AgentID(ctx),
					Action:   argString(args, "action"),
					Outcome:  confidence.UsageOutcomeKind(argString(args, "outcome")),
					Details:  argString(args, "details"),
				})
				if err != nil {
					return errorResult(err), nil
				}
				return mcplib.NewToolResultText("ok"), nil
			},
		},
		{
			Tool: mcplib.NewTool("search_high_confidence",
				mcplib.WithDescription("Search memories, filtering out anything below a minimum confidence score."),
				mcplib.WithString("query", mcplib.Required()),
				mcplib.WithNumber("min_confidence", mcplib.Description("Defaults to 0.7.")),
				mcplib.WithNumber("k"),
				mcplib.WithString("category"),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				results, err := c.SearchHighConfidence(ctx, memory.SearchRequest{
					Query:   argString(args, "query"),
					K:       argInt(args, "k", 10),
					Filters: memory.SearchFilters{Category: memory.Category(argString(args, "category"))},
				}, argFloat(args, "min_confidence", 0.7))
				if err != nil {
					return errorResult(err), nil
				}
				return jsonResult(results), nil
			},
		},
		{
			Tool: mcplib.NewTool("flag_outdated",
				mcplib.WithDescription("Flag memories in a category whose freshness factor has dropped below a threshold."),
				mcplib.WithString("category", mcplib.Required()),
				mcplib.WithNumber("freshness_threshold", mcplib.Description("Defaults to 0.3.")),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				results, err := c.FlagOutdated(ctx, memory.Category(argString(args, "category")), argFloat(args, "freshness_threshold", 0.3))
				if err != nil {
					return errorResult(err), nil
				}
				return jsonResult(results), nil
			},
		},
		{
			Tool: mcplib.NewTool("resolve_contradiction",
				mcplib.WithDescription("Manually resolve an open contradiction in favor of one of its two memories."),
				mcplib.WithString("contradiction_id", mcplib.Required()),
				mcplib.WithString("winner_id", mcplib.Required()),
				mcplib.WithString("reason"),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				if err := c.ResolveContradiction(ctx, argString(args, "contradiction_id"), argString(args, "winner_id"), argString(args, "reason")); err != nil {
					return errorResult(err), nil
				}
				return mcplib.NewToolResultText("ok"), nil
			},
		},
		{
			Tool: mcplib.NewTool("get_agent_credibility",
				mcplib.WithDescription("Look up an agent's credibility score in a category."),
				mcplib.WithString("agent_id", mcplib.Required()),
				mcplib.WithString("category", mcplib.Required()),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				cred, err := c.GetAgentCredibility(ctx, argString(args, "agent_id"), argString(args, "category"))
				if err != nil {
					return errorResult(err), nil
				}
				return jsonResult(cred), nil
			},
		},
	}
}

// --- Agent Registry tools ------------------------------------------------------------

func (s *Server) agentTools() []mcpserver.ServerTool {
	if s.deps.Agents == nil {
		return nil
	}
	a := s.deps.Agents

	return []mcpserver.ServerTool{
		{
			Tool: mcplib.NewTool("register_agent",
				mcplib.WithDescription("Register an agent with the fleet, or refresh its registration."),
				mcplib.WithString("agent_id", mcplib.Required()),
				mcplib.WithString("machine_id", mcplib.Required()),
				mcplib.WithString("role", mcplib.Required()),
				mcplib.WithString("description"),
				mcplib.WithArray("capabilities"),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				registered, err := a.Register(ctx, agent.RegisterRequest{
					AgentID:      argString(args, "agent_id"),
					MachineID:    argString(args, "machine_id"),
					Role:         argString(args, "role"),
					Description:  argString(args, "description"),
					Capabilities: argStringSlice(args, "capabilities"),
				})
				if err != nil {
					return errorResult(err), nil
				}
				return jsonResult(registered), nil
			},
		},
		{
			Tool: mcplib.NewTool("roster",
				mcplib.WithDescription("List registered agents, optionally filtered by role, capability, machine, or status."),
				mcplib.WithString("role"),
				mcplib.WithString("capability"),
				mcplib.WithString("machine_id"),
				mcplib.WithString("status"),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				agents, err := a.Roster(ctx, service.RosterFilter{
					Role:       argString(args, "role"),
					Capability: argString(args, "capability"),
					MachineID:  argString(args, "machine_id"),
					Status:     agent.Status(argString(args, "status")),
				})
				if err != nil {
					return errorResult(err), nil
				}
				return jsonResult(agents), nil
			},
		},
		{
			Tool: mcplib.NewTool("delegate",
				mcplib.WithDescription("Delegate a task to the best-credentialed agent covering its required capabilities."),
				mcplib.WithString("description", mcplib.Required()),
				mcplib.WithArray("required_capabilities"),
				mcplib.WithString("priority", mcplib.Description("low, normal, high, or critical; defaults to normal.")),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				t, err := a.Delegate(ctx, task.CreateRequest{
					Description:          argString(args, "description"),
					RequiredCapabilities: argStringSlice(args, "required_capabilities"),
					Priority:             task.Priority(argString(args, "priority")),
					CreatedBy:            reqctx.AgentID(ctx),
				})
				if err != nil {
					return errorResult(err), nil
				}
				return jsonResult(t), nil
			},
		},
		{
			Tool: mcplib.NewTool("query_agent",
				mcplib.WithDescription("Ask another online agent a question and wait for its answer, up to a 10s timeout."),
				mcplib.WithString("agent_id", mcplib.Required()),
				mcplib.WithString("question", mcplib.Required()),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				answer, err := a.QueryAgent(ctx, argString(args, "agent_id"), argString(args, "question"))
				if err != nil {
					return errorResult(err), nil
				}
				return mcplib.NewToolResultText(answer), nil
			},
		},
		{
			Tool: mcplib.NewTool("broadcast",
				mcplib.WithDescription("Broadcast a message to the fleet as a shared memory."),
				mcplib.WithString("message", mcplib.Required()),
				mcplib.WithString("category"),
				mcplib.WithString("severity", mcplib.Description("info, warning, or critical; defaults to info.")),
				mcplib.WithString("confidentiality_level"),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				mem, err := a.Broadcast(ctx, service.BroadcastInput{
					Message:              argString(args, "message"),
					Category:             memory.Category(argString(args, "category")),
					Severity:             argString(args, "severity"),
					ConfidentialityLevel: memory.ConfidentialityLevel(argString(args, "confidentiality_level")),
					FromAgentID:          reqctx.AgentID(ctx),
					FromMachineID:        reqctx.MachineID(ctx),
				})
				if err != nil {
					return errorResult(err), nil
				}
				return jsonResult(mem), nil
			},
		},
	}
}

// --- Infrastructure niceties (thin wrappers over memory categories) ------------------

// infraTools are convenience wrappers that store category-routed memories
// under fixed infrastructure categories, so agents don't need to remember
// the right category string for common ops work.
func (s *Server) infraTools() []mcpserver.ServerTool {
	if s.deps.Memories == nil {
		return nil
	}
	m := s.deps.Memories

	categoryStoreTool := func(name, description string, category memory.Category) mcpserver.ServerTool {
		return mcpserver.ServerTool{
			Tool: mcplib.NewTool(name,
				mcplib.WithDescription(description),
				mcplib.WithString("content", mcplib.Required()),
				mcplib.WithString("machine_id", mcplib.Required()),
				mcplib.WithString("project_id"),
				mcplib.WithArray("tags"),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				ctx = withIdentity(ctx, args)
				mem, err := m.Store(ctx, service.StoreInput{
					Content:       argString(args, "content"),
					Category:      category,
					Tags:          argStringSlice(args, "tags"),
					ProjectID:     argString(args, "project_id"),
					MachineID:     argString(args, "machine_id"),
					SourceAgentID: reqctx.AgentID(ctx),
				})
				if err != nil {
					return errorResult(err), nil
				}
				return jsonResult(mem), nil
			},
		}
	}

	return []mcpserver.ServerTool{
		categoryStoreTool("track_infrastructure_state", "Record a point-in-time fact about shared infrastructure (hosts, services, topology).", memory.CategoryInfrastructure),
		categoryStoreTool("record_incident", "Record an incident for the fleet's shared incident history.", memory.CategoryIncidents),
		categoryStoreTool("generate_runbook", "Store a runbook for a recurring operational procedure.", memory.CategoryRunbooks),
		categoryStoreTool("sync_ssh_config", "Record an SSH host/config fact so other agents in the fleet can reuse it.", memory.CategoryInfrastructure),
	}
}

// --- Format Guide tools --------------------------------------------------------------

func (s *Server) formatGuideTools() []mcpserver.ServerTool {
	if s.deps.Format == nil {
		return nil
	}
	fg := s.deps.Format

	return []mcpserver.ServerTool{
		{
			Tool: mcplib.NewTool("get_format_guide", mcplib.WithDescription("Return the hAIveMind memory format reference directly, regardless of session state.")),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				return mcplib.NewToolResultText(fg.GetFormatGuide()), nil
			},
		},
		{
			Tool: mcplib.NewTool("get_memory_access_stats",
				mcplib.WithDescription("Report how many memory-returning calls a session has made."),
				mcplib.WithString("session_id", mcplib.Required()),
			),
			Handler: func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
				args := req.GetArguments()
				return jsonResult(map[string]int{"access_count": fg.AccessStats(argString(args, "session_id"))}), nil
			},
		},
	}
}
