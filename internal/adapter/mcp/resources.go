package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/lancejames221b/haivemind/internal/service"
)

// registerResources registers all MCP resources on the server. Resources
// are read-only snapshots, unlike tools, which may mutate fleet state.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"haivemind://stats",
			"Memory Stats",
			mcplib.WithResourceDescription("Lifecycle, category, confidentiality, and format-version breakdown of the memory store"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStatsResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"haivemind://agents/roster",
			"Agent Roster",
			mcplib.WithResourceDescription("All agents registered with the fleet and their current status"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRosterResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"haivemind://format-guide",
			"Format Guide",
			mcplib.WithResourceDescription("The compact memory format reference"),
			mcplib.WithMIMEType("text/plain"),
		),
		s.handleFormatGuideResource,
	)
}

func (s *Server) handleStatsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Memories == nil {
		return errorResourceContents(req, "memory engine not configured"), nil
	}
	stats, err := s.deps.Memories.Stats(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return nil, err
	}
	return textResourceContents(req, "application/json", string(data)), nil
}

func (s *Server) handleRosterResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Agents == nil {
		return errorResourceContents(req, "agent registry not configured"), nil
	}
	agents, err := s.deps.Agents.Roster(ctx, service.RosterFilter{})
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(agents)
	if err != nil {
		return nil, err
	}
	return textResourceContents(req, "application/json", string(data)), nil
}

func (s *Server) handleFormatGuideResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Format == nil {
		return errorResourceContents(req, "format guide not configured"), nil
	}
	return textResourceContents(req, "text/plain", s.deps.Format.GetFormatGuide()), nil
}

func textResourceContents(req mcplib.ReadResourceRequest, mimeType, text string) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: mimeType,
			Text:     text,
		},
	}
}

func errorResourceContents(req mcplib.ReadResourceRequest, message string) []mcplib.ResourceContents {
	data, _ := json.Marshal(map[string]string{"error": message})
	return textResourceContents(req, "application/json", string(data))
}
