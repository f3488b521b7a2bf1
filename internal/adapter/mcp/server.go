// Package mcp exposes hAIveMind's memory, confidence, and agent-registry
// operations to AI agents over the Model Context Protocol: a stdio
// JSON-RPC transport for single-client sessions, and an HTTP+SSE transport
// for multi-client fleets behind bearer-token auth.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/lancejames221b/haivemind/internal/adapter/otel"
	"github.com/lancejames221b/haivemind/internal/middleware"
	"github.com/lancejames221b/haivemind/internal/service"
)

// ServerConfig configures the MCP facade's identity and HTTP+SSE bind
// address. Addr is empty for a stdio-only session.
type ServerConfig struct {
	Addr           string
	Name           string
	Version        string
	BearerToken    string // required on the HTTP+SSE transport when non-empty
	RateLimitRPS   float64
	RateLimitBurst int
}

// ServerDeps wires the facade to the services that back its tool and
// resource handlers. A nil field leaves the tools that depend on it
// unregistered; the resources that depend on it return an error payload
// rather than panicking.
type ServerDeps struct {
	Memories   *service.MemoryEngine
	Confidence *service.ConfidenceEngine
	Agents     *service.AgentRegistry
	Format     *service.FormatGuide
	Sync       *service.SyncService // optional; nil reports peer_count 0 on /health
	Metrics    *otel.Metrics        // optional; nil disables tool-call metrics
}

// Server hosts the MCP tool/resource registry and both transports.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	sse       *mcpserver.SSEServer
	httpSrv   *http.Server
	listener  net.Listener
	stopLimit func()
}

// NewServer builds the tool/resource registry against deps. The registry is
// populated eagerly so MCPServer().ListTools() reflects the full surface
// immediately, before Start is ever called.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	mcpServer := mcpserver.NewMCPServer(cfg.Name, cfg.Version)
	s := &Server{cfg: cfg, deps: deps, mcpServer: mcpServer}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer exposes the underlying mcp-go server, mainly for tests that
// drive registered tool handlers directly.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio runs the stdio JSON-RPC transport for one session, blocking
// until the client disconnects or ctx is cancelled. The process boundary is
// the trust boundary here: no additional authentication is layered on top.
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcpserver.ServeStdio(s.mcpServer, mcpserver.WithStdioContextFunc(func(context.Context) context.Context { return ctx }))
}

// Start launches the HTTP+SSE transport in the background. It binds the
// listener synchronously so a port conflict is reported to the caller
// immediately; serving happens in a goroutine so Start never blocks. An
// empty Addr (no HTTP transport configured) is a no-op.
func (s *Server) Start() error {
	if s.cfg.Addr == "" {
		slog.Info("mcp server: no HTTP address configured, HTTP+SSE transport disabled")
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln

	s.sse = mcpserver.NewSSEServer(s.mcpServer,
		mcpserver.WithSSEEndpoint("/sse"),
		mcpserver.WithMessageEndpoint("/mcp"),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/", s.sse)

	var handler http.Handler = mux
	handler = AuthMiddleware(s.cfg.BearerToken, handler)
	if s.cfg.RateLimitRPS > 0 {
		limiter := middleware.NewRateLimiter(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst)
		s.stopLimit = limiter.StartCleanup(time.Minute, 10*time.Minute)
		handler = limiter.Handler(handler)
	}
	handler = middleware.RequestID(handler)
	handler = otel.HTTPMiddleware(s.cfg.Name)(handler)

	s.httpSrv = &http.Server{Handler: handler}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("mcp http+sse server stopped unexpectedly", "error", err)
		}
	}()

	slog.Info("mcp server: http+sse transport listening", "addr", ln.Addr().String())
	return nil
}

// Stop gracefully shuts down the HTTP+SSE transport, if it was started.
func (s *Server) Stop(ctx context.Context) error {
	if s.stopLimit != nil {
		s.stopLimit()
	}
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

var startedAt = time.Now()

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	peerCount := 0
	if s.deps.Sync != nil {
		peerCount = s.deps.Sync.PeerCount()
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","build":%q,"uptime_s":%d,"peer_count":%d}`,
		s.cfg.Version, int(time.Since(startedAt).Seconds()), peerCount)
}
