// Package httpserver exposes the peer-sync RPC surface (POST /sync/push,
// GET /sync/status), a fleet health check, and a live SSE event feed over
// chi. It is the node's peer-to-peer face, separate from the MCP facade's
// own HTTP+SSE transport, which speaks JSON-RPC to agent clients rather
// than to other hAIveMind nodes.
package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/lancejames221b/haivemind/internal/adapter/mcp"
	"github.com/lancejames221b/haivemind/internal/adapter/otel"
	"github.com/lancejames221b/haivemind/internal/adapter/sse"
	"github.com/lancejames221b/haivemind/internal/domain"
	"github.com/lancejames221b/haivemind/internal/domain/syncevent"
	"github.com/lancejames221b/haivemind/internal/logger"
	"github.com/lancejames221b/haivemind/internal/middleware"
	"github.com/lancejames221b/haivemind/internal/service"
)

// maxPushBodyBytes bounds a single /sync/push request body.
const maxPushBodyBytes = 4 << 20 // 4 MiB

// Config configures the sync HTTP server's bind address, auth, and CORS.
type Config struct {
	Addr           string
	CORSOrigin     string
	BearerTokens   []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Handlers wires the sync RPC surface to the services and live-event hub
// that back it.
type Handlers struct {
	Sync *service.SyncService
	Hub  *sse.Hub
}

// New builds the chi router for the sync HTTP server: auth and rate
// limiting wrap the whole surface except /health, which fleet monitoring
// needs to reach unauthenticated.
func New(cfg Config, h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(cors(cfg.CORSOrigin))
	r.Use(otel.HTTPMiddleware("haivemind-sync"))

	r.Get("/health", h.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return mcp.AuthMiddlewareMulti(cfg.BearerTokens, next)
		})
		if cfg.RateLimitRPS > 0 {
			limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
			limiter.StartCleanup(time.Minute, 10*time.Minute)
			r.Use(limiter.Handler)
		}

		r.Post("/sync/push", h.handleSyncPush)
		r.Get("/sync/status", h.handleSyncStatus)
		if h.Hub != nil {
			r.Get("/events", h.Hub.ServeHTTP)
		}
	})

	return r
}

func (h *Handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	peerCount := 0
	if h.Sync != nil {
		peerCount = h.Sync.PeerCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"peer_count": peerCount,
	})
}

func (h *Handlers) handleSyncPush(w http.ResponseWriter, r *http.Request) {
	if h.Sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync service not configured")
		return
	}

	var events []syncevent.Event
	r.Body = http.MaxBytesReader(w, r.Body, maxPushBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	results, err := h.Sync.HandlePush(r.Context(), events)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handlers) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if h.Sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync service not configured")
		return
	}
	status, err := h.Sync.Status(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// --- response helpers ---

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("httpserver: failed to write json response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrConflictDetected):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrTryAgainLater):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.Error("httpserver: unhandled error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func cors(allowedOrigin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		slog.Info("sync http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", logger.RequestID(r.Context()),
		)
	})
}
