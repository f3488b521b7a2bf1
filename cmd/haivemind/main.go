// Command haivemind runs one node of the distributed agent memory hub: the
// MCP facade agents talk to, the peer-to-peer sync RPC other nodes talk to,
// and the background services that back both.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/lancejames221b/haivemind/internal/adapter/embedding"
	"github.com/lancejames221b/haivemind/internal/adapter/httpserver"
	"github.com/lancejames221b/haivemind/internal/adapter/mcp"
	natsadapter "github.com/lancejames221b/haivemind/internal/adapter/nats"
	"github.com/lancejames221b/haivemind/internal/adapter/natskv"
	otelmetrics "github.com/lancejames221b/haivemind/internal/adapter/otel"
	"github.com/lancejames221b/haivemind/internal/adapter/peersync"
	"github.com/lancejames221b/haivemind/internal/adapter/pgvector"
	"github.com/lancejames221b/haivemind/internal/adapter/postgres"
	"github.com/lancejames221b/haivemind/internal/adapter/ristretto"
	"github.com/lancejames221b/haivemind/internal/adapter/slack"
	"github.com/lancejames221b/haivemind/internal/adapter/sse"
	"github.com/lancejames221b/haivemind/internal/adapter/tiered"
	"github.com/lancejames221b/haivemind/internal/config"
	"github.com/lancejames221b/haivemind/internal/logger"
	"github.com/lancejames221b/haivemind/internal/resilience"
	"github.com/lancejames221b/haivemind/internal/secrets"
	"github.com/lancejames221b/haivemind/internal/service"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.ParseFlags(nil)
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	cfg, yamlPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := loadVaultSecrets(cfg); err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	holder := config.NewHolder(cfg, yamlPath)

	closer := setupLogging(cfg.Logging)
	defer closer.Close()

	selfMachineID := resolveMachineID()
	slog.Info("config loaded",
		"machine_id", selfMachineID,
		"server_port", cfg.Server.Port,
		"sync_port", cfg.Sync.Port,
		"peers", len(cfg.Sync.Peers),
	)

	ctx := context.Background()

	shutdownOTEL, err := otelmetrics.InitTracer(otelmetrics.OTELConfig{
		Enabled:     cfg.OTEL.Enabled,
		Endpoint:    cfg.OTEL.Endpoint,
		ServiceName: cfg.OTEL.ServiceName,
		Insecure:    cfg.OTEL.Insecure,
		SampleRate:  cfg.OTEL.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	metrics, err := otelmetrics.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Storage.MetadataDSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := natsadapter.Connect(ctx, cfg.Storage.CacheURI)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	queueBreaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	queue.SetBreaker(queueBreaker)

	store := postgres.NewStore(pool)
	vectors := pgvector.NewStore(pool)

	embeddingClient := embedding.NewClient(cfg.Embedding)
	embeddingClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("ristretto l1 cache: %w", err)
	}
	kv, err := queue.JetStream().CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: cfg.Cache.L2Bucket,
		TTL:    cfg.Cache.L2TTL,
	})
	if err != nil {
		return fmt.Errorf("nats kv bucket: %w", err)
	}
	tieredCache := tiered.New(l1, natskv.New(kv), cfg.Cache.L2TTL)
	cachedEmbeddings := embedding.NewCachingProvider(embeddingClient, tieredCache, cfg.Cache.L2TTL)

	peerFactory := peersync.NewFactory(10 * time.Second)
	peerFactory.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	var agentNotifier *slack.Notifier
	if cfg.Notification.SlackWebhookURL != "" {
		agentNotifier = slack.NewNotifier(cfg.Notification.SlackWebhookURL)
	}

	// --- Services ---

	memories := service.NewMemoryEngine(store, vectors, cachedEmbeddings, queue,
		cfg.Dedup.SimilarityThreshold, dayDuration(cfg.SoftDelete.TTLDays), dayDuration(cfg.HardDelete.TombstoneGraceDays), cfg.Search.HybridAlpha)
	confidence := service.NewConfidenceEngine(store, memories, cfg.Categories, cfg.Confidence.Weights)
	agents := service.NewAgentRegistry(store, queue, memories, agentNotifier, selfMachineID)
	formatGuide := service.NewFormatGuide()
	sync := service.NewSyncService(store, queue, memories, peerFactory, cfg.Sync.Peers, selfMachineID)

	memories.SetMetrics(metrics)
	confidence.SetMetrics(metrics)
	sync.SetMetrics(metrics)

	hub := sse.NewHub()
	agents.SetBroadcaster(hub)

	cancelRelay, err := sync.StartRelay(ctx)
	if err != nil {
		return fmt.Errorf("sync relay: %w", err)
	}
	if err := sync.Bootstrap(ctx); err != nil {
		slog.Warn("sync bootstrap failed, continuing with an empty peer checkpoint", "error", err)
	}

	// --- MCP facade (agent-facing) ---

	mcpCfg := holder.Get().MCP
	mcpServer := mcp.NewServer(mcp.ServerConfig{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Name:           "haivemind",
		Version:        "0.1.0",
		BearerToken:    firstOrEmpty(mcpCfg.BearerTokens),
		RateLimitRPS:   mcpCfg.HTTPRateLimitRPS,
		RateLimitBurst: mcpCfg.HTTPBurst,
	}, mcp.ServerDeps{
		Memories:   memories,
		Confidence: confidence,
		Agents:     agents,
		Format:     formatGuide,
		Sync:       sync,
		Metrics:    metrics,
	})
	if err := mcpServer.Start(); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	// --- Sync HTTP server (peer-facing) ---

	syncAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Sync.Port)
	syncSrv := &http.Server{
		Addr: syncAddr,
		Handler: httpserver.New(httpserver.Config{
			Addr:           syncAddr,
			CORSOrigin:     cfg.Server.CORSOrigin,
			BearerTokens:   mcpCfg.BearerTokens,
			RateLimitRPS:   mcpCfg.HTTPRateLimitRPS,
			RateLimitBurst: mcpCfg.HTTPBurst,
		}, &httpserver.Handlers{Sync: sync, Hub: hub}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("sync http server listening", "addr", syncAddr)
		if err := syncSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("sync http server stopped unexpectedly", "error", err)
		}
	}()

	// --- SIGHUP config reload, SIGINT/SIGTERM shutdown ---

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := holder.Reload(); err != nil {
				slog.Error("config reload failed", "error", err)
			} else {
				slog.Info("config reloaded")
			}
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done

	// --- Ordered graceful shutdown ---

	slog.Info("shutdown phase 1: stopping MCP and sync HTTP transports")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := mcpServer.Stop(shutdownCtx); err != nil {
		slog.Error("mcp shutdown error", "error", err)
	}
	if err := syncSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("sync http shutdown error", "error", err)
	}

	slog.Info("shutdown phase 2: cancelling sync relay")
	cancelRelay()

	slog.Info("shutdown phase 3: draining NATS connection")
	if err := queue.Drain(); err != nil {
		slog.Error("nats drain error", "error", err)
	}

	slog.Info("shutdown phase 4: closing database pool")
	pool.Close()
	l1.Close()

	if err := shutdownOTEL(shutdownCtx); err != nil {
		slog.Error("otel shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func setupLogging(cfg config.Logging) logger.Closer {
	l, closer := logger.New(cfg)
	slog.SetDefault(l)
	return closer
}

// resolveMachineID identifies this node for vector-clock and fleet-roster
// purposes. HAIVEMIND_MACHINE_ID overrides the hostname for deployments
// where the hostname is not stable (e.g. container restarts).
func resolveMachineID() string {
	if id := os.Getenv("HAIVEMIND_MACHINE_ID"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown-machine"
	}
	return host
}

// loadVaultSecrets fills the config fields intentionally left out of the
// YAML/env hierarchy (internal/config/config.go marks them `yaml:"-"`): the
// MCP bearer token pool and each peer's sync auth token. These come from the
// env-backed secrets.Vault rather than plain os.Getenv so they get the
// vault's redaction support if they ever end up in an error message or log.
func loadVaultSecrets(cfg *config.Config) error {
	keys := []string{bearerTokensEnvKey}
	peerKeys := make([]string, len(cfg.Sync.Peers))
	for i, p := range cfg.Sync.Peers {
		peerKeys[i] = peerTokenEnvKey(p.MachineID)
		keys = append(keys, peerKeys[i])
	}

	vault, err := secrets.NewVault(secrets.EnvLoader(keys...))
	if err != nil {
		return fmt.Errorf("load secrets: %w", err)
	}

	if v := vault.Get(bearerTokensEnvKey); v != "" {
		cfg.MCP.BearerTokens = strings.Split(v, ",")
	}
	for i, key := range peerKeys {
		if v := vault.Get(key); v != "" {
			cfg.Sync.Peers[i].Token = v
		}
	}
	return nil
}

const bearerTokensEnvKey = "HAIVEMIND_MCP_BEARER_TOKENS"

func peerTokenEnvKey(machineID string) string {
	return "HAIVEMIND_PEER_TOKEN_" + strings.ToUpper(strings.ReplaceAll(machineID, "-", "_"))
}

func firstOrEmpty(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	return tokens[0]
}

func dayDuration(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}

