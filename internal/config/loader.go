package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "haivemind.yaml"

// CLIFlags holds command-line flag values. Nil pointers indicate unset flags
// that should not override the config. Use ParseFlags to populate this struct.
type CLIFlags struct {
	ConfigPath *string
	Port       *int
	LogLevel   *string
	DSN        *string
	CacheURI   *string
	SyncPort   *int
}

// ParseFlags parses command-line arguments into CLIFlags.
// Call this before Load/LoadWithCLI. Passing nil args parses os.Args[1:].
func ParseFlags(args []string) (CLIFlags, error) {
	var flags CLIFlags

	fs := flag.NewFlagSet("haivemind", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	fs.StringVar(configPath, "c", "", "path to YAML config file (shorthand)")
	port := fs.Int("port", 0, "MCP HTTP transport port")
	fs.IntVar(port, "p", 0, "MCP HTTP transport port (shorthand)")
	logLevel := fs.String("log-level", "", "logging level (debug, info, warn, error)")
	dsn := fs.String("dsn", "", "PostgreSQL connection string for metadata storage")
	cacheURI := fs.String("cache-uri", "", "NATS server URL")
	syncPort := fs.Int("sync-port", 0, "peer sync RPC listener port")

	if err := fs.Parse(args); err != nil {
		return flags, fmt.Errorf("parse flags: %w", err)
	}

	// Only set pointers for flags that were explicitly provided.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			flags.ConfigPath = configPath
		case "port", "p":
			flags.Port = port
		case "log-level":
			flags.LogLevel = logLevel
		case "dsn":
			flags.DSN = dsn
		case "cache-uri":
			flags.CacheURI = cacheURI
		case "sync-port":
			flags.SyncPort = syncPort
		}
	})

	return flags, nil
}

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadWithCLI returns a Config using the full hierarchy:
// defaults < YAML < ENV < CLI flags. The YAML path can be overridden
// via CLIFlags.ConfigPath.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	yamlPath := DefaultConfigFile
	if flags.ConfigPath != nil {
		yamlPath = *flags.ConfigPath
	}

	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, "", fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, "", fmt.Errorf("config validate: %w", err)
	}

	return &cfg, yamlPath, nil
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// applyCLI overlays CLI flag values onto cfg. Only non-nil flags override.
func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.DSN != nil {
		cfg.Storage.MetadataDSN = *flags.DSN
	}
	if flags.CacheURI != nil {
		cfg.Storage.CacheURI = *flags.CacheURI
	}
	if flags.SyncPort != nil {
		cfg.Sync.Port = *flags.SyncPort
	}
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Host, "HAIVEMIND_SERVER_HOST")
	setInt(&cfg.Server.Port, "HAIVEMIND_SERVER_PORT")
	setString(&cfg.Server.CORSOrigin, "HAIVEMIND_CORS_ORIGIN")

	setInt(&cfg.Sync.Port, "HAIVEMIND_SYNC_PORT")

	setString(&cfg.Storage.MetadataDSN, "DATABASE_URL")
	setInt32(&cfg.Storage.MaxConns, "HAIVEMIND_PG_MAX_CONNS")
	setInt32(&cfg.Storage.MinConns, "HAIVEMIND_PG_MIN_CONNS")
	setDuration(&cfg.Storage.MaxConnLifetime, "HAIVEMIND_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Storage.MaxConnIdleTime, "HAIVEMIND_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Storage.HealthCheck, "HAIVEMIND_PG_HEALTH_CHECK")
	setString(&cfg.Storage.VectorRoot, "HAIVEMIND_VECTOR_ROOT")
	setString(&cfg.Storage.CacheURI, "NATS_URL")
	setString(&cfg.Storage.CachePassword, "HAIVEMIND_CACHE_PASSWORD")

	setInt(&cfg.SoftDelete.TTLDays, "HAIVEMIND_SOFT_DELETE_TTL_DAYS")
	setInt(&cfg.HardDelete.TombstoneGraceDays, "HAIVEMIND_HARD_DELETE_GRACE_DAYS")
	setFloat64(&cfg.Dedup.SimilarityThreshold, "HAIVEMIND_DEDUP_SIMILARITY_THRESHOLD")
	setFloat64(&cfg.Search.HybridAlpha, "HAIVEMIND_SEARCH_HYBRID_ALPHA")

	setString(&cfg.Logging.Level, "HAIVEMIND_LOG_LEVEL")
	setString(&cfg.Logging.Service, "HAIVEMIND_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "HAIVEMIND_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "HAIVEMIND_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "HAIVEMIND_BREAKER_TIMEOUT")

	setFloat64(&cfg.MCP.HTTPRateLimitRPS, "HAIVEMIND_MCP_RATE_RPS")
	setInt(&cfg.MCP.HTTPBurst, "HAIVEMIND_MCP_RATE_BURST")
	setInt(&cfg.MCP.HTTPMaxConcurrent, "HAIVEMIND_MCP_MAX_CONCURRENT")
	setStringSlice(&cfg.MCP.ToolAllowList, "HAIVEMIND_MCP_TOOL_ALLOW_LIST")

	setBool(&cfg.PII.AuditEnabled, "HAIVEMIND_PII_AUDIT_ENABLED")
	setStringSlice(&cfg.PII.AllowedMachines, "HAIVEMIND_PII_ALLOWED_MACHINES")

	setString(&cfg.Embedding.URL, "HAIVEMIND_EMBEDDING_URL")
	setString(&cfg.Embedding.Model, "HAIVEMIND_EMBEDDING_MODEL")
	setInt(&cfg.Embedding.Dimension, "HAIVEMIND_EMBEDDING_DIMENSION")
	setString(&cfg.Embedding.MasterKey, "HAIVEMIND_EMBEDDING_MASTER_KEY")

	setInt64(&cfg.Cache.L1MaxSizeMB, "HAIVEMIND_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "HAIVEMIND_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "HAIVEMIND_CACHE_L2_TTL")

	setString(&cfg.Notification.SlackWebhookURL, "HAIVEMIND_NOTIFICATION_SLACK_WEBHOOK_URL")
	setStringSlice(&cfg.Notification.EnabledSeverity, "HAIVEMIND_NOTIFICATION_ENABLED_SEVERITY")

	setBool(&cfg.OTEL.Enabled, "HAIVEMIND_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "HAIVEMIND_OTEL_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "HAIVEMIND_OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "HAIVEMIND_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "HAIVEMIND_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set and security constraints are met.
func validate(cfg *Config) error {
	if cfg.Server.Port == 0 {
		return errors.New("server.port is required")
	}
	if cfg.Storage.MetadataDSN == "" {
		return errors.New("storage.metadata_dsn is required")
	}
	if cfg.Storage.CacheURI == "" {
		return errors.New("storage.cache_uri is required")
	}
	if cfg.Storage.MaxConns < 1 {
		return errors.New("storage.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.MCP.HTTPBurst < 1 {
		return errors.New("mcp.http_burst must be >= 1")
	}
	if cfg.SoftDelete.TTLDays < 1 {
		return errors.New("soft_delete.ttl_days must be >= 1")
	}
	if cfg.Dedup.SimilarityThreshold <= 0 || cfg.Dedup.SimilarityThreshold > 1 {
		return errors.New("dedup.similarity_threshold must be in (0, 1]")
	}
	if cfg.Search.HybridAlpha < 0 || cfg.Search.HybridAlpha > 1 {
		return errors.New("search.hybrid_alpha must be in [0, 1]")
	}

	if sum := sumWeights(cfg.Confidence.Weights); len(cfg.Confidence.Weights) > 0 && math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("confidence.weights must sum to 1.0 (±0.01), got %.4f", sum)
	}

	if cfg.PII.AuditEnabled && len(cfg.PII.AllowedMachines) == 0 {
		slog.Warn("pii.audit_enabled is true but pii.allowed_machines is empty; no machine may access pii-level memories")
	}

	return nil
}

func sumWeights(weights map[string]float64) float64 {
	var sum float64
	for _, w := range weights {
		sum += w
	}
	return sum
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.Split(v, ",")
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
