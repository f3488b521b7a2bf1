package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != 8900 {
		t.Errorf("expected port 8900, got %d", cfg.Server.Port)
	}
	if cfg.Storage.MaxConns != 15 {
		t.Errorf("expected max_conns 15, got %d", cfg.Storage.MaxConns)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: 9090
  cors_origin: "http://example.com"
storage:
  max_conns: 20
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.CORSOrigin != "http://example.com" {
		t.Errorf("expected cors http://example.com, got %s", cfg.Server.CORSOrigin)
	}
	if cfg.Storage.MaxConns != 20 {
		t.Errorf("expected max_conns 20, got %d", cfg.Storage.MaxConns)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.Storage.CacheURI != "nats://localhost:4222" {
		t.Errorf("expected default cache URI, got %s", cfg.Storage.CacheURI)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	err := loadYAML(&cfg, "/nonexistent/path.yaml")
	if err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("HAIVEMIND_SERVER_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("HAIVEMIND_PG_MAX_CONNS", "25")
	t.Setenv("HAIVEMIND_LOG_LEVEL", "warn")
	t.Setenv("HAIVEMIND_BREAKER_TIMEOUT", "1m")

	loadEnv(&cfg)

	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Storage.MetadataDSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Storage.MetadataDSN)
	}
	if cfg.Storage.MaxConns != 25 {
		t.Errorf("expected max_conns 25, got %d", cfg.Storage.MaxConns)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = 0 },
			errMsg: "server.port is required",
		},
		{
			name:   "empty metadata DSN",
			modify: func(c *Config) { c.Storage.MetadataDSN = "" },
			errMsg: "storage.metadata_dsn is required",
		},
		{
			name:   "empty cache URI",
			modify: func(c *Config) { c.Storage.CacheURI = "" },
			errMsg: "storage.cache_uri is required",
		},
		{
			name:   "zero max_conns",
			modify: func(c *Config) { c.Storage.MaxConns = 0 },
			errMsg: "storage.max_conns must be >= 1",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "zero mcp burst",
			modify: func(c *Config) { c.MCP.HTTPBurst = 0 },
			errMsg: "mcp.http_burst must be >= 1",
		},
		{
			name:   "zero soft delete ttl",
			modify: func(c *Config) { c.SoftDelete.TTLDays = 0 },
			errMsg: "soft_delete.ttl_days must be >= 1",
		},
		{
			name:   "dedup threshold out of range",
			modify: func(c *Config) { c.Dedup.SimilarityThreshold = 1.5 },
			errMsg: "dedup.similarity_threshold must be in (0, 1]",
		},
		{
			name:   "hybrid alpha out of range",
			modify: func(c *Config) { c.Search.HybridAlpha = -0.1 },
			errMsg: "search.hybrid_alpha must be in [0, 1]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestValidateConfidenceWeightsMustSumToOne(t *testing.T) {
	cfg := Defaults()
	cfg.Confidence.Weights = map[string]float64{"freshness": 0.5, "consensus": 0.2}
	if err := validate(&cfg); err == nil {
		t.Fatal("expected error for weights not summing to 1.0")
	}
}
