package server

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Index.Dim != 384 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
addr: ":9000"
index:
  dim: 128
  metric: cosine
  ef_search: 64
scheduler:
  max_batch_size: 16
  max_wait: 5ms
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.Index.Dim != 128 || cfg.Index.Metric != "cosine" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Scheduler.MaxBatchSize != 16 {
		t.Errorf("scheduler override not applied: %+v", cfg.Scheduler)
	}
	// Untouched sections keep their defaults.
	if cfg.Embedder.Type != "ollama" {
		t.Errorf("embedder default lost: %+v", cfg.Embedder)
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "adddr: \":9000\"\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for misspelled field")
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("SEMDEX_TEST_KEY", "sk-expanded")
	path := writeConfig(t, `
embedder:
  type: openai
  model: text-embedding-3-small
  api_key: ${SEMDEX_TEST_KEY}
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Embedder.APIKey != "sk-expanded" {
		t.Errorf("env not expanded: %q", cfg.Embedder.APIKey)
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero dim", func(c *Config) { c.Index.Dim = 0 }, "index.dim"},
		{"bad metric", func(c *Config) { c.Index.Metric = "manhattan" }, "index.metric"},
		{"zero batch", func(c *Config) { c.Scheduler.MaxBatchSize = 0 }, "scheduler.max_batch_size"},
		{"bad wait", func(c *Config) { c.Scheduler.MaxWait = "soon" }, "scheduler.max_wait"},
		{"bad embedder", func(c *Config) { c.Embedder.Type = "psychic" }, "embedder.type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)

			var cerr *ConfigError
			if err := cfg.Validate(); !errors.As(err, &cerr) {
				t.Fatalf("got %v, want ConfigError", err)
			} else if cerr.Field != tc.field {
				t.Errorf("got field %q, want %q", cerr.Field, tc.field)
			}
		})
	}
}
