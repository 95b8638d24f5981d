// Package server implements the semdex serving layer: an HTTP front end
// over a frozen vector index, with a scheduler that coalesces concurrent
// predict requests into batches shared by the embedding backend and the
// index search.
package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dkoess/semdex/pkg/core/distance"
	"github.com/dkoess/semdex/pkg/core/hnsw"
)

// ConfigError reports an invalid or inconsistent configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Config is the top level configuration, shared by the build and serve
// commands.
type Config struct {
	Addr      string          `yaml:"addr"`
	AuthToken string          `yaml:"auth_token"`
	Index     IndexConfig     `yaml:"index"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
}

// IndexConfig carries both build parameters and serve-time search defaults.
type IndexConfig struct {
	Dim            int    `yaml:"dim"`
	Metric         string `yaml:"metric"`
	M              int    `yaml:"m"`
	EfConstruction int    `yaml:"ef_construction"`
	EfSearch       int    `yaml:"ef_search"`
	Quantized      bool   `yaml:"quantized"`
	Seed           int64  `yaml:"seed"`
}

// SchedulerConfig bounds how long and how large a batch may grow before it
// is dispatched.
type SchedulerConfig struct {
	MaxBatchSize int    `yaml:"max_batch_size"`
	MaxWait      string `yaml:"max_wait"`
}

// EmbedderConfig selects and parameterizes the embedding backend.
type EmbedderConfig struct {
	Type    string `yaml:"type"` // "ollama" or "openai"
	URL     string `yaml:"url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	Timeout string `yaml:"timeout"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Addr: ":8080",
		Index: IndexConfig{
			Dim:            384,
			Metric:         string(distance.L2Squared),
			M:              hnsw.DefaultM,
			EfConstruction: hnsw.DefaultEfConstruction,
			EfSearch:       hnsw.DefaultEfSearch,
		},
		Scheduler: SchedulerConfig{
			MaxBatchSize: 32,
			MaxWait:      "10ms",
		},
		Embedder: EmbedderConfig{
			Type:    "ollama",
			URL:     "http://localhost:11434/api/embed",
			Model:   "all-minilm",
			Timeout: "60s",
		},
	}
}

// LoadConfig reads a YAML configuration file. Environment variables in the
// file are expanded before parsing, and unknown fields are rejected so a
// typo never passes silently. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read configuration file '%s': %w", path, err)
	}

	decoder := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("YAML syntax error in '%s': %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that would fail later in a
// less obvious place.
func (c Config) Validate() error {
	if c.Addr == "" {
		return &ConfigError{Field: "addr", Reason: "must not be empty"}
	}
	if c.Index.Dim <= 0 {
		return &ConfigError{Field: "index.dim", Reason: "must be positive"}
	}
	if !distance.Metric(c.Index.Metric).Valid() {
		return &ConfigError{Field: "index.metric", Reason: fmt.Sprintf("unknown metric %q", c.Index.Metric)}
	}
	if c.Index.EfSearch <= 0 {
		return &ConfigError{Field: "index.ef_search", Reason: "must be positive"}
	}
	if c.Scheduler.MaxBatchSize <= 0 {
		return &ConfigError{Field: "scheduler.max_batch_size", Reason: "must be positive"}
	}
	if _, err := c.Scheduler.maxWait(); err != nil {
		return &ConfigError{Field: "scheduler.max_wait", Reason: err.Error()}
	}
	switch c.Embedder.Type {
	case "ollama", "openai":
	default:
		return &ConfigError{Field: "embedder.type", Reason: fmt.Sprintf("unknown type %q", c.Embedder.Type)}
	}
	if _, err := c.Embedder.timeout(); err != nil {
		return &ConfigError{Field: "embedder.timeout", Reason: err.Error()}
	}
	return nil
}

func (c SchedulerConfig) maxWait() (time.Duration, error) {
	if c.MaxWait == "" {
		return 0, nil
	}
	return time.ParseDuration(c.MaxWait)
}

func (c EmbedderConfig) timeout() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Timeout)
}

// HNSWConfig translates the index section into build parameters.
func (c IndexConfig) HNSWConfig() hnsw.Config {
	return hnsw.Config{
		Dim:            c.Dim,
		M:              c.M,
		M0:             0,
		EfConstruction: c.EfConstruction,
		Metric:         distance.Metric(c.Metric),
		Quantized:      c.Quantized,
		Seed:           c.Seed,
	}
}
