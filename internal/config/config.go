// Package config provides YAML-based configuration for mnemo.
// Configuration is loaded with a layered precedence: defaults → YAML file →
// env vars. Environment variables always win.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. MNEMO_CONFIG environment variable
//  3. ~/.mnemo/config.yaml
//  4. ./mnemo.yaml
//
// If no file is found the defaults plus env vars apply.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase,
// underscored).
type Config struct {
	// Provider configures backend selection and per-backend settings.
	Provider ProviderConfig `yaml:"provider"`

	// Embedding configures the embedding service.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Cache configures the two-tier embedding cache.
	Cache CacheConfig `yaml:"cache"`

	// Conflict configures the contradiction/duplication detector.
	Conflict ConflictConfig `yaml:"conflict"`

	// Chat configures the conversational surface.
	Chat ChatConfig `yaml:"chat"`

	// Diag configures the optional local diagnostics listener.
	Diag DiagConfig `yaml:"diag"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// ProviderConfig holds backend selection settings.
type ProviderConfig struct {
	// Preferred names the provider tried first; fallback order applies
	// when it is not available. Empty uses registration order.
	Preferred string `yaml:"preferred"`

	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// ChatModel is the model used for chat completions.
	ChatModel string `yaml:"chat_model"`
	// EmbedModel is the model used for embeddings.
	EmbedModel string `yaml:"embed_model"`
	// AutoPull downloads a missing model on first use.
	AutoPull bool `yaml:"auto_pull"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	// Model is the embedding model identifier recorded on cache entries.
	Model string `yaml:"model"`
	// Dimension is the expected vector size. Zero learns it from the
	// first embedding.
	Dimension int `yaml:"dimension"`
	// MaxRetries bounds retries on transient backend faults.
	MaxRetries int `yaml:"max_retries"`
	// MaxParallel bounds batch fan-out.
	MaxParallel int `yaml:"max_parallel"`
	// RatePerSecond and Burst shape the embed-call token bucket.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// CacheConfig holds two-tier cache settings.
type CacheConfig struct {
	// Path is the on-device SQLite database path. Set to "disabled" to run
	// with the in-process tier only.
	Path string `yaml:"path"`
	// Capacity bounds the in-process tier entry count.
	Capacity int `yaml:"capacity"`
	// TTL is the entry lifetime; expired entries read as misses.
	TTL Duration `yaml:"ttl"`
	// SweepInterval is how often expired durable rows are purged. Zero
	// disables the background sweep.
	SweepInterval Duration `yaml:"sweep_interval"`
}

// ConflictConfig holds detector thresholds.
type ConflictConfig struct {
	// DuplicateThreshold is the similarity at or above which a pair is a
	// duplicate.
	DuplicateThreshold float32 `yaml:"duplicate_threshold"`
	// ContradictionFloor is the lower bound of the contradiction band.
	ContradictionFloor float32 `yaml:"contradiction_floor"`
}

// ChatConfig holds conversational settings.
type ChatConfig struct {
	// MaxHistory is the number of prior exchanges kept as context.
	MaxHistory int `yaml:"max_history"`
}

// DiagConfig holds diagnostics listener settings.
type DiagConfig struct {
	// Enabled starts the local HTTP listener.
	Enabled bool `yaml:"enabled"`
	// Addr is the listen address.
	Addr string `yaml:"addr"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// or "720h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file and no env vars are
// present.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Ollama: OllamaConfig{
				Host:       "http://localhost:11434",
				ChatModel:  "llama3",
				EmbedModel: "nomic-embed-text",
				AutoPull:   true,
			},
		},
		Embedding: EmbeddingConfig{
			Model:         "nomic-embed-text",
			MaxRetries:    3,
			MaxParallel:   4,
			RatePerSecond: 32,
			Burst:         8,
		},
		Cache: CacheConfig{
			Capacity:      1000,
			TTL:           Duration(30 * 24 * time.Hour),
			SweepInterval: Duration(time.Hour),
		},
		Conflict: ConflictConfig{
			DuplicateThreshold: 0.85,
			ContradictionFloor: 0.70,
		},
		Chat: ChatConfig{MaxHistory: 20},
		Diag: DiagConfig{Addr: "127.0.0.1:7432"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envMapping maps env var names to config setters. Env vars are applied
// after the YAML layer, so they always take precedence.
var envMapping = []struct {
	envKey string
	apply  func(*Config, string) error
}{
	{"MNEMO_PROVIDER", func(c *Config, v string) error { c.Provider.Preferred = v; return nil }},
	{"OLLAMA_HOST", func(c *Config, v string) error { c.Provider.Ollama.Host = v; return nil }},
	{"MNEMO_CHAT_MODEL", func(c *Config, v string) error { c.Provider.Ollama.ChatModel = v; return nil }},
	{"MNEMO_EMBED_MODEL", func(c *Config, v string) error {
		c.Provider.Ollama.EmbedModel = v
		c.Embedding.Model = v
		return nil
	}},
	{"MNEMO_AUTO_PULL", func(c *Config, v string) error { return parseBool(v, &c.Provider.Ollama.AutoPull) }},
	{"MNEMO_EMBED_DIMENSION", func(c *Config, v string) error { return parseInt(v, &c.Embedding.Dimension) }},
	{"MNEMO_CACHE_PATH", func(c *Config, v string) error { c.Cache.Path = v; return nil }},
	{"MNEMO_CACHE_CAPACITY", func(c *Config, v string) error { return parseInt(v, &c.Cache.Capacity) }},
	{"MNEMO_CACHE_TTL", func(c *Config, v string) error { return parseDuration(v, &c.Cache.TTL) }},
	{"MNEMO_DUPLICATE_THRESHOLD", func(c *Config, v string) error { return parseFloat32(v, &c.Conflict.DuplicateThreshold) }},
	{"MNEMO_CONTRADICTION_FLOOR", func(c *Config, v string) error { return parseFloat32(v, &c.Conflict.ContradictionFloor) }},
	{"MNEMO_DIAG_ADDR", func(c *Config, v string) error {
		c.Diag.Addr = v
		c.Diag.Enabled = true
		return nil
	}},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Logging.Format = v; return nil }},
}

// Load builds the effective configuration: defaults, then the YAML file when
// one is found, then env var overrides, then validation. Returns the config
// and the path that was loaded (empty when running without a file).
func Load(explicitPath string, log *slog.Logger) (*Config, string, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg := Default()

	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using defaults and env vars")
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		// Unmarshal over the defaults: absent keys keep their default.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
		log.Info("config: loaded YAML config", slog.String("path", path))
	}

	for _, m := range envMapping {
		v := os.Getenv(m.envKey)
		if v == "" {
			continue
		}
		if err := m.apply(cfg, v); err != nil {
			return nil, "", fmt.Errorf("config: %s: %w", m.envKey, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("config: cache.capacity must be positive, got %d", c.Cache.Capacity)
	}
	d := c.Conflict.DuplicateThreshold
	f := c.Conflict.ContradictionFloor
	if d <= 0 || d > 1 {
		return fmt.Errorf("config: conflict.duplicate_threshold must be in (0, 1], got %v", d)
	}
	if f <= 0 || f > 1 {
		return fmt.Errorf("config: conflict.contradiction_floor must be in (0, 1], got %v", f)
	}
	if f >= d {
		return fmt.Errorf("config: conflict.contradiction_floor (%v) must be below duplicate_threshold (%v)", f, d)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	return nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("MNEMO_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".mnemo", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("mnemo.yaml"); err == nil {
		return "mnemo.yaml"
	}

	return ""
}

func parseInt(v string, dst *int) error {
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("expected integer, got %q", v)
	}
	*dst = parsed
	return nil
}

func parseFloat32(v string, dst *float32) error {
	parsed, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return fmt.Errorf("expected number, got %q", v)
	}
	*dst = float32(parsed)
	return nil
}

func parseBool(v string, dst *bool) error {
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("expected boolean, got %q", v)
	}
	*dst = parsed
	return nil
}

func parseDuration(v string, dst *Duration) error {
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("expected duration, got %q", v)
	}
	*dst = Duration(parsed)
	return nil
}
