// Package config resolves service configuration from an optional YAML file
// plus MEMENTO_* environment variables. Env always wins over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved service configuration
type Config struct {
	DefaultUser string `yaml:"default_user"`
	DataDir     string `yaml:"data_dir"`

	// Ollama-backed providers. Empty URL disables LLM extraction and
	// embedding (heuristic-only, metadata-only recall).
	OllamaURL  string `yaml:"ollama_url"`
	EmbedModel string `yaml:"embed_model"`
	GenModel   string `yaml:"gen_model"`
	EmbedDim   int    `yaml:"embed_dim"`

	// VaultKey is a hex-encoded 32-byte key for the vault envelope.
	// Empty means the envelope falls back to the plain scheme.
	VaultKey string `yaml:"vault_key"`

	ColdThresholdDays       int     `yaml:"cold_threshold_days"`
	MinConfidenceSurface    float64 `yaml:"min_confidence_surface"`
	PatternFormationDays    int     `yaml:"pattern_formation_days"`
	PatternMinCount         int     `yaml:"pattern_min_count"`
	IdentificationThreshold float64 `yaml:"identification_threshold"`
	FingerprintReadySamples int     `yaml:"fingerprint_ready_samples"`

	LLMTimeout      time.Duration `yaml:"-"`
	EmbedderTimeout time.Duration `yaml:"-"`
	LLMTimeoutMs    int           `yaml:"llm_timeout_ms"`
	EmbedderTimeMs  int           `yaml:"embedder_timeout_ms"`

	RetryBackoffInitial time.Duration `yaml:"-"`
	RetryBackoffCap     time.Duration `yaml:"-"`
	RetryBackoffMs      int           `yaml:"retry_backoff_ms"`
	RetryBackoffCapMs   int           `yaml:"retry_backoff_cap_ms"`

	MaxDevicesPerUser   int           `yaml:"max_devices_per_user"`
	UnifiedFusionWindow time.Duration `yaml:"-"`
	FusionWindowMin     int           `yaml:"fusion_window_min"`
	HardDeleteAfterDays int           `yaml:"hard_delete_after_days"`

	ReextractOnReassociate bool `yaml:"reextract_on_reassociate"`

	LLMConcurrency   int `yaml:"llm_concurrency"`
	EmbedConcurrency int `yaml:"embed_concurrency"`
	QueueDepth       int `yaml:"queue_depth"`
}

// Default returns the documented defaults
func Default() Config {
	cfg := Config{
		DefaultUser:             "default",
		DataDir:                 "./data",
		OllamaURL:               "",
		EmbedModel:              "nomic-embed-text",
		GenModel:                "llama3.2",
		EmbedDim:                768,
		ColdThresholdDays:       30,
		MinConfidenceSurface:    0.5,
		PatternFormationDays:    21,
		PatternMinCount:         5,
		IdentificationThreshold: 0.75,
		FingerprintReadySamples: 50,
		LLMTimeoutMs:            30000,
		EmbedderTimeMs:          15000,
		RetryBackoffMs:          100,
		RetryBackoffCapMs:       2000,
		MaxDevicesPerUser:       16,
		FusionWindowMin:         30,
		HardDeleteAfterDays:     30,
		ReextractOnReassociate:  false,
		LLMConcurrency:          2,
		EmbedConcurrency:        2,
		QueueDepth:              64,
	}
	cfg.deriveDurations()
	return cfg
}

// deriveDurations fills the time.Duration fields from their *_ms and
// *_min source values
func (cfg *Config) deriveDurations() {
	cfg.LLMTimeout = time.Duration(cfg.LLMTimeoutMs) * time.Millisecond
	cfg.EmbedderTimeout = time.Duration(cfg.EmbedderTimeMs) * time.Millisecond
	cfg.RetryBackoffInitial = time.Duration(cfg.RetryBackoffMs) * time.Millisecond
	cfg.RetryBackoffCap = time.Duration(cfg.RetryBackoffCapMs) * time.Millisecond
	cfg.UnifiedFusionWindow = time.Duration(cfg.FusionWindowMin) * time.Minute
}

// Load resolves config: defaults, then the YAML file at path (or
// ./memento.yaml when path is empty, missing file is fine), then env.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "memento.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.DefaultUser = envOr("MEMENTO_USER", cfg.DefaultUser)
	cfg.DataDir = envOr("MEMENTO_DATA_DIR", cfg.DataDir)
	cfg.OllamaURL = envOr("OLLAMA_URL", cfg.OllamaURL)
	cfg.EmbedModel = envOr("OLLAMA_EMBED_MODEL", cfg.EmbedModel)
	cfg.GenModel = envOr("OLLAMA_GEN_MODEL", cfg.GenModel)
	cfg.EmbedDim = envInt("MEMENTO_EMBED_DIM", cfg.EmbedDim)
	cfg.VaultKey = envOr("MEMENTO_VAULT_KEY", cfg.VaultKey)

	cfg.ColdThresholdDays = envInt("MEMENTO_COLD_THRESHOLD_DAYS", cfg.ColdThresholdDays)
	cfg.MinConfidenceSurface = envFloat("MEMENTO_MIN_CONFIDENCE_SURFACE", cfg.MinConfidenceSurface)
	cfg.PatternFormationDays = envInt("MEMENTO_PATTERN_FORMATION_DAYS", cfg.PatternFormationDays)
	cfg.PatternMinCount = envInt("MEMENTO_PATTERN_MIN_COUNT", cfg.PatternMinCount)
	cfg.IdentificationThreshold = envFloat("MEMENTO_IDENTIFICATION_THRESHOLD", cfg.IdentificationThreshold)
	cfg.FingerprintReadySamples = envInt("MEMENTO_FINGERPRINT_READY_SAMPLES", cfg.FingerprintReadySamples)

	cfg.LLMTimeoutMs = envInt("MEMENTO_LLM_TIMEOUT_MS", cfg.LLMTimeoutMs)
	cfg.EmbedderTimeMs = envInt("MEMENTO_EMBEDDER_TIMEOUT_MS", cfg.EmbedderTimeMs)
	cfg.RetryBackoffMs = envInt("MEMENTO_RETRY_BACKOFF_MS", cfg.RetryBackoffMs)
	cfg.RetryBackoffCapMs = envInt("MEMENTO_RETRY_BACKOFF_CAP_MS", cfg.RetryBackoffCapMs)

	cfg.MaxDevicesPerUser = envInt("MEMENTO_MAX_DEVICES_PER_USER", cfg.MaxDevicesPerUser)
	cfg.FusionWindowMin = envInt("MEMENTO_FUSION_WINDOW_MIN", cfg.FusionWindowMin)
	cfg.HardDeleteAfterDays = envInt("MEMENTO_HARD_DELETE_AFTER_DAYS", cfg.HardDeleteAfterDays)
	cfg.ReextractOnReassociate = envBool("MEMENTO_REEXTRACT_ON_REASSOCIATE", cfg.ReextractOnReassociate)

	cfg.LLMConcurrency = envInt("MEMENTO_LLM_CONCURRENCY", cfg.LLMConcurrency)
	cfg.EmbedConcurrency = envInt("MEMENTO_EMBED_CONCURRENCY", cfg.EmbedConcurrency)
	cfg.QueueDepth = envInt("MEMENTO_QUEUE_DEPTH", cfg.QueueDepth)

	cfg.deriveDurations()

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}
