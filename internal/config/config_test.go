package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
	if cfg.ColdThresholdDays != 30 {
		t.Errorf("ColdThresholdDays = %d, want 30", cfg.ColdThresholdDays)
	}
	if cfg.MinConfidenceSurface != 0.5 {
		t.Errorf("MinConfidenceSurface = %v, want 0.5", cfg.MinConfidenceSurface)
	}
	if cfg.PatternFormationDays != 21 || cfg.PatternMinCount != 5 {
		t.Errorf("pattern defaults = %d/%d, want 21/5", cfg.PatternFormationDays, cfg.PatternMinCount)
	}
	if cfg.IdentificationThreshold != 0.75 || cfg.FingerprintReadySamples != 50 {
		t.Errorf("identity defaults = %v/%d, want 0.75/50", cfg.IdentificationThreshold, cfg.FingerprintReadySamples)
	}
	if cfg.LLMTimeout != 30*time.Second {
		t.Errorf("LLMTimeout = %v, want 30s", cfg.LLMTimeout)
	}
	if cfg.EmbedderTimeout != 15*time.Second {
		t.Errorf("EmbedderTimeout = %v, want 15s", cfg.EmbedderTimeout)
	}
	if cfg.RetryBackoffInitial != 100*time.Millisecond || cfg.RetryBackoffCap != 2*time.Second {
		t.Errorf("backoff = %v/%v, want 100ms/2s", cfg.RetryBackoffInitial, cfg.RetryBackoffCap)
	}
	if cfg.MaxDevicesPerUser != 16 {
		t.Errorf("MaxDevicesPerUser = %d, want 16", cfg.MaxDevicesPerUser)
	}
	if cfg.UnifiedFusionWindow != 30*time.Minute {
		t.Errorf("UnifiedFusionWindow = %v, want 30m", cfg.UnifiedFusionWindow)
	}
	if cfg.HardDeleteAfterDays != 30 {
		t.Errorf("HardDeleteAfterDays = %d, want 30", cfg.HardDeleteAfterDays)
	}
	if cfg.ReextractOnReassociate {
		t.Error("ReextractOnReassociate should default to false")
	}
}

func TestFileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memento.yaml")
	body := "default_user: filed\ncold_threshold_days: 45\nfusion_window_min: 10\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MEMENTO_COLD_THRESHOLD_DAYS", "60")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultUser != "filed" {
		t.Errorf("DefaultUser = %q, want file value", cfg.DefaultUser)
	}
	if cfg.ColdThresholdDays != 60 {
		t.Errorf("ColdThresholdDays = %d, want env override 60", cfg.ColdThresholdDays)
	}
	if cfg.UnifiedFusionWindow != 10*time.Minute {
		t.Errorf("UnifiedFusionWindow = %v, want file value 10m", cfg.UnifiedFusionWindow)
	}
}

func TestBadYAMLSurfaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memento.yaml")
	if err := os.WriteFile(path, []byte("default_user: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error for malformed yaml")
	}
}
