package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("MONGODB_URI", "")
	t.Setenv("REDIS_URL", "")

	cfg := Load()

	if cfg.Port != "3002" {
		t.Errorf("expected default port 3002, got %q", cfg.Port)
	}
	if cfg.MongoURI != "mongodb://localhost:27017/zikaron" {
		t.Errorf("unexpected default mongo uri: %q", cfg.MongoURI)
	}
	if cfg.RedisURL != "" {
		t.Errorf("redis should default to disabled, got %q", cfg.RedisURL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("NER_SERVICE_URL", "http://ner:8002")

	cfg := Load()

	if cfg.Port != "9000" {
		t.Errorf("env override lost, got %q", cfg.Port)
	}
	if cfg.NERServiceURL != "http://ner:8002" {
		t.Errorf("env override lost, got %q", cfg.NERServiceURL)
	}
}

func TestLoadEngineConfigEmptyPath(t *testing.T) {
	engineCfg, err := LoadEngineConfig("")
	if err != nil {
		t.Fatalf("empty path should not error: %v", err)
	}
	if engineCfg.Index.BreakerThreshold != 0 {
		t.Errorf("expected zero-value config, got %+v", engineCfg)
	}
}

func TestLoadEngineConfigParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	content := []byte(`
embedding:
  requests_per_second: 5
  burst: 10
extraction:
  min_confidence: 0.9
index:
  breaker_threshold: 3
  breaker_cooldown_seconds: 60
jobs:
  promotion_cron: "*/10 * * * *"
  ghost_sweep_minutes: 5
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	engineCfg, err := LoadEngineConfig(path)
	if err != nil {
		t.Fatalf("LoadEngineConfig failed: %v", err)
	}

	if engineCfg.Embedding.RequestsPerSecond != 5 || engineCfg.Embedding.Burst != 10 {
		t.Errorf("embedding knobs wrong: %+v", engineCfg.Embedding)
	}
	if engineCfg.Extraction.MinConfidence != 0.9 {
		t.Errorf("extraction knob wrong: %f", engineCfg.Extraction.MinConfidence)
	}
	if engineCfg.Index.BreakerThreshold != 3 || engineCfg.Index.BreakerCooldown != 60 {
		t.Errorf("index knobs wrong: %+v", engineCfg.Index)
	}
	if engineCfg.Jobs.PromotionCron != "*/10 * * * *" || engineCfg.Jobs.GhostSweepMinutes != 5 {
		t.Errorf("jobs knobs wrong: %+v", engineCfg.Jobs)
	}
}

func TestLoadEngineConfigMissingFile(t *testing.T) {
	if _, err := LoadEngineConfig("/nonexistent/engine.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
