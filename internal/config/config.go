package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Port     string
	MongoURI string
	RedisURL string // optional; empty disables event publication

	// External model services
	EmbeddingURL  string // dense embedding service (BGE-M3 compatible)
	NERServiceURL string // named entity recognition service; empty falls back to heuristics

	// DataDir holds the on-disk vector and lexical indexes. Empty means
	// in-memory indexes (ephemeral, rebuilt from the document store).
	DataDir string

	// EngineConfigPath points at the optional YAML tuning file.
	EngineConfigPath string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "3002"),
		MongoURI: getEnv("MONGODB_URI", "mongodb://localhost:27017/zikaron"),
		RedisURL: getEnv("REDIS_URL", ""),

		EmbeddingURL:  getEnv("EMBEDDING_URL", "http://localhost:8001"),
		NERServiceURL: getEnv("NER_SERVICE_URL", ""),

		DataDir:          getEnv("DATA_DIR", ""),
		EngineConfigPath: getEnv("ENGINE_CONFIG_PATH", ""),
	}
}

// EngineConfig carries the tunable retrieval knobs that operators
// adjust without a rebuild. Zero values mean "use the built-in
// default".
type EngineConfig struct {
	Embedding struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"embedding"`

	Extraction struct {
		MinConfidence float64 `yaml:"min_confidence"`
	} `yaml:"extraction"`

	Index struct {
		BreakerThreshold int `yaml:"breaker_threshold"`
		BreakerCooldown  int `yaml:"breaker_cooldown_seconds"`
	} `yaml:"index"`

	Jobs struct {
		PromotionCron     string `yaml:"promotion_cron"`
		GhostSweepMinutes int    `yaml:"ghost_sweep_minutes"`
		OrphanCleanupCron string `yaml:"orphan_cleanup_cron"`
		ReindexMinutes    int    `yaml:"reindex_minutes"`
	} `yaml:"jobs"`
}

// LoadEngineConfig loads the YAML tuning file. A missing path returns
// an all-defaults config rather than an error.
func LoadEngineConfig(filePath string) (*EngineConfig, error) {
	var config EngineConfig
	if filePath == "" {
		return &config, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine config: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse engine config YAML: %w", err)
	}
	return &config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
