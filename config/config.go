package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"listing_store/storage"
)

type Config struct {
	DatabaseURL string
	RedisAddr   string
	CacheTTL    time.Duration
	OpsDBPath   string
	LogLevel    string
	Dedup       DedupConfig
	Sweep       SweepConfig
	Ingest      IngestConfig
	Archive     storage.S3Config
	Providers   map[string]*ProviderConfig
}

type DedupConfig struct {
	MinSimilarity  float64
	CandidateLimit int
}

type SweepConfig struct {
	Cron   string
	Window time.Duration
	Batch  int
}

type IngestConfig struct {
	SnapshotDir  string
	PollInterval time.Duration
}

type ProviderConfig struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	RateLimitMS int               `yaml:"rate_limit_ms"`
	Regions     map[string]Region `yaml:"regions"`
}

type Region struct {
	Slug   string  `yaml:"slug"`
	LatMin float64 `yaml:"lat_min"`
	LatMax float64 `yaml:"lat_max"`
	LngMin float64 `yaml:"lng_min"`
	LngMax float64 `yaml:"lng_max"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		CacheTTL:    getEnvDuration("CACHE_TTL", 5*time.Minute),
		OpsDBPath:   getEnv("OPS_DB_PATH", "listing_store.db"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Dedup: DedupConfig{
			MinSimilarity:  getEnvFloat("DEDUP_MIN_SIMILARITY", 0.45),
			CandidateLimit: getEnvInt("DEDUP_CANDIDATE_LIMIT", 5),
		},
		Sweep: SweepConfig{
			Cron:   os.Getenv("SWEEP_CRON"),
			Window: getEnvDuration("SWEEP_WINDOW", 24*time.Hour),
			Batch:  getEnvInt("SWEEP_BATCH", 200),
		},
		Ingest: IngestConfig{
			SnapshotDir:  getEnv("SNAPSHOT_DIR", "snapshots"),
			PollInterval: getEnvDuration("SNAPSHOT_POLL_INTERVAL", time.Minute),
		},
		Archive: storage.S3Config{
			Bucket:          os.Getenv("ARCHIVE_S3_BUCKET"),
			Region:          getEnv("ARCHIVE_S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("ARCHIVE_S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("ARCHIVE_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("ARCHIVE_S3_SECRET_ACCESS_KEY"),
		},
		Providers: make(map[string]*ProviderConfig),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Dedup.MinSimilarity <= 0 || cfg.Dedup.MinSimilarity > 1 {
		return nil, fmt.Errorf("DEDUP_MIN_SIMILARITY must be in (0, 1], got %v", cfg.Dedup.MinSimilarity)
	}

	if err := cfg.loadProviderConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadProviderConfigs() error {
	configDir := "config/providers"
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var provider ProviderConfig
		if err := yaml.Unmarshal(data, &provider); err != nil {
			return err
		}

		c.Providers[provider.ID] = &provider
	}

	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
