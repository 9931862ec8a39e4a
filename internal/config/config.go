package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model. It captures credentials,
// fetch tuning, and storage locations.
type Config struct {
	Credentials CredentialsConfig `yaml:"credentials"`
	Fetch       FetchConfig       `yaml:"fetch"`
	Extractor   ExtractorConfig   `yaml:"extractor"`
	Storage     StorageConfig     `yaml:"storage"`
	Cache       CacheConfig       `yaml:"cache"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type CredentialsConfig struct {
	// X/Twitter auth token handed to the extractor. If empty, read from env X_AUTH_TOKEN.
	AuthToken string `yaml:"authToken"`
}

type FetchConfig struct {
	// Page size per extractor call.
	BatchSize int `yaml:"batchSize"`
	// Persist state every N batches (plus always on the final or stopping batch).
	SaveEvery int `yaml:"saveEvery"`
	// Default media filter: all, image, video, gif, text.
	MediaType string `yaml:"mediaType"`
	// Include retweets by default.
	Retweets bool `yaml:"retweets"`
}

type ExtractorConfig struct {
	// Base URL of the extraction service.
	BaseURL string `yaml:"baseURL"`
}

type StorageConfig struct {
	// Archive database path.
	DBPath string `yaml:"dbPath"`
	// Fetch-state blob path.
	StatePath string `yaml:"statePath"`
}

type CacheConfig struct {
	// Redis address for the cursor fast-path cache. Empty disables it.
	// If empty, read from env MAGPIE_REDIS_ADDR.
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Credentials: CredentialsConfig{AuthToken: ""},
		Fetch:       FetchConfig{BatchSize: 200, SaveEvery: 3, MediaType: "all", Retweets: false},
		Extractor:   ExtractorConfig{BaseURL: "http://127.0.0.1:7765"},
		Storage:     StorageConfig{DBPath: "./magpie.db", StatePath: "./magpie-state.json"},
		Cache:       CacheConfig{},
		Metrics:     MetricsConfig{Addr: ""},
	}
}

// ResolveEnv fills in config fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	if c.Credentials.AuthToken == "" {
		c.Credentials.AuthToken = os.Getenv("X_AUTH_TOKEN")
	}
	if c.Cache.RedisAddr == "" {
		c.Cache.RedisAddr = os.Getenv("MAGPIE_REDIS_ADDR")
	}
	if c.Extractor.BaseURL == "" {
		c.Extractor.BaseURL = os.Getenv("MAGPIE_EXTRACTOR_URL")
	}
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.ResolveEnv()
	if cfg.Fetch.BatchSize <= 0 {
		cfg.Fetch.BatchSize = 200
	}
	if cfg.Fetch.SaveEvery <= 0 {
		cfg.Fetch.SaveEvery = 3
	}
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
