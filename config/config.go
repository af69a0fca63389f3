// Package config holds the replyhive service configuration.
//
// Configuration is read from a YAML file, with secrets resolvable from the
// environment so they stay out of the file on disk.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration model.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Secrets    SecretsConfig    `yaml:"secrets"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Platforms  PlatformsConfig  `yaml:"platforms"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Retention  RetentionConfig  `yaml:"retention"`
	LogLevel   string           `yaml:"logLevel"`
}

type ServerConfig struct {
	// Addr is the ops listen address (healthz, metrics, stats).
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	DBPath string `yaml:"dbPath"`
}

type SecretsConfig struct {
	// TokenKey encrypts platform access/refresh tokens at rest.
	// If empty, read from env REPLYHIVE_TOKEN_KEY.
	TokenKey string `yaml:"tokenKey"`
}

type ClassifierConfig struct {
	// URL of the classifier service. Empty means heuristics only.
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"apiKey"`
	Timeout time.Duration `yaml:"timeout"`
}

// PlatformsConfig carries per-platform API settings. Base URLs are
// overridable so tests and staging can point at fakes.
type PlatformsConfig struct {
	YouTube   PlatformAPIConfig `yaml:"youtube"`
	Instagram PlatformAPIConfig `yaml:"instagram"`
	TikTok    PlatformAPIConfig `yaml:"tiktok"`
}

type PlatformAPIConfig struct {
	BaseURL string  `yaml:"baseURL"`
	RPS     float64 `yaml:"rps"`
}

// PipelineConfig carries per-stage worker settings.
type PipelineConfig struct {
	Poll    StageConfig `yaml:"poll"`
	Process StageConfig `yaml:"process"`
	Respond StageConfig `yaml:"respond"`
}

// StageConfig configures one queue consumer stage.
type StageConfig struct {
	Workers     int           `yaml:"workers"`
	PerMinute   int           `yaml:"perMinute"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BackoffBase time.Duration `yaml:"backoffBase"`
	Visibility  time.Duration `yaml:"visibility"`
}

type SchedulerConfig struct {
	// CheckInterval is how often to scan for users due a poll.
	CheckInterval time.Duration `yaml:"checkInterval"`
	// PollInterval is the per-user poll cadence.
	PollInterval time.Duration `yaml:"pollInterval"`
}

type RetentionConfig struct {
	// DeadJobs is how long exhausted jobs are kept for inspection.
	DeadJobs time.Duration `yaml:"deadJobs"`
	// ProcessedComments bounds the dedup marker table.
	ProcessedComments time.Duration `yaml:"processedComments"`
}

// Default returns the stock configuration with the concurrency and retry
// budgets the pipeline was sized for.
func Default() Config {
	return Config{
		Server:     ServerConfig{Addr: ":8090"},
		Storage:    StorageConfig{DBPath: "data/replyhive.db"},
		Classifier: ClassifierConfig{Timeout: 15 * time.Second},
		Platforms: PlatformsConfig{
			YouTube:   PlatformAPIConfig{BaseURL: "https://www.googleapis.com", RPS: 2},
			Instagram: PlatformAPIConfig{BaseURL: "https://graph.instagram.com", RPS: 2},
			TikTok:    PlatformAPIConfig{BaseURL: "https://open.tiktokapis.com", RPS: 2},
		},
		Pipeline: PipelineConfig{
			Poll:    StageConfig{Workers: 5, PerMinute: 10, MaxAttempts: 3, BackoffBase: 2 * time.Second},
			Process: StageConfig{Workers: 10, PerMinute: 50, MaxAttempts: 3, BackoffBase: time.Second},
			Respond: StageConfig{Workers: 3, PerMinute: 20, MaxAttempts: 5, BackoffBase: 5 * time.Second},
		},
		Scheduler: SchedulerConfig{CheckInterval: time.Minute, PollInterval: 5 * time.Minute},
		Retention: RetentionConfig{DeadJobs: 7 * 24 * time.Hour, ProcessedComments: 30 * 24 * time.Hour},
		LogLevel:  "info",
	}
}

func (s *StageConfig) defaults(fallback StageConfig) {
	if s.Workers <= 0 {
		s.Workers = fallback.Workers
	}
	if s.PerMinute <= 0 {
		s.PerMinute = fallback.PerMinute
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = fallback.MaxAttempts
	}
	if s.BackoffBase <= 0 {
		s.BackoffBase = fallback.BackoffBase
	}
	if s.Visibility <= 0 {
		s.Visibility = time.Minute
	}
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	d := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = d.Storage.DBPath
	}
	if c.Classifier.Timeout <= 0 {
		c.Classifier.Timeout = d.Classifier.Timeout
	}
	for pair := 0; pair < 3; pair++ {
		var cfg *PlatformAPIConfig
		var def PlatformAPIConfig
		switch pair {
		case 0:
			cfg, def = &c.Platforms.YouTube, d.Platforms.YouTube
		case 1:
			cfg, def = &c.Platforms.Instagram, d.Platforms.Instagram
		case 2:
			cfg, def = &c.Platforms.TikTok, d.Platforms.TikTok
		}
		if cfg.BaseURL == "" {
			cfg.BaseURL = def.BaseURL
		}
		if cfg.RPS <= 0 {
			cfg.RPS = def.RPS
		}
	}
	c.Pipeline.Poll.defaults(d.Pipeline.Poll)
	c.Pipeline.Process.defaults(d.Pipeline.Process)
	c.Pipeline.Respond.defaults(d.Pipeline.Respond)
	if c.Scheduler.CheckInterval <= 0 {
		c.Scheduler.CheckInterval = d.Scheduler.CheckInterval
	}
	if c.Scheduler.PollInterval <= 0 {
		c.Scheduler.PollInterval = d.Scheduler.PollInterval
	}
	if c.Retention.DeadJobs <= 0 {
		c.Retention.DeadJobs = d.Retention.DeadJobs
	}
	if c.Retention.ProcessedComments <= 0 {
		c.Retention.ProcessedComments = d.Retention.ProcessedComments
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// ResolveEnv fills secret fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	if c.Secrets.TokenKey == "" {
		c.Secrets.TokenKey = os.Getenv("REPLYHIVE_TOKEN_KEY")
	}
	if c.Classifier.APIKey == "" {
		c.Classifier.APIKey = os.Getenv("CLASSIFIER_API_KEY")
	}
}

// Load reads YAML config from path, applies env overrides and defaults.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.ResolveEnv()
	cfg.Normalize()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("config: empty path")
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
