// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	PublicURL   string `yaml:"public_url"`   // base URL providers deliver webhooks to
	InternalKey string `yaml:"internal_key"` // shared key for operator endpoints
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type ProviderConfig struct {
	ReplicateToken string `yaml:"replicate_token"`
	GeminiKey      string `yaml:"gemini_key"`
	GeminiURL      string `yaml:"gemini_url"`
	WebhookSecret  string `yaml:"webhook_secret"`
	ImageModel     string `yaml:"image_model"`
	VideoModel     string `yaml:"video_model"`
	UpscaleModel   string `yaml:"upscale_model"`
	// Per-minute poll budget per provider family, enforced by the sweeper.
	PollRatePerMinute int `yaml:"poll_rate_per_minute"`
}

type StorageConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	Bucket        string `yaml:"bucket"`
	Key           string `yaml:"key"`
	Secret        string `yaml:"secret"`
	UseSSL        bool   `yaml:"use_ssl"`
	PublicBaseURL string `yaml:"public_base_url"`
}

type SweepConfig struct {
	Interval     time.Duration `yaml:"interval"`
	MinAge       time.Duration `yaml:"min_age"`
	ImageBatch   int           `yaml:"image_batch"`
	VideoBatch   int           `yaml:"video_batch"` // smaller: video outputs are heavier
	CallPause    time.Duration `yaml:"call_pause"`  // pacing between provider calls in one sweep
	Workers      int           `yaml:"workers"`
	UseScheduler bool          `yaml:"use_scheduler"` // drive sweeps from the durable scheduler instead of an in-process ticker
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Provider ProviderConfig `yaml:"provider"`
	Storage  StorageConfig  `yaml:"storage"`
	Sweep    SweepConfig    `yaml:"sweep"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = time.Hour
	}
	if cfg.Provider.PollRatePerMinute <= 0 {
		cfg.Provider.PollRatePerMinute = 120
	}
	applySweepDefaults(&cfg.Sweep)

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Server.InternalKey == "" {
		return nil, errors.New("server.internal_key is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applySweepDefaults(s *SweepConfig) {
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	if s.MinAge <= 0 {
		s.MinAge = 30 * time.Second
	}
	if s.ImageBatch <= 0 {
		s.ImageBatch = 50
	}
	if s.VideoBatch <= 0 {
		s.VideoBatch = 15
	}
	if s.CallPause <= 0 {
		s.CallPause = 250 * time.Millisecond
	}
	if s.Workers <= 0 {
		s.Workers = 4
	}
}
