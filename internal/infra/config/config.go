// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/osa030/chunkstream/internal/domain/audio"
)

// Config represents the application configuration.
type Config struct {
	Playback PlaybackConfig `yaml:"playback"`
	Store    StoreConfig    `yaml:"store"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Tracks   []TrackConfig  `yaml:"tracks" validate:"dive"`
	Log      LogConfig      `yaml:"log"`
}

// PlaybackConfig represents playback and scheduling configuration.
type PlaybackConfig struct {
	Mode          string `yaml:"mode" default:"buffer_source" validate:"oneof=buffer_source worklet"`
	Output        string `yaml:"output" default:"speaker" validate:"oneof=speaker null"`
	SampleRate    int    `yaml:"sample_rate" default:"44100" validate:"gte=8000,lte=192000"`
	ChunkLengthMs int    `yaml:"chunk_length_ms" default:"1000" validate:"gte=50,lte=10000"`
	LookaheadMs   int    `yaml:"lookahead_ms" default:"2000" validate:"gte=0,lte=30000"`
	BufferMs      int    `yaml:"buffer_ms" default:"100" validate:"gte=10,lte=1000"`
}

// StoreConfig represents the tiered chunk store configuration.
type StoreConfig struct {
	Tiers []TierConfig `yaml:"tiers" validate:"dive"`
}

// TierConfig represents a single chunk store tier.
type TierConfig struct {
	Type     string         `yaml:"type" validate:"required,oneof=memory redis minio"`
	Name     string         `yaml:"name"`
	Settings map[string]any `yaml:"settings"`
}

// FetchConfig represents raw asset retrieval configuration.
type FetchConfig struct {
	TimeoutSec int    `yaml:"timeout_sec" default:"30" validate:"gte=1,lte=600"`
	MaxBytes   int64  `yaml:"max_bytes" default:"536870912" validate:"gte=1024"`
	UserAgent  string `yaml:"user_agent" default:"chunkstream/1.0"`
}

// TrackConfig represents a track loaded at startup.
type TrackConfig struct {
	Locator string `yaml:"locator" validate:"required"`
	Muted   bool   `yaml:"muted"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Output string `yaml:"output" default:"stdout"`
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	File   string `yaml:"file"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if len(cfg.Store.Tiers) == 0 {
		cfg.Store.Tiers = []TierConfig{{Type: "memory", Name: "memory"}}
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides store credentials with environment variables.
func (c *Config) overrideFromEnv() {
	for i := range c.Store.Tiers {
		tier := &c.Store.Tiers[i]
		switch tier.Type {
		case "redis":
			setFromEnv(tier, "password", "REDIS_PASSWORD")
		case "minio":
			setFromEnv(tier, "access_key", "MINIO_ACCESS_KEY")
			setFromEnv(tier, "secret_key", "MINIO_SECRET_KEY")
		}
	}
}

func setFromEnv(tier *TierConfig, key, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	if tier.Settings == nil {
		tier.Settings = make(map[string]any)
	}
	tier.Settings[key] = v
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	if c.Playback.LookaheadMs > 0 && c.Playback.LookaheadMs < c.Playback.ChunkLengthMs {
		return errors.Newf("lookahead_ms (%d) must be 0 or at least chunk_length_ms (%d)",
			c.Playback.LookaheadMs, c.Playback.ChunkLengthMs)
	}
	return nil
}

// ModeValue returns the parsed output mode.
func (p PlaybackConfig) ModeValue() audio.Mode {
	m, _ := audio.ParseMode(p.Mode)
	return m
}

// ChunkLength returns the chunk window length.
func (p PlaybackConfig) ChunkLength() time.Duration {
	return time.Duration(p.ChunkLengthMs) * time.Millisecond
}

// Lookahead returns how far ahead of its due time a chunk is fetched.
func (p PlaybackConfig) Lookahead() time.Duration {
	return time.Duration(p.LookaheadMs) * time.Millisecond
}

// Buffer returns the output device buffer length.
func (p PlaybackConfig) Buffer() time.Duration {
	return time.Duration(p.BufferMs) * time.Millisecond
}

// Timeout returns the fetch timeout.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSec) * time.Second
}
