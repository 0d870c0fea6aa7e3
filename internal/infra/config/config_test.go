package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/chunkstream/internal/domain/audio"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("tracks:\n  - locator: https://cdn.example.com/stems/drums.mp3\n"))
	require.NoError(t, err)

	assert.Equal(t, "buffer_source", cfg.Playback.Mode)
	assert.Equal(t, audio.ModeBufferSource, cfg.Playback.ModeValue())
	assert.Equal(t, "speaker", cfg.Playback.Output)
	assert.Equal(t, 44100, cfg.Playback.SampleRate)
	assert.Equal(t, time.Second, cfg.Playback.ChunkLength())
	assert.Equal(t, 2*time.Second, cfg.Playback.Lookahead())
	assert.Equal(t, 100*time.Millisecond, cfg.Playback.Buffer())
	assert.Equal(t, 30*time.Second, cfg.Fetch.Timeout())
	assert.Equal(t, "chunkstream/1.0", cfg.Fetch.UserAgent)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "stdout", cfg.Log.Output)
	require.Len(t, cfg.Store.Tiers, 1)
	assert.Equal(t, "memory", cfg.Store.Tiers[0].Type)
	require.Len(t, cfg.Tracks, 1)
}

func TestParse_Full(t *testing.T) {
	data := `
playback:
  mode: worklet
  output: "null"
  sample_rate: 48000
  chunk_length_ms: 500
  lookahead_ms: 1500
store:
  tiers:
    - type: memory
    - type: redis
      name: hot
      settings:
        addr: redis:6379
        ttl_sec: 600
    - type: minio
      name: cold
      settings:
        endpoint: minio:9000
        bucket: stems
fetch:
  timeout_sec: 5
tracks:
  - locator: /srv/stems/drums.wav
  - locator: /srv/stems/bass.wav
    muted: true
log:
  level: debug
`
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, audio.ModeWorklet, cfg.Playback.ModeValue())
	assert.Equal(t, "null", cfg.Playback.Output)
	assert.Equal(t, 500*time.Millisecond, cfg.Playback.ChunkLength())
	assert.Equal(t, 1500*time.Millisecond, cfg.Playback.Lookahead())
	require.Len(t, cfg.Store.Tiers, 3)
	assert.Equal(t, "hot", cfg.Store.Tiers[1].Name)
	assert.Equal(t, "redis:6379", cfg.Store.Tiers[1].Settings["addr"])
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout())
	assert.True(t, cfg.Tracks[1].Muted)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Playback: PlaybackConfig{
				Mode:          "buffer_source",
				Output:        "speaker",
				SampleRate:    44100,
				ChunkLengthMs: 1000,
				LookaheadMs:   2000,
				BufferMs:      100,
			},
			Store: StoreConfig{Tiers: []TierConfig{{Type: "memory"}}},
			Fetch: FetchConfig{TimeoutSec: 30, MaxBytes: 1 << 20},
			Log:   LogConfig{Level: "info"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Playback.Mode = "scriptprocessor" },
			wantErr: true,
			errMsg:  "Mode",
		},
		{
			name:    "chunk too short",
			mutate:  func(c *Config) { c.Playback.ChunkLengthMs = 10 },
			wantErr: true,
			errMsg:  "ChunkLengthMs",
		},
		{
			name:    "lookahead shorter than a chunk",
			mutate:  func(c *Config) { c.Playback.LookaheadMs = 500 },
			wantErr: true,
			errMsg:  "lookahead_ms",
		},
		{
			name:   "no lookahead",
			mutate: func(c *Config) { c.Playback.LookaheadMs = 0 },
		},
		{
			name:    "unknown tier",
			mutate:  func(c *Config) { c.Store.Tiers = append(c.Store.Tiers, TierConfig{Type: "s3"}) },
			wantErr: true,
			errMsg:  "Type",
		},
		{
			name:    "track without locator",
			mutate:  func(c *Config) { c.Tracks = []TrackConfig{{Muted: true}} },
			wantErr: true,
			errMsg:  "Locator",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
			errMsg:  "Level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err, "expected validation to fail")
				assert.Contains(t, err.Error(), tt.errMsg,
					"error message should mention the problematic field")
			} else {
				assert.NoError(t, err, "expected validation to pass")
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REDIS_PASSWORD", "s3cret")
	t.Setenv("MINIO_ACCESS_KEY", "access")
	t.Setenv("MINIO_SECRET_KEY", "secret")

	path := filepath.Join(t.TempDir(), "player.yaml")
	data := `
store:
  tiers:
    - type: redis
    - type: minio
      settings:
        endpoint: minio:9000
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Store.Tiers[0].Settings["password"])
	assert.Equal(t, "access", cfg.Store.Tiers[1].Settings["access_key"])
	assert.Equal(t, "secret", cfg.Store.Tiers[1].Settings["secret_key"])
	assert.Equal(t, "minio:9000", cfg.Store.Tiers[1].Settings["endpoint"])
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
