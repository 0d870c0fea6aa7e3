// Package redisstore provides a chunk store backed by Redis.
//
// Each asset is kept under two keys: "<prefix>:<name>:pcm" holds the
// decoded audio as 16-bit PCM frames, read back one window at a time with
// GETRANGE, and "<prefix>:<name>:meta" holds its JSON metadata. The
// metadata key is written last, so its presence implies a complete asset.
package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/gopxl/beep/v2"
	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chunkstream/internal/domain/track"
	"github.com/osa030/chunkstream/internal/infra/pcm"
)

// Settings configures a Redis tier.
type Settings struct {
	Addr     string `yaml:"addr" mapstructure:"addr" default:"localhost:6379" validate:"required"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db" validate:"gte=0"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix" default:"chunkstream" validate:"required"`
	TTLSec   int    `yaml:"ttl_sec" mapstructure:"ttl_sec" validate:"gte=0"`
}

// ParseSettings decodes, defaults and validates tier settings.
func ParseSettings(settings map[string]any) (Settings, error) {
	var s Settings
	if err := mapstructure.Decode(settings, &s); err != nil {
		return s, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&s); err != nil {
		return s, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(s); err != nil {
		return s, errors.Wrap(err, "validation failed")
	}
	return s, nil
}

// Client is the subset of redis.Cmdable the store uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	GetRange(ctx context.Context, key string, start, end int64) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type metaRecord struct {
	DurationNs int64 `json:"duration_ns"`
	SampleRate int   `json:"sample_rate"`
	Channels   int   `json:"channels"`
	Samples    int   `json:"samples"`
}

// Store is a Redis-backed chunk store.
type Store struct {
	client Client
	prefix string
	ttl    time.Duration
	closer func() error
}

// New creates a store over an existing client.
func New(client Client, prefix string, ttl time.Duration) *Store {
	return &Store{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Dial connects to the Redis server described by settings.
func Dial(ctx context.Context, settings map[string]any) (*Store, error) {
	cfg, err := ParseSettings(settings)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", cfg.Addr)
	}

	zlog.Info().Msgf("redisstore: connected: addr=%s db=%d prefix=%s", cfg.Addr, cfg.DB, cfg.Prefix)
	s := New(rdb, cfg.Prefix, time.Duration(cfg.TTLSec)*time.Second)
	s.closer = rdb.Close
	return s, nil
}

// Close releases the connection opened by Dial.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func (s *Store) metaKey(name string) string {
	return s.prefix + ":" + name + ":meta"
}

func (s *Store) pcmKey(name string) string {
	return s.prefix + ":" + name + ":pcm"
}

// Metadata returns the metadata of a stored asset.
func (s *Store) Metadata(ctx context.Context, name string) (track.Metadata, error) {
	raw, err := s.client.Get(ctx, s.metaKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return track.Metadata{}, errors.Wrapf(track.ErrNotFound, "asset %q", name)
	}
	if err != nil {
		return track.Metadata{}, errors.Wrapf(err, "failed to get metadata of %q", name)
	}

	var rec metaRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return track.Metadata{}, errors.Wrapf(err, "failed to parse metadata of %q", name)
	}
	return track.Metadata{
		Duration:   time.Duration(rec.DurationNs),
		SampleRate: rec.SampleRate,
		Channels:   rec.Channels,
		Samples:    rec.Samples,
	}, nil
}

// Chunk reads the window [offset, offset+length) with a single GETRANGE.
func (s *Store) Chunk(ctx context.Context, name string, offset, length time.Duration) (*beep.Buffer, error) {
	md, err := s.Metadata(ctx, name)
	if err != nil {
		return nil, err
	}
	start, end, err := pcm.ByteRange(md, offset, length)
	if err != nil {
		return nil, errors.Wrapf(err, "asset %q", name)
	}

	data, err := s.client.GetRange(ctx, s.pcmKey(name), start, end-1).Bytes()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %q at %v", name, offset)
	}
	if len(data) == 0 {
		return nil, errors.Wrapf(track.ErrNotFound, "pcm data of %q", name)
	}
	if int64(len(data)) != end-start {
		return nil, errors.Wrapf(pcm.ErrCorrupt, "asset %q: read %d of %d bytes", name, len(data), end-start)
	}
	return pcm.Decode(data, beep.SampleRate(md.SampleRate))
}

// SaveDecoded stores buf under name.
func (s *Store) SaveDecoded(ctx context.Context, name string, buf *beep.Buffer) (track.Metadata, error) {
	if buf == nil {
		return track.Metadata{}, errors.New("nil buffer")
	}
	md := pcm.MetadataOf(buf)
	md.Channels = pcm.Channels

	raw, err := json.Marshal(metaRecord{
		DurationNs: int64(md.Duration),
		SampleRate: md.SampleRate,
		Channels:   md.Channels,
		Samples:    md.Samples,
	})
	if err != nil {
		return track.Metadata{}, errors.Wrap(err, "failed to encode metadata")
	}

	data := pcm.Encode(buf)
	if err := s.client.Set(ctx, s.pcmKey(name), data, s.ttl).Err(); err != nil {
		return track.Metadata{}, errors.Wrapf(err, "failed to store pcm data of %q", name)
	}
	if err := s.client.Set(ctx, s.metaKey(name), raw, s.ttl).Err(); err != nil {
		return track.Metadata{}, errors.Wrapf(err, "failed to store metadata of %q", name)
	}

	zlog.Debug().Msgf("redisstore: saved: name=%s bytes=%d duration=%v", name, len(data), md.Duration)
	return md, nil
}

// Delete removes an asset.
func (s *Store) Delete(ctx context.Context, name string) error {
	return s.client.Del(ctx, s.metaKey(name), s.pcmKey(name)).Err()
}
