// Package miniostore provides a chunk store backed by an S3 compatible
// object store. Each asset is a PCM object read with ranged GETs plus a
// JSON sidecar holding its metadata.
package miniostore

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/gopxl/beep/v2"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chunkstream/internal/domain/track"
	"github.com/osa030/chunkstream/internal/infra/pcm"
)

// Settings configures an object store tier.
type Settings struct {
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint" validate:"required"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key" validate:"required"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key" validate:"required"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket" default:"chunkstream" validate:"required"`
	Region    string `yaml:"region" mapstructure:"region"`
	Prefix    string `yaml:"prefix" mapstructure:"prefix" default:"decoded"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
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

type metaRecord struct {
	DurationNs int64 `json:"duration_ns"`
	SampleRate int   `json:"sample_rate"`
	Channels   int   `json:"channels"`
	Samples    int   `json:"samples"`
}

// Store is an object store backed chunk store.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// Dial connects to the object store described by settings and makes sure
// the bucket exists.
func Dial(ctx context.Context, settings map[string]any) (*Store, error) {
	cfg, err := ParseSettings(settings)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create minio client")
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(checkCtx, cfg.Bucket)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to check bucket %s", cfg.Bucket)
	}
	if !exists {
		if err := client.MakeBucket(checkCtx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, errors.Wrapf(err, "failed to create bucket %s", cfg.Bucket)
		}
		zlog.Info().Msgf("miniostore: bucket created: bucket=%s", cfg.Bucket)
	}

	zlog.Info().Msgf("miniostore: connected: endpoint=%s bucket=%s prefix=%s", cfg.Endpoint, cfg.Bucket, cfg.Prefix)
	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// MetaObject returns the object name of an asset's metadata sidecar.
func MetaObject(prefix, name string) string {
	return path.Join(prefix, name+".json")
}

// PCMObject returns the object name of an asset's PCM data.
func PCMObject(prefix, name string) string {
	return path.Join(prefix, name+".pcm")
}

// Metadata returns the metadata of a stored asset.
func (s *Store) Metadata(ctx context.Context, name string) (track.Metadata, error) {
	raw, err := s.read(ctx, MetaObject(s.prefix, name), minio.GetObjectOptions{})
	if err != nil {
		return track.Metadata{}, errors.Wrapf(err, "asset %q", name)
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

// Chunk reads the window [offset, offset+length) with a ranged GET.
func (s *Store) Chunk(ctx context.Context, name string, offset, length time.Duration) (*beep.Buffer, error) {
	md, err := s.Metadata(ctx, name)
	if err != nil {
		return nil, err
	}
	start, end, err := pcm.ByteRange(md, offset, length)
	if err != nil {
		return nil, errors.Wrapf(err, "asset %q", name)
	}

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(start, end-1); err != nil {
		return nil, errors.Wrap(err, "invalid range")
	}
	data, err := s.read(ctx, PCMObject(s.prefix, name), opts)
	if err != nil {
		return nil, errors.Wrapf(err, "asset %q at %v", name, offset)
	}
	if int64(len(data)) != end-start {
		return nil, errors.Wrapf(pcm.ErrCorrupt, "asset %q: read %d of %d bytes", name, len(data), end-start)
	}
	return pcm.Decode(data, beep.SampleRate(md.SampleRate))
}

// SaveDecoded uploads buf under name. The sidecar goes last, so a
// readable sidecar implies a complete PCM object.
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
	if err := s.put(ctx, PCMObject(s.prefix, name), data, "application/octet-stream"); err != nil {
		return track.Metadata{}, err
	}
	if err := s.put(ctx, MetaObject(s.prefix, name), raw, "application/json"); err != nil {
		return track.Metadata{}, err
	}

	zlog.Debug().Msgf("miniostore: saved: name=%s bytes=%d duration=%v", name, len(data), md.Duration)
	return md, nil
}

func (s *Store) put(ctx context.Context, object string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, object, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to upload %s", object)
	}
	return nil
}

func (s *Store) read(ctx context.Context, object string, opts minio.GetObjectOptions) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, object, opts)
	if err != nil {
		return nil, mapError(err, object)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapError(err, object)
	}
	return data, nil
}

// mapError turns a missing object into track.ErrNotFound.
func mapError(err error, object string) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return errors.Wrapf(track.ErrNotFound, "object %s", object)
	}
	return errors.Wrapf(err, "failed to read %s", object)
}

// Delete removes an asset.
func (s *Store) Delete(ctx context.Context, name string) error {
	for _, object := range []string{MetaObject(s.prefix, name), PCMObject(s.prefix, name)} {
		if err := s.client.RemoveObject(ctx, s.bucket, object, minio.RemoveObjectOptions{}); err != nil {
			return errors.Wrapf(err, "failed to remove %s", object)
		}
	}
	return nil
}
