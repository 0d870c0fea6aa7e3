package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/chunkstream/internal/domain/track"
	"github.com/osa030/chunkstream/internal/infra/device/simdevice"
)

const testRate = beep.SampleRate(100)

// fakeRedis implements Client over a map with Redis string semantics.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) GetRange(ctx context.Context, key string, start, end int64) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v := f.data[key]
	if end >= int64(len(v)) {
		end = int64(len(v)) - 1
	}
	if start > end {
		return redis.NewStringResult("", nil)
	}
	return redis.NewStringResult(string(v[start:end+1]), nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = append([]byte(nil), v...)
	case string:
		f.data[key] = []byte(v)
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestParseSettings(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		want     Settings
		wantErr  bool
	}{
		{
			name:     "defaults",
			settings: map[string]any{},
			want:     Settings{Addr: "localhost:6379", Prefix: "chunkstream"},
		},
		{
			name:     "explicit",
			settings: map[string]any{"addr": "redis:6380", "db": 2, "prefix": "stems", "ttl_sec": 3600},
			want:     Settings{Addr: "redis:6380", DB: 2, Prefix: "stems", TTLSec: 3600},
		},
		{
			name:     "negative db",
			settings: map[string]any{"db": -1},
			wantErr:  true,
		},
		{
			name:     "wrong type",
			settings: map[string]any{"db": "zero"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSettings(tt.settings)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_MetadataMiss(t *testing.T) {
	s := New(newFakeRedis(), "cs", 0)
	_, err := s.Metadata(context.Background(), "drums")
	require.Error(t, err)
	assert.True(t, errors.Is(err, track.ErrNotFound))

	_, err = s.Chunk(context.Background(), "drums", 0, time.Second)
	assert.True(t, errors.Is(err, track.ErrNotFound))
}

func TestStore_SaveAndChunk(t *testing.T) {
	rdb := newFakeRedis()
	s := New(rdb, "cs", time.Hour)
	ctx := context.Background()

	md, err := s.SaveDecoded(ctx, "drums", simdevice.Ramp(testRate, 2500*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, md.Duration)
	assert.Contains(t, rdb.data, "cs:drums:meta")
	assert.Contains(t, rdb.data, "cs:drums:pcm")
	assert.Equal(t, time.Hour, rdb.ttls["cs:drums:pcm"])

	got, err := s.Metadata(ctx, "drums")
	require.NoError(t, err)
	assert.Equal(t, md, got)

	tests := []struct {
		offset  time.Duration
		length  time.Duration
		wantLen int
	}{
		{offset: 0, length: time.Second, wantLen: 100},
		{offset: time.Second, length: time.Second, wantLen: 100},
		{offset: 2 * time.Second, length: 500 * time.Millisecond, wantLen: 50},
		{offset: 1300 * time.Millisecond, length: time.Second, wantLen: 100},
	}
	for _, tt := range tests {
		buf, err := s.Chunk(ctx, "drums", tt.offset, tt.length)
		require.NoError(t, err)
		assert.Equal(t, tt.wantLen, buf.Len())
		assert.Equal(t, tt.offset, simdevice.OffsetOf(buf))
	}

	_, err = s.Chunk(ctx, "drums", 3*time.Second, time.Second)
	assert.True(t, errors.Is(err, track.ErrInvalidWindow))
}

func TestStore_TruncatedData(t *testing.T) {
	rdb := newFakeRedis()
	s := New(rdb, "cs", 0)
	ctx := context.Background()

	_, err := s.SaveDecoded(ctx, "bass", simdevice.Ramp(testRate, 2*time.Second))
	require.NoError(t, err)
	rdb.data["cs:bass:pcm"] = rdb.data["cs:bass:pcm"][:500]

	_, err = s.Chunk(ctx, "bass", time.Second, time.Second)
	require.Error(t, err)
}

func TestStore_BackendError(t *testing.T) {
	rdb := newFakeRedis()
	rdb.err = errors.New("connection reset")
	s := New(rdb, "cs", 0)

	_, err := s.Metadata(context.Background(), "drums")
	require.Error(t, err)
	assert.False(t, errors.Is(err, track.ErrNotFound))
	assert.True(t, errors.Is(err, rdb.err))

	_, err = s.SaveDecoded(context.Background(), "drums", simdevice.Ramp(testRate, time.Second))
	assert.Error(t, err)
}

func TestStore_Delete(t *testing.T) {
	rdb := newFakeRedis()
	s := New(rdb, "cs", 0)
	ctx := context.Background()

	_, err := s.SaveDecoded(ctx, "keys", simdevice.Ramp(testRate, time.Second))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "keys"))
	assert.Empty(t, rdb.data)
	assert.NoError(t, s.Close())
}
