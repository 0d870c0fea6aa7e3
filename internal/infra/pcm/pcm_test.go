package pcm

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/chunkstream/internal/domain/track"
	"github.com/osa030/chunkstream/internal/infra/device/simdevice"
)

const testRate = beep.SampleRate(100)

func TestEncode_Layout(t *testing.T) {
	buf := beep.NewBuffer(Format(testRate))
	buf.Append(beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		return 0, false
	}))
	assert.Empty(t, Encode(buf))

	data := Encode(simdevice.Ramp(testRate, 2500*time.Millisecond))
	assert.Len(t, data, 250*FrameBytes)
}

func TestEncodeDecode_PreservesPosition(t *testing.T) {
	src := simdevice.Ramp(testRate, 3*time.Second)
	got, err := Decode(Encode(src), testRate)
	require.NoError(t, err)

	assert.Equal(t, src.Len(), got.Len())
	assert.Equal(t, testRate, got.Format().SampleRate)

	tail := beep.NewBuffer(got.Format())
	tail.Append(got.Streamer(testRate.N(2*time.Second), got.Len()))
	assert.Equal(t, 2*time.Second, simdevice.OffsetOf(tail))
}

func TestDecode_Corrupt(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3}, testRate)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestByteRange(t *testing.T) {
	md := track.Metadata{Duration: 2500 * time.Millisecond, SampleRate: 100, Channels: 2, Samples: 250}

	tests := []struct {
		name      string
		offset    time.Duration
		length    time.Duration
		wantStart int64
		wantEnd   int64
		wantErr   bool
	}{
		{name: "first chunk", offset: 0, length: time.Second, wantStart: 0, wantEnd: 400},
		{name: "middle chunk", offset: time.Second, length: time.Second, wantStart: 400, wantEnd: 800},
		{name: "final short chunk", offset: 2 * time.Second, length: 500 * time.Millisecond, wantStart: 800, wantEnd: 1000},
		{name: "clamped", offset: 2 * time.Second, length: time.Second, wantStart: 800, wantEnd: 1000},
		{name: "past end", offset: 2500 * time.Millisecond, length: time.Second, wantErr: true},
		{name: "negative", offset: -time.Second, length: time.Second, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := ByteRange(md, tt.offset, tt.length)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, track.ErrInvalidWindow))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestSampleRange_FinalWindowReachesLastFrame(t *testing.T) {
	sr := beep.SampleRate(44100)
	from, to, err := SampleRange(sr, 44102, time.Second, sr.D(44102)-time.Second)
	require.NoError(t, err)
	assert.Equal(t, 44100, from)
	assert.Equal(t, 44102, to)
}

func TestSampleRange_WindowsPartitionAsset(t *testing.T) {
	tests := []struct {
		rate  beep.SampleRate
		total int
		chunk time.Duration
	}{
		{rate: 44100, total: 3*44100 + 7, chunk: time.Second},
		{rate: 48000, total: 48000*5 + 1, chunk: 750 * time.Millisecond},
		{rate: 22050, total: 22050*2 + 22049, chunk: 300 * time.Millisecond},
		{rate: 100, total: 250, chunk: time.Second},
	}

	for _, tt := range tests {
		duration := tt.rate.D(tt.total)
		next := 0
		for offset := time.Duration(0); offset < duration; offset += tt.chunk {
			from, to, err := SampleRange(tt.rate, tt.total, offset, track.Window(offset, duration, tt.chunk))
			require.NoError(t, err, "rate %d offset %v", tt.rate, offset)
			assert.Equal(t, next, from, "rate %d offset %v: gap or overlap", tt.rate, offset)
			next = to
		}
		assert.Equal(t, tt.total, next, "rate %d: final window must reach the last frame", tt.rate)
	}
}
