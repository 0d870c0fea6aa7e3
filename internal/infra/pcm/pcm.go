// Package pcm converts decoded buffers to and from the byte layout used by
// byte-range chunk stores: interleaved stereo, signed 16-bit little endian.
package pcm

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"

	"github.com/osa030/chunkstream/internal/domain/track"
)

const (
	Channels   = 2
	Precision  = 2                    // bytes per channel sample
	FrameBytes = Channels * Precision // bytes per sample frame
)

// ErrCorrupt is returned for data that is not a whole number of frames.
var ErrCorrupt = errors.New("corrupt pcm data")

// Format returns the storage format at sample rate sr.
func Format(sr beep.SampleRate) beep.Format {
	return beep.Format{SampleRate: sr, NumChannels: Channels, Precision: Precision}
}

// Encode serializes every sample of buf.
func Encode(buf *beep.Buffer) []byte {
	f := Format(buf.Format().SampleRate)
	out := make([]byte, 0, buf.Len()*FrameBytes)

	s := buf.Streamer(0, buf.Len())
	var (
		samples [512][2]float64
		frame   [FrameBytes]byte
	)
	for {
		n, ok := s.Stream(samples[:])
		for _, sample := range samples[:n] {
			k := f.EncodeSigned(frame[:], sample)
			out = append(out, frame[:k]...)
		}
		if !ok || n == 0 {
			break
		}
	}
	return out
}

// Decode parses data produced by Encode.
func Decode(data []byte, sr beep.SampleRate) (*beep.Buffer, error) {
	if len(data)%FrameBytes != 0 {
		return nil, errors.Wrapf(ErrCorrupt, "%d bytes is not a multiple of %d", len(data), FrameBytes)
	}
	f := Format(sr)
	buf := beep.NewBuffer(f)

	p := data
	buf.Append(beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if len(p) == 0 {
			return 0, false
		}
		n := 0
		for n < len(samples) && len(p) > 0 {
			sample, used := f.DecodeSigned(p)
			samples[n] = sample
			p = p[used:]
			n++
		}
		return n, true
	}))
	return buf, nil
}

// MetadataOf describes a decoded buffer.
func MetadataOf(buf *beep.Buffer) track.Metadata {
	f := buf.Format()
	return track.Metadata{
		Duration:   f.SampleRate.D(buf.Len()),
		SampleRate: int(f.SampleRate),
		Channels:   f.NumChannels,
		Samples:    buf.Len(),
	}
}

// SampleRange converts a time window into the frame range [from, to) of
// an asset with total frames. A window reaching the asset duration ends at
// the last frame, so consecutive windows partition [0, total).
func SampleRange(sr beep.SampleRate, total int, offset, length time.Duration) (from, to int, err error) {
	if offset < 0 || length <= 0 {
		return 0, 0, errors.Wrapf(track.ErrInvalidWindow, "offset %v length %v", offset, length)
	}
	duration := sr.D(total)
	if offset >= duration {
		return 0, 0, errors.Wrapf(track.ErrInvalidWindow, "offset %v past end", offset)
	}

	from = frameAt(sr, offset)
	if end := offset + length; end >= duration {
		to = total
	} else {
		to = frameAt(sr, end)
	}
	if from >= total {
		from = total - 1
	}
	if to > total {
		to = total
	}
	if to <= from {
		to = from + 1
	}
	return from, to, nil
}

// frameAt maps a window boundary to the nearest frame. Rounding makes a
// duration computed from a frame count map back to that count.
func frameAt(sr beep.SampleRate, d time.Duration) int {
	return int((int64(d)*int64(sr) + int64(time.Second)/2) / int64(time.Second))
}
