// Package decode turns raw audio assets into PCM buffers.
package decode

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
	zlog "github.com/rs/zerolog/log"
)

var (
	ErrDecode      = errors.New("failed to decode asset")
	ErrUnsupported = errors.New("unsupported audio format")
)

// resampleQuality is passed to beep.Resample.
const resampleQuality = 4

// Decoder decodes MP3 and WAV assets, resampling them to a fixed rate.
type Decoder struct {
	sampleRate beep.SampleRate
}

// New creates a decoder producing buffers at sampleRate. A zero rate keeps
// the source rate.
func New(sampleRate int) *Decoder {
	return &Decoder{sampleRate: beep.SampleRate(sampleRate)}
}

// Detect returns the MIME type sniffed from data.
func Detect(data []byte) string {
	return mimetype.Detect(data).String()
}

// Decode decodes data into a stereo buffer.
func (d *Decoder) Decode(ctx context.Context, data []byte) (*beep.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mt := mimetype.Detect(data)
	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)
	switch {
	case mt.Is("audio/mpeg"):
		streamer, format, err = mp3.Decode(nopCloser{bytes.NewReader(data)})
	case mt.Is("audio/wav"):
		streamer, format, err = wav.Decode(bytes.NewReader(data))
	default:
		return nil, errors.Mark(errors.Wrapf(ErrUnsupported, "detected %s", mt.String()), ErrDecode)
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to read %s stream", mt.String()), ErrDecode)
	}
	defer streamer.Close()

	start := time.Now()
	var s beep.Streamer = streamer
	outFormat := beep.Format{SampleRate: format.SampleRate, NumChannels: 2, Precision: format.Precision}
	if d.sampleRate > 0 && format.SampleRate != d.sampleRate {
		s = beep.Resample(resampleQuality, format.SampleRate, d.sampleRate, streamer)
		outFormat.SampleRate = d.sampleRate
	}
	if outFormat.Precision <= 0 || outFormat.Precision > 3 {
		outFormat.Precision = 2
	}

	buf := beep.NewBuffer(outFormat)
	buf.Append(s)
	if err := streamer.Err(); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to decode %s stream", mt.String()), ErrDecode)
	}
	if buf.Len() == 0 {
		return nil, errors.Mark(errors.Newf("%s stream holds no samples", mt.String()), ErrDecode)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	zlog.Debug().Msgf("decode: decoded: type=%s source_rate=%d rate=%d samples=%d elapsed=%v",
		mt.String(), format.SampleRate, outFormat.SampleRate, buf.Len(), time.Since(start))
	return buf, nil
}

type nopCloser struct {
	io.Reader
}

func (nopCloser) Close() error { return nil }
