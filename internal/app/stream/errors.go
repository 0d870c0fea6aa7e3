package stream

import "github.com/cockroachdb/errors"

// Errors
var (
	ErrNotReady         = errors.New("stream is not ready")
	ErrOffsetOutOfRange = errors.New("offset out of range")
	ErrAlreadyPlaying   = errors.New("stream is already playing")
	ErrLoad             = errors.New("failed to load stream")
	ErrChunkFetch       = errors.New("failed to fetch chunk")
)

func loadError(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrLoad)
}

func chunkFetchError(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrChunkFetch)
}
