//go:build (linux && cgo) || windows || darwin

// Package speaker attaches an engine to the system sound card.
package speaker

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2/speaker"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chunkstream/internal/infra/device/engine"
)

// Available reports whether this build can drive a sound card.
// Audio output requires cgo for the native sound libraries.
const Available = true

// Open initializes the sound card at the engine's rate and starts pulling
// the mix from it. buffer is the sound card latency. The returned function
// releases the sound card.
func Open(e *engine.Engine, buffer time.Duration) (func(), error) {
	sr := e.SampleRate()
	if err := speaker.Init(sr, sr.N(buffer)); err != nil {
		return nil, errors.Wrap(err, "failed to initialize speaker")
	}
	speaker.Play(e)
	zlog.Info().Msgf("speaker: opened: rate=%d buffer=%v", sr, buffer)

	return func() {
		speaker.Clear()
		speaker.Close()
		zlog.Info().Msg("speaker: closed")
	}, nil
}
