// Package audio defines the audio device contract used by the streaming core.
package audio

import (
	"time"

	"github.com/gopxl/beep/v2"
)

// Mode selects how a track's output sink is built.
type Mode int

const (
	ModeBufferSource Mode = iota // Each chunk starts at its own absolute device time
	ModeWorklet                  // Chunks feed a continuous FIFO processor
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeBufferSource:
		return "buffer_source"
	case ModeWorklet:
		return "worklet"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name as used in configuration.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "buffer_source", "":
		return ModeBufferSource, true
	case "worklet":
		return ModeWorklet, true
	default:
		return ModeBufferSource, false
	}
}

// Clock is the monotonic device clock.
type Clock interface {
	// Now returns the device time.
	Now() time.Duration
	// AfterFunc runs f once after d has elapsed on the device clock.
	// The returned stop function cancels f if it has not fired yet.
	AfterFunc(d time.Duration, f func()) (stop func() bool)
}

// Device is the output side of the audio graph.
type Device interface {
	Clock
	// NewOutput creates a gain node connected to the device destination.
	NewOutput(mode Mode) Output
}

// Output is a track's gain node. It outlives playback spans.
type Output interface {
	SetGain(g float64)
	Gain() float64
	// NewBus creates a fresh routing node feeding this output.
	NewBus() Bus
	// Close disconnects the output and every bus feeding it.
	Close()
}

// Bus is an intermediate routing node that scheduled buffers play through.
// Closing a bus silences everything scheduled on it; their onEnded
// callbacks never fire.
type Bus interface {
	// Schedule plays buf starting at device time at. onEnded, if not nil,
	// is called once after the buffer has finished playing.
	Schedule(buf *beep.Buffer, at time.Duration, onEnded func())
	Close()
}
