// Package stream provides chunked, gapless playback of a single track.
package stream

// State represents the streamer playback state.
type State int

const (
	StateStopped State = iota // Not playing; cursor holds the resume position
	StatePlaying              // Chunks are being fetched and scheduled
	StateEnding               // Final chunk scheduled, waiting for it to finish
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StateEnding:
		return "ending"
	default:
		return "unknown"
	}
}
