package stream

import "time"

// EventType represents a streamer event type.
type EventType int

const (
	EventStateChanged     EventType = iota // Playback state changed
	EventChunkScheduled                    // A chunk was handed to the output
	EventTrackEnded                        // Final chunk finished playing
	EventChunkFetchFailed                  // Mid-playback fetch failed; the loop halted
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventStateChanged:
		return "state_changed"
	case EventChunkScheduled:
		return "chunk_scheduled"
	case EventTrackEnded:
		return "track_ended"
	case EventChunkFetchFailed:
		return "chunk_fetch_failed"
	default:
		return "unknown"
	}
}

// Event represents a streamer event.
type Event struct {
	Type     EventType
	StreamID int
	State    State         // Streamer state when the event was sent
	Offset   time.Duration // Chunk offset (chunk events)
	Length   time.Duration // Chunk length (chunk events)
	At       time.Duration // Device time the chunk starts at (EventChunkScheduled)
	Err      error         // EventChunkFetchFailed only
}
