package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNameFromLocator(t *testing.T) {
	tests := []struct {
		name     string
		locator  string
		expected string
	}{
		{
			name:     "http url",
			locator:  "https://cdn.example.com/audio/drums.mp3",
			expected: "drums",
		},
		{
			name:     "url with query",
			locator:  "https://cdn.example.com/audio/bass.wav?sig=abc",
			expected: "bass",
		},
		{
			name:     "relative file path",
			locator:  "assets/stems/vocals.wav",
			expected: "vocals",
		},
		{
			name:     "file url",
			locator:  "file:///tmp/keys.mp3",
			expected: "keys",
		},
		{
			name:     "multiple dots keep inner name",
			locator:  "/srv/take.2.final.wav",
			expected: "take.2.final",
		},
		{
			name:     "no extension",
			locator:  "/srv/raw",
			expected: "raw",
		},
		{
			name:     "empty",
			locator:  "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NameFromLocator(tt.locator))
		})
	}
}

func TestNew(t *testing.T) {
	trk := New("https://example.com/a/guitar.mp3")
	assert.Equal(t, "guitar", trk.Name)
	assert.Equal(t, "https://example.com/a/guitar.mp3", trk.Locator)
}

func TestWindow(t *testing.T) {
	tests := []struct {
		name     string
		offset   time.Duration
		duration time.Duration
		expected time.Duration
	}{
		{name: "full chunk", offset: 0, duration: 2500 * time.Millisecond, expected: time.Second},
		{name: "final short chunk", offset: 2 * time.Second, duration: 2500 * time.Millisecond, expected: 500 * time.Millisecond},
		{name: "exact boundary", offset: time.Second, duration: 2 * time.Second, expected: time.Second},
		{name: "past end", offset: 3 * time.Second, duration: 2 * time.Second, expected: -time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Window(tt.offset, tt.duration, time.Second))
		})
	}
}
