// Package track provides the Track domain entity.
package track

import (
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound      = errors.New("asset not found in chunk store")
	ErrInvalidWindow = errors.New("invalid chunk window")
)

// Track identifies a streamable audio asset.
type Track struct {
	Name    string // Logical asset name (chunk store key)
	Locator string // Fetch locator (URL or file path)
}

// Clip is an asset that can be bound to an existing stream.
type Clip struct {
	Locator string
}

// Metadata describes a decoded asset held by a chunk store.
type Metadata struct {
	Duration   time.Duration // Total decoded length
	SampleRate int           // Samples per second
	Channels   int           // Channel count of the source
	Samples    int           // Total sample frames
}

// New creates a track from its locator.
func New(locator string) Track {
	return Track{
		Name:    NameFromLocator(locator),
		Locator: locator,
	}
}

// NameFromLocator derives the logical asset name from a locator:
// the final path segment with its extension stripped.
func NameFromLocator(locator string) string {
	p := locator
	if u, err := url.Parse(locator); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.ReplaceAll(p, "\\", "/")
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// Window returns the chunk length for a window starting at offset:
// min(chunk, duration-offset). Non-positive when offset is past the end.
func Window(offset, duration, chunk time.Duration) time.Duration {
	if rest := duration - offset; rest < chunk {
		return rest
	}
	return chunk
}
