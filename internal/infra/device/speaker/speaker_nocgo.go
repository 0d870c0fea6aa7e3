//go:build !((linux && cgo) || windows || darwin)

// Package speaker attaches an engine to the system sound card.
package speaker

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/chunkstream/internal/infra/device/engine"
)

// Available reports whether this build can drive a sound card.
// Audio output requires cgo for the native sound libraries.
const Available = false

// ErrUnavailable is returned by Open in builds without audio support.
var ErrUnavailable = errors.New("speaker output requires a cgo build")

// Open always fails without cgo; use the null output instead.
func Open(e *engine.Engine, buffer time.Duration) (func(), error) {
	return nil, ErrUnavailable
}
