package stream

import (
	"sync"
	"time"

	"github.com/osa030/chunkstream/internal/domain/audio"
)

// delayedTask is a single cancelable delayed callback on the device clock.
// Scheduling a new callback replaces the pending one.
type delayedTask struct {
	mu    sync.Mutex
	clock audio.Clock
	stop  func() bool
	seq   uint64
}

func newDelayedTask(clock audio.Clock) *delayedTask {
	return &delayedTask{clock: clock}
}

// schedule runs f after d, canceling any callback still pending.
func (t *delayedTask) schedule(d time.Duration, f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	seq := t.seq
	t.stop = t.clock.AfterFunc(d, func() {
		t.mu.Lock()
		if t.seq != seq {
			t.mu.Unlock()
			return
		}
		t.stop = nil
		t.mu.Unlock()

		f()
	})
}

// cancel drops the pending callback, if any.
func (t *delayedTask) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

func (t *delayedTask) cancelLocked() {
	if t.stop != nil {
		t.stop()
		t.stop = nil
	}
	t.seq++
}

// pending reports whether a callback is waiting to fire.
func (t *delayedTask) pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}
