// Package simdevice provides an audio device driven by a virtual clock.
// Time only moves when Advance is called, which makes chunk scheduling
// fully deterministic.
package simdevice

import (
	"sync"
	"time"

	"github.com/gopxl/beep/v2"

	"github.com/osa030/chunkstream/internal/domain/audio"
)

// Scheduled records a buffer handed to a bus.
type Scheduled struct {
	Output int
	Bus    int
	Buffer *beep.Buffer
	At     time.Duration
	Length time.Duration
}

type event struct {
	at      time.Duration
	seq     uint64
	f       func()
	stopped bool
	fired   bool
}

// Device is a virtual-clock audio device.
type Device struct {
	mu sync.Mutex

	now     time.Duration
	seq     uint64
	events  []*event
	outputs []*Output
	buses   int
}

// New creates a device whose clock starts at zero.
func New() *Device {
	return &Device{}
}

// Now returns the virtual device time.
func (d *Device) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

// AfterFunc runs f once the clock has advanced by delay.
func (d *Device) AfterFunc(delay time.Duration, f func()) func() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if delay < 0 {
		delay = 0
	}
	e := d.addEventLocked(d.now+delay, f)
	return func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		if e.fired || e.stopped {
			return false
		}
		e.stopped = true
		return true
	}
}

func (d *Device) addEventLocked(at time.Duration, f func()) *event {
	d.seq++
	e := &event{at: at, seq: d.seq, f: f}
	d.events = append(d.events, e)
	return e
}

// Advance moves the clock forward by delta, firing due timers and
// finished notifications in time order. Callbacks run without the device
// lock held and may schedule further events.
func (d *Device) Advance(delta time.Duration) {
	d.mu.Lock()
	target := d.now + delta
	for {
		e := d.nextDueLocked(target)
		if e == nil {
			break
		}
		e.fired = true
		if e.at > d.now {
			d.now = e.at
		}
		d.mu.Unlock()
		e.f()
		d.mu.Lock()
	}
	d.now = target
	d.mu.Unlock()
}

func (d *Device) nextDueLocked(target time.Duration) *event {
	live := d.events[:0]
	var next *event
	for _, e := range d.events {
		if e.fired || e.stopped {
			continue
		}
		live = append(live, e)
		if e.at > target {
			continue
		}
		if next == nil || e.at < next.at || (e.at == next.at && e.seq < next.seq) {
			next = e
		}
	}
	d.events = live
	return next
}

// PendingTimers returns the number of events that have not fired yet.
func (d *Device) PendingTimers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.events {
		if !e.fired && !e.stopped {
			n++
		}
	}
	return n
}

// NewOutput creates a gain node.
func (d *Device) NewOutput(mode audio.Mode) audio.Output {
	d.mu.Lock()
	defer d.mu.Unlock()

	o := &Output{dev: d, index: len(d.outputs), mode: mode, gain: 1}
	d.outputs = append(d.outputs, o)
	return o
}

// Outputs returns every output created so far, in creation order.
func (d *Device) Outputs() []*Output {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Output, len(d.outputs))
	copy(out, d.outputs)
	return out
}

// Output is a simulated gain node.
type Output struct {
	dev    *Device
	index  int
	mode   audio.Mode
	gain   float64
	closed bool
	buses  []*Bus
}

// Index returns the creation index of the output.
func (o *Output) Index() int {
	return o.index
}

// Mode returns the sink strategy the output was built with.
func (o *Output) Mode() audio.Mode {
	return o.mode
}

// SetGain sets the gain.
func (o *Output) SetGain(g float64) {
	o.dev.mu.Lock()
	defer o.dev.mu.Unlock()
	o.gain = g
}

// Gain returns the gain.
func (o *Output) Gain() float64 {
	o.dev.mu.Lock()
	defer o.dev.mu.Unlock()
	return o.gain
}

// NewBus creates a routing node feeding o.
func (o *Output) NewBus() audio.Bus {
	o.dev.mu.Lock()
	defer o.dev.mu.Unlock()

	o.dev.buses++
	b := &Bus{out: o, serial: o.dev.buses}
	o.buses = append(o.buses, b)
	return b
}

// Close disconnects the output and its buses.
func (o *Output) Close() {
	o.dev.mu.Lock()
	defer o.dev.mu.Unlock()
	o.closed = true
	for _, b := range o.buses {
		b.closed = true
	}
}

// Scheduled returns everything ever scheduled through o, in order.
func (o *Output) Scheduled() []Scheduled {
	o.dev.mu.Lock()
	defer o.dev.mu.Unlock()

	var out []Scheduled
	for _, b := range o.buses {
		out = append(out, b.items...)
	}
	return out
}

// Live returns what is scheduled on buses that are still connected.
func (o *Output) Live() []Scheduled {
	o.dev.mu.Lock()
	defer o.dev.mu.Unlock()

	var out []Scheduled
	for _, b := range o.buses {
		if !b.closed {
			out = append(out, b.items...)
		}
	}
	return out
}

// Bus is a simulated routing node.
type Bus struct {
	out    *Output
	serial int
	closed bool
	items  []Scheduled
}

// Schedule records buf at device time at and arranges onEnded.
func (b *Bus) Schedule(buf *beep.Buffer, at time.Duration, onEnded func()) {
	d := b.out.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	if b.closed {
		return
	}
	length := buf.Format().SampleRate.D(buf.Len())
	if b.out.mode == audio.ModeWorklet && len(b.items) > 0 {
		last := b.items[len(b.items)-1]
		if end := last.At + last.Length; at < end {
			at = end
		}
	}
	b.items = append(b.items, Scheduled{
		Output: b.out.index,
		Bus:    b.serial,
		Buffer: buf,
		At:     at,
		Length: length,
	})

	if onEnded != nil {
		d.addEventLocked(at+length, func() {
			d.mu.Lock()
			closed := b.closed
			d.mu.Unlock()
			if !closed {
				onEnded()
			}
		})
	}
}

// Close disconnects the bus.
func (b *Bus) Close() {
	b.out.dev.mu.Lock()
	defer b.out.dev.mu.Unlock()
	b.closed = true
}
