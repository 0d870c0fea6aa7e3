// Package engine is a software mixer implementing the audio device
// contract. Its clock counts rendered sample frames, so device time is
// whatever has been pulled out of it by a sound card or a pump.
package engine

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chunkstream/internal/domain/audio"
)

const resampleQuality = 4

// Config represents engine configuration.
type Config struct {
	SampleRate beep.SampleRate
	// SyncCallbacks runs timers and ended notifications on the rendering
	// goroutine, in device time order. A blocking callback then stalls the
	// whole mix, so this is only meant for tests. Otherwise every callback
	// runs on its own goroutine.
	SyncCallbacks bool
}

type timer struct {
	at      int
	seq     uint64
	f       func()
	stopped bool
	fired   bool
}

type callback struct {
	at  int
	seq uint64
	f   func()
}

// Engine mixes every scheduled buffer into a single stereo stream.
type Engine struct {
	mu sync.Mutex

	sr       beep.SampleRate
	inline   bool
	rendered int
	seq      uint64
	timers   []*timer
	outputs  []*Output
	scratch  [][2]float64
}

// New creates an engine.
func New(cfg Config) *Engine {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	return &Engine{sr: cfg.SampleRate, inline: cfg.SyncCallbacks}
}

// SampleRate returns the rate the engine renders at.
func (e *Engine) SampleRate() beep.SampleRate {
	return e.sr
}

// Now returns the duration of audio rendered so far.
func (e *Engine) Now() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sr.D(e.rendered)
}

// AfterFunc runs f once the render position has advanced by d.
func (e *Engine) AfterFunc(d time.Duration, f func()) func() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if d < 0 {
		d = 0
	}
	e.seq++
	t := &timer{at: e.rendered + e.sr.N(d), seq: e.seq, f: f}
	e.timers = append(e.timers, t)
	return func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		if t.fired || t.stopped {
			return false
		}
		t.stopped = true
		return true
	}
}

// NewOutput creates a gain node connected to the mix.
func (e *Engine) NewOutput(mode audio.Mode) audio.Output {
	e.mu.Lock()
	defer e.mu.Unlock()

	o := &Output{eng: e, mode: mode, gain: 1}
	e.outputs = append(e.outputs, o)
	return o
}

// Stream renders the next len(samples) frames. It never runs dry.
func (e *Engine) Stream(samples [][2]float64) (int, bool) {
	e.mu.Lock()
	for i := range samples {
		samples[i] = [2]float64{}
	}
	if cap(e.scratch) < len(samples) {
		e.scratch = make([][2]float64, len(samples))
	}

	from, to := e.rendered, e.rendered+len(samples)
	var due []callback
	live := e.outputs[:0]
	for _, o := range e.outputs {
		if o.closed {
			continue
		}
		due = o.mixLocked(samples, from, to, due)
		live = append(live, o)
	}
	clear(e.outputs[len(live):])
	e.outputs = live
	e.rendered = to
	due = e.dueTimersLocked(due)
	e.mu.Unlock()

	e.dispatch(due)
	return len(samples), true
}

// Err implements beep.Streamer.
func (e *Engine) Err() error {
	return nil
}

func (e *Engine) dueTimersLocked(due []callback) []callback {
	pending := e.timers[:0]
	for _, t := range e.timers {
		if t.stopped || t.fired {
			continue
		}
		if t.at > e.rendered {
			pending = append(pending, t)
			continue
		}
		t.fired = true
		due = append(due, callback{at: t.at, seq: t.seq, f: t.f})
	}
	clear(e.timers[len(pending):])
	e.timers = pending
	return due
}

func (e *Engine) dispatch(due []callback) {
	if len(due) == 0 {
		return
	}
	if !e.inline {
		// The sound card pulls with its own lock held, and a callback may
		// block on a chunk store for as long as that store takes. Each one
		// gets its own goroutine so a slow track never holds up another.
		for _, c := range due {
			go c.f()
		}
		return
	}
	slices.SortStableFunc(due, func(a, b callback) int {
		if a.at != b.at {
			return a.at - b.at
		}
		return int(a.seq) - int(b.seq)
	})
	for _, c := range due {
		c.f()
	}
}

// Run renders in real time, discarding the mix, until ctx is done. It is
// the clock source when no sound card is attached.
func (e *Engine) Run(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	zlog.Debug().Msgf("engine: pump started: rate=%d period=%v", e.sr, period)
	last := time.Now()
	var (
		owed time.Duration
		buf  [][2]float64
	)
	for {
		select {
		case <-ctx.Done():
			zlog.Debug().Msgf("engine: pump stopped: rendered=%v", e.Now())
			return ctx.Err()
		case now := <-ticker.C:
			owed += now.Sub(last)
			last = now
			n := e.sr.N(owed)
			if n == 0 {
				continue
			}
			owed -= e.sr.D(n)
			if cap(buf) < n {
				buf = make([][2]float64, n)
			}
			e.Stream(buf[:n])
		}
	}
}

// Output is a gain node of the engine.
type Output struct {
	eng    *Engine
	mode   audio.Mode
	gain   float64
	closed bool
	buses  []*Bus
}

// SetGain sets the gain.
func (o *Output) SetGain(g float64) {
	o.eng.mu.Lock()
	defer o.eng.mu.Unlock()
	o.gain = g
}

// Gain returns the gain.
func (o *Output) Gain() float64 {
	o.eng.mu.Lock()
	defer o.eng.mu.Unlock()
	return o.gain
}

// NewBus creates a routing node feeding o.
func (o *Output) NewBus() audio.Bus {
	o.eng.mu.Lock()
	defer o.eng.mu.Unlock()

	b := &Bus{out: o, closed: o.closed}
	if !o.closed {
		o.buses = append(o.buses, b)
	}
	return b
}

// Close disconnects the output and its buses.
func (o *Output) Close() {
	o.eng.mu.Lock()
	defer o.eng.mu.Unlock()
	o.closed = true
	for _, b := range o.buses {
		b.closed = true
	}
	o.buses = nil
}

func (o *Output) mixLocked(dst [][2]float64, from, to int, due []callback) []callback {
	live := o.buses[:0]
	for _, b := range o.buses {
		if b.closed {
			continue
		}
		due = b.mixLocked(dst, from, to, o.gain, due)
		live = append(live, b)
	}
	clear(o.buses[len(live):])
	o.buses = live
	return due
}

type item struct {
	buf     *beep.Buffer
	start   int
	seq     uint64
	onEnded func()
}

func (it *item) end() int {
	return it.start + it.buf.Len()
}

// Bus is a routing node. Buffers scheduled on it are mixed at their start
// frame, or queued after the previous one in worklet mode.
type Bus struct {
	out    *Output
	closed bool
	items  []*item
	tail   int
}

// Schedule plays buf at device time at. A buffer scheduled in the past
// starts at the current render position.
func (b *Bus) Schedule(buf *beep.Buffer, at time.Duration, onEnded func()) {
	e := b.out.eng
	buf = e.conform(buf)

	e.mu.Lock()
	defer e.mu.Unlock()
	if b.closed {
		return
	}

	start := e.sr.N(at)
	if start < e.rendered {
		zlog.Debug().Msgf("engine: late buffer: at=%v now=%v", at, e.sr.D(e.rendered))
		start = e.rendered
	}
	if b.out.mode == audio.ModeWorklet && start < b.tail {
		start = b.tail
	}
	e.seq++
	it := &item{buf: buf, start: start, seq: e.seq, onEnded: onEnded}
	b.items = append(b.items, it)
	if end := it.end(); end > b.tail {
		b.tail = end
	}
}

// Close disconnects the bus.
func (b *Bus) Close() {
	b.out.eng.mu.Lock()
	defer b.out.eng.mu.Unlock()
	b.closed = true
	b.items = nil
}

func (b *Bus) mixLocked(dst [][2]float64, from, to int, gain float64, due []callback) []callback {
	scratch := b.out.eng.scratch
	keep := b.items[:0]
	for _, it := range b.items {
		end := it.end()
		lo, hi := max(it.start, from), min(end, to)
		if lo < hi {
			seg := scratch[:hi-lo]
			n, _ := it.buf.Streamer(lo-it.start, hi-it.start).Stream(seg)
			for k := 0; k < n; k++ {
				dst[lo-from+k][0] += gain * seg[k][0]
				dst[lo-from+k][1] += gain * seg[k][1]
			}
		}
		if end > to {
			keep = append(keep, it)
			continue
		}
		if it.onEnded != nil {
			due = append(due, callback{at: end, seq: it.seq, f: b.ended(it.onEnded)})
		}
	}
	clear(b.items[len(keep):])
	b.items = keep
	return due
}

func (b *Bus) ended(f func()) func() {
	return func() {
		b.out.eng.mu.Lock()
		closed := b.closed
		b.out.eng.mu.Unlock()
		if !closed {
			f()
		}
	}
}

// conform resamples buf to the engine rate.
func (e *Engine) conform(buf *beep.Buffer) *beep.Buffer {
	format := buf.Format()
	if format.SampleRate == e.sr {
		return buf
	}
	out := beep.NewBuffer(beep.Format{SampleRate: e.sr, NumChannels: 2, Precision: format.Precision})
	out.Append(beep.Resample(resampleQuality, format.SampleRate, e.sr, buf.Streamer(0, buf.Len())))
	return out
}
