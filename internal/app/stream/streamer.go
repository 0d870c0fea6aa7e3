package stream

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chunkstream/internal/domain/audio"
	"github.com/osa030/chunkstream/internal/domain/track"
)

// Store is the decoded-chunk store a streamer reads from.
type Store interface {
	// Metadata returns the cached metadata of a decoded asset, or track.ErrNotFound.
	Metadata(ctx context.Context, name string) (track.Metadata, error)
	// Chunk returns the decoded window [offset, offset+length) of an asset.
	Chunk(ctx context.Context, name string, offset, length time.Duration) (*beep.Buffer, error)
	// SaveDecoded stores a fully decoded asset under name.
	SaveDecoded(ctx context.Context, name string, buf *beep.Buffer) (track.Metadata, error)
}

// Fetcher retrieves a raw asset by locator.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// Decoder decodes a raw asset.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (*beep.Buffer, error)
}

// Config holds streamer configuration.
type Config struct {
	ChunkLength time.Duration // Length of each fetched window
	Lookahead   time.Duration // How long before a chunk is due its fetch begins
	Mode        audio.Mode    // Output sink strategy
}

// DefaultConfig returns one-second chunks fetched two seconds ahead.
func DefaultConfig() Config {
	return Config{
		ChunkLength: time.Second,
		Lookahead:   2 * time.Second,
		Mode:        audio.ModeBufferSource,
	}
}

// Deps bundles the collaborators of a streamer.
type Deps struct {
	Store   Store
	Fetcher Fetcher
	Decoder Decoder
	Device  audio.Device
	Events  chan<- Event // Optional; events are dropped when full
}

type chunk struct {
	offset time.Duration
	length time.Duration
	buf    *beep.Buffer
}

// Streamer plays one track by fetching short chunks just ahead of the
// playback cursor and scheduling them back to back on the device.
type Streamer struct {
	mu sync.Mutex

	id  int
	trk track.Track

	// Asset state
	duration time.Duration
	ready    bool

	// Playback state
	state  State
	cursor time.Duration  // Position at anchor (or resume position when stopped)
	anchor *time.Duration // Device time the current span's first chunk started
	primed *chunk

	// Output graph
	output audio.Output
	bus    audio.Bus

	// Scheduling
	fetchTask  *delayedTask
	generation uint64 // Bumped on every span start and stop

	config Config
	deps   Deps

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a streamer for the asset at locator.
func New(id int, locator string, config Config, deps Deps) *Streamer {
	ctx, cancel := context.WithCancel(context.Background())
	if config.ChunkLength <= 0 {
		config.ChunkLength = DefaultConfig().ChunkLength
	}
	if config.Lookahead < 0 {
		config.Lookahead = 0
	}

	output := deps.Device.NewOutput(config.Mode)
	return &Streamer{
		id:        id,
		trk:       track.New(locator),
		state:     StateStopped,
		output:    output,
		bus:       output.NewBus(),
		fetchTask: newDelayedTask(deps.Device),
		config:    config,
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// ID returns the streamer id.
func (s *Streamer) ID() int {
	return s.id
}

// Track returns the bound asset.
func (s *Streamer) Track() track.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trk
}

// Name returns the logical asset name.
func (s *Streamer) Name() string {
	return s.Track().Name
}

// Locator returns the asset locator.
func (s *Streamer) Locator() string {
	return s.Track().Locator
}

// Duration returns the track length; zero until loaded.
func (s *Streamer) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// Ready reports whether the duration is known and chunks can be fetched.
func (s *Streamer) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// State returns the playback state.
func (s *Streamer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Node returns the streamer's output gain node for external routing.
func (s *Streamer) Node() audio.Output {
	return s.output
}

// SetGain sets the output gain. Scheduling is not affected.
func (s *Streamer) SetGain(g float64) {
	s.output.SetGain(g)
}

// Gain returns the output gain.
func (s *Streamer) Gain() float64 {
	return s.output.Gain()
}

// Rebind points the streamer at another asset. The streamer stops and
// becomes unready until the next Load.
func (s *Streamer) Rebind(locator string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.trk = track.New(locator)
	s.ready = false
	s.duration = 0
	s.cursor = 0
	s.primed = nil
}

// Load resolves the track duration, decoding and storing the asset if the
// chunk store does not know it yet (or force is set).
func (s *Streamer) Load(ctx context.Context, force bool) error {
	trk := s.Track()
	if trk.Locator == "" {
		return loadError(errors.New("no asset bound"), "stream %d", s.id)
	}

	if !force {
		md, err := s.deps.Store.Metadata(ctx, trk.Name)
		if err == nil {
			zlog.Debug().Msgf("stream: metadata cache hit: id=%d track=%s duration=%v", s.id, trk.Name, md.Duration)
			s.adopt(trk, md)
			return nil
		}
		if !errors.Is(err, track.ErrNotFound) {
			zlog.Warn().Msgf("stream: metadata lookup failed, loading from source: id=%d track=%s error=%v", s.id, trk.Name, err)
		}
	}

	raw, err := s.deps.Fetcher.Fetch(ctx, trk.Locator)
	if err != nil {
		return loadError(err, "failed to fetch %s", trk.Locator)
	}

	buf, err := s.deps.Decoder.Decode(ctx, raw)
	if err != nil {
		return loadError(err, "failed to decode %s", trk.Locator)
	}

	md, err := s.deps.Store.SaveDecoded(ctx, trk.Name, buf)
	if err != nil {
		return loadError(err, "failed to store %s", trk.Name)
	}

	zlog.Info().Msgf("stream: loaded: id=%d track=%s duration=%v", s.id, trk.Name, md.Duration)
	s.adopt(trk, md)
	return nil
}

func (s *Streamer) adopt(trk track.Track, md track.Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.trk != trk {
		// Rebound while loading
		return
	}
	s.duration = md.Duration
	s.ready = true
	if s.cursor >= s.duration {
		s.cursor = 0
	}
}

// Prime fetches the first chunk of the next Stream call ahead of time, so
// that Stream can schedule it without waiting on the chunk store.
func (s *Streamer) Prime(ctx context.Context, opts ...Option) error {
	o := applyOptions(opts)

	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return ErrNotReady
	}
	offset := s.cursor
	if o.offset != nil {
		offset = *o.offset
	}
	if offset < 0 || offset >= s.duration {
		duration := s.duration
		s.mu.Unlock()
		return errors.Wrapf(ErrOffsetOutOfRange, "offset %v, duration %v", offset, duration)
	}
	trk := s.trk
	length := s.windowLocked(offset)
	s.mu.Unlock()

	buf, err := s.deps.Store.Chunk(ctx, trk.Name, offset, length)
	if err != nil {
		return chunkFetchError(err, "failed to prime %s at %v", trk.Name, offset)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trk != trk {
		// Rebound while fetching
		zlog.Debug().Msgf("stream: dropping primed chunk of previous asset: id=%d track=%s offset=%v", s.id, trk.Name, offset)
		return nil
	}
	s.primed = &chunk{offset: offset, length: length, buf: buf}
	return nil
}

// Stream starts playback. It returns once the first chunk is scheduled.
func (s *Streamer) Stream(ctx context.Context, opts ...Option) error {
	o := applyOptions(opts)

	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return ErrNotReady
	}
	if s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyPlaying
	}
	offset := s.cursor
	if o.offset != nil {
		offset = *o.offset
	}
	if offset < 0 {
		s.mu.Unlock()
		return errors.Wrapf(ErrOffsetOutOfRange, "offset %v", offset)
	}
	if offset >= s.duration {
		s.cursor = 0
		s.mu.Unlock()
		return nil
	}

	s.generation++
	gen := s.generation
	s.cursor = offset
	s.anchor = nil
	s.state = StatePlaying
	s.sendEventLocked(Event{Type: EventStateChanged})

	if p := s.primed; p != nil && p.offset == offset {
		s.primed = nil
		when := s.deps.Device.Now()
		if o.startTime != nil {
			when = *o.startTime
		}
		s.scheduleLocked(gen, *p, when)
		s.mu.Unlock()
		return nil
	}

	name := s.trk.Name
	length := s.windowLocked(offset)
	s.mu.Unlock()

	buf, err := s.deps.Store.Chunk(ctx, name, offset, length)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validLocked(gen) {
		return nil
	}
	if err != nil {
		s.generation++
		s.state = StateStopped
		s.sendEventLocked(Event{Type: EventStateChanged})
		return chunkFetchError(err, "failed to fetch %s at %v", name, offset)
	}
	s.scheduleLocked(gen, chunk{offset: offset, length: length, buf: buf}, s.deps.Device.Now())
	return nil
}

// scheduleLocked hands c to the output at device time when and arranges
// the fetch of the following window.
// Must be called with lock held.
func (s *Streamer) scheduleLocked(gen uint64, c chunk, when time.Duration) {
	if s.anchor == nil {
		anchor := when
		s.anchor = &anchor
	}

	next := c.offset + c.length
	nextWhen := when + c.length
	final := next >= s.duration

	var onEnded func()
	if final {
		s.state = StateEnding
		onEnded = func() { s.onFinalChunkEnded(gen) }
	}
	s.bus.Schedule(c.buf, when, onEnded)

	zlog.Debug().Msgf("stream: chunk scheduled: id=%d track=%s offset=%v length=%v at=%v final=%t",
		s.id, s.trk.Name, c.offset, c.length, when, final)
	s.sendEventLocked(Event{
		Type:   EventChunkScheduled,
		Offset: c.offset,
		Length: c.length,
		At:     when,
	})

	if final {
		return
	}

	delay := nextWhen - s.config.Lookahead - s.deps.Device.Now()
	if delay < 0 {
		delay = 0
	}
	s.fetchTask.schedule(delay, func() {
		s.fetchNext(gen, next, nextWhen)
	})
}

// fetchNext fetches the window at offset and schedules it at when,
// unless the span that issued it has ended in the meantime.
func (s *Streamer) fetchNext(gen uint64, offset, when time.Duration) {
	s.mu.Lock()
	if !s.validLocked(gen) {
		s.mu.Unlock()
		return
	}
	name := s.trk.Name
	length := s.windowLocked(offset)
	ctx := s.ctx
	s.mu.Unlock()

	buf, err := s.deps.Store.Chunk(ctx, name, offset, length)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validLocked(gen) {
		zlog.Debug().Msgf("stream: dropping stale chunk: id=%d track=%s offset=%v", s.id, name, offset)
		return
	}
	if err != nil {
		err = chunkFetchError(err, "failed to fetch %s at %v", name, offset)
		zlog.Error().Err(err).Msgf("stream: playback stalled: id=%d track=%s offset=%v", s.id, name, offset)
		s.sendEventLocked(Event{
			Type:   EventChunkFetchFailed,
			Offset: offset,
			Length: length,
			Err:    err,
		})
		return
	}
	s.scheduleLocked(gen, chunk{offset: offset, length: length, buf: buf}, when)
}

// onFinalChunkEnded is the device notification for the last chunk.
func (s *Streamer) onFinalChunkEnded(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.state != StateEnding {
		return
	}
	s.stopLocked()
	s.cursor = 0

	zlog.Debug().Msgf("stream: track ended: id=%d track=%s", s.id, s.trk.Name)
	s.sendEventLocked(Event{Type: EventTrackEnded})
}

// Stop halts playback and folds the elapsed time into the cursor.
// Stopping a stopped or unready streamer does nothing.
func (s *Streamer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Streamer) stopLocked() {
	if !s.ready || s.state == StateStopped {
		return
	}

	if s.anchor != nil {
		if elapsed := s.deps.Device.Now() - *s.anchor; elapsed > 0 {
			s.cursor += elapsed
		}
	}
	s.anchor = nil
	if s.cursor >= s.duration {
		s.cursor = 0
	}

	// A fresh bus silences everything already scheduled on the old one.
	s.bus.Close()
	s.bus = s.output.NewBus()
	s.fetchTask.cancel()

	s.generation++
	s.state = StateStopped
	s.sendEventLocked(Event{Type: EventStateChanged})
}

// CurrentTime returns the playback position.
func (s *Streamer) CurrentTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped || s.anchor == nil {
		return s.cursor
	}
	elapsed := s.deps.Device.Now() - *s.anchor
	if elapsed < 0 {
		elapsed = 0
	}
	return s.cursor + elapsed
}

// Seek moves playback to offset. A playing streamer restarts there;
// a stopped one only moves its cursor.
func (s *Streamer) Seek(ctx context.Context, offset time.Duration) error {
	if offset < 0 {
		return errors.Wrapf(ErrOffsetOutOfRange, "offset %v", offset)
	}

	s.mu.Lock()
	if s.state == StateStopped {
		if s.ready && offset >= s.duration {
			offset = 0
		}
		s.cursor = offset
		s.mu.Unlock()
		return nil
	}
	s.stopLocked()
	s.mu.Unlock()

	return s.Stream(ctx, WithOffset(offset))
}

// Close stops playback and disconnects the output.
func (s *Streamer) Close() {
	s.cancel()
	s.Stop()
	s.output.Close()
}

// windowLocked returns the chunk length at offset.
// Must be called with lock held.
func (s *Streamer) windowLocked(offset time.Duration) time.Duration {
	return track.Window(offset, s.duration, s.config.ChunkLength)
}

// validLocked reports whether a continuation of span gen may still act.
// Must be called with lock held.
func (s *Streamer) validLocked(gen uint64) bool {
	return gen == s.generation && s.state == StatePlaying
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (s *Streamer) sendEventLocked(e Event) {
	if s.deps.Events == nil {
		return
	}
	e.StreamID = s.id
	e.State = s.state
	select {
	case s.deps.Events <- e:
	default:
		// Channel full, drop event
	}
}
