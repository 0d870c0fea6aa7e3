// Package coordinator drives several track streamers as one transport.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/osa030/chunkstream/internal/app/stream"
	"github.com/osa030/chunkstream/internal/domain/audio"
	"github.com/osa030/chunkstream/internal/domain/track"
)

var (
	ErrStreamNotFound  = errors.New("stream not found")
	ErrIndexOutOfRange = errors.New("stream index out of range")
)

const defaultEventBuffer = 256

// Config holds coordinator configuration.
type Config struct {
	Stream      stream.Config // Applied to every streamer, including its output mode
	EventBuffer int           // Capacity of the events channel
}

// Deps bundles the collaborators shared by all streamers.
type Deps struct {
	Store   stream.Store
	Fetcher stream.Fetcher
	Decoder stream.Decoder
	Device  audio.Device
	IDs     stream.IDSource // Defaults to a sequence starting at 1
}

// Coordinator keeps N streamers phase-locked to a single global position.
type Coordinator struct {
	mu sync.RWMutex

	sessionID string
	config    Config
	deps      Deps

	streamers []*stream.Streamer
	duration  time.Duration

	// Global transport
	state       stream.State
	startOffset time.Duration // Cursor when stopped, position at startTime when playing
	startTime   time.Duration // Device time playback (re)started
	generation  uint64        // Bumped on every stream and stop

	events chan stream.Event
}

// New creates an empty coordinator.
func New(config Config, deps Deps) *Coordinator {
	if deps.IDs == nil {
		deps.IDs = stream.NewSequence(1)
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaultEventBuffer
	}
	return &Coordinator{
		sessionID: uuid.New().String(),
		config:    config,
		deps:      deps,
		state:     stream.StateStopped,
		events:    make(chan stream.Event, config.EventBuffer),
	}
}

// SessionID returns the coordinator instance id used in logs.
func (c *Coordinator) SessionID() string {
	return c.sessionID
}

// Mode returns the output mode used for new streamers.
func (c *Coordinator) Mode() audio.Mode {
	return c.config.Stream.Mode
}

// Events returns the channel every streamer publishes to.
func (c *Coordinator) Events() <-chan stream.Event {
	return c.events
}

// CreateStream appends a streamer for locator and returns its id.
// The streamer takes part in playback after the next Load.
func (c *Coordinator) CreateStream(locator string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := stream.New(c.deps.IDs.Next(), locator, c.config.Stream, stream.Deps{
		Store:   c.deps.Store,
		Fetcher: c.deps.Fetcher,
		Decoder: c.deps.Decoder,
		Device:  c.deps.Device,
		Events:  c.events,
	})
	c.streamers = append(c.streamers, s)

	zlog.Debug().Msgf("coordinator: stream created: session=%s id=%d track=%s mode=%s",
		c.sessionID, s.ID(), s.Name(), c.config.Stream.Mode)
	return s.ID()
}

// FindStreamer returns the streamer with id.
func (c *Coordinator) FindStreamer(id int) (*stream.Streamer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.findLocked(id)
}

func (c *Coordinator) findLocked(id int) (*stream.Streamer, bool) {
	for _, s := range c.streamers {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// AddClipToStream rebinds the streamer with id to clip. It does not load
// the new asset.
func (c *Coordinator) AddClipToStream(id int, clip track.Clip) error {
	s, ok := c.FindStreamer(id)
	if !ok {
		return errors.Wrapf(ErrStreamNotFound, "id %d", id)
	}
	s.Rebind(clip.Locator)
	zlog.Debug().Msgf("coordinator: clip bound: session=%s id=%d track=%s", c.sessionID, id, s.Name())
	return nil
}

// Node returns the output node of the streamer with id.
func (c *Coordinator) Node(id int) (audio.Output, error) {
	s, ok := c.FindStreamer(id)
	if !ok {
		return nil, errors.Wrapf(ErrStreamNotFound, "id %d", id)
	}
	return s.Node(), nil
}

// Streamers returns the streamers in insertion order.
func (c *Coordinator) Streamers() []*stream.Streamer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() []*stream.Streamer {
	out := make([]*stream.Streamer, len(c.streamers))
	copy(out, c.streamers)
	return out
}

// Duration returns the longest loaded track length.
func (c *Coordinator) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.duration
}

// State returns the global transport state.
func (c *Coordinator) State() stream.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Load loads every streamer concurrently. It returns as soon as one
// fails; the others keep loading in the background.
func (c *Coordinator) Load(ctx context.Context, force bool) error {
	streamers := c.Streamers()

	failed := make(chan error, len(streamers))
	var g errgroup.Group
	for _, s := range streamers {
		s := s
		g.Go(func() error {
			if err := s.Load(ctx, force); err != nil {
				failed <- err
				return err
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	var err error
	select {
	case err = <-failed:
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		zlog.Error().Err(err).Msgf("coordinator: load failed: session=%s", c.sessionID)
		return errors.Mark(errors.Wrap(err, "failed to load streams"), stream.ErrLoad)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.duration = 0
	for _, s := range c.streamers {
		if d := s.Duration(); d > c.duration {
			c.duration = d
		}
	}
	zlog.Info().Msgf("coordinator: loaded: session=%s tracks=%d duration=%v", c.sessionID, len(c.streamers), c.duration)
	return nil
}

// Prime pre-fetches the first chunk of every participating streamer
// concurrently and waits for all of them.
func (c *Coordinator) Prime(ctx context.Context, opts ...stream.Option) error {
	c.mu.RLock()
	offset, ok := stream.Offset(opts...)
	if !ok {
		offset = c.startOffset
	}
	streamers := c.snapshotLocked()
	c.mu.RUnlock()

	return primeAll(ctx, participants(streamers, offset), offset)
}

// Stream starts every streamer at the same device instant. The global
// position reads as playing from the moment Stream is called, even while
// chunks are still being primed.
func (c *Coordinator) Stream(ctx context.Context, opts ...stream.Option) error {
	c.mu.Lock()
	if c.state != stream.StateStopped {
		c.mu.Unlock()
		return stream.ErrAlreadyPlaying
	}
	offset, ok := stream.Offset(opts...)
	if !ok {
		offset = c.startOffset
	}
	if offset < 0 {
		c.mu.Unlock()
		return errors.Wrapf(stream.ErrOffsetOutOfRange, "offset %v", offset)
	}
	if offset >= c.duration {
		c.startOffset = 0
		c.mu.Unlock()
		return nil
	}

	c.generation++
	gen := c.generation
	c.state = stream.StatePlaying
	c.startOffset = offset
	c.startTime = c.deps.Device.Now()
	members := participants(c.streamers, offset)
	c.mu.Unlock()

	zlog.Info().Msgf("coordinator: priming: session=%s offset=%v tracks=%d", c.sessionID, offset, len(members))

	if err := primeAll(ctx, members, offset); err != nil {
		c.mu.Lock()
		if gen == c.generation {
			c.generation++
			c.state = stream.StateStopped
		}
		c.mu.Unlock()
		zlog.Error().Err(err).Msgf("coordinator: priming failed: session=%s offset=%v", c.sessionID, offset)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		zlog.Debug().Msgf("coordinator: stream superseded while priming: session=%s offset=%v", c.sessionID, offset)
		return nil
	}

	// startTime keeps the instant Stream was called, so the position never
	// moves backwards once priming completes.
	start := c.deps.Device.Now()

	var errs error
	for _, s := range members {
		if err := s.Stream(ctx, stream.WithOffset(offset), stream.WithStartTime(start)); err != nil {
			zlog.Warn().Msgf("coordinator: stream failed: session=%s id=%d error=%v", c.sessionID, s.ID(), err)
			errs = errors.CombineErrors(errs, err)
		}
	}

	zlog.Info().Msgf("coordinator: streaming: session=%s offset=%v start=%v", c.sessionID, offset, start)
	return errs
}

// Stop stops every streamer and folds the elapsed time into the global
// position.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Coordinator) stopLocked() {
	c.generation++
	for _, s := range c.streamers {
		s.Stop()
	}
	if c.state == stream.StateStopped {
		return
	}

	if elapsed := c.deps.Device.Now() - c.startTime; elapsed > 0 {
		c.startOffset += elapsed
	}
	if c.startOffset >= c.duration {
		c.startOffset = 0
	}
	c.state = stream.StateStopped

	zlog.Info().Msgf("coordinator: stopped: session=%s position=%v", c.sessionID, c.startOffset)
}

// Seek moves the global position. While playing, every streamer restarts
// at offset in sync.
func (c *Coordinator) Seek(ctx context.Context, offset time.Duration) error {
	if offset < 0 {
		return errors.Wrapf(stream.ErrOffsetOutOfRange, "offset %v", offset)
	}

	c.mu.Lock()
	if c.state == stream.StateStopped {
		if offset >= c.duration {
			offset = 0
		}
		c.startOffset = offset
		streamers := c.snapshotLocked()
		c.mu.Unlock()

		for _, s := range streamers {
			if err := s.Seek(ctx, offset); err != nil {
				return err
			}
		}
		return nil
	}
	c.stopLocked()
	c.mu.Unlock()

	return c.Stream(ctx, stream.WithOffset(offset))
}

// CurrentTime returns the global position. Reaching the end of the
// longest track stops the transport and reports zero.
func (c *Coordinator) CurrentTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stream.StateStopped {
		return c.startOffset
	}
	elapsed := c.deps.Device.Now() - c.startTime
	if elapsed < 0 {
		elapsed = 0
	}
	t := c.startOffset + elapsed
	if t >= c.duration {
		c.stopLocked()
		c.startOffset = 0
		return 0
	}
	return t
}

// Solo makes the streamer at index the only audible one.
func (c *Coordinator) Solo(index int) error {
	streamers := c.Streamers()
	if index < 0 || index >= len(streamers) {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d of %d", index, len(streamers))
	}
	for i, s := range streamers {
		if i == index {
			s.SetGain(1)
		} else {
			s.SetGain(0)
		}
	}
	return nil
}

// Unsolo makes every streamer audible again.
func (c *Coordinator) Unsolo() {
	for _, s := range c.Streamers() {
		s.SetGain(1)
	}
}

// SetMuted mutes or unmutes the streamer with id.
func (c *Coordinator) SetMuted(id int, muted bool) error {
	s, ok := c.FindStreamer(id)
	if !ok {
		return errors.Wrapf(ErrStreamNotFound, "id %d", id)
	}
	if muted {
		s.SetGain(0)
	} else {
		s.SetGain(1)
	}
	return nil
}

// Close stops playback and releases every streamer.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	for _, s := range c.streamers {
		s.Close()
	}
}

// participants returns the streamers that have audio at offset.
func participants(streamers []*stream.Streamer, offset time.Duration) []*stream.Streamer {
	out := make([]*stream.Streamer, 0, len(streamers))
	for _, s := range streamers {
		if s.Ready() && offset < s.Duration() {
			out = append(out, s)
		}
	}
	return out
}

func primeAll(ctx context.Context, streamers []*stream.Streamer, offset time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range streamers {
		s := s
		g.Go(func() error {
			return s.Prime(ctx, stream.WithOffset(offset))
		})
	}
	return g.Wait()
}
