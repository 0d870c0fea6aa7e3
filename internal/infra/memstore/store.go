// Package memstore provides an in-process decoded chunk store.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"

	"github.com/osa030/chunkstream/internal/domain/track"
	"github.com/osa030/chunkstream/internal/infra/pcm"
)

// Store keeps fully decoded assets in memory and cuts chunks on demand.
type Store struct {
	mu     sync.RWMutex
	assets map[string]*beep.Buffer
}

// New creates an empty store.
func New() *Store {
	return &Store{
		assets: make(map[string]*beep.Buffer),
	}
}

// Metadata returns the metadata of a stored asset.
func (s *Store) Metadata(ctx context.Context, name string) (track.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf, ok := s.assets[name]
	if !ok {
		return track.Metadata{}, errors.Wrapf(track.ErrNotFound, "asset %q", name)
	}
	return pcm.MetadataOf(buf), nil
}

// Chunk returns a copy of the window [offset, offset+length).
func (s *Store) Chunk(ctx context.Context, name string, offset, length time.Duration) (*beep.Buffer, error) {
	s.mu.RLock()
	buf, ok := s.assets[name]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(track.ErrNotFound, "asset %q", name)
	}

	from, to, err := pcm.SampleRange(buf.Format().SampleRate, buf.Len(), offset, length)
	if err != nil {
		return nil, errors.Wrapf(err, "asset %q", name)
	}

	out := beep.NewBuffer(buf.Format())
	out.Append(buf.Streamer(from, to))
	return out, nil
}

// SaveDecoded stores buf under name, replacing any previous asset.
func (s *Store) SaveDecoded(ctx context.Context, name string, buf *beep.Buffer) (track.Metadata, error) {
	if buf == nil {
		return track.Metadata{}, errors.New("nil buffer")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[name] = buf
	return pcm.MetadataOf(buf), nil
}

// Delete removes an asset.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assets, name)
	return nil
}
