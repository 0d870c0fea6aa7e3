// Package chunkstore layers several decoded-chunk stores into one.
package chunkstore

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chunkstream/internal/app/stream"
	"github.com/osa030/chunkstream/internal/domain/track"
)

// Deleter is implemented by tiers that can drop an asset.
type Deleter interface {
	Delete(ctx context.Context, name string) error
}

// Tier wraps a store with its display name.
type Tier struct {
	Store stream.Store
	Name  string
}

// Chain reads from the first tier holding an asset and writes to all of them.
type Chain struct {
	tiers []Tier
}

// NewChain creates a new chain. Tiers are tried in order.
func NewChain(tiers []Tier) *Chain {
	return &Chain{
		tiers: tiers,
	}
}

// Tiers returns the tiers in lookup order.
func (c *Chain) Tiers() []Tier {
	out := make([]Tier, len(c.tiers))
	copy(out, c.tiers)
	return out
}

// Metadata returns the metadata from the first tier that has the asset.
func (c *Chain) Metadata(ctx context.Context, name string) (track.Metadata, error) {
	var lastErr error
	for _, t := range c.tiers {
		md, err := t.Store.Metadata(ctx, name)
		if err == nil {
			zlog.Debug().Msgf("chunkstore: metadata hit: tier=%s name=%s", t.Name, name)
			return md, nil
		}
		if !errors.Is(err, track.ErrNotFound) {
			zlog.Warn().Msgf("chunkstore: tier failed, trying next: tier=%s name=%s error=%v", t.Name, name, err)
			lastErr = err
		}
		if ctx.Err() != nil {
			return track.Metadata{}, ctx.Err()
		}
	}
	return track.Metadata{}, c.missError(lastErr, name)
}

// Chunk returns the window from the first tier that can serve it.
func (c *Chain) Chunk(ctx context.Context, name string, offset, length time.Duration) (*beep.Buffer, error) {
	var lastErr error
	for _, t := range c.tiers {
		buf, err := t.Store.Chunk(ctx, name, offset, length)
		if err == nil {
			return buf, nil
		}
		if errors.Is(err, track.ErrInvalidWindow) {
			return nil, err
		}
		if !errors.Is(err, track.ErrNotFound) {
			zlog.Warn().Msgf("chunkstore: tier failed, trying next: tier=%s name=%s offset=%v error=%v",
				t.Name, name, offset, err)
			lastErr = err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, c.missError(lastErr, name)
}

// SaveDecoded writes buf to every tier. It fails only if no tier accepted it.
func (c *Chain) SaveDecoded(ctx context.Context, name string, buf *beep.Buffer) (track.Metadata, error) {
	var (
		md    track.Metadata
		saved int
		errs  error
	)
	for _, t := range c.tiers {
		m, err := t.Store.SaveDecoded(ctx, name, buf)
		if err != nil {
			zlog.Warn().Msgf("chunkstore: save failed: tier=%s name=%s error=%v", t.Name, name, err)
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "tier %s", t.Name))
			continue
		}
		if saved == 0 {
			md = m
		}
		saved++
	}
	if saved == 0 {
		if errs == nil {
			errs = errors.New("no tiers configured")
		}
		return track.Metadata{}, errors.Wrapf(errs, "failed to save %s", name)
	}
	zlog.Debug().Msgf("chunkstore: saved: name=%s tiers=%d/%d", name, saved, len(c.tiers))
	return md, nil
}

// Delete removes name from every tier that supports deletion.
func (c *Chain) Delete(ctx context.Context, name string) error {
	var errs error
	for _, t := range c.tiers {
		d, ok := t.Store.(Deleter)
		if !ok {
			continue
		}
		if err := d.Delete(ctx, name); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "tier %s", t.Name))
		}
	}
	return errs
}

// Close releases every tier holding a connection.
func (c *Chain) Close() error {
	var errs error
	for _, t := range c.tiers {
		if cl, ok := t.Store.(io.Closer); ok {
			if err := cl.Close(); err != nil {
				errs = errors.CombineErrors(errs, errors.Wrapf(err, "tier %s", t.Name))
			}
		}
	}
	return errs
}

func (c *Chain) missError(lastErr error, name string) error {
	if lastErr != nil {
		return errors.Wrapf(lastErr, "no tier could serve %q", name)
	}
	return errors.Wrapf(track.ErrNotFound, "asset %q", name)
}
