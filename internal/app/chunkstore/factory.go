package chunkstore

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chunkstream/internal/app/stream"
	"github.com/osa030/chunkstream/internal/infra/config"
	"github.com/osa030/chunkstream/internal/infra/memstore"
	"github.com/osa030/chunkstream/internal/infra/miniostore"
	"github.com/osa030/chunkstream/internal/infra/redisstore"
)

// Opener connects one tier from its settings.
type Opener func(ctx context.Context, settings map[string]any) (stream.Store, error)

// Openers maps tier types to their constructors.
var Openers = map[string]Opener{
	"memory": func(ctx context.Context, settings map[string]any) (stream.Store, error) {
		return memstore.New(), nil
	},
	"redis": func(ctx context.Context, settings map[string]any) (stream.Store, error) {
		return redisstore.Dial(ctx, settings)
	},
	"minio": func(ctx context.Context, settings map[string]any) (stream.Store, error) {
		return miniostore.Dial(ctx, settings)
	},
}

// NewChainFromConfig creates a chain from configuration.
func NewChainFromConfig(ctx context.Context, cfg config.StoreConfig) (*Chain, error) {
	return newChain(ctx, cfg, Openers)
}

func newChain(ctx context.Context, cfg config.StoreConfig, openers map[string]Opener) (*Chain, error) {
	if len(cfg.Tiers) == 0 {
		return nil, errors.New("no chunk store tiers configured")
	}

	var tiers []Tier
	for i, tcfg := range cfg.Tiers {
		open, ok := openers[tcfg.Type]
		if !ok {
			_ = NewChain(tiers).Close()
			return nil, errors.Newf("unsupported tier type: %s (tier index %d)", tcfg.Type, i)
		}

		zlog.Debug().Msgf("chunkstore: creating tier: index=%d type=%s", i+1, tcfg.Type)
		store, err := open(ctx, tcfg.Settings)
		if err != nil {
			_ = NewChain(tiers).Close()
			return nil, errors.Wrapf(err, "failed to create tier (index %d, type %s)", i, tcfg.Type)
		}

		name := tcfg.Name
		if name == "" {
			name = tcfg.Type
		}
		tiers = append(tiers, Tier{Store: store, Name: name})
		zlog.Info().Msgf("chunkstore: registered tier: index=%d type=%s name=%s", i+1, tcfg.Type, name)
	}

	return NewChain(tiers), nil
}
