// Package main provides the player entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gopxl/beep/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/chunkstream/internal/app/chunkstore"
	"github.com/osa030/chunkstream/internal/app/coordinator"
	"github.com/osa030/chunkstream/internal/app/notification"
	"github.com/osa030/chunkstream/internal/app/stream"
	"github.com/osa030/chunkstream/internal/infra/config"
	"github.com/osa030/chunkstream/internal/infra/decode"
	"github.com/osa030/chunkstream/internal/infra/device/engine"
	"github.com/osa030/chunkstream/internal/infra/device/speaker"
	"github.com/osa030/chunkstream/internal/infra/fetch"
	"github.com/osa030/chunkstream/internal/infra/logger"
)

var (
	app        = kingpin.New("chunkstream-player", "Gapless multi-track chunk streaming player")
	configPath = app.Flag("config", "Path to config file").Default("config/player.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	playCmd   = app.Command("play", "Play the configured tracks (default)").Default()
	offset    = playCmd.Flag("offset", "Start position").Default("0s").Duration()
	solo      = playCmd.Flag("solo", "Only play the track at this index").Default("-1").Int()
	reload    = playCmd.Flag("reload", "Refetch and decode assets even if the store has them").Bool()
	output    = playCmd.Flag("output", "Override the configured output (speaker, null)").Enum("speaker", "null")
	locators  = playCmd.Arg("locators", "Tracks to play instead of the configured ones").Strings()
	probeCmd  = app.Command("probe", "Fetch and decode an asset, then print its format")
	probeArg  = probeCmd.Arg("locator", "Asset locator").Required().String()
	storesCmd = app.Command("list-stores", "List the configured chunk store tiers and exit")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Flags win over the config file
	early, err := logger.Init(overrideLog(config.LogConfig{Output: "stdout", Level: "info"}))
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}
	closer, err := logger.Init(overrideLog(cfg.Log))
	if err != nil {
		zlog.Fatal().Msgf("Failed to initialize logger: %v", err)
	}
	defer closer.Close()
	_ = early.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case storesCmd.FullCommand():
		printStores(cfg)
		return
	case probeCmd.FullCommand():
		err = probe(ctx, cfg, *probeArg)
	default:
		err = play(ctx, cfg)
	}
	if err != nil {
		zlog.Error().Msgf("Player error: %v", err)
		closer.Close()
		os.Exit(1)
	}
}

func overrideLog(lc config.LogConfig) logger.Config {
	out := logger.Config{Output: lc.Output, Level: lc.Level, File: lc.File}
	if *verbose {
		out.Level = "debug"
	}
	if *logfile != "" {
		out.Output = *logfile
		out.File = *logfile
	}
	return out
}

// play executes the main player logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func play(ctx context.Context, cfg *config.Config) error {
	tracks := cfg.Tracks
	if len(*locators) > 0 {
		tracks = tracks[:0:0]
		for _, l := range *locators {
			tracks = append(tracks, config.TrackConfig{Locator: l})
		}
	}
	if len(tracks) == 0 {
		return fmt.Errorf("no tracks configured")
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open chunk store: %w", err)
	}
	defer store.Close()

	eng := engine.New(engine.Config{SampleRate: beep.SampleRate(cfg.Playback.SampleRate)})
	release, err := attachOutput(ctx, eng, cfg.Playback)
	if err != nil {
		return err
	}
	defer release()

	coord := coordinator.New(coordinator.Config{
		Stream: stream.Config{
			ChunkLength: cfg.Playback.ChunkLength(),
			Lookahead:   cfg.Playback.Lookahead(),
			Mode:        cfg.Playback.ModeValue(),
		},
	}, coordinator.Deps{
		Store: store,
		Fetcher: fetch.New(fetch.Config{
			Timeout:   cfg.Fetch.Timeout(),
			MaxBytes:  cfg.Fetch.MaxBytes,
			UserAgent: cfg.Fetch.UserAgent,
		}),
		Decoder: decode.New(cfg.Playback.SampleRate),
		Device:  eng,
	})
	defer coord.Close()

	for _, t := range tracks {
		id := coord.CreateStream(t.Locator)
		if t.Muted {
			if err := coord.SetMuted(id, true); err != nil {
				return err
			}
		}
	}
	if *solo >= 0 {
		if err := coord.Solo(*solo); err != nil {
			return fmt.Errorf("invalid solo index: %w", err)
		}
	}

	zlog.Info().Msgf("Loading %d tracks: session=%s mode=%s", len(tracks), coord.SessionID(), coord.Mode())
	start := time.Now()
	if err := coord.Load(ctx, *reload); err != nil {
		return fmt.Errorf("failed to load tracks: %w", err)
	}
	zlog.Info().Msgf("Tracks loaded: duration=%v elapsed=%v", coord.Duration(), time.Since(start))

	notifier := notification.NewManager(coord.SessionID())
	defer notifier.Close()
	sub := notification.NewChanSubscriber(256)
	notifier.Subscribe(sub)

	hubCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = notifier.Run(hubCtx, coord.Events())
	}()

	if err := coord.Stream(ctx, stream.WithOffset(*offset)); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}
	return watch(ctx, coord, sub)
}

// watch logs progress until playback ends or ctx is canceled.
func watch(ctx context.Context, coord *coordinator.Coordinator, sub *notification.ChanSubscriber) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zlog.Info().Msgf("Received shutdown signal at %v", coord.CurrentTime())
			coord.Stop()
			return nil
		case n := <-sub.C():
			ev := n.Event
			switch ev.Type {
			case stream.EventChunkFetchFailed:
				zlog.Warn().Msgf("Track stalled: stream=%d offset=%v error=%v", ev.StreamID, ev.Offset, ev.Err)
			case stream.EventTrackEnded:
				zlog.Info().Msgf("Track ended: stream=%d", ev.StreamID)
			}
		case <-ticker.C:
			pos := coord.CurrentTime()
			if coord.State() == stream.StateStopped {
				zlog.Info().Msg("Playback finished")
				return nil
			}
			zlog.Info().Msgf("Position %v / %v", pos.Truncate(time.Second), coord.Duration().Truncate(time.Second))
		}
	}
}

// attachOutput connects the engine to the configured sink. The null sink
// renders in real time without a sound card.
func attachOutput(ctx context.Context, eng *engine.Engine, pc config.PlaybackConfig) (func(), error) {
	out := pc.Output
	if *output != "" {
		out = *output
	}
	if out == "speaker" && !speaker.Available {
		zlog.Warn().Msg("Speaker output is not available in this build, using null output")
		out = "null"
	}

	if out == "speaker" {
		release, err := speaker.Open(eng, pc.Buffer())
		if err != nil {
			return nil, fmt.Errorf("failed to open speaker: %w", err)
		}
		return release, nil
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.Run(pumpCtx, pc.Buffer())
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

// openStore connects the chunk store tiers, retrying while backends come up.
func openStore(ctx context.Context, sc config.StoreConfig) (*chunkstore.Chain, error) {
	maxRetries := 5
	baseDelay := 1 * time.Second

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			delay := baseDelay * time.Duration(1<<uint(i-1))
			zlog.Info().Msgf("Retrying chunk store connection in %v...", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		chain, err := chunkstore.NewChainFromConfig(ctx, sc)
		if err == nil {
			return chain, nil
		}
		lastErr = err
		zlog.Warn().Msgf("Failed to open chunk store (attempt %d/%d): %v", i+1, maxRetries, err)
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

// probe fetches and decodes a single asset.
func probe(ctx context.Context, cfg *config.Config, locator string) error {
	client := fetch.New(fetch.Config{
		Timeout:   cfg.Fetch.Timeout(),
		MaxBytes:  cfg.Fetch.MaxBytes,
		UserAgent: cfg.Fetch.UserAgent,
	})
	data, err := client.Fetch(ctx, locator)
	if err != nil {
		return err
	}

	buf, err := decode.New(cfg.Playback.SampleRate).Decode(ctx, data)
	if err != nil {
		return err
	}
	format := buf.Format()
	fmt.Printf("Locator:     %s\n", locator)
	fmt.Printf("Type:        %s\n", decode.Detect(data))
	fmt.Printf("Size:        %d bytes\n", len(data))
	fmt.Printf("Sample rate: %d Hz\n", format.SampleRate)
	fmt.Printf("Duration:    %v\n", format.SampleRate.D(buf.Len()))
	fmt.Printf("Chunks:      %d x %v\n", chunkCount(format.SampleRate.D(buf.Len()), cfg.Playback.ChunkLength()), cfg.Playback.ChunkLength())
	return nil
}

func chunkCount(d, chunk time.Duration) int {
	if chunk <= 0 {
		return 0
	}
	return int((d + chunk - 1) / chunk)
}

// printStores prints the configured chunk store tiers.
func printStores(cfg *config.Config) {
	fmt.Println("Chunk Store Tiers (lookup order):")
	for i, t := range cfg.Store.Tiers {
		name := t.Name
		if name == "" {
			name = t.Type
		}
		fmt.Printf("  %d. %-12s type=%s\n", i+1, name, t.Type)
	}
}
