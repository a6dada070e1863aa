package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/d1nch8g/readaloud/config"
	"github.com/d1nch8g/readaloud/engine"
	"github.com/d1nch8g/readaloud/logger"
	"github.com/d1nch8g/readaloud/player"
	"github.com/d1nch8g/readaloud/readaloud"
	"github.com/d1nch8g/readaloud/segment"
	"github.com/d1nch8g/readaloud/sink"
	"github.com/d1nch8g/readaloud/sound"
	"github.com/d1nch8g/readaloud/tts"
)

// errFinished stops the group once the last unit has been read.
var errFinished = errors.New("finished")

func main() {
	envFile := flag.String("env", ".env", "path to the .env file")
	rate := flag.Float64("rate", 1.0, "playback rate")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-env .env] [-rate 1.0] <file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, flag.Arg(0), *rate, log); err != nil {
		log.Error("read aloud failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, path string, rate float64, log hclog.Logger) error {
	text, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	synth, err := newSynthesizer(cfg)
	if err != nil {
		return err
	}
	defer synth.Close()

	options := synthesisOptions(cfg)
	policy := segment.RetryPolicy{MaxAttempts: cfg.Buffer.FetchMaxAttempts, Backoff: cfg.Buffer.FetchBackoff}
	reader := readaloud.NewReader(string(text), synth, options, policy, log)
	if reader.Len() == 0 {
		fmt.Println("Nothing to read.")
		return nil
	}

	buf, err := sink.NewBuffer(sink.Config{
		SampleRate:         cfg.Audio.SampleRate,
		TimeUpdateInterval: cfg.Buffer.TimeUpdateInterval,
	}, log)
	if err != nil {
		return err
	}
	defer buf.Close()

	output := sound.New(cfg.Audio.Output, sound.PlayerConfig{
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		OutputChannels:  cfg.Audio.OutputChannels,
	})
	if err := output.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize audio output: %w", err)
	}
	defer output.Terminate()

	p := player.New(buf, reader.Next, engine.EngineConfig{
		TargetSeconds:           cfg.Buffer.TargetSeconds,
		CleanupThresholdSeconds: cfg.Buffer.CleanupSeconds,
	}, log)
	defer p.Dispose()

	if err := p.SetRate(rate); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Reading %s (%d units, %s voice). Press Ctrl-C to stop.\n", path, reader.Len(), cfg.Provider)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return output.PlayStream(ctx, buf)
	})
	g.Go(func() error {
		return printEvents(ctx, p.Events(), reader, log)
	})
	g.Go(func() error {
		return p.Play(ctx)
	})

	err = g.Wait()
	switch {
	case errors.Is(err, errFinished):
		fmt.Println("Done.")
		return nil
	case errors.Is(err, context.Canceled):
		fmt.Println("\nStopping...")
		return nil
	default:
		return err
	}
}

func newSynthesizer(cfg *config.Config) (tts.Synthesizer, error) {
	var (
		synth tts.Synthesizer
		err   error
	)
	switch cfg.Provider {
	case config.ProviderYandex:
		synth, err = tts.NewYandexTTSClient(tts.YandexConfig{
			ApiKey:   cfg.Yandex.IamToken,
			FolderID: cfg.Yandex.FolderID,
			Endpoint: cfg.Yandex.Endpoint,
		})
	case config.ProviderDashScope:
		synth, err = tts.NewDashScopeClient(tts.DashScopeConfig{
			ApiKey:    cfg.DashScope.ApiKey,
			Endpoint:  cfg.DashScope.Endpoint,
			Workspace: cfg.DashScope.Workspace,
		})
	default:
		synth = tts.NewToneSynthesizer()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s synthesizer: %w", cfg.Provider, err)
	}

	if cfg.MP3 {
		synth = tts.MP3Decoding(synth)
	}
	return synth, nil
}

// synthesisOptions starts from the provider's own defaults; voices and models
// are not portable between providers.
func synthesisOptions(cfg *config.Config) tts.SynthesisOptions {
	var options tts.SynthesisOptions
	switch cfg.Provider {
	case config.ProviderYandex:
		options = tts.GetDefaultSynthesisOptions()
	case config.ProviderDashScope:
		options = tts.SynthesisOptions{
			Voice:  tts.DashScopeVoice,
			Model:  cfg.DashScope.Model,
			Format: tts.FormatPCM,
		}
	}
	options.SampleRate = cfg.Audio.SampleRate
	options.Speed = cfg.Speed
	if cfg.Voice != "" {
		options.Voice = cfg.Voice
	}
	return options
}

func printEvents(ctx context.Context, events <-chan engine.Event, reader *readaloud.Reader, log hclog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case engine.EventSegmentStart:
				if text, ok := reader.Text(ev.SegmentID); ok {
					fmt.Printf("▶ %s\n", text)
				}
			case engine.EventSegmentEnd:
				if ev.SegmentID == reader.LastID() {
					return errFinished
				}
			case engine.EventStall:
				log.Debug("waiting for audio")
			case engine.EventError:
				return ev.Err
			}
		}
	}
}
