package sound

import (
	"context"
	"fmt"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"

	"github.com/d1nch8g/readaloud/sink"
)

// BeepPlayer plays through the beep speaker, which pulls samples on its own
// goroutine.
type BeepPlayer struct {
	config PlayerConfig
}

var _ Player = (*BeepPlayer)(nil)

func NewBeepPlayer(config PlayerConfig) *BeepPlayer {
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = GetDefaultConfig().FramesPerBuffer
	}
	return &BeepPlayer{config: config}
}

// Initialize is a no-op; the speaker is set up once the sample rate is known.
func (p *BeepPlayer) Initialize() error {
	return nil
}

func (p *BeepPlayer) PlayStream(ctx context.Context, src sink.FrameReader) error {
	if err := speaker.Init(beep.SampleRate(src.SampleRate()), p.config.FramesPerBuffer); err != nil {
		return fmt.Errorf("failed to initialize speaker: %w", err)
	}
	defer speaker.Clear()

	speaker.Play(Streamer(src))
	<-ctx.Done()
	return ctx.Err()
}

func (p *BeepPlayer) Terminate() {
	speaker.Close()
}

// Streamer exposes src as an endless stereo beep.Streamer.
func Streamer(src sink.FrameReader) beep.Streamer {
	var mono []int16
	return beep.StreamerFunc(func(samples [][2]float64) (n int, ok bool) {
		if cap(mono) < len(samples) {
			mono = make([]int16, len(samples))
		}
		mono = mono[:len(samples)]
		src.Read(mono)
		for i, s := range mono {
			v := float64(s) / 32768.0
			samples[i][0] = v
			samples[i][1] = v
		}
		return len(samples), true
	})
}
