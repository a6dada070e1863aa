package sound

import (
	"context"
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/d1nch8g/readaloud/sink"
)

type PortaudioPlayer struct {
	stream      *portaudio.Stream
	audioBuffer []int16
	mono        []int16
	config      PlayerConfig
}

var _ Player = (*PortaudioPlayer)(nil)

func NewPortaudioPlayer(config PlayerConfig) *PortaudioPlayer {
	if config.OutputChannels <= 0 {
		config.OutputChannels = 1
	}
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = GetDefaultConfig().FramesPerBuffer
	}
	return &PortaudioPlayer{
		config:      config,
		audioBuffer: make([]int16, config.FramesPerBuffer*config.OutputChannels),
		mono:        make([]int16, config.FramesPerBuffer),
	}
}

func (p *PortaudioPlayer) Initialize() error {
	return portaudio.Initialize()
}

func (p *PortaudioPlayer) open(sampleRate int) error {
	stream, err := portaudio.OpenDefaultStream(
		0,
		p.config.OutputChannels,
		float64(sampleRate),
		p.config.FramesPerBuffer,
		p.audioBuffer,
	)
	if err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	p.stream = stream
	return nil
}

// PlayStream blocks on the device: each Write returns once the previous buffer
// has been consumed, which paces the pulls from src in real time.
func (p *PortaudioPlayer) PlayStream(ctx context.Context, src sink.FrameReader) error {
	if p.stream == nil {
		if err := p.open(src.SampleRate()); err != nil {
			return err
		}
	}

	if err := p.stream.Start(); err != nil {
		return err
	}
	defer p.stream.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fill(src, p.mono, p.audioBuffer, p.config.OutputChannels)
		if err := p.stream.Write(); err != nil {
			if errors.Is(err, portaudio.OutputUnderflowed) {
				continue
			}
			return fmt.Errorf("failed to write audio: %w", err)
		}
	}
}

func (p *PortaudioPlayer) Close() error {
	if p.stream != nil {
		err := p.stream.Close()
		p.stream = nil
		return err
	}
	return nil
}

func (p *PortaudioPlayer) Terminate() {
	p.Close()
	portaudio.Terminate()
}
