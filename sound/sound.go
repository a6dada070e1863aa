package sound

import (
	"context"

	"github.com/d1nch8g/readaloud/sink"
)

// Player defines the interface for audio playback
type Player interface {
	// Initialize initializes the audio playback system
	Initialize() error

	// Terminate terminates the audio playback system
	Terminate()

	// PlayStream pulls frames from src and plays them until ctx is done
	PlayStream(ctx context.Context, src sink.FrameReader) error
}

type PlayerConfig struct {
	FramesPerBuffer int
	OutputChannels  int
}

func GetDefaultConfig() PlayerConfig {
	return PlayerConfig{
		FramesPerBuffer: 1024,
		OutputChannels:  1,
	}
}

// New returns the player registered under name: "portaudio" or "beep".
func New(name string, config PlayerConfig) Player {
	if name == "beep" {
		return NewBeepPlayer(config)
	}
	return NewPortaudioPlayer(config)
}

// fill reads one buffer of mono frames from src and spreads them over channels.
func fill(src sink.FrameReader, mono, out []int16, channels int) {
	src.Read(mono)
	if channels <= 1 {
		copy(out, mono)
		return
	}
	for i, s := range mono {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = s
		}
	}
}
