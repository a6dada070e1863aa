package tts

import "context"

// Format is the encoding of the audio a synthesizer streams back.
type Format int

const (
	// FormatPCM is raw 16-bit little-endian mono PCM at SynthesisOptions.SampleRate.
	FormatPCM Format = iota
	// FormatMP3 is an MP3 elementary stream.
	FormatMP3
)

func (f Format) String() string {
	switch f {
	case FormatPCM:
		return "pcm"
	case FormatMP3:
		return "mp3"
	default:
		return "unknown"
	}
}

// Synthesizer defines the interface for text-to-speech synthesis
type Synthesizer interface {
	// SynthesizeToStreamWithContext streams the speech audio for text into audioData
	// as it arrives. Implementations close audioData before returning.
	SynthesizeToStreamWithContext(ctx context.Context, text string, options SynthesisOptions, audioData chan<- []byte) error
	Close() error
}

// SynthesisOptions represents the configuration for speech synthesis
type SynthesisOptions struct {
	Voice      string
	Speed      float64
	Volume     float64
	Model      string
	Format     Format
	SampleRate int
}

// DefaultSampleRate is used when SynthesisOptions.SampleRate is unset.
const DefaultSampleRate = 22050

func (o SynthesisOptions) sampleRate() int {
	if o.SampleRate <= 0 {
		return DefaultSampleRate
	}
	return o.SampleRate
}
