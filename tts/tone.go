package tts

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// ToneSynthesizer turns text into sine-wave beeps whose length follows the word
// count. It needs no network and is used for offline runs and tests.
type ToneSynthesizer struct {
	// PerWord is the audio length produced per word of text.
	PerWord time.Duration
	// ChunkDuration is the audio length carried by each streamed chunk.
	ChunkDuration time.Duration
	// Frequency of the tone in Hz.
	Frequency float64
}

var _ Synthesizer = (*ToneSynthesizer)(nil)

func NewToneSynthesizer() *ToneSynthesizer {
	return &ToneSynthesizer{
		PerWord:       300 * time.Millisecond,
		ChunkDuration: 100 * time.Millisecond,
		Frequency:     440,
	}
}

// Duration reports how much audio text will produce.
func (s *ToneSynthesizer) Duration(text string) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	return time.Duration(words) * s.PerWord
}

func (s *ToneSynthesizer) SynthesizeToStreamWithContext(ctx context.Context, text string, options SynthesisOptions, audioData chan<- []byte) error {
	defer close(audioData)

	if options.Format != FormatPCM {
		return fmt.Errorf("tone synthesizer only produces pcm, got %s", options.Format)
	}

	sampleRate := options.sampleRate()
	total := int(s.Duration(text).Seconds() * float64(sampleRate))
	perChunk := int(s.ChunkDuration.Seconds() * float64(sampleRate))
	if perChunk <= 0 {
		perChunk = total
	}

	for written := 0; written < total; {
		n := min(perChunk, total-written)
		buf := make([]byte, n*2)
		for i := 0; i < n; i++ {
			t := float64(written+i) / float64(sampleRate)
			val := int16(3000 * math.Sin(2*math.Pi*s.Frequency*t))
			buf[2*i] = byte(val)
			buf[2*i+1] = byte(val >> 8)
		}
		written += n

		select {
		case audioData <- buf:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *ToneSynthesizer) Close() error {
	return nil
}
