package tts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

const mp3ReadSize = 8192

type mp3Decoding struct {
	inner Synthesizer
}

// MP3Decoding wraps a synthesizer so that it is asked for MP3 and its output is
// decoded on the fly into 16-bit mono PCM. The MP3 sample rate must match the
// requested SampleRate; no resampling is done.
func MP3Decoding(inner Synthesizer) Synthesizer {
	return &mp3Decoding{inner: inner}
}

func (m *mp3Decoding) SynthesizeToStreamWithContext(ctx context.Context, text string, options SynthesisOptions, audioData chan<- []byte) error {
	defer close(audioData)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	upstream := options
	upstream.Format = FormatMP3

	pr, pw := io.Pipe()
	chunks := make(chan []byte, 16)
	innerErr := make(chan error, 1)
	fed := make(chan error, 1)

	go func() {
		innerErr <- m.inner.SynthesizeToStreamWithContext(ctx, text, upstream, chunks)
	}()
	go func() {
		for chunk := range chunks {
			if _, err := pw.Write(chunk); err != nil {
				// Decoder gave up; drain so the inner synthesizer can finish.
				cancel()
				for range chunks {
				}
				break
			}
		}
		err := <-innerErr
		pw.CloseWithError(err)
		fed <- err
	}()

	err := m.decode(ctx, pr, options.sampleRate(), audioData)
	pr.CloseWithError(errors.New("mp3 decoding stopped"))
	upErr := <-fed

	// Canceled upstream means the decoder stopped first; its error is the cause.
	if upErr != nil && !errors.Is(upErr, context.Canceled) {
		return upErr
	}
	if err != nil {
		return err
	}
	return upErr
}

func (m *mp3Decoding) decode(ctx context.Context, r io.Reader, sampleRate int, audioData chan<- []byte) error {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return fmt.Errorf("failed to create mp3 decoder: %w", err)
	}
	if dec.SampleRate() != sampleRate {
		return fmt.Errorf("mp3 sample rate %d does not match requested %d", dec.SampleRate(), sampleRate)
	}

	buf := make([]byte, mp3ReadSize)
	var pending []byte
	for {
		n, readErr := dec.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			frames := len(pending) / 4
			if frames > 0 {
				mono := stereoToMono(pending[:frames*4])
				pending = append(pending[:0], pending[frames*4:]...)
				select {
				case audioData <- mono:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("failed to decode mp3: %w", readErr)
		}
	}
}

// stereoToMono averages interleaved 16-bit little-endian stereo frames.
func stereoToMono(data []byte) []byte {
	frames := len(data) / 4
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		left := int32(int16(uint16(data[i*4]) | uint16(data[i*4+1])<<8))
		right := int32(int16(uint16(data[i*4+2]) | uint16(data[i*4+3])<<8))
		mono := int16((left + right) / 2)
		out[i*2] = byte(mono)
		out[i*2+1] = byte(uint16(mono) >> 8)
	}
	return out
}

func (m *mp3Decoding) Close() error {
	return m.inner.Close()
}
