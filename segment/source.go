package segment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/d1nch8g/readaloud/logger"
	"github.com/d1nch8g/readaloud/tts"
)

// ErrRetriesExhausted is matched by the error returned once every fetch attempt failed.
var ErrRetriesExhausted = errors.New("segment: fetch retries exhausted")

const (
	DefaultMaxAttempts = 4
	DefaultBackoff     = 200 * time.Millisecond
)

// RetryPolicy controls how a Source restarts a failed fetch.
// Attempt n (0-based) that fails is followed by a wait of Backoff*(n+1).
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Backoff: DefaultBackoff}
}

// FetchError is returned when a text unit could not be synthesized.
type FetchError struct {
	Text     string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch audio for %q after %d attempts: %v", e.Text, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Err}
}

// Chunker is a restartable producer of audio chunks.
type Chunker interface {
	// Drain passes every chunk to emit, in order, as soon as it is available.
	// An error from emit aborts the drain and is returned as is.
	Drain(ctx context.Context, emit func([]byte) error) error
}

// Source produces the audio of one text unit through a Synthesizer, restarting
// the whole stream on failure. Chunks already emitted by a failed attempt are
// not retracted.
type Source struct {
	text    string
	synth   tts.Synthesizer
	options tts.SynthesisOptions
	policy  RetryPolicy
	logger  hclog.Logger
}

var _ Chunker = (*Source)(nil)

func NewSource(text string, synth tts.Synthesizer, options tts.SynthesisOptions, policy RetryPolicy, log hclog.Logger) *Source {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.Backoff < 0 {
		policy.Backoff = 0
	}
	return &Source{
		text:    text,
		synth:   synth,
		options: options,
		policy:  policy,
		logger:  logger.OrNull(log).Named("source"),
	}
}

func (s *Source) Text() string {
	return s.text
}

func (s *Source) Drain(ctx context.Context, emit func([]byte) error) error {
	var lastErr error
	for attempt := 0; attempt < s.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := s.policy.Backoff * time.Duration(attempt)
			s.logger.Warn("retrying fetch", "text", s.text, "attempt", attempt+1, "wait", wait, "error", lastErr)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		emitErr, err := s.attempt(ctx, emit)
		if emitErr != nil {
			return emitErr
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
	}

	return &FetchError{Text: s.text, Attempts: s.policy.MaxAttempts, Err: lastErr}
}

// attempt runs one synthesis stream. emitErr is set when the consumer failed,
// err when the synthesizer did.
func (s *Source) attempt(ctx context.Context, emit func([]byte) error) (emitErr, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan []byte, 16)
	done := make(chan error, 1)
	go func() {
		done <- s.synth.SynthesizeToStreamWithContext(ctx, s.text, s.options, chunks)
	}()

	for chunk := range chunks {
		if emitErr != nil {
			continue
		}
		if e := emit(chunk); e != nil {
			emitErr = e
			cancel()
		}
	}

	err = <-done
	return emitErr, err
}
