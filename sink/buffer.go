package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/d1nch8g/readaloud/logger"
)

// DefaultTimeUpdateInterval is how much played audio separates two time updates.
const DefaultTimeUpdateInterval = 250 * time.Millisecond

type Config struct {
	// SampleRate of the 16-bit little-endian mono PCM appended to the buffer.
	SampleRate         int
	TimeUpdateInterval time.Duration
}

// FrameReader is pulled by audio outputs.
type FrameReader interface {
	// Read fills out with the next samples and always returns len(out);
	// silence is produced while paused or stalled.
	Read(out []int16) int
	SampleRate() int
}

type noteKind int

const (
	noteTimeUpdate noteKind = iota
	noteStall
	noteProgress
	notePause
	notePlay
)

type note struct {
	kind     noteKind
	position float64
}

// Buffer is a Sink holding PCM samples on an append-only timeline.
// Samples before base have been removed; samples from base to base+len(samples)
// are retained.
type Buffer struct {
	logger   hclog.Logger
	rate     int
	interval int64

	mu         sync.Mutex
	samples    []int16
	base       int64
	carry      []byte
	pos        float64
	lastUpdate float64
	playRate   float64
	paused     bool
	stalled    bool
	closed     bool
	handler    Handler
	queue      []note

	wake chan struct{}
	done chan struct{}
}

var (
	_ Sink        = (*Buffer)(nil)
	_ FrameReader = (*Buffer)(nil)
)

// NewBuffer creates a paused, empty buffer and starts its notification dispatcher.
func NewBuffer(cfg Config, log hclog.Logger) (*Buffer, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.TimeUpdateInterval <= 0 {
		cfg.TimeUpdateInterval = DefaultTimeUpdateInterval
	}

	b := &Buffer{
		logger:   logger.OrNull(log).Named("sink"),
		rate:     cfg.SampleRate,
		interval: int64(cfg.TimeUpdateInterval.Seconds() * float64(cfg.SampleRate)),
		playRate: 1,
		paused:   true,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go b.dispatch()
	return b, nil
}

func (b *Buffer) SampleRate() int {
	return b.rate
}

func (b *Buffer) seconds(samples float64) float64 {
	return samples / float64(b.rate)
}

func (b *Buffer) end() int64 {
	return b.base + int64(len(b.samples))
}

func (b *Buffer) Append(ctx context.Context, chunk []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	data := chunk
	if len(b.carry) > 0 {
		data = append(b.carry, chunk...)
		b.carry = nil
	}
	n := len(data) / 2
	for i := 0; i < n; i++ {
		b.samples = append(b.samples, int16(uint16(data[2*i])|uint16(data[2*i+1])<<8))
	}
	if len(data)%2 == 1 {
		b.carry = []byte{data[len(data)-1]}
	}

	if b.stalled && n > 0 {
		b.stalled = false
		b.notify(note{kind: noteProgress})
	}
	b.logger.Trace("appended", "samples", n, "end", b.seconds(float64(b.end())))
	return nil
}

func (b *Buffer) Buffered() []Range {
	b.mu.Lock()
	defer b.mu.Unlock()

	end := b.end()
	if end == 0 {
		return nil
	}
	return []Range{{Start: b.seconds(float64(b.base)), End: b.seconds(float64(end))}}
}

func (b *Buffer) Position() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seconds(b.pos)
}

// Remove drops leading samples. The removal never reaches the play head, and
// only a range starting at or before the first retained sample can be removed.
func (b *Buffer) Remove(ctx context.Context, start, end float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if end < start {
		return fmt.Errorf("invalid removal range [%.3f, %.3f)", start, end)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	from := int64(start * float64(b.rate))
	if from > b.base {
		return fmt.Errorf("cannot remove [%.3f, %.3f): only leading data can be removed", start, end)
	}

	to := min(int64(end*float64(b.rate)), int64(b.pos), b.end())
	if to <= b.base {
		return nil
	}

	kept := make([]int16, b.end()-to)
	copy(kept, b.samples[to-b.base:])
	b.samples = kept
	b.base = to
	b.logger.Debug("removed", "until", b.seconds(float64(to)))
	return nil
}

func (b *Buffer) Play() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if !b.paused {
		return nil
	}
	b.paused = false
	b.notify(note{kind: notePlay})
	return nil
}

func (b *Buffer) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.paused {
		return nil
	}
	b.paused = true
	b.notify(note{kind: notePause})
	return nil
}

func (b *Buffer) Paused() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused
}

func (b *Buffer) SetRate(rate float64) error {
	if rate <= 0 {
		return ErrInvalidRate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.playRate = rate
	return nil
}

func (b *Buffer) SetHandler(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Read advances the play head by len(out) samples scaled by the playback rate.
func (b *Buffer) Read(out []int16) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := 0
	if !b.paused && !b.closed {
		end := b.end()
		for ; i < len(out); i++ {
			idx := int64(b.pos)
			if idx >= end {
				if !b.stalled {
					b.stalled = true
					b.notify(note{kind: noteTimeUpdate, position: b.seconds(b.pos)})
					b.notify(note{kind: noteStall})
				}
				break
			}
			out[i] = b.samples[idx-b.base]
			b.pos += b.playRate
			if b.pos > float64(end) {
				b.pos = float64(end)
			}
		}
		if b.pos-b.lastUpdate >= float64(b.interval) {
			b.lastUpdate = b.pos
			b.notify(note{kind: noteTimeUpdate, position: b.seconds(b.pos)})
		}
	}
	for ; i < len(out); i++ {
		out[i] = 0
	}
	return len(out)
}

// Close stops notifications; later appends fail with ErrClosed.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.handler = nil
	close(b.done)
	return nil
}

// notify queues n for the dispatcher. Callers hold b.mu.
func (b *Buffer) notify(n note) {
	b.queue = append(b.queue, n)
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Buffer) dispatch() {
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}

		b.mu.Lock()
		pending := b.queue
		b.queue = nil
		h := b.handler
		b.mu.Unlock()

		if h == nil {
			continue
		}
		for _, n := range pending {
			switch n.kind {
			case noteTimeUpdate:
				h.OnTimeUpdate(n.position)
			case noteStall:
				h.OnStall()
			case noteProgress:
				h.OnProgress()
			case notePause:
				h.OnPause()
			case notePlay:
				h.OnPlay()
			}
		}
	}
}
