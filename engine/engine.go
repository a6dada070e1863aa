package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/d1nch8g/readaloud/logger"
	"github.com/d1nch8g/readaloud/segment"
	"github.com/d1nch8g/readaloud/sink"
)

var (
	// ErrNoMoreSegments is returned by a RequestFunc when the content is exhausted.
	ErrNoMoreSegments = errors.New("engine: no more segments")
	// ErrDisposed is returned by operations on a disposed engine.
	ErrDisposed = errors.New("engine: disposed")
)

const (
	// DefaultTargetSeconds is the look-ahead used when none is configured.
	DefaultTargetSeconds = 20.0
	// DefaultCleanupThresholdSeconds is the played audio kept when none is configured.
	DefaultCleanupThresholdSeconds = 20.0

	eventBufferSize = 64
)

// RequestFunc hands out the next segment to buffer. It returns ErrNoMoreSegments
// (or a nil segment) at the end of the content. The engine never calls it
// concurrently with itself.
type RequestFunc func(ctx context.Context) (*segment.Segment, error)

// EngineConfig holds the buffer window.
type EngineConfig struct {
	// TargetSeconds is the look-ahead kept buffered ahead of the play head.
	TargetSeconds float64
	// CleanupThresholdSeconds is how much played audio is kept behind the play head.
	CleanupThresholdSeconds float64
}

type span struct {
	seg    *segment.Segment
	start  float64
	end    float64
	closed bool
}

// SpanInfo is a snapshot of a tracked span.
type SpanInfo struct {
	SegmentID string
	Start     float64
	// End is meaningful only once Open is false.
	End  float64
	Open bool
}

// Engine keeps the sink buffered ahead of playback and turns play head movement
// into per-segment lifecycle events.
type Engine struct {
	config  EngineConfig
	sink    sink.Sink
	request RequestFunc
	logger  hclog.Logger

	mu           sync.Mutex
	spans        []*span
	buffering    bool
	exhausted    bool
	everBuffered bool
	failed       bool
	disposed     bool

	// pubMu keeps events from concurrent callers in the order they were decided.
	pubMu  sync.Mutex
	events chan Event
	done   chan struct{}
}

var _ sink.Handler = (*Engine)(nil)

// NewEngine creates an engine and attaches it to s as its notification handler.
func NewEngine(config EngineConfig, s sink.Sink, request RequestFunc, log hclog.Logger) *Engine {
	if config.TargetSeconds <= 0 {
		config.TargetSeconds = DefaultTargetSeconds
	}
	if config.CleanupThresholdSeconds <= 0 {
		config.CleanupThresholdSeconds = DefaultCleanupThresholdSeconds
	}

	e := &Engine{
		config:  config,
		sink:    s,
		request: request,
		logger:  logger.OrNull(log).Named("engine"),
		events:  make(chan Event, eventBufferSize),
		done:    make(chan struct{}),
	}
	s.SetHandler(e)
	return e
}

// Events returns the lifecycle channel. It is closed by Dispose.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// EnsureBuffered fills the sink until the look-ahead target is met or the
// content is exhausted. When a pass is already running it returns nil at once.
func (e *Engine) EnsureBuffered(ctx context.Context) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	if e.buffering || e.exhausted {
		e.mu.Unlock()
		return nil
	}
	e.buffering = true
	e.mu.Unlock()

	err := e.fill(ctx)

	e.mu.Lock()
	e.buffering = false
	e.failed = err != nil && !errors.Is(err, ErrDisposed)
	e.mu.Unlock()

	if err != nil && !errors.Is(err, ErrDisposed) {
		e.logger.Error("buffering stopped", "error", err)
	}
	return err
}

func (e *Engine) fill(ctx context.Context) error {
	for {
		if e.isDisposed() {
			return ErrDisposed
		}

		openStart := sink.BufferedEnd(e.sink.Buffered())

		seg, err := e.request(ctx)
		if errors.Is(err, ErrNoMoreSegments) || (err == nil && seg == nil) {
			e.logger.Debug("content exhausted", "buffered", openStart)
			e.mu.Lock()
			e.exhausted = true
			e.mu.Unlock()
			// Playback may already sit at the end of the last span.
			e.advance(e.sink.Position())
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to request segment: %w", err)
		}

		sp := &span{seg: seg, start: openStart}
		e.mu.Lock()
		if e.disposed {
			e.mu.Unlock()
			return ErrDisposed
		}
		e.spans = append(e.spans, sp)
		e.mu.Unlock()

		e.logger.Debug("buffering segment", "id", seg.ID, "start", openStart)
		if err := seg.Source.Drain(ctx, func(chunk []byte) error {
			return e.appendChunk(ctx, chunk)
		}); err != nil {
			e.abandon(sp)
			return fmt.Errorf("failed to buffer segment %s: %w", seg.ID, err)
		}

		end := sink.BufferedEnd(e.sink.Buffered())
		e.mu.Lock()
		sp.end = end
		sp.closed = true
		e.mu.Unlock()
		e.logger.Debug("segment buffered", "id", seg.ID, "start", sp.start, "end", end)

		e.evict(ctx)

		if end-e.sink.Position() >= e.config.TargetSeconds {
			return nil
		}
	}
}

// abandon closes a span whose drain failed at whatever was appended, or forgets
// it when nothing was, so the next span can be opened behind it.
func (e *Engine) abandon(sp *span) {
	end := sink.BufferedEnd(e.sink.Buffered())

	e.mu.Lock()
	defer e.mu.Unlock()
	if end > sp.start {
		sp.end = end
		sp.closed = true
		return
	}
	for i, s := range e.spans {
		if s == sp {
			e.spans = append(e.spans[:i], e.spans[i+1:]...)
			break
		}
	}
}

func (e *Engine) appendChunk(ctx context.Context, chunk []byte) error {
	if e.isDisposed() {
		return nil
	}
	if err := e.sink.Append(ctx, chunk); err != nil {
		return err
	}

	e.mu.Lock()
	e.everBuffered = true
	e.mu.Unlock()
	return nil
}

// evict drops played audio from the sink, keeping CleanupThresholdSeconds
// behind the play head. Failures only get logged.
func (e *Engine) evict(ctx context.Context) {
	if e.isDisposed() {
		return
	}

	total := sink.BufferedTotal(e.sink.Buffered())
	cut := e.sink.Position() - e.config.CleanupThresholdSeconds
	if total <= e.config.TargetSeconds || cut <= 0 {
		return
	}

	if err := e.sink.Remove(ctx, 0, cut); err != nil {
		e.logger.Warn("failed to evict played audio", "until", cut, "error", err)
		return
	}
	e.logger.Trace("evicted played audio", "until", cut)
}

// OnTimeUpdate maps the play head onto the tracked spans and tops the buffer up.
func (e *Engine) OnTimeUpdate(position float64) {
	e.advance(position)
	e.schedule(position)
}

// NeedsBuffering reports whether a new pass would do work: none is running,
// content remains, and either the last pass failed or the look-ahead is short.
func (e *Engine) NeedsBuffering() bool {
	return e.needsBuffering(e.sink.Position(), true)
}

func (e *Engine) needsBuffering(position float64, afterFailure bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed || e.buffering || e.exhausted {
		return false
	}
	if afterFailure && e.failed {
		return true
	}
	return sink.BufferedEnd(e.sink.Buffered())-position < e.config.TargetSeconds
}

// schedule starts a background pass when the look-ahead is short.
func (e *Engine) schedule(position float64) {
	if !e.needsBuffering(position, false) {
		return
	}
	go func() {
		if err := e.EnsureBuffered(context.Background()); err != nil && !errors.Is(err, ErrDisposed) {
			e.publish(Event{Kind: EventError, Err: err})
		}
	}()
}

// advance emits the lifecycle events implied by position. Spans before the last
// one starting before position are complete: any of their missed events fire,
// in order, and they stop being tracked.
func (e *Engine) advance(position float64) {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()

	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}

	located := -1
	for i, sp := range e.spans {
		if sp.start >= position {
			break
		}
		located = i
	}

	var evs []Event
	if located >= 0 {
		for _, sp := range e.spans[:located] {
			if sp.seg.MarkStarted() {
				evs = append(evs, Event{Kind: EventSegmentStart, SegmentID: sp.seg.ID})
			}
			if sp.seg.MarkEnded() {
				evs = append(evs, Event{Kind: EventSegmentEnd, SegmentID: sp.seg.ID})
			}
		}
		current := e.spans[located]
		if current.seg.MarkStarted() {
			evs = append(evs, Event{Kind: EventSegmentStart, SegmentID: current.seg.ID})
		}
		e.spans = append([]*span(nil), e.spans[located:]...)

		// Without a successor, the last span ends when the play head reaches its end.
		if e.exhausted && len(e.spans) == 1 && current.closed && position >= current.end {
			if current.seg.MarkEnded() {
				evs = append(evs, Event{Kind: EventSegmentEnd, SegmentID: current.seg.ID})
			}
			e.spans = nil
		}
	}
	e.mu.Unlock()

	for _, ev := range evs {
		e.logger.Trace("lifecycle event", "kind", ev.Kind, "id", ev.SegmentID, "position", position)
	}
	e.send(evs...)
}

func (e *Engine) OnStall() {
	e.logger.Debug("playback stalled", "position", e.sink.Position())
	e.publish(Event{Kind: EventStall})
}

func (e *Engine) OnProgress() {
	e.logger.Trace("playback resumed after stall")
}

func (e *Engine) OnPause() {
	e.publish(Event{Kind: EventPause})
}

func (e *Engine) OnPlay() {
	e.publish(Event{Kind: EventPlay})
}

func (e *Engine) publish(evs ...Event) {
	e.pubMu.Lock()
	defer e.pubMu.Unlock()
	e.send(evs...)
}

// send delivers evs, blocking until read or disposed. Callers hold pubMu.
func (e *Engine) send(evs ...Event) {
	for _, ev := range evs {
		select {
		case <-e.done:
			return
		default:
		}
		select {
		case e.events <- ev:
		case <-e.done:
			return
		}
	}
}

// HasBuffered reports whether any audio was ever appended to the sink.
func (e *Engine) HasBuffered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.everBuffered
}

// Buffering reports whether a buffering pass is running.
func (e *Engine) Buffering() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffering
}

// Failed reports whether the last finished pass returned an error.
func (e *Engine) Failed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed
}

// Exhausted reports whether the request callback signalled the end of content.
func (e *Engine) Exhausted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exhausted
}

// Spans returns the spans still tracked, oldest first.
func (e *Engine) Spans() []SpanInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]SpanInfo, 0, len(e.spans))
	for _, sp := range e.spans {
		out = append(out, SpanInfo{
			SegmentID: sp.seg.ID,
			Start:     sp.start,
			End:       sp.end,
			Open:      !sp.closed,
		})
	}
	return out
}

func (e *Engine) isDisposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

// Dispose releases every tracked segment, detaches from the sink and closes the
// event channel. A pass still running finishes its current segment without
// touching the sink.
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	e.spans = nil
	e.mu.Unlock()

	e.sink.SetHandler(nil)
	close(e.done)

	e.pubMu.Lock()
	close(e.events)
	e.pubMu.Unlock()
}
