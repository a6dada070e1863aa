// Package player is the playback facade applications drive: it owns a buffer
// engine and forwards transport controls to the sink.
package player

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/d1nch8g/readaloud/engine"
	"github.com/d1nch8g/readaloud/logger"
	"github.com/d1nch8g/readaloud/sink"
)

type Player struct {
	sink   sink.Sink
	engine *engine.Engine
	logger hclog.Logger

	mu       sync.Mutex
	disposed bool
}

func New(s sink.Sink, request engine.RequestFunc, config engine.EngineConfig, log hclog.Logger) *Player {
	log = logger.OrNull(log)
	return &Player{
		sink:   s,
		engine: engine.NewEngine(config, s, request, log),
		logger: log.Named("player"),
	}
}

// Play starts playback. When no pass is running and the look-ahead is short or
// the last pass failed, it buffers up to the target before resuming the sink.
// Calling Play again is how a failed pass gets restarted; its error is
// returned and the sink is left as it was.
func (p *Player) Play(ctx context.Context) error {
	if p.isDisposed() {
		return engine.ErrDisposed
	}

	if p.engine.NeedsBuffering() {
		p.logger.Debug("buffering before play", "retry", p.engine.Failed())
		if err := p.engine.EnsureBuffered(ctx); err != nil {
			return fmt.Errorf("failed to buffer: %w", err)
		}
	}

	if !p.sink.Paused() {
		return nil
	}
	if err := p.sink.Play(); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}
	return nil
}

// Pause stops the play head. Buffering continues in the background.
func (p *Player) Pause() error {
	if p.isDisposed() {
		return engine.ErrDisposed
	}
	if err := p.sink.Pause(); err != nil {
		return fmt.Errorf("failed to pause: %w", err)
	}
	return nil
}

func (p *Player) SetRate(rate float64) error {
	if p.isDisposed() {
		return engine.ErrDisposed
	}
	if rate <= 0 {
		return sink.ErrInvalidRate
	}
	return p.sink.SetRate(rate)
}

// Events returns the engine's lifecycle channel.
func (p *Player) Events() <-chan engine.Event {
	return p.engine.Events()
}

// Dispose tears the engine down. The sink stays owned by the caller.
func (p *Player) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.mu.Unlock()

	p.engine.Dispose()
	p.logger.Debug("disposed")
}

func (p *Player) isDisposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposed
}
