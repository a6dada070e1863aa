// Package sink describes the audio output the buffer engine appends to, and
// provides Buffer, an in-memory PCM timeline that platform outputs pull from.
package sink

import (
	"context"
	"errors"
)

var (
	ErrClosed      = errors.New("sink: closed")
	ErrInvalidRate = errors.New("sink: playback rate must be positive")
)

// Range is a buffered interval of the playback timeline, in seconds.
type Range struct {
	Start float64
	End   float64
}

// Duration is the length of the range in seconds.
func (r Range) Duration() float64 {
	return r.End - r.Start
}

// Handler receives playback notifications. Calls arrive in order on a single
// goroutine that is never the audio thread.
type Handler interface {
	// OnTimeUpdate reports playback progress.
	OnTimeUpdate(position float64)
	// OnStall reports that playback ran out of buffered data.
	OnStall()
	// OnProgress reports that data arrived after a stall.
	OnProgress()
	OnPause()
	OnPlay()
}

// Sink is the platform audio output.
type Sink interface {
	// Append adds encoded audio at the end of the timeline. Calls are serialized.
	Append(ctx context.Context, chunk []byte) error
	// Buffered reports the retained time ranges.
	Buffered() []Range
	// Position is the current play head in seconds.
	Position() float64
	// Remove drops retained audio between start and end seconds.
	Remove(ctx context.Context, start, end float64) error
	Play() error
	Pause() error
	Paused() bool
	SetRate(rate float64) error
	// SetHandler installs the notification receiver; nil detaches.
	SetHandler(h Handler)
}

// BufferedEnd returns the end of the last range, or 0 when nothing is buffered.
func BufferedEnd(ranges []Range) float64 {
	if len(ranges) == 0 {
		return 0
	}
	return ranges[len(ranges)-1].End
}

// BufferedTotal sums the durations of all ranges.
func BufferedTotal(ranges []Range) float64 {
	var total float64
	for _, r := range ranges {
		total += r.Duration()
	}
	return total
}
