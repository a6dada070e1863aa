// Package segment defines the unit of audio handed to the buffer engine and the
// retrying source that produces its bytes.
package segment

import (
	"sync"

	"github.com/google/uuid"
)

// Segment is one unit of synthesized speech, owned by the engine from the moment
// the request callback returns it.
type Segment struct {
	// ID identifies the segment in lifecycle events. It carries no ordering.
	ID string
	// Source produces the segment's audio.
	Source Chunker

	mu           sync.Mutex
	startEmitted bool
	endEmitted   bool
}

// New creates a segment. An empty id is replaced by a random one.
func New(id string, src Chunker) *Segment {
	if id == "" {
		id = uuid.NewString()
	}
	return &Segment{ID: id, Source: src}
}

// MarkStarted flips the start flag and reports whether this call flipped it.
func (s *Segment) MarkStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startEmitted {
		return false
	}
	s.startEmitted = true
	return true
}

// MarkEnded flips the end flag and reports whether this call flipped it.
func (s *Segment) MarkEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endEmitted {
		return false
	}
	s.endEmitted = true
	return true
}

func (s *Segment) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startEmitted
}

func (s *Segment) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endEmitted
}
