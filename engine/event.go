package engine

// EventKind is the closed set of lifecycle notifications an engine publishes.
type EventKind int

const (
	// EventPlay mirrors the sink starting playback.
	EventPlay EventKind = iota
	// EventPause mirrors the sink pausing.
	EventPause
	// EventSegmentStart fires once when playback enters a segment.
	EventSegmentStart
	// EventSegmentEnd fires once when playback has moved past a segment.
	EventSegmentEnd
	// EventStall fires when the sink ran out of buffered audio.
	EventStall
	// EventError reports a background buffering pass that failed.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventSegmentStart:
		return "segment-start"
	case EventSegmentEnd:
		return "segment-end"
	case EventStall:
		return "stall"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered on Engine.Events.
type Event struct {
	Kind EventKind
	// SegmentID is set for segment events.
	SegmentID string
	// Err is set for EventError.
	Err error
}
