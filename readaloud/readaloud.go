// Package readaloud turns a document into the stream of segments a player
// requests, one sentence at a time.
package readaloud

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/d1nch8g/readaloud/engine"
	"github.com/d1nch8g/readaloud/logger"
	"github.com/d1nch8g/readaloud/segment"
	"github.com/d1nch8g/readaloud/tts"
)

// SplitUnits breaks text into paragraphs on blank lines, then paragraphs into
// sentences ending in '.', '!' or '?' followed by whitespace.
func SplitUnits(text string) []string {
	var units []string
	for _, para := range paragraphs(text) {
		start := 0
		for i := 0; i < len(para); i++ {
			switch para[i] {
			case '.', '!', '?':
				if i+1 < len(para) && para[i+1] == ' ' {
					units = appendUnit(units, para[start:i+1])
					start = i + 1
				}
			}
		}
		units = appendUnit(units, para[start:])
	}
	return units
}

// paragraphs groups lines separated by blank lines, collapsing whitespace.
func paragraphs(text string) []string {
	var out, lines []string
	flush := func() {
		if len(lines) > 0 {
			out = append(out, strings.Join(strings.Fields(strings.Join(lines, " ")), " "))
			lines = nil
		}
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return out
}

func appendUnit(units []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		units = append(units, s)
	}
	return units
}

// Reader hands out one segment per text unit. Segment ids are unit indexes.
type Reader struct {
	units   []string
	synth   tts.Synthesizer
	options tts.SynthesisOptions
	policy  segment.RetryPolicy
	logger  hclog.Logger

	mu   sync.Mutex
	next int
}

func NewReader(text string, synth tts.Synthesizer, options tts.SynthesisOptions, policy segment.RetryPolicy, log hclog.Logger) *Reader {
	log = logger.OrNull(log)
	return &Reader{
		units:   SplitUnits(text),
		synth:   synth,
		options: options,
		policy:  policy,
		logger:  log.Named("reader"),
	}
}

// Next returns the segment for the next unit, or engine.ErrNoMoreSegments.
// A unit is handed out once: when its segment fails to buffer, the source has
// already used up its retries and part of it may have played, so the next call
// moves on to the following unit.
func (r *Reader) Next(ctx context.Context) (*segment.Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.units) {
		return nil, engine.ErrNoMoreSegments
	}

	i := r.next
	r.next++
	r.logger.Trace("next unit", "index", i, "text", r.units[i])
	src := segment.NewSource(r.units[i], r.synth, r.options, r.policy, r.logger)
	return segment.New(strconv.Itoa(i), src), nil
}

// Text returns the unit a segment id refers to.
func (r *Reader) Text(id string) (string, bool) {
	i, err := strconv.Atoi(id)
	if err != nil || i < 0 || i >= len(r.units) {
		return "", false
	}
	return r.units[i], true
}

// Len is the number of units.
func (r *Reader) Len() int {
	return len(r.units)
}

// LastID is the id of the final segment, empty when there are no units.
func (r *Reader) LastID() string {
	if len(r.units) == 0 {
		return ""
	}
	return strconv.Itoa(len(r.units) - 1)
}
