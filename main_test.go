package main

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d1nch8g/readaloud/config"
	"github.com/d1nch8g/readaloud/engine"
	"github.com/d1nch8g/readaloud/readaloud"
	"github.com/d1nch8g/readaloud/segment"
	"github.com/d1nch8g/readaloud/tts"
)

func newTestReader() *readaloud.Reader {
	return readaloud.NewReader("One. Two.", tts.NewToneSynthesizer(), tts.SynthesisOptions{}, segment.DefaultRetryPolicy(), nil)
}

func TestPrintEvents_FinishesOnLastSegmentEnd(t *testing.T) {
	events := make(chan engine.Event, 8)
	events <- engine.Event{Kind: engine.EventSegmentStart, SegmentID: "0"}
	events <- engine.Event{Kind: engine.EventSegmentEnd, SegmentID: "0"}
	events <- engine.Event{Kind: engine.EventSegmentStart, SegmentID: "1"}
	events <- engine.Event{Kind: engine.EventSegmentEnd, SegmentID: "1"}

	err := printEvents(context.Background(), events, newTestReader(), hclog.NewNullLogger())
	assert.ErrorIs(t, err, errFinished)
}

func TestPrintEvents_PropagatesBufferingError(t *testing.T) {
	boom := errors.New("boom")
	events := make(chan engine.Event, 1)
	events <- engine.Event{Kind: engine.EventError, Err: boom}

	err := printEvents(context.Background(), events, newTestReader(), hclog.NewNullLogger())
	assert.ErrorIs(t, err, boom)
}

func TestPrintEvents_StopsOnClosedChannel(t *testing.T) {
	events := make(chan engine.Event)
	close(events)
	assert.NoError(t, printEvents(context.Background(), events, newTestReader(), hclog.NewNullLogger()))
}

func TestPrintEvents_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := printEvents(ctx, make(chan engine.Event), newTestReader(), hclog.NewNullLogger())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSynthesizer(t *testing.T) {
	synth, err := newSynthesizer(&config.Config{Provider: config.ProviderTone})
	require.NoError(t, err)
	assert.IsType(t, &tts.ToneSynthesizer{}, synth)

	_, err = newSynthesizer(&config.Config{Provider: config.ProviderDashScope})
	assert.Error(t, err)

	synth, err = newSynthesizer(&config.Config{
		Provider:  config.ProviderDashScope,
		MP3:       true,
		DashScope: config.DashScopeConfig{ApiKey: "key"},
	})
	require.NoError(t, err)
	assert.NotNil(t, synth)
}

func TestSynthesisOptions_ProviderDefaults(t *testing.T) {
	base := config.Config{Speed: 1.0, Audio: config.AudioConfig{SampleRate: 16000}}

	dash := base
	dash.Provider = config.ProviderDashScope
	options := synthesisOptions(&dash)
	assert.Equal(t, tts.DashScopeVoice, options.Voice)
	assert.Equal(t, tts.FormatPCM, options.Format)
	assert.Equal(t, 16000, options.SampleRate)

	yandex := base
	yandex.Provider = config.ProviderYandex
	assert.Equal(t, tts.GetDefaultSynthesisOptions().Voice, synthesisOptions(&yandex).Voice)

	dash.Voice = "longwan"
	assert.Equal(t, "longwan", synthesisOptions(&dash).Voice)
}
