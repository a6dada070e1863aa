package tts

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, s Synthesizer, text string, opts SynthesisOptions) ([][]byte, error) {
	t.Helper()
	ch := make(chan []byte, 4)
	errc := make(chan error, 1)
	go func() {
		errc <- s.SynthesizeToStreamWithContext(context.Background(), text, opts, ch)
	}()

	var chunks [][]byte
	for c := range ch {
		chunks = append(chunks, c)
	}
	return chunks, <-errc
}

func TestToneSynthesizer_Length(t *testing.T) {
	s := NewToneSynthesizer()
	opts := SynthesisOptions{SampleRate: 8000}

	chunks, err := collect(t, s, "one two three", opts)
	require.NoError(t, err)

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	// 3 words * 300ms * 8000Hz * 2 bytes
	assert.Equal(t, 3*2400*2, total)
	assert.Len(t, chunks, 9, "100ms chunks")
	assert.Equal(t, 900*time.Millisecond, s.Duration("one two three"))
}

func TestToneSynthesizer_RejectsMP3(t *testing.T) {
	_, err := collect(t, NewToneSynthesizer(), "hello", SynthesisOptions{Format: FormatMP3})
	assert.Error(t, err)
}

func TestToneSynthesizer_Cancel(t *testing.T) {
	s := NewToneSynthesizer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ch := make(chan []byte)
	err := s.SynthesizeToStreamWithContext(ctx, "a b c", SynthesisOptions{}, ch)
	assert.ErrorIs(t, err, context.Canceled)
	_, open := <-ch
	assert.False(t, open)
}

type scriptedSynth struct {
	gotFormat Format
	chunks    [][]byte
	err       error
}

func (s *scriptedSynth) SynthesizeToStreamWithContext(ctx context.Context, text string, options SynthesisOptions, audioData chan<- []byte) error {
	defer close(audioData)
	s.gotFormat = options.Format
	for _, c := range s.chunks {
		select {
		case audioData <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func (s *scriptedSynth) Close() error { return nil }

func TestMP3Decoding_InvalidStream(t *testing.T) {
	inner := &scriptedSynth{chunks: [][]byte{[]byte("definitely not an mp3 stream")}}

	_, err := collect(t, MP3Decoding(inner), "hello", SynthesisOptions{})
	require.Error(t, err)
	assert.Equal(t, FormatMP3, inner.gotFormat)
}

func TestMP3Decoding_UpstreamFailure(t *testing.T) {
	boom := errors.New("connection reset")
	inner := &scriptedSynth{err: boom}

	_, err := collect(t, MP3Decoding(inner), "hello", SynthesisOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestStereoToMono(t *testing.T) {
	in := make([]byte, 8)
	binary.LittleEndian.PutUint16(in[0:], uint16(int16(1000)))
	binary.LittleEndian.PutUint16(in[2:], uint16(int16(3000)))
	left, right := int16(-200), int16(-400)
	binary.LittleEndian.PutUint16(in[4:], uint16(left))
	binary.LittleEndian.PutUint16(in[6:], uint16(right))

	out := stereoToMono(in)
	require.Len(t, out, 4)
	assert.Equal(t, int16(2000), int16(binary.LittleEndian.Uint16(out[0:])))
	assert.Equal(t, int16(-300), int16(binary.LittleEndian.Uint16(out[2:])))
}

func newDashScopeServer(t *testing.T, fail bool) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bearer secret", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var run dashScopeMessage
		if err := conn.ReadJSON(&run); err != nil {
			return
		}
		assert.Equal(t, "run-task", run.Header.Action)
		taskID := run.Header.TaskID

		if fail {
			_ = conn.WriteJSON(dashScopeMessage{Header: dashScopeHeader{TaskID: taskID, Event: "task-failed", ErrorCode: "InvalidParameter", ErrorMessage: "bad voice"}})
			return
		}

		_ = conn.WriteJSON(dashScopeMessage{Header: dashScopeHeader{TaskID: taskID, Event: "task-started"}})

		var cont, finish dashScopeMessage
		if err := conn.ReadJSON(&cont); err != nil {
			return
		}
		if err := conn.ReadJSON(&finish); err != nil {
			return
		}
		assert.Equal(t, "continue-task", cont.Header.Action)
		assert.Equal(t, "finish-task", finish.Header.Action)
		input, _ := cont.Payload["input"].(map[string]any)
		assert.Equal(t, "hello world", input["text"])

		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4})
		_ = conn.WriteJSON(dashScopeMessage{Header: dashScopeHeader{TaskID: taskID, Event: "result-generated"}})
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{5, 6})
		_ = conn.WriteJSON(dashScopeMessage{Header: dashScopeHeader{TaskID: taskID, Event: "task-finished"}})
	}))
}

func TestDashScopeClient_Stream(t *testing.T) {
	server := newDashScopeServer(t, false)
	defer server.Close()

	client, err := NewDashScopeClient(DashScopeConfig{
		ApiKey:   "secret",
		Endpoint: "ws" + strings.TrimPrefix(server.URL, "http"),
	})
	require.NoError(t, err)

	chunks, err := collect(t, client, "hello world", SynthesisOptions{Voice: "longxiaochun"})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{1, 2, 3, 4}, {5, 6}}, chunks)
}

func TestDashScopeClient_TaskFailed(t *testing.T) {
	server := newDashScopeServer(t, true)
	defer server.Close()

	client, err := NewDashScopeClient(DashScopeConfig{
		ApiKey:   "secret",
		Endpoint: "ws" + strings.TrimPrefix(server.URL, "http"),
	})
	require.NoError(t, err)

	_, err = collect(t, client, "hello world", SynthesisOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad voice")
}

func TestDashScopeRunTask_DefaultVoice(t *testing.T) {
	c := &DashScopeClient{}

	params := func(options SynthesisOptions) map[string]any {
		msg := c.runTask("task", options)
		p, ok := msg.Payload["parameters"].(map[string]any)
		require.True(t, ok)
		return p
	}

	assert.Equal(t, DashScopeVoice, params(SynthesisOptions{})["voice"])
	assert.Equal(t, DashScopeModel, c.runTask("task", SynthesisOptions{}).Payload["model"])
	assert.Equal(t, "longwan", params(SynthesisOptions{Voice: "longwan"})["voice"])
}

func TestNewDashScopeClient_RequiresKey(t *testing.T) {
	_, err := NewDashScopeClient(DashScopeConfig{})
	assert.Error(t, err)
}

func TestYandexBuildRequest(t *testing.T) {
	c := &YandexTTSClient{}
	opts := GetDefaultSynthesisOptions()

	req := c.buildRequest("hello", opts)
	assert.Equal(t, "hello", req.GetText())
	assert.Equal(t, "general", req.GetModel())
	require.NotNil(t, req.GetOutputAudioSpec().GetRawAudio())
	assert.Equal(t, int64(DefaultSampleRate), req.GetOutputAudioSpec().GetRawAudio().GetSampleRateHertz())

	opts.Format = FormatMP3
	req = c.buildRequest("hello", opts)
	assert.NotNil(t, req.GetOutputAudioSpec().GetContainerAudio())
}
