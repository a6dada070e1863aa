package player

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d1nch8g/readaloud/engine"
	"github.com/d1nch8g/readaloud/segment"
	"github.com/d1nch8g/readaloud/sink"
)

const testRate = 100

// silence emits one second of PCM16 mono silence per unit.
type silence int

func (s silence) Drain(ctx context.Context, emit func([]byte) error) error {
	for i := 0; i < int(s); i++ {
		if err := emit(make([]byte, testRate*2)); err != nil {
			return err
		}
	}
	return nil
}

type script struct {
	mu    sync.Mutex
	ids   []string
	calls int
	err   error
}

func (s *script) request(ctx context.Context) (*segment.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.ids) == 0 {
		return nil, engine.ErrNoMoreSegments
	}
	id := s.ids[0]
	s.ids = s.ids[1:]
	return segment.New(id, silence(1)), nil
}

func (s *script) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestPlayer(t *testing.T, request engine.RequestFunc) (*Player, *sink.Buffer) {
	t.Helper()
	buf, err := sink.NewBuffer(sink.Config{SampleRate: testRate, TimeUpdateInterval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { buf.Close() })

	p := New(buf, request, engine.EngineConfig{}, nil)
	t.Cleanup(p.Dispose)
	return p, buf
}

func nextEvent(t *testing.T, p *Player) engine.Event {
	t.Helper()
	select {
	case ev, ok := <-p.Events():
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return engine.Event{}
	}
}

func TestPlay_BuffersBeforeFirstPlay(t *testing.T) {
	s := &script{ids: []string{"0", "1"}}
	p, buf := newTestPlayer(t, s.request)

	require.NoError(t, p.Play(context.Background()))

	assert.False(t, buf.Paused())
	assert.Equal(t, 3, s.callCount())
	assert.Equal(t, []sink.Range{{Start: 0, End: 2}}, buf.Buffered())
	assert.Equal(t, engine.EventPlay, nextEvent(t, p).Kind)

	require.NoError(t, p.Play(context.Background()))
	assert.Equal(t, 3, s.callCount())
}

func TestPlay_BufferingFailureKeepsSinkPaused(t *testing.T) {
	boom := errors.New("no network")
	s := &script{err: boom}
	p, buf := newTestPlayer(t, s.request)

	err := p.Play(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, buf.Paused())
}

func TestPause(t *testing.T) {
	s := &script{ids: []string{"0"}}
	p, buf := newTestPlayer(t, s.request)

	require.NoError(t, p.Play(context.Background()))
	require.NoError(t, p.Pause())
	assert.True(t, buf.Paused())

	assert.Equal(t, engine.EventPlay, nextEvent(t, p).Kind)
	assert.Equal(t, engine.EventPause, nextEvent(t, p).Kind)
}

func TestSetRate(t *testing.T) {
	p, _ := newTestPlayer(t, (&script{}).request)

	assert.ErrorIs(t, p.SetRate(0), sink.ErrInvalidRate)
	assert.ErrorIs(t, p.SetRate(-1), sink.ErrInvalidRate)
	assert.NoError(t, p.SetRate(1.5))
}

func TestDispose(t *testing.T) {
	p, _ := newTestPlayer(t, (&script{ids: []string{"0"}}).request)

	p.Dispose()
	p.Dispose()

	_, ok := <-p.Events()
	assert.False(t, ok)
	assert.ErrorIs(t, p.Play(context.Background()), engine.ErrDisposed)
	assert.ErrorIs(t, p.Pause(), engine.ErrDisposed)
	assert.ErrorIs(t, p.SetRate(1), engine.ErrDisposed)
}

func TestPlayback_SegmentEventsFollowPlayHead(t *testing.T) {
	s := &script{ids: []string{"0", "1"}}
	p, buf := newTestPlayer(t, s.request)
	require.NoError(t, p.Play(context.Background()))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		out := make([]int16, 10)
		for {
			select {
			case <-stop:
				return
			default:
			}
			buf.Read(out)
			time.Sleep(time.Millisecond)
		}
	}()

	var got []string
	for len(got) < 4 {
		ev := nextEvent(t, p)
		switch ev.Kind {
		case engine.EventSegmentStart:
			got = append(got, "start:"+ev.SegmentID)
		case engine.EventSegmentEnd:
			got = append(got, "end:"+ev.SegmentID)
		}
	}
	assert.Equal(t, []string{"start:0", "end:0", "start:1", "end:1"}, got)
}

// samples emits n samples of PCM16 mono silence.
type samples int

func (s samples) Drain(ctx context.Context, emit func([]byte) error) error {
	return emit(make([]byte, int(s)*2))
}

func TestPlay_SecondCallReturnsBufferingError(t *testing.T) {
	boom := errors.New("no network")
	s := &script{err: boom}
	p, buf := newTestPlayer(t, s.request)

	assert.ErrorIs(t, p.Play(context.Background()), boom)
	assert.ErrorIs(t, p.Play(context.Background()), boom)
	assert.Equal(t, 2, s.callCount())
	assert.True(t, buf.Paused())
}

func TestPlay_RestartsBufferingAfterStalledPassFailed(t *testing.T) {
	buf, err := sink.NewBuffer(sink.Config{SampleRate: 1000}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { buf.Close() })

	var (
		mu    sync.Mutex
		calls int
	)
	entered := make(chan struct{})
	release := make(chan struct{})
	request := func(ctx context.Context) (*segment.Segment, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		if n == 2 {
			close(entered)
			<-release
			return nil, errors.New("upstream unavailable")
		}
		return segment.New("", samples(500)), nil
	}
	callCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}

	p := New(buf, request, engine.EngineConfig{TargetSeconds: 0.5}, nil)
	t.Cleanup(p.Dispose)

	require.NoError(t, p.Play(context.Background()))
	require.Equal(t, 1, callCount())

	// Play through the only segment; the look-ahead drop starts the second pass.
	out := make([]int16, 100)
	for i := 0; i < 6; i++ {
		buf.Read(out)
	}
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("background pass never started")
	}
	buf.Read(out)
	assert.Equal(t, 0.5, buf.Position())

	close(release)
	require.Eventually(t, func() bool {
		return p.engine.Failed() && !p.engine.Buffering()
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, p.Play(context.Background()))
	assert.Equal(t, 3, callCount())
	assert.Equal(t, 1.0, sink.BufferedEnd(buf.Buffered()))
	assert.False(t, p.engine.Failed())

	buf.Read(make([]int16, 200))
	assert.InDelta(t, 0.7, buf.Position(), 1e-9)
}
