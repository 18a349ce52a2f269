package ingress

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/meeting-agent/internal/audio"
	"github.com/lexiqai/meeting-agent/internal/session"
	"github.com/lexiqai/meeting-agent/internal/tts"
)

type fakeSynth struct {
	pcm []byte
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f.pcm, nil
}

func (f *fakeSynth) Format() audio.Format {
	return audio.Format{SampleRate: 16000, Channels: 1}
}

type fakeSession struct {
	mu      sync.Mutex
	meeting Meeting
	speaker tts.Speaker
	fed     [][]byte
	started bool
	closes  int
}

func (f *fakeSession) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeSession) Feed(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closes > 0 {
		return session.ErrClosed
	}
	f.fed = append(f.fed, append([]byte(nil), chunk...))
	return nil
}

func (f *fakeSession) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSession) chunks() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.fed...)
}

func (f *fakeSession) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
	err      error
}

func (f *fakeFactory) NewSession(ctx context.Context, m Meeting, speaker tts.Speaker) (Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeSession{meeting: m, speaker: speaker}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeFactory) last() *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

func newTestServer(t *testing.T, factory Factory, synth tts.Synthesizer) (*Handler, *httptest.Server) {
	t.Helper()
	h := NewHandler(Config{
		Format:    audio.Format{SampleRate: 16000, Channels: 1},
		ChunkSize: 3200,
	}, synth, factory, zerolog.Nop())

	mux := http.NewServeMux()
	mux.Handle(Path, h)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + Path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendControl(t *testing.T, conn *websocket.Conn, msg ControlMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

// readEvent skips binary frames until the next text event
func readEvent(t *testing.T, conn *websocket.Conn) ServerEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		mt, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if mt != websocket.TextMessage {
			continue
		}
		var ev ServerEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	}
}

func TestHandler_StartFeedStop(t *testing.T) {
	factory := &fakeFactory{}
	_, srv := newTestServer(t, factory, &fakeSynth{})
	conn := dial(t, srv)

	sendControl(t, conn, ControlMessage{Type: EventStart, MeetingID: "standup", Participants: []string{"Dana", "Eli"}})
	started := readEvent(t, conn)
	assert.Equal(t, EventStarted, started.Type)
	assert.NotEmpty(t, started.SessionID)

	sess := factory.last()
	require.NotNil(t, sess)
	assert.Equal(t, "standup", sess.meeting.MeetingID)
	assert.Equal(t, []string{"Dana", "Eli"}, sess.meeting.Participants)
	assert.Equal(t, started.SessionID, sess.meeting.SessionID)
	sess.mu.Lock()
	assert.True(t, sess.started)
	sess.mu.Unlock()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, make([]byte, 5000)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, make([]byte, 2000)))
	sendControl(t, conn, ControlMessage{Type: EventStop})

	stopped := readEvent(t, conn)
	assert.Equal(t, EventStopped, stopped.Type)
	assert.Equal(t, started.SessionID, stopped.SessionID)

	chunks := sess.chunks()
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 3200)
	assert.Len(t, chunks[1], 3200)
	assert.Len(t, chunks[2], 600, "remainder is flushed on stop")
	assert.Equal(t, 1, sess.closeCount())
}

func TestHandler_Float32Encoding(t *testing.T) {
	factory := &fakeFactory{}
	h := NewHandler(Config{Format: audio.Format{SampleRate: 16000, Channels: 1}, ChunkSize: 8}, &fakeSynth{}, factory, zerolog.Nop())
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	sendControl(t, conn, ControlMessage{Type: EventStart, Encoding: "float32"})
	require.Equal(t, EventStarted, readEvent(t, conn).Type)

	samples := []float32{0, 0.5, -0.5, 1}
	data := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(s))
	}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))

	sess := factory.last()
	require.Eventually(t, func() bool { return len(sess.chunks()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, audio.EncodePCM16([]int16{0, 16383, -16383, 32767}), sess.chunks()[0])
}

func TestHandler_AssistantSpeech(t *testing.T) {
	factory := &fakeFactory{}
	pcm := make([]byte, 1280) // 40ms at 16kHz
	_, srv := newTestServer(t, factory, &fakeSynth{pcm: pcm})
	conn := dial(t, srv)

	sendControl(t, conn, ControlMessage{Type: EventStart})
	require.Equal(t, EventStarted, readEvent(t, conn).Type)

	spoke := make(chan error, 1)
	go func() { spoke <- factory.last().speaker.Speak(context.Background(), "Sending it now.") }()

	ev := readEvent(t, conn)
	assert.Equal(t, EventAssistant, ev.Type)
	assert.Equal(t, "Sending it now.", ev.Text)

	received := 0
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for received < len(pcm) {
		mt, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.BinaryMessage, mt)
		assert.LessOrEqual(t, len(data), 640, "20ms frames")
		received += len(data)
	}
	assert.Equal(t, len(pcm), received)

	select {
	case err := <-spoke:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Speak did not return after playback")
	}
}

func TestHandler_DisconnectClosesSession(t *testing.T) {
	factory := &fakeFactory{}
	h, srv := newTestServer(t, factory, &fakeSynth{})
	conn := dial(t, srv)

	sendControl(t, conn, ControlMessage{Type: EventStart})
	require.Equal(t, EventStarted, readEvent(t, conn).Type)
	require.NoError(t, conn.Close())

	sess := factory.last()
	assert.Eventually(t, func() bool { return sess.closeCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return h.Active() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHandler_ProtocolErrors(t *testing.T) {
	factory := &fakeFactory{}
	_, srv := newTestServer(t, factory, &fakeSynth{})
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, make([]byte, 4000)))
	sendControl(t, conn, ControlMessage{Type: EventStop})
	assert.Equal(t, "no meeting in progress", readEvent(t, conn).Error)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, EventError, readEvent(t, conn).Type)

	sendControl(t, conn, ControlMessage{Type: "pause"})
	assert.Contains(t, readEvent(t, conn).Error, `unknown event "pause"`)

	sendControl(t, conn, ControlMessage{Type: EventStart, Encoding: "opus"})
	assert.Contains(t, readEvent(t, conn).Error, "unsupported encoding")
	assert.Nil(t, factory.last())

	sendControl(t, conn, ControlMessage{Type: EventStart})
	require.Equal(t, EventStarted, readEvent(t, conn).Type)
	sendControl(t, conn, ControlMessage{Type: EventStart})
	assert.Equal(t, "meeting already started", readEvent(t, conn).Error)

	assert.Empty(t, factory.last().chunks(), "audio before start is dropped")
}

func TestHandler_FactoryError(t *testing.T) {
	_, srv := newTestServer(t, &fakeFactory{err: errors.New("deepgram unavailable")}, &fakeSynth{})
	conn := dial(t, srv)

	sendControl(t, conn, ControlMessage{Type: EventStart})
	ev := readEvent(t, conn)
	assert.Equal(t, EventError, ev.Type)
	assert.Contains(t, ev.Error, "deepgram unavailable")
}

func TestHandler_Shutdown(t *testing.T) {
	factory := &fakeFactory{}
	h, srv := newTestServer(t, factory, &fakeSynth{})
	conn := dial(t, srv)

	sendControl(t, conn, ControlMessage{Type: EventStart})
	require.Equal(t, EventStarted, readEvent(t, conn).Type)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	assert.Equal(t, 1, factory.last().closeCount())
	assert.Equal(t, 0, h.Active())

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + Path
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
