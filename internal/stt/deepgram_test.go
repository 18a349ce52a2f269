package stt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/meeting-agent/internal/resilience"
)

type fakeConn struct {
	mu        sync.Mutex
	connectOK bool
	writeErr  error
	written   [][]byte
	finished  bool
}

func (f *fakeConn) Connect() bool { return f.connectOK }

func (f *fakeConn) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.written = append(f.written, p)
	return len(p), nil
}

func (f *fakeConn) Finish() {
	f.mu.Lock()
	f.finished = true
	f.mu.Unlock()
}

func (f *fakeConn) isFinished() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished
}

func (f *fakeDialer) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

type fakeDialer struct {
	mu        sync.Mutex
	conns     []*fakeConn
	callbacks []msginterfaces.LiveMessageCallback
	next      func() *fakeConn
}

func (f *fakeDialer) dial(ctx context.Context, cb msginterfaces.LiveMessageCallback) (liveConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn := &fakeConn{connectOK: true}
	if f.next != nil {
		conn = f.next()
	}
	f.conns = append(f.conns, conn)
	f.callbacks = append(f.callbacks, cb)
	return conn, nil
}

func (f *fakeDialer) dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeDialer) callback(i int) msginterfaces.LiveMessageCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callbacks[i]
}

func newTestStream(t *testing.T) (*DeepgramStream, *fakeDialer) {
	t.Helper()
	s, err := NewDeepgramStream(DeepgramConfig{
		APIKey:     "dg-key",
		Model:      "nova-2",
		Language:   "en",
		SampleRate: 16000,
		Channels:   1,
		Reconnect:  &resilience.ReconnectConfig{MaxAttempts: 3, Backoff: time.Millisecond, Multiplier: 1, MaxBackoff: time.Millisecond},
	}, zerolog.Nop())
	require.NoError(t, err)

	d := &fakeDialer{}
	s.dial = d.dial
	t.Cleanup(func() { _ = s.Close() })
	return s, d
}

func result(t *testing.T, text string, final bool) *msginterfaces.MessageResponse {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"type":     "Results",
		"is_final": final,
		"channel": map[string]interface{}{
			"alternatives": []map[string]interface{}{{"transcript": text, "confidence": 0.93}},
		},
	})
	require.NoError(t, err)

	var msg msginterfaces.MessageResponse
	require.NoError(t, json.Unmarshal(raw, &msg))
	return &msg
}

func TestNewDeepgramStream_MissingKey(t *testing.T) {
	_, err := NewDeepgramStream(DeepgramConfig{APIKey: "  "}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestDeepgramStream_OnlyFinalResultsAreQueued(t *testing.T) {
	s, d := newTestStream(t)
	require.NoError(t, s.Open(context.Background()))

	cb := d.callback(0)
	require.NoError(t, cb.Message(result(t, "hey eleven", false)))
	require.NoError(t, cb.Message(result(t, "hey eleven labs", true)))
	require.NoError(t, cb.Message(result(t, "   ", true)))
	require.NoError(t, cb.Message(result(t, "send the notes", true)))

	u, ok := s.NextUtterance()
	require.True(t, ok)
	assert.Equal(t, "hey eleven labs", u.Text)
	assert.True(t, u.IsFinal)
	assert.InDelta(t, 0.93, u.Confidence, 0.001)
	assert.False(t, u.Timestamp.IsZero())

	u, ok = s.NextUtterance()
	require.True(t, ok)
	assert.Equal(t, "send the notes", u.Text)

	_, ok = s.NextUtterance()
	assert.False(t, ok, "poll must report nothing ready instead of blocking")
}

func TestDeepgramStream_SendWritesToSession(t *testing.T) {
	s, d := newTestStream(t)
	require.NoError(t, s.Open(context.Background()))

	require.NoError(t, s.Send([]byte{1, 2, 3, 4}))
	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Len(t, d.conns[0].written, 1)
}

func TestDeepgramStream_ReconnectsAfterDrop(t *testing.T) {
	s, d := newTestStream(t)
	require.NoError(t, s.Open(context.Background()))

	require.NoError(t, d.callback(0).Error(&msginterfaces.ErrorResponse{}))

	assert.Eventually(t, func() bool { return d.dials() == 2 && s.IsOpen() }, time.Second, 5*time.Millisecond)
	assert.NoError(t, s.Send([]byte{0, 0}))
}

func TestDeepgramStream_ReconnectFinishesDroppedSocket(t *testing.T) {
	s, d := newTestStream(t)
	require.NoError(t, s.Open(context.Background()))

	require.NoError(t, d.callback(0).Error(&msginterfaces.ErrorResponse{}))
	require.Eventually(t, func() bool { return d.dials() == 2 && s.IsOpen() }, time.Second, 5*time.Millisecond)

	assert.Eventually(t, d.conn(0).isFinished, time.Second, 5*time.Millisecond, "replaced socket is finished")
	assert.False(t, d.conn(1).isFinished())

	// late events from the replaced socket leave the new session alone
	require.NoError(t, d.callback(0).Close(&msginterfaces.CloseResponse{}))
	require.NoError(t, d.callback(0).Error(&msginterfaces.ErrorResponse{}))
	assert.True(t, s.IsOpen())
	require.NoError(t, s.Send([]byte{0, 0}))
	assert.Never(t, func() bool { return d.dials() > 2 }, 50*time.Millisecond, 5*time.Millisecond)

	// the current socket still triggers a reconnect
	require.NoError(t, d.callback(1).Close(&msginterfaces.CloseResponse{}))
	assert.Eventually(t, func() bool { return d.dials() == 3 && s.IsOpen() }, time.Second, 5*time.Millisecond)
}

func TestDeepgramStream_SendWhileLostIsRetryable(t *testing.T) {
	s, d := newTestStream(t)
	require.NoError(t, s.Open(context.Background()))

	d.mu.Lock()
	d.conns[0].writeErr = errors.New("broken pipe")
	d.mu.Unlock()

	err := s.Send([]byte{0, 0})
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.Eventually(t, func() bool { return d.dials() == 2 && s.IsOpen() }, time.Second, 5*time.Millisecond)
}

func TestDeepgramStream_FailedConnectIsRetried(t *testing.T) {
	s, d := newTestStream(t)
	calls := 0
	d.next = func() *fakeConn {
		calls++
		return &fakeConn{connectOK: calls > 1}
	}

	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, 2, d.dials())
}

func TestDeepgramStream_CloseIsIdempotent(t *testing.T) {
	s, d := newTestStream(t)

	// never opened
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 0, d.dials())
	assert.ErrorIs(t, s.Send([]byte{0, 0}), ErrClosed)
}

func TestDeepgramStream_CloseFinishesSession(t *testing.T) {
	s, d := newTestStream(t)
	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.Close())

	d.mu.Lock()
	assert.True(t, d.conns[0].finished)
	d.mu.Unlock()

	// late events from the socket are ignored after close
	require.NoError(t, d.callback(0).Close(&msginterfaces.CloseResponse{}))
	assert.Equal(t, 1, d.dials())
}
