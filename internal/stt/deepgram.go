package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/meeting-agent/internal/observability"
	"github.com/lexiqai/meeting-agent/internal/resilience"
)

const utteranceQueueSize = 100

// DeepgramConfig configures a live transcription session
type DeepgramConfig struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
	Channels   int

	Reconnect *resilience.ReconnectConfig
	Breaker   *resilience.CircuitBreaker
}

// liveConn is the part of the Deepgram websocket client the stream uses
type liveConn interface {
	Connect() bool
	Write(p []byte) (int, error)
	Finish()
}

type dialFunc func(ctx context.Context, cb msginterfaces.LiveMessageCallback) (liveConn, error)

// messageCallbackHandler embeds the SDK default handler and overrides the
// events the stream reacts to. gen ties it to the socket it was dialed for.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	stream *DeepgramStream
	gen    uint64
}

// Message delivers transcription results
func (m *messageCallbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	m.stream.handleMessage(msg)
	return nil
}

// Error marks the session lost and starts a reconnect
func (m *messageCallbackHandler) Error(er *msginterfaces.ErrorResponse) error {
	m.stream.connectionLost(m.gen, fmt.Errorf("deepgram error: %+v", er))
	return nil
}

// Close fires when the server or network closes the socket
func (m *messageCallbackHandler) Close(cr *msginterfaces.CloseResponse) error {
	m.stream.connectionLost(m.gen, errors.New("deepgram socket closed"))
	return nil
}

// DeepgramStream implements TranscriptStream over Deepgram's live API
type DeepgramStream struct {
	cfg    DeepgramConfig
	logger zerolog.Logger
	dial   dialFunc
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	conn         liveConn
	gen          uint64 // generation of conn
	dialed       uint64 // last generation handed to a dial
	open         bool
	closed       bool
	reconnecting bool
	queue        []Utterance
	reconnectWG  sync.WaitGroup
}

// NewDeepgramStream validates the configuration and prepares a stream. Call Open to connect.
func NewDeepgramStream(cfg DeepgramConfig, logger zerolog.Logger) (*DeepgramStream, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("deepgram: %w", ErrMissingCredential)
	}
	if cfg.Reconnect == nil {
		cfg.Reconnect = resilience.DefaultReconnectConfig()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker("deepgram", 5, 30*time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &DeepgramStream{
		cfg:    cfg,
		logger: logger.With().Str("component", "stt").Logger(),
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		queue:  make([]Utterance, 0, utteranceQueueSize),
	}
	d.dial = d.dialDeepgram
	return d, nil
}

func (d *DeepgramStream) liveOptions() *interfaces.LiveTranscriptionOptions {
	return &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.Model,
		Language:       d.cfg.Language,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       d.cfg.Channels,
		SampleRate:     d.cfg.SampleRate,
	}
}

func (d *DeepgramStream) dialDeepgram(ctx context.Context, cb msginterfaces.LiveMessageCallback) (liveConn, error) {
	client, err := listenClient.NewWSUsingCallback(
		ctx,
		d.cfg.APIKey,
		&interfaces.ClientOptions{EnableKeepAlive: true},
		d.liveOptions(),
		cb,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	return client, nil
}

// Open connects the session, retrying transient failures
func (d *DeepgramStream) Open(ctx context.Context) error {
	return resilience.Reconnect(ctx, d.logger, d.cfg.Reconnect, d.connect)
}

// connect opens a fresh websocket session
func (d *DeepgramStream) connect(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.dialed++
	gen := d.dialed
	d.mu.Unlock()

	return d.cfg.Breaker.Call(func() error {
		cb := &messageCallbackHandler{
			DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
			stream:                 d,
			gen:                    gen,
		}
		conn, err := d.dial(d.ctx, cb)
		if err != nil {
			return err
		}
		if !conn.Connect() {
			conn.Finish()
			return errors.New("deepgram websocket connect failed")
		}

		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			conn.Finish()
			return ErrClosed
		}
		previous := d.conn
		d.conn = conn
		d.gen = gen
		d.open = true
		d.mu.Unlock()

		// The dropped socket's late events carry an old generation and are ignored
		if previous != nil {
			previous.Finish()
		}

		d.logger.Info().
			Str("model", d.cfg.Model).
			Str("language", d.cfg.Language).
			Int("sample_rate", d.cfg.SampleRate).
			Uint64("generation", gen).
			Msg("Deepgram streaming session opened")
		return nil
	})
}

// handleMessage turns committed results into queued utterances
func (d *DeepgramStream) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil || msg.Type != "Results" {
		return
	}
	if len(msg.Channel.Alternatives) == 0 {
		return
	}

	alt := msg.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return
	}
	if !msg.IsFinal {
		d.logger.Debug().Str("text", text).Msg("Interim transcription")
		return
	}

	u := Utterance{
		Text:       text,
		IsFinal:    true,
		Timestamp:  d.now(),
		Confidence: alt.Confidence,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) >= utteranceQueueSize {
		d.logger.Warn().Str("text", text).Msg("Utterance queue full, dropping transcription")
		return
	}
	d.queue = append(d.queue, u)
	d.logger.Debug().Str("text", text).Float64("confidence", alt.Confidence).Msg("Final transcription")
}

// connectionLost marks the session of generation gen closed and starts one
// background reconnect. Events from a replaced socket are ignored.
func (d *DeepgramStream) connectionLost(gen uint64, cause error) {
	d.mu.Lock()
	if d.closed || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.open = false
	if d.reconnecting {
		d.mu.Unlock()
		return
	}
	d.reconnecting = true
	d.reconnectWG.Add(1)
	d.mu.Unlock()

	d.logger.Warn().Err(cause).Msg("Transcription session lost, reconnecting")

	go func() {
		defer d.reconnectWG.Done()

		err := resilience.Reconnect(d.ctx, d.logger, d.cfg.Reconnect, d.connect)
		observability.RecordSTTReconnect(err == nil)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
			d.logger.Error().Err(err).Msg("Transcription session could not be re-established")
		}

		d.mu.Lock()
		d.reconnecting = false
		d.mu.Unlock()
	}()
}

// Send feeds a PCM chunk to the live session
func (d *DeepgramStream) Send(chunk []byte) error {
	d.mu.Lock()
	closed, open, conn, gen := d.closed, d.open, d.conn, d.gen
	d.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if !open || conn == nil {
		d.connectionLost(gen, ErrConnectionLost)
		return ErrConnectionLost
	}

	if _, err := conn.Write(chunk); err != nil {
		d.connectionLost(gen, err)
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

// NextUtterance pops the oldest committed utterance
func (d *DeepgramStream) NextUtterance() (Utterance, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queue) == 0 {
		return Utterance{}, false
	}
	u := d.queue[0]
	d.queue = d.queue[1:]
	return u, true
}

// Close finishes the session and stops reconnecting
func (d *DeepgramStream) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	conn := d.conn
	d.open = false
	d.mu.Unlock()

	d.cancel()
	if conn != nil {
		conn.Finish()
	}
	d.reconnectWG.Wait()

	d.logger.Info().Msg("Deepgram streaming session closed")
	return nil
}

// IsOpen reports whether audio can be sent right now
func (d *DeepgramStream) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}
