// Package ingress accepts meeting audio over a websocket and plays the
// assistant's voice back on the same connection.
package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/meeting-agent/internal/audio"
	"github.com/lexiqai/meeting-agent/internal/observability"
	"github.com/lexiqai/meeting-agent/internal/session"
	"github.com/lexiqai/meeting-agent/internal/tts"
)

// Path is the route the handler is mounted on
const Path = "/v1/meetings/stream"

// Meeting is what the factory needs to build a session
type Meeting struct {
	SessionID    string
	MeetingID    string
	Participants []string
	Metrics      *observability.Metrics
	Logger       zerolog.Logger
}

// Session is the part of session.Session the handler drives
type Session interface {
	Start(ctx context.Context) error
	Feed(chunk []byte) error
	Close(ctx context.Context) error
}

// Factory builds a session whose assistant talks through speaker
type Factory interface {
	NewSession(ctx context.Context, m Meeting, speaker tts.Speaker) (Session, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(ctx context.Context, m Meeting, speaker tts.Speaker) (Session, error)

// NewSession implements Factory
func (f FactoryFunc) NewSession(ctx context.Context, m Meeting, speaker tts.Speaker) (Session, error) {
	return f(ctx, m, speaker)
}

// Config describes the audio the transcription side expects
type Config struct {
	// Format is the server side audio format; clients are resampled to it
	Format audio.Format

	// ChunkSize is the number of bytes per chunk fed to transcription
	ChunkSize int

	// CloseTimeout bounds session teardown including the report
	CloseTimeout time.Duration

	// ReadLimit caps a single websocket message
	ReadLimit int64

	// CheckOrigin overrides the upgrader origin check; all origins when nil
	CheckOrigin func(r *http.Request) bool
}

// Handler serves the meeting stream endpoint
type Handler struct {
	cfg      Config
	synth    tts.Synthesizer
	factory  Factory
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[*connection]struct{}
	closing bool
	wg      sync.WaitGroup
}

func NewHandler(cfg Config, synth tts.Synthesizer, factory Factory, logger zerolog.Logger) *Handler {
	if cfg.Format.SampleRate <= 0 {
		cfg.Format.SampleRate = 16000
	}
	if cfg.Format.Channels <= 0 {
		cfg.Format.Channels = 1
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = cfg.Format.BytesPerSecond() / 10
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 2 * time.Minute
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Handler{
		cfg:     cfg,
		synth:   synth,
		factory: factory,
		logger:  logger.With().Str("component", "ingress").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		conns: make(map[*connection]struct{}),
	}
}

// Active returns the number of open connections
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// ServeHTTP upgrades the request and runs the connection until the client
// stops or disconnects
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	ws.SetReadLimit(h.cfg.ReadLimit)

	conn := newConnection(ws)
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()
	}()

	h.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Meeting stream connected")
	h.serve(context.WithoutCancel(r.Context()), conn)
}

// Shutdown refuses new connections, disconnects the open ones and waits for
// their sessions to finish tearing down
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	conns := make([]*connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("meeting streams still closing: %w", ctx.Err())
	}
}

// stream is one started meeting on a connection
type stream struct {
	id         string
	session    Session
	framer     *audio.Framer
	encoding   string
	clientRate int
	serverRate int
	logger     zerolog.Logger
}

func (s *stream) feed(data []byte) error {
	pcm := data
	var err error
	if s.encoding == EncodingFloat32 {
		if pcm, err = audio.Float32ToPCM16(pcm); err != nil {
			return err
		}
	}
	if s.clientRate != s.serverRate {
		if pcm, err = audio.ResamplePCM16(pcm, s.clientRate, s.serverRate); err != nil {
			return err
		}
	}

	for _, chunk := range s.framer.Write(pcm) {
		if err := s.session.Feed(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) serve(ctx context.Context, conn *connection) {
	var st *stream
	defer func() {
		if st != nil {
			h.stop(conn, st)
		}
		conn.close(websocket.CloseNormalClosure, "")
	}()

	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			var msg ControlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				h.sendError(conn, fmt.Errorf("invalid control message: %w", err))
				continue
			}

			switch msg.Type {
			case EventStart:
				if st != nil {
					h.sendError(conn, errors.New("meeting already started"))
					continue
				}
				st, err = h.start(ctx, conn, msg)
				if err != nil {
					h.logger.Error().Err(err).Msg("Failed to start meeting session")
					h.sendError(conn, err)
				}

			case EventStop:
				if st == nil {
					h.sendError(conn, errors.New("no meeting in progress"))
					continue
				}
				h.stop(conn, st)
				st = nil
				return

			default:
				h.sendError(conn, fmt.Errorf("unknown event %q", msg.Type))
			}

		case websocket.BinaryMessage:
			if st == nil {
				h.logger.Debug().Int("bytes", len(data)).Msg("Dropping audio received before start")
				continue
			}
			if err := st.feed(data); err != nil {
				if errors.Is(err, session.ErrClosed) {
					return
				}
				st.logger.Warn().Err(err).Msg("Failed to feed audio")
			}
		}
	}
}

func (h *Handler) start(ctx context.Context, conn *connection, msg ControlMessage) (*stream, error) {
	encoding := strings.ToLower(strings.TrimSpace(msg.Encoding))
	if encoding == "" {
		encoding = EncodingPCM16
	}
	if encoding != EncodingPCM16 && encoding != EncodingFloat32 {
		return nil, fmt.Errorf("unsupported encoding %q", msg.Encoding)
	}
	clientRate := msg.SampleRate
	if clientRate == 0 {
		clientRate = h.cfg.Format.SampleRate
	}
	if clientRate < 0 {
		return nil, fmt.Errorf("invalid sample rate %d", msg.SampleRate)
	}

	id := uuid.NewString()
	metrics := observability.NewSessionMetrics(id)
	logger := observability.SessionLogger(id, msg.MeetingID)

	player := newSocketPlayer(conn, audio.Format{SampleRate: clientRate, Channels: 1})
	speaker := &announcer{speaker: tts.NewVoice(h.synth, player, metrics, logger), conn: conn}

	sess, err := h.factory.NewSession(ctx, Meeting{
		SessionID:    id,
		MeetingID:    msg.MeetingID,
		Participants: msg.Participants,
		Metrics:      metrics,
		Logger:       logger,
	}, speaker)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := sess.Start(ctx); err != nil {
		_ = sess.Close(ctx)
		return nil, fmt.Errorf("start session: %w", err)
	}

	st := &stream{
		id:         id,
		session:    sess,
		framer:     audio.NewFramer(h.cfg.ChunkSize),
		encoding:   encoding,
		clientRate: clientRate,
		serverRate: h.cfg.Format.SampleRate,
		logger:     logger,
	}
	_ = conn.writeEvent(ServerEvent{Type: EventStarted, SessionID: id})
	logger.Info().Str("encoding", encoding).Int("sample_rate", clientRate).Msg("Meeting started")
	return st, nil
}

// stop feeds the buffered remainder and tears the session down. Teardown
// outlives the connection so the report still goes out after a disconnect.
func (h *Handler) stop(conn *connection, st *stream) {
	if rest := st.framer.Flush(); len(rest) > 0 {
		_ = st.session.Feed(rest)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.CloseTimeout)
	defer cancel()
	if err := st.session.Close(ctx); err != nil {
		st.logger.Error().Err(err).Msg("Session teardown finished with errors")
	}

	_ = conn.writeEvent(ServerEvent{Type: EventStopped, SessionID: st.id})
	st.logger.Info().Msg("Meeting stopped")
}

func (h *Handler) sendError(conn *connection, err error) {
	_ = conn.writeEvent(ServerEvent{Type: EventError, Error: err.Error()})
}
