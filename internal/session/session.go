package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/meeting-agent/internal/contacts"
	"github.com/lexiqai/meeting-agent/internal/intent"
	"github.com/lexiqai/meeting-agent/internal/observability"
	"github.com/lexiqai/meeting-agent/internal/stt"
	"github.com/lexiqai/meeting-agent/internal/tts"
	"github.com/lexiqai/meeting-agent/internal/wake"
)

// ErrClosed is returned by Feed after Close
var ErrClosed = errors.New("session is closed")

// Report is what a finished session hands to its Finalizer
type Report struct {
	SessionID    string
	MeetingID    string
	Participants []string
	StartedAt    time.Time
	EndedAt      time.Time

	// Transcript is frozen
	Transcript *wake.Transcript
}

// Finalizer runs once after teardown, typically the summary email and archive
type Finalizer interface {
	Finalize(ctx context.Context, r Report) error
}

// FinalizerFunc adapts a function to Finalizer
type FinalizerFunc func(ctx context.Context, r Report) error

// Finalize implements Finalizer
func (f FinalizerFunc) Finalize(ctx context.Context, r Report) error {
	return f(ctx, r)
}

// Config describes one session
type Config struct {
	ID           string
	MeetingID    string
	Participants []string
	Contacts     *contacts.Book

	WakePhrases      []string
	TranscriptWindow int

	PollInterval    time.Duration
	EchoWindow      time.Duration
	ClassifyTimeout time.Duration
	ActionTimeout   time.Duration

	// ActiveTimeout returns an addressed session to listening when no command
	// follows; zero disables it
	ActiveTimeout time.Duration

	// TaskTimeout bounds how long Close waits for background actions
	TaskTimeout time.Duration
}

// Deps are the collaborators of a session
type Deps struct {
	Stream     stt.TranscriptStream
	Classifier intent.Classifier
	Dispatcher Dispatcher
	Speaker    tts.Speaker
	Finalizer  Finalizer // optional
	Metrics    *observability.Metrics
	Logger     zerolog.Logger
}

// Session is one live meeting
type Session struct {
	cfg  Config
	deps Deps

	machine *wake.Machine
	coord   *Coordinator
	tasks   *TaskRegistry
	logger  zerolog.Logger

	cancelActions context.CancelFunc
	cancelLoop    context.CancelFunc
	loopDone      chan struct{}
	startedAt     time.Time

	mu      sync.RWMutex
	started bool
	closed  bool

	closeOnce sync.Once
	closeErr  error
}

// New validates the configuration and builds an unstarted session
func New(cfg Config, deps Deps) (*Session, error) {
	if cfg.ID == "" {
		return nil, errors.New("session id is required")
	}
	if deps.Stream == nil || deps.Classifier == nil || deps.Dispatcher == nil || deps.Speaker == nil {
		return nil, errors.New("session needs a stream, classifier, dispatcher and speaker")
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewSessionMetrics(cfg.ID)
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}

	machine, err := wake.NewMachine(cfg.WakePhrases, cfg.TranscriptWindow)
	if err != nil {
		return nil, err
	}

	actionCtx, cancelActions := context.WithCancel(context.Background())
	tasks := NewTaskRegistry()
	coord := NewCoordinator(CoordinatorConfig{
		SessionID:       cfg.ID,
		Participants:    cfg.Participants,
		Contacts:        cfg.Contacts,
		PollInterval:    cfg.PollInterval,
		EchoWindow:      cfg.EchoWindow,
		ClassifyTimeout: cfg.ClassifyTimeout,
		ActionTimeout:   cfg.ActionTimeout,
		ActiveTimeout:   cfg.ActiveTimeout,
	}, deps.Stream, machine, deps.Classifier, deps.Dispatcher, deps.Speaker, tasks, actionCtx, deps.Metrics, deps.Logger)

	return &Session{
		cfg:           cfg,
		deps:          deps,
		machine:       machine,
		coord:         coord,
		tasks:         tasks,
		logger:        deps.Logger.With().Str("component", "session").Logger(),
		cancelActions: cancelActions,
		loopDone:      make(chan struct{}),
	}, nil
}

// ID returns the session id
func (s *Session) ID() string {
	return s.cfg.ID
}

// Start launches the coordinator loop
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return errors.New("session already started")
	}
	s.started = true
	s.startedAt = time.Now()

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancelLoop = cancel
	s.deps.Metrics.RecordSessionStart()

	go func() {
		defer close(s.loopDone)
		if err := s.coord.Run(loopCtx); err != nil {
			s.logger.Error().Err(err).Msg("Coordinator stopped with error")
		}
	}()

	s.logger.Info().Str("meeting_id", s.cfg.MeetingID).Int("participants", len(s.cfg.Participants)).Msg("Session started")
	return nil
}

// Feed forwards an audio chunk. Chunks sent while the transcription session
// is reconnecting are dropped.
func (s *Session) Feed(chunk []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	err := s.deps.Stream.Send(chunk)
	switch {
	case err == nil:
		s.deps.Metrics.RecordAudioBytes("in", int64(len(chunk)))
		return nil
	case errors.Is(err, stt.ErrConnectionLost):
		return nil
	default:
		return err
	}
}

// Phase returns the coordinator phase
func (s *Session) Phase() Phase {
	return s.coord.Phase()
}

// InFlight returns the number of background actions still running
func (s *Session) InFlight() int {
	return s.tasks.Len()
}

// Transcript returns the session transcript
func (s *Session) Transcript() *wake.Transcript {
	return s.machine.Transcript()
}

// Close tears the session down: stop feeding, stop the loop, wait for
// background actions, close the stream, freeze the transcript and finalize.
// It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close(ctx)
	})
	return s.closeErr
}

func (s *Session) close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	started := s.started
	s.mu.Unlock()

	if started {
		s.cancelLoop()
		<-s.loopDone
	}

	var errs []error

	drainCtx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
	err := s.tasks.Drain(drainCtx)
	cancel()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Cancelling background actions that outlived the teardown timeout")
		s.cancelActions()
		graceCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.tasks.Drain(graceCtx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	s.cancelActions()

	if err := s.deps.Stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transcript stream: %w", err))
	}

	transcript := s.machine.Transcript()
	transcript.Freeze()

	if started {
		s.deps.Metrics.RecordSessionEnd()
	}

	if s.deps.Finalizer != nil && transcript.Len() > 0 {
		report := Report{
			SessionID:    s.cfg.ID,
			MeetingID:    s.cfg.MeetingID,
			Participants: s.cfg.Participants,
			StartedAt:    s.startedAt,
			EndedAt:      time.Now(),
			Transcript:   transcript,
		}
		if err := s.deps.Finalizer.Finalize(ctx, report); err != nil {
			errs = append(errs, fmt.Errorf("finalize session: %w", err))
		}
	}

	s.logger.Info().Int("transcript_lines", transcript.Len()).Msg("Session closed")
	return errors.Join(errs...)
}
