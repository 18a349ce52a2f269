// Package session runs one meeting: the listen, classify and respond loop, its
// background actions and the teardown that hands the transcript to the report.
package session

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/meeting-agent/internal/action"
	"github.com/lexiqai/meeting-agent/internal/contacts"
	"github.com/lexiqai/meeting-agent/internal/intent"
	"github.com/lexiqai/meeting-agent/internal/observability"
	"github.com/lexiqai/meeting-agent/internal/stt"
	"github.com/lexiqai/meeting-agent/internal/tts"
	"github.com/lexiqai/meeting-agent/internal/wake"
)

// Phase is the coordinator state visible from outside the loop
type Phase int32

const (
	PhaseListening Phase = iota
	PhaseActiveIdle
	PhaseClassifying
	PhaseResponding
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseListening:
		return "listening"
	case PhaseActiveIdle:
		return "active_idle"
	case PhaseClassifying:
		return "classifying"
	case PhaseResponding:
		return "responding"
	default:
		return "stopped"
	}
}

// Busy reports whether the phase holds the single-flight gate
func (p Phase) Busy() bool {
	return p == PhaseClassifying || p == PhaseResponding
}

// Dispatcher executes a classified action exactly once
type Dispatcher interface {
	Dispatch(ctx context.Context, req action.Request) action.Result
}

// CoordinatorConfig holds the loop tunables
type CoordinatorConfig struct {
	SessionID    string
	Participants []string
	Contacts     *contacts.Book

	PollInterval    time.Duration
	EchoWindow      time.Duration
	ClassifyTimeout time.Duration
	ActionTimeout   time.Duration
	ActiveTimeout   time.Duration
}

func (c *CoordinatorConfig) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.EchoWindow < 0 {
		c.EchoWindow = 0
	}
	if c.ClassifyTimeout <= 0 {
		c.ClassifyTimeout = 15 * time.Second
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 2 * time.Minute
	}
	if c.ActiveTimeout < 0 {
		c.ActiveTimeout = 0
	}
}

type completion struct {
	id     string
	kind   intent.ActionKind
	result action.Result
}

// Coordinator is the single loop that owns the wake machine, the dispatch
// gate and the echo bookkeeping. Classification and speech run inline, so an
// utterance received while a turn is in progress is dropped by comparing its
// receipt time with the end of the turn. Actions run in the task registry and
// report back on a channel.
type Coordinator struct {
	cfg        CoordinatorConfig
	stream     stt.TranscriptStream
	wake       *wake.Machine
	classifier intent.Classifier
	dispatcher Dispatcher
	speaker    tts.Speaker
	tasks      *TaskRegistry
	metrics    *observability.Metrics
	logger     zerolog.Logger
	now        func() time.Time

	// actionCtx outlives the loop; teardown cancels it only after draining
	actionCtx   context.Context
	completions chan completion

	phase   atomic.Int32
	running atomic.Bool

	// loop owned
	lastProcessed string
	pending       string
	busyUntil     time.Time
	lastAddressed time.Time
	speechStart   time.Time
	suppressUntil time.Time
	followUps     []string
}

// NewCoordinator wires a coordinator. actionCtx bounds background actions.
func NewCoordinator(
	cfg CoordinatorConfig,
	stream stt.TranscriptStream,
	machine *wake.Machine,
	classifier intent.Classifier,
	dispatcher Dispatcher,
	speaker tts.Speaker,
	tasks *TaskRegistry,
	actionCtx context.Context,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Coordinator {
	cfg.defaults()
	return &Coordinator{
		cfg:         cfg,
		stream:      stream,
		wake:        machine,
		classifier:  classifier,
		dispatcher:  dispatcher,
		speaker:     speaker,
		tasks:       tasks,
		metrics:     metrics,
		logger:      logger.With().Str("component", "coordinator").Logger(),
		now:         time.Now,
		actionCtx:   actionCtx,
		completions: make(chan completion, 64),
	}
}

// Phase returns the current phase; safe from any goroutine
func (c *Coordinator) Phase() Phase {
	return Phase(c.phase.Load())
}

func (c *Coordinator) setPhase(p Phase) {
	c.phase.Store(int32(p))
}

// idlePhase derives the resting phase from the wake state
func (c *Coordinator) idlePhase() Phase {
	if c.wake.State() == wake.Active {
		return PhaseActiveIdle
	}
	return PhaseListening
}

// Run polls the transcript stream until ctx is done. It must be called once.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("coordinator already running")
	}
	defer c.setPhase(PhaseStopped)

	c.setPhase(c.idlePhase())
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case done := <-c.completions:
			c.onCompletion(done)
		case <-ticker.C:
		}

		for ctx.Err() == nil {
			u, ok := c.stream.NextUtterance()
			if !ok {
				break
			}
			c.handleUtterance(ctx, u)
		}

		c.collectCompletions()
		c.speakFollowUps(ctx)
		c.expireActive()
	}
}

func (c *Coordinator) handleUtterance(ctx context.Context, u stt.Utterance) {
	if !u.IsFinal || strings.TrimSpace(u.Text) == "" {
		return
	}
	at := u.Timestamp
	if at.IsZero() {
		at = c.now()
	}

	// Echo never reaches the wake machine or the transcript
	if last, ok := c.wake.LastAssistant(); ok && wake.IsEcho(u.Text, last) {
		c.metrics.RecordUtterance(observability.UtteranceEcho)
		c.logger.Debug().Str("text", u.Text).Msg("Discarded echo of assistant speech")
		return
	}
	// Speech during playback is kept for the summary but never acted on
	if !c.speechStart.IsZero() && !at.Before(c.speechStart) && at.Before(c.suppressUntil) {
		c.wake.Record(u)
		c.metrics.RecordUtterance(observability.UtteranceSuppressed)
		c.logger.Debug().Str("text", u.Text).Msg("Suppressed utterance during playback")
		return
	}

	obs := c.wake.Observe(u)
	if obs.Triggered {
		c.lastAddressed = at
		c.metrics.RecordWake()
		c.logger.Info().Msg("Wake phrase detected")
	}
	if obs.Text == "" {
		c.metrics.RecordUtterance(observability.UtteranceNotAddressed)
		c.setPhase(c.idlePhase())
		return
	}

	normalized := wake.Normalize(obs.Text)
	if normalized == "" || normalized == c.lastProcessed {
		c.metrics.RecordUtterance(observability.UtteranceDuplicate)
		return
	}

	if at.Before(c.busyUntil) {
		c.metrics.RecordUtterance(observability.UtteranceDroppedBusy)
		c.logger.Debug().Str("text", obs.Text).Msg("Dropped utterance received while busy")
		return
	}

	c.metrics.RecordUtterance(observability.UtteranceClassified)
	c.lastProcessed = normalized
	c.turn(ctx, obs.Text)
}

// turn is one classify and respond cycle. The gate is always released.
func (c *Coordinator) turn(ctx context.Context, text string) {
	c.setPhase(PhaseClassifying)
	defer func() {
		c.busyUntil = c.now()
		c.lastAddressed = c.busyUntil
		c.setPhase(c.idlePhase())
	}()

	req := intent.Request{
		Text:         text,
		Pending:      c.pending,
		Transcript:   c.wake.Transcript().Text(),
		Participants: c.cfg.Participants,
		Contacts:     c.cfg.Contacts,
		Now:          c.now(),
	}

	c.metrics.RecordClassifyStart()
	classifyCtx, cancel := context.WithTimeout(ctx, c.cfg.ClassifyTimeout)
	res, err := c.classifier.Classify(classifyCtx, req)
	cancel()
	if err != nil {
		label := "error"
		if errors.Is(err, intent.ErrMalformed) {
			label = "malformed"
		}
		c.metrics.RecordClassifyEnd(label)
		c.metrics.RecordError(label, "classifier")
		c.logger.Warn().Err(err).Msg("Classification failed, treating as no action")
		return
	}
	c.metrics.RecordClassifyEnd(res.Outcome().String())

	logger := c.logger.With().Str("action", res.Kind.String()).Logger()

	switch res.Outcome() {
	case intent.OutcomeNoAction:
		logger.Debug().Msg("No action requested")

	case intent.OutcomeNeedsInfo:
		if c.pending == "" {
			c.pending = text
		} else {
			c.pending = c.pending + " " + text
		}
		logger.Info().Str("question", res.Response).Msg("Asking for more information")
		c.speak(ctx, res.Response)

	case intent.OutcomeAction:
		pending := c.pending
		c.pending = ""
		if pending != "" {
			text = pending + " " + text
		}
		c.spawn(text, res, req.Transcript)
		c.speak(ctx, res.Response)
		c.wake.Reset()
	}
}

// expireActive drops an addressed session with no command back to listening.
// A pending question is abandoned with it.
func (c *Coordinator) expireActive() {
	if c.cfg.ActiveTimeout <= 0 || c.wake.State() != wake.Active {
		return
	}
	if c.now().Sub(c.lastAddressed) < c.cfg.ActiveTimeout {
		return
	}
	c.wake.Reset()
	c.pending = ""
	c.setPhase(PhaseListening)
	c.logger.Info().Dur("timeout", c.cfg.ActiveTimeout).Msg("No command after wake phrase, listening again")
}

func (c *Coordinator) spawn(text string, res intent.Result, transcript string) {
	kind := res.Kind
	req := action.Request{
		SessionID:    c.cfg.SessionID,
		Text:         text,
		Payload:      res.Payload,
		Transcript:   transcript,
		Participants: append([]string(nil), c.cfg.Participants...),
	}

	id, err := c.tasks.Spawn(kind, func(id string) {
		req.ID = id
		ctx, cancel := context.WithTimeout(c.actionCtx, c.cfg.ActionTimeout)
		defer cancel()

		start := time.Now()
		result := c.dispatcher.Dispatch(ctx, req)
		c.metrics.RecordActionEnd(kind.String(), result.Success, time.Since(start))

		select {
		case c.completions <- completion{id: id, kind: kind, result: result}:
		default:
			c.logger.Warn().Str("action_id", id).Msg("Completion channel full, dropping follow-up")
		}
	})
	if err != nil {
		c.logger.Error().Err(err).Str("action", kind.String()).Msg("Failed to start action")
		return
	}
	c.metrics.RecordActionStart()
	c.logger.Info().Str("action_id", id).Str("action", kind.String()).Msg("Action dispatched")
}

// speak blocks for playback and records the line for echo detection
func (c *Coordinator) speak(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" || ctx.Err() != nil {
		return
	}

	c.setPhase(PhaseResponding)
	c.speechStart = c.now()
	err := c.speaker.Speak(ctx, text)
	c.wake.MarkAssistantSpeech(text)
	c.suppressUntil = c.now().Add(c.cfg.EchoWindow)

	if err != nil && ctx.Err() == nil {
		c.metrics.RecordError("tts", "speaker")
		c.logger.Error().Err(err).Msg("Failed to speak response")
	}
}

func (c *Coordinator) collectCompletions() {
	for {
		select {
		case done := <-c.completions:
			c.onCompletion(done)
		default:
			return
		}
	}
}

func (c *Coordinator) onCompletion(done completion) {
	switch {
	case !done.result.Success:
		c.followUps = append(c.followUps, failureMessage(done.kind))
	case done.result.Speech != "":
		c.followUps = append(c.followUps, done.result.Speech)
	}
}

// speakFollowUps speaks queued action output as its own turn
func (c *Coordinator) speakFollowUps(ctx context.Context) {
	if len(c.followUps) == 0 || ctx.Err() != nil {
		return
	}
	text := strings.Join(c.followUps, " ")
	c.followUps = c.followUps[:0]

	defer func() {
		c.busyUntil = c.now()
		c.setPhase(c.idlePhase())
	}()
	c.speak(ctx, text)
}

func failureMessage(kind intent.ActionKind) string {
	switch kind {
	case intent.KindEmail:
		return "Sorry, I couldn't send that email."
	case intent.KindCalendarEvent:
		return "Sorry, I couldn't create that calendar event."
	case intent.KindNote:
		return "Sorry, I couldn't save that note."
	case intent.KindTask:
		return "Sorry, I couldn't create that task."
	case intent.KindWebSearch:
		return "Sorry, I couldn't find that information."
	case intent.KindOrder:
		return "Sorry, I couldn't place that order."
	case intent.KindCatchUp:
		return "Sorry, I couldn't put together a recap."
	default:
		return "Sorry, something went wrong with that."
	}
}
