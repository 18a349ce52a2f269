// Package action routes classified requests to the handler registered for
// their kind.
package action

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/meeting-agent/internal/intent"
)

// ErrNoHandler is returned when no handler is registered for a kind
var ErrNoHandler = errors.New("no handler registered for action")

// Request is everything a handler gets. It is a copy owned by the handler.
type Request struct {
	ID        string
	SessionID string

	// Text is the utterance that was classified
	Text    string
	Payload intent.Payload

	// Transcript is the rendered conversation at dispatch time
	Transcript   string
	Participants []string
}

// Result is the outcome of one execution
type Result struct {
	Success bool

	// Speech is an optional answer to speak back (search, catch-up)
	Speech string

	Err error
}

// Handler executes one kind of action
type Handler interface {
	Execute(ctx context.Context, req Request) Result
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, req Request) Result

// Execute implements Handler
func (f HandlerFunc) Execute(ctx context.Context, req Request) Result {
	return f(ctx, req)
}

// Failed builds a failure result
func Failed(err error) Result {
	return Result{Err: err}
}

// Dispatcher maps kinds to handlers. Registration happens at startup; Dispatch
// is safe for concurrent use. Failures are reported once and never retried.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[intent.ActionKind]Handler
	logger   zerolog.Logger
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[intent.ActionKind]Handler),
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Register binds a handler to a kind, replacing any previous one
func (d *Dispatcher) Register(kind intent.ActionKind, h Handler) error {
	if !kind.Actionable() {
		return fmt.Errorf("kind %s is not actionable", kind)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %s", kind)
	}

	d.mu.Lock()
	d.handlers[kind] = h
	d.mu.Unlock()
	return nil
}

// Kinds returns the kinds that have a handler
func (d *Dispatcher) Kinds() []intent.ActionKind {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []intent.ActionKind
	for _, k := range intent.ActionableKinds() {
		if _, ok := d.handlers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Dispatch runs the handler for the payload's kind exactly once. A panicking
// handler is reported as a failure.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (res Result) {
	if req.Payload == nil {
		return Failed(errors.New("action has no payload"))
	}
	kind := req.Payload.Kind()

	d.mu.RLock()
	h, ok := d.handlers[kind]
	d.mu.RUnlock()
	if !ok {
		return Failed(fmt.Errorf("%w: %s", ErrNoHandler, kind))
	}

	logger := d.logger.With().Str("action_id", req.ID).Str("action", kind.String()).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Action handler panicked")
			res = Failed(fmt.Errorf("%s handler panicked: %v", kind, r))
		}
	}()

	res = h.Execute(ctx, req)
	if res.Success {
		res.Err = nil
		logger.Info().Msg("Action completed")
	} else {
		if res.Err == nil {
			res.Err = fmt.Errorf("%s action failed", kind)
		}
		logger.Warn().Err(res.Err).Msg("Action failed")
	}
	return res
}
