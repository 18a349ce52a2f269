package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/meeting-agent/internal/action"
	"github.com/lexiqai/meeting-agent/internal/intent"
	"github.com/lexiqai/meeting-agent/internal/llm"
)

const catchUpSystemPrompt = `You are a helpful assistant that creates extremely concise meeting summaries.
Focus only on the key decisions and major points that a colleague would care about.
Write like a human would message their coworker, casual but professional.
Limit your response to 2 sentences maximum.
Don't use phrases like "In this meeting" or "The discussion covered", just get straight to the point.`

// CatchUpHandler summarizes the conversation so far
type CatchUpHandler struct {
	completer llm.Completer
	logger    zerolog.Logger
}

// NewCatchUpHandler creates a catch-up handler
func NewCatchUpHandler(completer llm.Completer, logger zerolog.Logger) *CatchUpHandler {
	return &CatchUpHandler{completer: completer, logger: logger.With().Str("handler", "catch_up").Logger()}
}

// Execute implements action.Handler; the recap is returned as speech
func (h *CatchUpHandler) Execute(ctx context.Context, req action.Request) action.Result {
	if _, ok := req.Payload.(intent.CatchUpDetails); !ok {
		return action.Failed(unexpectedPayload(req.Payload))
	}
	if strings.TrimSpace(req.Transcript) == "" {
		return action.Failed(errors.New("nothing to catch up on yet"))
	}

	recap, err := h.completer.Complete(ctx, llm.Request{
		System:    catchUpSystemPrompt,
		Prompt:    req.Transcript,
		MaxTokens: 200,
	})
	if err != nil {
		return action.Failed(fmt.Errorf("catch up: %w", err))
	}
	return action.Result{Success: true, Speech: recap}
}
