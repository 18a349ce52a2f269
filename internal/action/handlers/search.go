package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/meeting-agent/internal/action"
	"github.com/lexiqai/meeting-agent/internal/intent"
	"github.com/lexiqai/meeting-agent/internal/llm"
)

// PerplexityBaseURL is the OpenAI compatible Perplexity endpoint
const PerplexityBaseURL = "https://api.perplexity.ai"

const searchSystemPrompt = `You're a helpful assistant that can search the web for information. Answer the user's query concisely and directly in at most two sentences.
Do not include any markdown or formatting in your response. Only use plain text, it will be read aloud.`

// SearchHandler answers web_search requests with an online model
type SearchHandler struct {
	completer llm.Completer
	now       func() time.Time
	logger    zerolog.Logger
}

// NewSearchHandler creates a search handler
func NewSearchHandler(completer llm.Completer, logger zerolog.Logger) *SearchHandler {
	return &SearchHandler{completer: completer, now: time.Now, logger: logger.With().Str("handler", "search").Logger()}
}

// Execute implements action.Handler; the answer is returned as speech
func (h *SearchHandler) Execute(ctx context.Context, req action.Request) action.Result {
	d, ok := req.Payload.(intent.SearchDetails)
	if !ok {
		return action.Failed(unexpectedPayload(req.Payload))
	}

	answer, err := h.completer.Complete(ctx, llm.Request{
		System:    searchSystemPrompt,
		Prompt:    fmt.Sprintf("Current time: %s\n\n%s", h.now().UTC().Format("2006-01-02 15:04:05"), d.Query),
		MaxTokens: 300,
	})
	if err != nil {
		return action.Failed(fmt.Errorf("search: %w", err))
	}

	h.logger.Info().Str("query", d.Query).Msg("Search answered")
	return action.Result{Success: true, Speech: answer}
}
