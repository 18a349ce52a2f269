package intent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/meeting-agent/internal/llm"
)

const classifyMaxTokens = 512

// LLMClassifier asks a completion model for a JSON decision
type LLMClassifier struct {
	completer llm.Completer
	logger    zerolog.Logger
}

// NewLLMClassifier creates a classifier over any completer
func NewLLMClassifier(completer llm.Completer, logger zerolog.Logger) *LLMClassifier {
	return &LLMClassifier{
		completer: completer,
		logger:    logger.With().Str("component", "intent").Logger(),
	}
}

// Classify implements Classifier
func (c *LLMClassifier) Classify(ctx context.Context, req Request) (Result, error) {
	if req.Now.IsZero() {
		req.Now = time.Now()
	}

	raw, err := c.completer.Complete(ctx, llm.Request{
		System:    buildSystemPrompt(req),
		Prompt:    buildUserPrompt(req),
		JSON:      true,
		MaxTokens: classifyMaxTokens,
	})
	if err != nil {
		return Result{Kind: KindUnknown}, fmt.Errorf("classify: %w", err)
	}

	res, err := Parse(raw, ParseOptions{Contacts: req.Contacts, Location: req.Now.Location()})
	if err != nil {
		c.logger.Warn().Err(err).Msg("Discarding malformed classification")
		return res, err
	}

	c.logger.Debug().
		Str("action", res.Kind.String()).
		Bool("needs_more_info", res.NeedsMoreInfo).
		Msg("Classified request")
	return res, nil
}
