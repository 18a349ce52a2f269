// Package llm wraps text completion providers behind one small contract used
// by intent classification, catch-up answers and meeting summaries.
package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyCompletion is returned when the provider answered without any text
var ErrEmptyCompletion = errors.New("llm returned an empty completion")

// Request is one single-turn completion
type Request struct {
	System string
	Prompt string

	// JSON asks the provider for a JSON object response where supported
	JSON bool

	// MaxTokens caps the response length; zero uses the provider default
	MaxTokens int
}

// Completer returns the model's text for a request
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to Completer
type CompleterFunc func(ctx context.Context, req Request) (string, error)

// Complete implements Completer
func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

func cleanCompletion(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
