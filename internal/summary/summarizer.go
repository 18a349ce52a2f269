// Package summary turns a finished meeting transcript into a digest, mails it
// and archives the session.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/meeting-agent/internal/llm"
)

const summaryPrompt = `You are a professional meeting summarizer. Given the meeting transcript, write a concise summary that focuses on:
- Specific decisions made
- Concrete action items and deadlines
- Key numbers or metrics discussed
- Important updates or changes
- Critical issues raised

Focus on precise details rather than broad themes. Be direct and specific.`

const actionItemsPrompt = `You are an action item extractor. From the meeting transcript, list the action items. Focus only on:
- Specific tasks that need to be completed
- Who is responsible for each task, if mentioned
- Deadlines or timeframes, if mentioned
- Concrete deliverables and follow-ups

Write each action item on its own line starting with "TODO:". If an owner or deadline is mentioned, include them in parentheses.
Do not include general discussion points, themes, past accomplishments or information sharing without an action.`

// Digest is the end-of-meeting report
type Digest struct {
	Summary     string
	ActionItems []string
}

// Body renders the digest as a plain text email body
func (d Digest) Body() string {
	var sb strings.Builder
	sb.WriteString("Summary\n\n")
	sb.WriteString(d.Summary)
	sb.WriteString("\n\nAction items\n\n")
	if len(d.ActionItems) == 0 {
		sb.WriteString("None recorded.\n")
	}
	for _, item := range d.ActionItems {
		sb.WriteString("- ")
		sb.WriteString(item)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Summarizer produces digests with an LLM
type Summarizer struct {
	completer llm.Completer
}

// NewSummarizer creates a summarizer backed by completer
func NewSummarizer(completer llm.Completer) *Summarizer {
	return &Summarizer{completer: completer}
}

// Summarize runs the summary and the action item extraction concurrently
func (s *Summarizer) Summarize(ctx context.Context, transcript string) (Digest, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return Digest{}, errors.New("transcript is empty")
	}

	var summary, items string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := s.completer.Complete(gctx, llm.Request{System: summaryPrompt, Prompt: "Meeting transcript:\n" + transcript})
		if err != nil {
			return fmt.Errorf("summarize transcript: %w", err)
		}
		summary = out
		return nil
	})
	g.Go(func() error {
		out, err := s.completer.Complete(gctx, llm.Request{System: actionItemsPrompt, Prompt: "Meeting transcript:\n" + transcript})
		if err != nil {
			return fmt.Errorf("extract action items: %w", err)
		}
		items = out
		return nil
	})
	if err := g.Wait(); err != nil {
		return Digest{}, err
	}

	return Digest{Summary: summary, ActionItems: ParseActionItems(items)}, nil
}

// ParseActionItems keeps the lines carrying a TODO: marker, without the marker
// or any list bullet in front of it
func ParseActionItems(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		idx := strings.Index(strings.ToUpper(line), "TODO:")
		if idx < 0 {
			continue
		}
		if prefix := strings.TrimLeft(line[:idx], " \t-*•0123456789.)"); prefix != "" {
			continue
		}
		item := strings.TrimSpace(line[idx+len("TODO:"):])
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
