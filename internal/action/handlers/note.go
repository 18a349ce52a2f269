package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/meeting-agent/internal/action"
	"github.com/lexiqai/meeting-agent/internal/intent"
	"github.com/lexiqai/meeting-agent/internal/store"
)

// NoteHandler saves note_creation requests
type NoteHandler struct {
	notes  store.NoteRepo
	now    func() time.Time
	logger zerolog.Logger
}

// NewNoteHandler creates a note handler
func NewNoteHandler(notes store.NoteRepo, logger zerolog.Logger) *NoteHandler {
	return &NoteHandler{notes: notes, now: time.Now, logger: logger.With().Str("handler", "note").Logger()}
}

// Execute implements action.Handler
func (h *NoteHandler) Execute(ctx context.Context, req action.Request) action.Result {
	d, ok := req.Payload.(intent.NoteDetails)
	if !ok {
		return action.Failed(unexpectedPayload(req.Payload))
	}

	title := d.Title
	if title == "" {
		title = firstWords(d.Body, 6)
	}

	n := &store.Note{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Title:     title,
		Body:      d.Body,
		CreatedAt: h.now().UTC(),
	}
	if err := h.notes.Insert(ctx, n); err != nil {
		return action.Failed(fmt.Errorf("save note: %w", err))
	}

	h.logger.Info().Str("note_id", n.ID).Msg("Note saved")
	return action.Result{Success: true}
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		return strings.Join(fields[:n], " ") + "..."
	}
	return strings.Join(fields, " ")
}
