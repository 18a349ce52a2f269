package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/meeting-agent/internal/contacts"
	"github.com/lexiqai/meeting-agent/internal/session"
	"github.com/lexiqai/meeting-agent/internal/store"
)

// Mailer delivers the digest
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string) (string, error)
}

// Record is the archived form of a finished meeting
type Record struct {
	SessionID    string    `json:"session_id"`
	MeetingID    string    `json:"meeting_id,omitempty"`
	Participants []string  `json:"participants,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	Transcript   string    `json:"transcript"`
	Summary      string    `json:"summary,omitempty"`
	ActionItems  []string  `json:"action_items,omitempty"`
	Notes        []string  `json:"notes,omitempty"`
}

// ReporterConfig selects who receives the digest
type ReporterConfig struct {
	// Recipients always receive the digest
	Recipients []string

	// Contacts resolves participant names to addresses
	Contacts *contacts.Book
}

// Reporter is the session finalizer: summarize, mail and archive. Mailer,
// Notes and Archiver are optional.
type Reporter struct {
	cfg        ReporterConfig
	summarizer *Summarizer
	mailer     Mailer
	notes      store.NoteRepo
	archiver   Archiver
	logger     zerolog.Logger
}

var _ session.Finalizer = (*Reporter)(nil)

func NewReporter(cfg ReporterConfig, summarizer *Summarizer, mailer Mailer, notes store.NoteRepo, archiver Archiver, logger zerolog.Logger) *Reporter {
	return &Reporter{
		cfg:        cfg,
		summarizer: summarizer,
		mailer:     mailer,
		notes:      notes,
		archiver:   archiver,
		logger:     logger.With().Str("component", "reporter").Logger(),
	}
}

// Finalize implements session.Finalizer
func (r *Reporter) Finalize(ctx context.Context, rep session.Report) error {
	_, err := r.Deliver(ctx, Record{
		SessionID:    rep.SessionID,
		MeetingID:    rep.MeetingID,
		Participants: rep.Participants,
		StartedAt:    rep.StartedAt,
		EndedAt:      rep.EndedAt,
		Transcript:   rep.Transcript.Text(),
	})
	return err
}

// Deliver fills in the digest and notes of rec, mails it and archives it.
// The transcript is archived even when summarizing fails.
func (r *Reporter) Deliver(ctx context.Context, rec Record) (Record, error) {
	logger := r.logger.With().Str("session_id", rec.SessionID).Logger()
	var errs []error

	digest, err := r.summarizer.Summarize(ctx, rec.Transcript)
	if err != nil {
		errs = append(errs, err)
	} else {
		rec.Summary = digest.Summary
		rec.ActionItems = digest.ActionItems
	}

	if r.notes != nil && rec.SessionID != "" {
		notes, err := r.notes.ListBySession(ctx, rec.SessionID)
		if err != nil {
			errs = append(errs, fmt.Errorf("list session notes: %w", err))
		}
		for _, n := range notes {
			rec.Notes = append(rec.Notes, formatNote(n))
		}
	}

	if rec.Summary != "" && r.mailer != nil {
		if err := r.mail(ctx, rec, digest); err != nil {
			errs = append(errs, err)
		}
	}

	if r.archiver != nil {
		location, err := r.archive(ctx, rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("archive session: %w", err))
		} else {
			logger.Info().Str("location", location).Msg("Session archived")
		}
	}

	if len(errs) > 0 {
		logger.Error().Err(errors.Join(errs...)).Msg("Post-session report incomplete")
	}
	return rec, errors.Join(errs...)
}

func (r *Reporter) mail(ctx context.Context, rec Record, digest Digest) error {
	to := r.recipients(rec.Participants)
	if len(to) == 0 {
		r.logger.Warn().Str("session_id", rec.SessionID).Msg("No summary recipients, skipping email")
		return nil
	}

	body := digest.Body()
	if len(rec.Notes) > 0 {
		body += "\nNotes\n\n"
		for _, n := range rec.Notes {
			body += "- " + n + "\n"
		}
	}

	subject := "Meeting summary"
	if rec.MeetingID != "" {
		subject += ": " + rec.MeetingID
	}

	id, err := r.mailer.Send(ctx, to, subject, body)
	if err != nil {
		return fmt.Errorf("send summary email: %w", err)
	}
	r.logger.Info().Str("message_id", id).Int("recipients", len(to)).Msg("Summary email sent")
	return nil
}

// recipients merges the configured list with participants that are addresses
// or known contacts, without duplicates
func (r *Reporter) recipients(participants []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(addr string) {
		key := strings.ToLower(strings.TrimSpace(addr))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(addr))
	}

	for _, addr := range r.cfg.Recipients {
		add(addr)
	}
	for _, p := range participants {
		if _, err := mail.ParseAddress(p); err == nil {
			add(p)
			continue
		}
		if c, ok := r.cfg.Contacts.Lookup(p); ok {
			add(c.Email)
		}
	}
	return out
}

func (r *Reporter) archive(ctx context.Context, rec Record) (string, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}

	ended := rec.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}
	name := fmt.Sprintf("sessions/%s/%s.json", ended.UTC().Format("2006-01-02"), rec.SessionID)
	return r.archiver.Upload(ctx, name, "application/json", bytes.NewReader(data))
}

func formatNote(n store.Note) string {
	if n.Title == "" || strings.HasPrefix(n.Body, strings.TrimSuffix(n.Title, "...")) {
		return n.Body
	}
	return n.Title + ": " + n.Body
}
