// Package handlers holds the concrete side effects behind each action kind.
package handlers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lexiqai/meeting-agent/internal/action"
	"github.com/lexiqai/meeting-agent/internal/intent"
)

// MailSender delivers a plain text message
type MailSender interface {
	Send(ctx context.Context, to []string, subject, body string) (string, error)
}

// EmailHandler sends email_creation requests
type EmailHandler struct {
	mail   MailSender
	logger zerolog.Logger
}

// NewEmailHandler creates an email handler
func NewEmailHandler(mail MailSender, logger zerolog.Logger) *EmailHandler {
	return &EmailHandler{mail: mail, logger: logger.With().Str("handler", "email").Logger()}
}

// Execute implements action.Handler
func (h *EmailHandler) Execute(ctx context.Context, req action.Request) action.Result {
	d, ok := req.Payload.(intent.EmailDetails)
	if !ok {
		return action.Failed(unexpectedPayload(req.Payload))
	}

	subject := d.Subject
	if subject == "" {
		subject = "Note from the meeting"
	}

	id, err := h.mail.Send(ctx, d.To, subject, d.Body)
	if err != nil {
		return action.Failed(err)
	}

	h.logger.Info().Str("message_id", id).Int("recipients", len(d.To)).Msg("Email sent")
	return action.Result{Success: true}
}

func unexpectedPayload(p intent.Payload) error {
	return fmt.Errorf("unexpected payload %T", p)
}
