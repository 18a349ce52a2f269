// Package google builds the Gmail and Calendar clients used by actions and
// the post-session report.
package google

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Services holds the authenticated Google API clients
type Services struct {
	Gmail    *gmail.Service
	Calendar *calendar.Service
}

// NewServices authenticates with the credentials file when set and with
// application default credentials otherwise
func NewServices(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*Services, error) {
	base := []option.ClientOption{option.WithScopes(gmail.GmailSendScope, calendar.CalendarEventsScope)}
	if credentialsFile != "" {
		base = append(base, option.WithCredentialsFile(credentialsFile))
	}
	base = append(base, opts...)

	gm, err := gmail.NewService(ctx, base...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	cal, err := calendar.NewService(ctx, base...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &Services{Gmail: gm, Calendar: cal}, nil
}

// Mailer sends plain text mail through Gmail
type Mailer struct {
	svc    *gmail.Service
	sender string
}

// NewMailer sends as sender; "me" is the authenticated user
func NewMailer(svc *gmail.Service, sender string) *Mailer {
	if sender == "" {
		sender = "me"
	}
	return &Mailer{svc: svc, sender: sender}
}

// Send delivers one message and returns its Gmail id
func (m *Mailer) Send(ctx context.Context, to []string, subject, body string) (string, error) {
	if len(to) == 0 {
		return "", errors.New("mail has no recipients")
	}

	msg := &gmail.Message{Raw: EncodeMessage(to, subject, body)}
	sent, err := m.svc.Users.Messages.Send(m.sender, msg).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("gmail send: %w", err)
	}
	return sent.Id, nil
}

// EncodeMessage renders an RFC 2822 text message as base64url, the form the
// Gmail API expects in Message.Raw
func EncodeMessage(to []string, subject, body string) string {
	var sb strings.Builder
	sb.WriteString("To: ")
	sb.WriteString(strings.Join(to, ", "))
	sb.WriteString("\r\nSubject: ")
	sb.WriteString(mime.QEncoding.Encode("utf-8", subject))
	sb.WriteString("\r\nMIME-Version: 1.0")
	sb.WriteString("\r\nContent-Type: text/plain; charset=\"UTF-8\"")
	sb.WriteString("\r\n\r\n")
	sb.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return base64.URLEncoding.EncodeToString([]byte(sb.String()))
}
