package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/calendar/v3"

	"github.com/lexiqai/meeting-agent/internal/action"
	"github.com/lexiqai/meeting-agent/internal/intent"
)

// CalendarHandler inserts calendar_event requests into a Google calendar
type CalendarHandler struct {
	svc        *calendar.Service
	calendarID string
	logger     zerolog.Logger
}

// NewCalendarHandler creates a handler for the given calendar; "primary" when empty
func NewCalendarHandler(svc *calendar.Service, calendarID string, logger zerolog.Logger) *CalendarHandler {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &CalendarHandler{
		svc:        svc,
		calendarID: calendarID,
		logger:     logger.With().Str("handler", "calendar").Logger(),
	}
}

// Execute implements action.Handler
func (h *CalendarHandler) Execute(ctx context.Context, req action.Request) action.Result {
	d, ok := req.Payload.(intent.CalendarDetails)
	if !ok {
		return action.Failed(unexpectedPayload(req.Payload))
	}

	event := &calendar.Event{
		Summary:     d.Title,
		Location:    d.Location,
		Description: d.Description,
		Start:       &calendar.EventDateTime{DateTime: d.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: d.End.Format(time.RFC3339)},
	}
	for _, email := range d.Attendees {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: email})
	}

	created, err := h.svc.Events.Insert(h.calendarID, event).SendUpdates("all").Context(ctx).Do()
	if err != nil {
		return action.Failed(fmt.Errorf("insert event: %w", err))
	}

	h.logger.Info().
		Str("event_id", created.Id).
		Str("link", created.HtmlLink).
		Time("start", d.Start).
		Msg("Calendar event created")
	return action.Result{Success: true}
}
