// Package intent classifies what an addressed utterance asks the assistant to do.
package intent

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/lexiqai/meeting-agent/internal/contacts"
)

// ErrMalformed means the classifier output could not be parsed. The result
// returned alongside it is always KindUnknown.
var ErrMalformed = errors.New("malformed classification")

// ActionKind is the closed set of intents
type ActionKind int

const (
	KindUnknown ActionKind = iota
	KindNoAction
	KindRequestInfo
	KindWebSearch
	KindEmail
	KindCalendarEvent
	KindNote
	KindTask
	KindOrder
	KindCatchUp
)

var kindNames = map[ActionKind]string{
	KindUnknown:       "unknown",
	KindNoAction:      "no_action",
	KindRequestInfo:   "request_info",
	KindWebSearch:     "web_search",
	KindEmail:         "email_creation",
	KindCalendarEvent: "calendar_event",
	KindNote:          "note_creation",
	KindTask:          "task_creation",
	KindOrder:         "order",
	KindCatchUp:       "catch_me_up",
}

var kindAliases = map[string]ActionKind{
	"do_nothing":   KindNoAction,
	"none":         KindNoAction,
	"linear_task":  KindTask,
	"amazon_order": KindOrder,
	"catch_up":     KindCatchUp,
}

// String returns the wire name of the kind
func (k ActionKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a wire name (or a known alias) to a kind; anything else is KindUnknown
func ParseKind(s string) ActionKind {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	if k, ok := kindAliases[s]; ok {
		return k
	}
	return KindUnknown
}

// Actionable reports whether the kind dispatches a side-effecting handler
func (k ActionKind) Actionable() bool {
	switch k {
	case KindWebSearch, KindEmail, KindCalendarEvent, KindNote, KindTask, KindOrder, KindCatchUp:
		return true
	}
	return false
}

// ActionableKinds lists every kind a handler can be registered for
func ActionableKinds() []ActionKind {
	return []ActionKind{KindWebSearch, KindEmail, KindCalendarEvent, KindNote, KindTask, KindOrder, KindCatchUp}
}

// Payload is the typed detail of one actionable kind
type Payload interface {
	Kind() ActionKind
	Validate() error
}

// EmailDetails is the payload of KindEmail
type EmailDetails struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

func (EmailDetails) Kind() ActionKind { return KindEmail }

func (d EmailDetails) Validate() error {
	if len(d.To) == 0 {
		return errors.New("email needs at least one recipient")
	}
	for _, to := range d.To {
		if _, err := mail.ParseAddress(to); err != nil {
			return fmt.Errorf("invalid recipient %q", to)
		}
	}
	if strings.TrimSpace(d.Subject) == "" && strings.TrimSpace(d.Body) == "" {
		return errors.New("email needs a subject or a body")
	}
	return nil
}

// CalendarDetails is the payload of KindCalendarEvent
type CalendarDetails struct {
	Title       string
	Location    string
	Description string
	Start       time.Time
	End         time.Time
	Attendees   []string
}

func (CalendarDetails) Kind() ActionKind { return KindCalendarEvent }

func (d CalendarDetails) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return errors.New("event needs a title")
	}
	if d.Start.IsZero() {
		return errors.New("event needs a start time")
	}
	if !d.End.After(d.Start) {
		return errors.New("event must end after it starts")
	}
	for _, a := range d.Attendees {
		if _, err := mail.ParseAddress(a); err != nil {
			return fmt.Errorf("invalid attendee %q", a)
		}
	}
	return nil
}

// NoteDetails is the payload of KindNote
type NoteDetails struct {
	Title string `json:"title"`
	Body  string `json:"content"`
}

func (NoteDetails) Kind() ActionKind { return KindNote }

func (d NoteDetails) Validate() error {
	if strings.TrimSpace(d.Body) == "" {
		return errors.New("note needs content")
	}
	return nil
}

// TaskDetails is the payload of KindTask
type TaskDetails struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    int    `json:"priority"` // 0 none, 1 urgent .. 4 low
	Due         string `json:"due_date,omitempty"`
}

func (TaskDetails) Kind() ActionKind { return KindTask }

func (d TaskDetails) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return errors.New("task needs a title")
	}
	if d.Priority < 0 || d.Priority > 4 {
		return fmt.Errorf("task priority %d out of range", d.Priority)
	}
	if d.Due != "" {
		if _, err := time.Parse(time.DateOnly, d.Due); err != nil {
			return fmt.Errorf("task due date %q is not YYYY-MM-DD", d.Due)
		}
	}
	return nil
}

// SearchDetails is the payload of KindWebSearch
type SearchDetails struct {
	Query string `json:"query"`
}

func (SearchDetails) Kind() ActionKind { return KindWebSearch }

func (d SearchDetails) Validate() error {
	if strings.TrimSpace(d.Query) == "" {
		return errors.New("search needs a query")
	}
	return nil
}

// OrderDetails is the payload of KindOrder
type OrderDetails struct {
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
}

func (OrderDetails) Kind() ActionKind { return KindOrder }

func (d OrderDetails) Validate() error {
	if strings.TrimSpace(d.Item) == "" {
		return errors.New("order needs an item")
	}
	if d.Quantity < 1 || d.Quantity > 20 {
		return fmt.Errorf("order quantity %d out of range", d.Quantity)
	}
	return nil
}

// CatchUpDetails is the payload of KindCatchUp; the transcript is the input
type CatchUpDetails struct{}

func (CatchUpDetails) Kind() ActionKind { return KindCatchUp }

func (CatchUpDetails) Validate() error { return nil }

// Outcome is how the coordinator branches on a result
type Outcome int

const (
	OutcomeNoAction Outcome = iota
	OutcomeNeedsInfo
	OutcomeAction
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNeedsInfo:
		return "needs_info"
	case OutcomeAction:
		return "action"
	default:
		return "no_action"
	}
}

// Result is one classification decision
type Result struct {
	Kind          ActionKind
	NeedsMoreInfo bool
	Response      string
	Payload       Payload
}

// Outcome collapses the result into the three coordinator branches
func (r Result) Outcome() Outcome {
	switch {
	case r.NeedsMoreInfo:
		return OutcomeNeedsInfo
	case r.Kind.Actionable() && r.Payload != nil:
		return OutcomeAction
	default:
		return OutcomeNoAction
	}
}

// Request is the classifier input
type Request struct {
	// Text is the addressed utterance with the wake phrase removed
	Text string

	// Pending is the earlier request when the assistant asked for more detail
	Pending string

	// Transcript is the rendered conversation so far
	Transcript string

	Participants []string
	Contacts     *contacts.Book
	Now          time.Time
}

// Classifier decides what an utterance asks for.
// Implementations return a KindUnknown result together with any error.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Result, error)
}
