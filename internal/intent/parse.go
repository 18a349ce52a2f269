package intent

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lexiqai/meeting-agent/internal/contacts"
)

const defaultEventLength = 30 * time.Minute

// ParseOptions carries the context needed to resolve a raw decision
type ParseOptions struct {
	// Contacts resolves spoken names to addresses
	Contacts *contacts.Book

	// Location is used for event times without a zone; UTC when nil
	Location *time.Location
}

type wireResult struct {
	Action           string          `json:"action"`
	MoreInfoRequired bool            `json:"more_info_required"`
	Response         *string         `json:"response"`
	Details          json.RawMessage `json:"details"`
}

// Parse decodes a raw classifier answer. It fails closed: anything that is not
// a well formed decision yields a KindUnknown result and an error wrapping
// ErrMalformed. An actionable decision whose details do not validate is
// downgraded to a needs-more-info result.
func Parse(raw string, opts ParseOptions) (Result, error) {
	body, ok := extractObject(raw)
	if !ok {
		return Result{Kind: KindUnknown}, fmt.Errorf("%w: no json object in %q", ErrMalformed, truncate(raw, 80))
	}

	var w wireResult
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return Result{Kind: KindUnknown}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	kind := ParseKind(w.Action)
	if kind == KindUnknown {
		return Result{Kind: KindUnknown}, fmt.Errorf("%w: unknown action %q", ErrMalformed, w.Action)
	}

	response := ""
	if w.Response != nil {
		response = strings.TrimSpace(*w.Response)
	}

	if kind == KindRequestInfo || w.MoreInfoRequired {
		if response == "" {
			response = followUpQuestion(kind)
		}
		return Result{Kind: kind, NeedsMoreInfo: true, Response: response}, nil
	}

	if kind == KindNoAction {
		return Result{Kind: KindNoAction}, nil
	}

	payload, err := decodePayload(kind, w.Details, opts)
	if err == nil {
		err = payload.Validate()
	}
	if err != nil {
		return Result{Kind: kind, NeedsMoreInfo: true, Response: followUpQuestion(kind)}, nil
	}

	return Result{Kind: kind, Response: response, Payload: payload}, nil
}

// extractObject strips markdown fences and returns the outermost {...} span
func extractObject(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func followUpQuestion(kind ActionKind) string {
	switch kind {
	case KindEmail:
		return "Who should I send that email to, and what should it say?"
	case KindCalendarEvent:
		return "When should I schedule that, and who should I invite?"
	case KindNote:
		return "What should the note say?"
	case KindTask:
		return "What should I call that task?"
	case KindWebSearch:
		return "What would you like me to look up?"
	case KindOrder:
		return "What would you like me to order?"
	default:
		return "Could you tell me a bit more about what you need?"
	}
}

func decodePayload(kind ActionKind, details json.RawMessage, opts ParseOptions) (Payload, error) {
	if len(details) == 0 || string(details) == "null" {
		details = json.RawMessage("{}")
	}

	switch kind {
	case KindEmail:
		var w struct {
			To      stringList `json:"to"`
			Subject string     `json:"subject"`
			Body    string     `json:"body"`
		}
		if err := json.Unmarshal(details, &w); err != nil {
			return nil, err
		}
		return EmailDetails{
			To:      resolveAddresses(w.To, opts.Contacts),
			Subject: strings.TrimSpace(w.Subject),
			Body:    strings.TrimSpace(w.Body),
		}, nil

	case KindCalendarEvent:
		var w struct {
			Title           string     `json:"title"`
			Summary         string     `json:"summary"`
			Location        string     `json:"location"`
			Description     string     `json:"description"`
			StartTime       string     `json:"start_time"`
			Start           string     `json:"start"`
			EndTime         string     `json:"end_time"`
			End             string     `json:"end"`
			DurationMinutes int        `json:"duration_minutes"`
			Attendees       stringList `json:"attendees"`
		}
		if err := json.Unmarshal(details, &w); err != nil {
			return nil, err
		}
		d := CalendarDetails{
			Title:       strings.TrimSpace(firstNonEmpty(w.Title, w.Summary)),
			Location:    strings.TrimSpace(w.Location),
			Description: strings.TrimSpace(w.Description),
			Attendees:   resolveAddresses(w.Attendees, opts.Contacts),
		}
		start, err := parseEventTime(firstNonEmpty(w.StartTime, w.Start), opts.Location)
		if err != nil {
			return nil, fmt.Errorf("start time: %w", err)
		}
		d.Start = start
		if end := firstNonEmpty(w.EndTime, w.End); end != "" {
			if d.End, err = parseEventTime(end, opts.Location); err != nil {
				return nil, fmt.Errorf("end time: %w", err)
			}
		} else if w.DurationMinutes > 0 {
			d.End = start.Add(time.Duration(w.DurationMinutes) * time.Minute)
		} else {
			d.End = start.Add(defaultEventLength)
		}
		return d, nil

	case KindNote:
		var w struct {
			Title   string `json:"title"`
			Content string `json:"content"`
			Body    string `json:"body"`
		}
		if err := json.Unmarshal(details, &w); err != nil {
			return nil, err
		}
		return NoteDetails{
			Title: strings.TrimSpace(w.Title),
			Body:  strings.TrimSpace(firstNonEmpty(w.Content, w.Body)),
		}, nil

	case KindTask:
		var w struct {
			Title       string   `json:"title"`
			Description string   `json:"description"`
			Priority    priority `json:"priority"`
			DueDate     string   `json:"due_date"`
		}
		if err := json.Unmarshal(details, &w); err != nil {
			return nil, err
		}
		return TaskDetails{
			Title:       strings.TrimSpace(w.Title),
			Description: strings.TrimSpace(w.Description),
			Priority:    int(w.Priority),
			Due:         strings.TrimSpace(w.DueDate),
		}, nil

	case KindWebSearch:
		var w struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(details, &w); err != nil {
			return nil, err
		}
		return SearchDetails{Query: strings.TrimSpace(w.Query)}, nil

	case KindOrder:
		var w struct {
			Item     string `json:"item"`
			Product  string `json:"product"`
			Quantity int    `json:"quantity"`
		}
		if err := json.Unmarshal(details, &w); err != nil {
			return nil, err
		}
		if w.Quantity == 0 {
			w.Quantity = 1
		}
		return OrderDetails{Item: strings.TrimSpace(firstNonEmpty(w.Item, w.Product)), Quantity: w.Quantity}, nil

	case KindCatchUp:
		return CatchUpDetails{}, nil
	}

	return nil, fmt.Errorf("no payload for %s", kind)
}

var eventLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

func parseEventTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing")
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range eventLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// resolveAddresses maps spoken names to contact addresses, leaving addresses as is
func resolveAddresses(names []string, book *contacts.Book) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if !strings.Contains(n, "@") {
			if c, ok := book.Lookup(n); ok {
				n = c.Email
			}
		}
		out = append(out, n)
	}
	return out
}

// stringList accepts a JSON string (comma separated) or an array of strings
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*l = nil
	for _, part := range strings.Split(one, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

// priority accepts Linear's numeric scale or a spoken level
type priority int

func (p *priority) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*p = priority(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		*p = priority(n)
		return nil
	}
	switch s {
	case "", "none", "no priority":
		*p = 0
	case "urgent":
		*p = 1
	case "high":
		*p = 2
	case "medium", "normal":
		*p = 3
	case "low":
		*p = 4
	default:
		return fmt.Errorf("unknown priority %q", s)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
