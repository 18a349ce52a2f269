package intent

import (
	"fmt"
	"strings"
	"time"
)

const systemPromptTemplate = `You are a voice assistant sitting in a live meeting. Someone has just addressed you by name.
Decide what they are asking you to do and answer with a single JSON object and nothing else:

{"action": "<action>", "more_info_required": <true|false>, "response": "<what you will say out loud>", "details": {...}}

Actions and their details:
- "no_action": filler or chit-chat that is not a request. details: {}
- "request_info": the request is clear but something essential is missing; ask for it in "response".
- "web_search": {"query": "..."}
- "email_creation": {"to": ["address", ...], "subject": "...", "body": "..."}
- "calendar_event": {"title": "...", "start_time": "YYYY-MM-DDTHH:MM:SS", "end_time": "YYYY-MM-DDTHH:MM:SS", "location": "...", "description": "...", "attendees": ["address", ...]}
- "note_creation": {"title": "...", "content": "..."}
- "task_creation": {"title": "...", "description": "...", "priority": 0-4, "due_date": "YYYY-MM-DD"}
- "order": {"item": "...", "quantity": 1}
- "catch_me_up": the person wants a recap of the conversation so far. details: {}

Rules:
- Set "more_info_required" to true and ask one short question in "response" when a required detail is missing.
- For actions, "response" is a one sentence spoken acknowledgement, for example "Sure, sending that email to Bob now."
- Use the contact list to turn names into email addresses. Never invent an address.
- Resolve relative dates against the current time below.
- Keep "response" short and natural; it will be spoken aloud.

Current time: %s
Meeting participants: %s
Contacts:
%s`

func buildSystemPrompt(req Request) string {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	participants := "unknown"
	if len(req.Participants) > 0 {
		participants = strings.Join(req.Participants, ", ")
	}

	var book strings.Builder
	for _, c := range req.Contacts.All() {
		fmt.Fprintf(&book, "- %s <%s>\n", c.Name, c.Email)
	}
	if book.Len() == 0 {
		book.WriteString("(none)\n")
	}

	return fmt.Sprintf(systemPromptTemplate, now.Format("Monday, 2006-01-02 15:04 MST"), participants, book.String())
}

func buildUserPrompt(req Request) string {
	var sb strings.Builder
	if t := strings.TrimSpace(req.Transcript); t != "" {
		sb.WriteString("Conversation so far:\n")
		sb.WriteString(t)
		sb.WriteString("\n\n")
	}
	if p := strings.TrimSpace(req.Pending); p != "" {
		sb.WriteString("You asked for more details about this earlier request: ")
		sb.WriteString(p)
		sb.WriteString("\nTheir answer: ")
	} else {
		sb.WriteString("Request: ")
	}
	sb.WriteString(strings.TrimSpace(req.Text))
	return sb.String()
}
