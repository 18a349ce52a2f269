package wake

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrFrozen is returned when appending to a transcript after Freeze
var ErrFrozen = errors.New("transcript is frozen")

// Speaker tags who said a transcript line
type Speaker int

const (
	SpeakerUser Speaker = iota
	SpeakerAssistant
)

func (s Speaker) String() string {
	if s == SpeakerAssistant {
		return "ASSISTANT"
	}
	return "USER"
}

// Entry is one committed transcript line
type Entry struct {
	Speaker Speaker
	Text    string
	At      time.Time
}

// Transcript is the append-only record of a whole session
type Transcript struct {
	mu      sync.RWMutex
	entries []Entry
	frozen  bool
}

// NewTranscript creates an empty transcript
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds a line unless the transcript is frozen
func (t *Transcript) Append(speaker Speaker, text string, at time.Time) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return ErrFrozen
	}
	t.entries = append(t.entries, Entry{Speaker: speaker, Text: text, At: at})
	return nil
}

// Freeze makes the transcript immutable
func (t *Transcript) Freeze() {
	t.mu.Lock()
	t.frozen = true
	t.mu.Unlock()
}

// Frozen reports whether Freeze was called
func (t *Transcript) Frozen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frozen
}

// Entries returns a copy of every line
func (t *Transcript) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of lines
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// LastAssistant returns the most recent assistant line
func (t *Transcript) LastAssistant() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Speaker == SpeakerAssistant {
			return t.entries[i].Text, true
		}
	}
	return "", false
}

// Text renders the transcript one "[SPEAKER] line" per row
func (t *Transcript) Text() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var sb strings.Builder
	for i, e := range t.entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteByte('[')
		sb.WriteString(e.Speaker.String())
		sb.WriteString("] ")
		sb.WriteString(e.Text)
	}
	return sb.String()
}
