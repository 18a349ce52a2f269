// Package wake decides whether the assistant is being addressed and keeps the
// session transcript.
package wake

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/lexiqai/meeting-agent/internal/stt"
)

// State is the listening state
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Observation is the outcome of one committed utterance
type Observation struct {
	State State

	// Triggered is set when this utterance completed a wake phrase
	Triggered bool

	// Text is what to act on; empty when nothing should be classified
	Text string
}

// Machine owns the rolling wake buffer and the session transcript. It is not
// safe for concurrent use; one loop drives it.
type Machine struct {
	phrases    [][]string
	window     int
	buffer     []string
	state      State
	transcript *Transcript
	now        func() time.Time
}

// NewMachine creates an idle machine matching any of phrases across the last
// window utterances
func NewMachine(phrases []string, window int) (*Machine, error) {
	if window <= 0 {
		return nil, errors.New("wake: window must be positive")
	}

	m := &Machine{
		window:     window,
		transcript: NewTranscript(),
		now:        time.Now,
	}
	seen := make(map[string]bool)
	for _, p := range phrases {
		n := Normalize(p)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		m.phrases = append(m.phrases, strings.Fields(n))
	}
	if len(m.phrases) == 0 {
		return nil, errors.New("wake: at least one wake phrase is required")
	}
	return m, nil
}

// State returns the current listening state
func (m *Machine) State() State {
	return m.state
}

// Transcript returns the session transcript
func (m *Machine) Transcript() *Transcript {
	return m.transcript
}

// Observe feeds one utterance. Interim results are ignored. Every committed
// utterance is recorded as user speech.
func (m *Machine) Observe(u stt.Utterance) Observation {
	text := strings.TrimSpace(u.Text)
	if !u.IsFinal || text == "" {
		return Observation{State: m.state}
	}

	m.Record(u)

	if m.state == Active {
		return Observation{State: Active, Text: text}
	}

	m.buffer = append(m.buffer, text)
	if len(m.buffer) > m.window {
		m.buffer = m.buffer[len(m.buffer)-m.window:]
	}

	remainder, ok := m.match()
	if !ok {
		return Observation{State: Idle}
	}

	m.state = Active
	m.buffer = m.buffer[:0]
	return Observation{State: Active, Triggered: true, Text: remainder}
}

// Record appends a committed utterance to the transcript as user speech
// without touching the wake buffer or the state
func (m *Machine) Record(u stt.Utterance) {
	text := strings.TrimSpace(u.Text)
	if !u.IsFinal || text == "" {
		return
	}
	at := u.Timestamp
	if at.IsZero() {
		at = m.now()
	}
	_ = m.transcript.Append(SpeakerUser, text, at)
}

// MarkAssistantSpeech records a line the assistant spoke
func (m *Machine) MarkAssistantSpeech(text string) {
	_ = m.transcript.Append(SpeakerAssistant, text, m.now())
}

// LastAssistant returns the most recent assistant line
func (m *Machine) LastAssistant() (string, bool) {
	return m.transcript.LastAssistant()
}

// Reset returns to Idle and clears the wake buffer; the transcript is kept
func (m *Machine) Reset() {
	m.state = Idle
	m.buffer = m.buffer[:0]
}

type token struct {
	word  string
	piece int // index into the original whitespace-separated pieces
	end   int // byte offset in the piece just past the word
}

// pieceTokens splits one whitespace-separated piece into lowercased words,
// keeping where each ends so the remainder can be cut inside the piece
func pieceTokens(piece string, index int) []token {
	var out []token
	start := -1
	for i, r := range piece {
		inWord := unicode.IsLetter(r) || unicode.IsDigit(r)
		switch {
		case inWord && start < 0:
			start = i
		case !inWord && start >= 0:
			out = append(out, token{word: strings.ToLower(piece[start:i]), piece: index, end: i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, token{word: strings.ToLower(piece[start:]), piece: index, end: len(piece)})
	}
	return out
}

// match finds the last wake phrase occurrence across the buffer and returns
// the original text following it
func (m *Machine) match() (string, bool) {
	var (
		pieces []string
		tokens []token
	)
	for _, utterance := range m.buffer {
		for _, piece := range strings.Fields(utterance) {
			tokens = append(tokens, pieceTokens(piece, len(pieces))...)
			pieces = append(pieces, piece)
		}
	}

	end := -1
	for _, phrase := range m.phrases {
		for i := len(tokens) - len(phrase); i >= 0; i-- {
			if i+len(phrase)-1 <= end {
				break
			}
			if tokensMatch(tokens[i:i+len(phrase)], phrase) {
				end = i + len(phrase) - 1
				break
			}
		}
	}
	if end < 0 {
		return "", false
	}

	last := tokens[end]
	rest := append([]string{pieces[last.piece][last.end:]}, pieces[last.piece+1:]...)
	return strings.TrimLeft(strings.Join(rest, " "), " ,.;:!?-"), true
}

func tokensMatch(tokens []token, phrase []string) bool {
	for i, w := range phrase {
		if tokens[i].word != w {
			return false
		}
	}
	return true
}
