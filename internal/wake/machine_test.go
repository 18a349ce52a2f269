package wake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/meeting-agent/internal/stt"
)

func final(text string) stt.Utterance {
	return stt.Utterance{Text: text, IsFinal: true, Timestamp: time.Now()}
}

func newTestMachine(t *testing.T, window int) *Machine {
	t.Helper()
	m, err := NewMachine([]string{"hey assistant", "hey eleven labs", "Hey, 11 Labs!"}, window)
	require.NoError(t, err)
	return m
}

func TestMachine_WakeWithCommand(t *testing.T) {
	m := newTestMachine(t, 10)

	obs := m.Observe(final("hello"))
	assert.Equal(t, Idle, obs.State)
	assert.Empty(t, obs.Text)

	obs = m.Observe(final("hey assistant send an email to bob about lunch"))
	assert.Equal(t, Active, obs.State)
	assert.True(t, obs.Triggered)
	assert.Equal(t, "send an email to bob about lunch", obs.Text)
	assert.Equal(t, Active, m.State())
}

func TestMachine_PhraseSpansUtterances(t *testing.T) {
	m := newTestMachine(t, 10)

	assert.Equal(t, Idle, m.Observe(final("okay so hey")).State)
	obs := m.Observe(final("Eleven Labs, book the room for Friday."))
	assert.Equal(t, Active, obs.State)
	assert.Equal(t, "book the room for Friday.", obs.Text, "original casing and punctuation are kept")
}

func TestMachine_PhraseWithoutCommand(t *testing.T) {
	m := newTestMachine(t, 10)

	obs := m.Observe(final("Hey, 11 labs."))
	assert.Equal(t, Active, obs.State)
	assert.True(t, obs.Triggered)
	assert.Empty(t, obs.Text)

	obs = m.Observe(final("Email bob@example.com the notes"))
	assert.Equal(t, Active, obs.State)
	assert.False(t, obs.Triggered)
	assert.Equal(t, "Email bob@example.com the notes", obs.Text)
}

func TestMachine_LastOccurrenceWins(t *testing.T) {
	m := newTestMachine(t, 10)

	obs := m.Observe(final("hey assistant no wait hey assistant create a note"))
	assert.Equal(t, "create a note", obs.Text)
}

func TestMachine_RemainderInsidePiece(t *testing.T) {
	tests := []struct {
		heard string
		want  string
	}{
		{"hey eleven labs-send the notes", "send the notes"},
		{"Hey assistant,create a task", "create a task"},
		{"hey 11 labs...", ""},
	}

	for _, tt := range tests {
		m := newTestMachine(t, 10)
		obs := m.Observe(final(tt.heard))
		assert.True(t, obs.Triggered, tt.heard)
		assert.Equal(t, tt.want, obs.Text, tt.heard)
	}
}

func TestMachine_NoPartialWordMatch(t *testing.T) {
	m := newTestMachine(t, 10)

	obs := m.Observe(final("they assistants are great"))
	assert.Equal(t, Idle, obs.State)
}

func TestMachine_WindowEviction(t *testing.T) {
	m := newTestMachine(t, 2)

	m.Observe(final("hey"))
	m.Observe(final("something else"))
	obs := m.Observe(final("assistant do it"))
	assert.Equal(t, Idle, obs.State, "first half of the phrase fell out of the window")
}

func TestMachine_IgnoresInterim(t *testing.T) {
	m := newTestMachine(t, 10)

	obs := m.Observe(stt.Utterance{Text: "hey assistant do it", IsFinal: false})
	assert.Equal(t, Idle, obs.State)
	assert.Equal(t, 0, m.Transcript().Len())
}

func TestMachine_Reset(t *testing.T) {
	m := newTestMachine(t, 10)

	m.Observe(final("hey"))
	m.Observe(final("assistant"))
	require.Equal(t, Active, m.State())

	m.Reset()
	assert.Equal(t, Idle, m.State())

	obs := m.Observe(final("send it"))
	assert.Equal(t, Idle, obs.State, "buffer was cleared on trigger and reset")
	assert.Equal(t, 3, m.Transcript().Len(), "transcript survives reset")
}

func TestMachine_Transcript(t *testing.T) {
	m := newTestMachine(t, 10)

	m.Observe(final("hello team"))
	m.Observe(final("hey assistant catch me up"))
	m.MarkAssistantSpeech("We discussed the launch.")

	assert.Equal(t, "[USER] hello team\n[USER] hey assistant catch me up\n[ASSISTANT] We discussed the launch.", m.Transcript().Text())

	last, ok := m.LastAssistant()
	assert.True(t, ok)
	assert.Equal(t, "We discussed the launch.", last)

	m.Transcript().Freeze()
	m.Observe(final("one more thing"))
	m.MarkAssistantSpeech("ignored")
	assert.Equal(t, 3, m.Transcript().Len())
	assert.ErrorIs(t, m.Transcript().Append(SpeakerUser, "x", time.Now()), ErrFrozen)
}

func TestNewMachine_Validation(t *testing.T) {
	_, err := NewMachine(nil, 10)
	assert.Error(t, err)
	_, err = NewMachine([]string{" ,. "}, 10)
	assert.Error(t, err)
	_, err = NewMachine([]string{"hey assistant"}, 0)
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hey eleven labs", Normalize("  Hey, Eleven-Labs! "))
	assert.Equal(t, "", Normalize("...!"))
}

func TestIsEcho(t *testing.T) {
	tests := []struct {
		heard, spoken string
		want          bool
	}{
		{"Sure, sending that email now.", "sure sending that email now", true},
		{"sure sending that", "Sure, sending that email now.", true},
		{"Sure, sending that email now. Anything else?", "Sure, sending that email now.", false},
		{"Who should I invite, Bob and Dana", "Who should I invite?", false},
		{"who should I", "Who should I invite?", true},
		{"sure", "Sure, sending that email now.", false},
		{"send another email", "Sure, sending that email now.", false},
		{"", "anything", false},
		{"ok", "OK", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsEcho(tt.heard, tt.spoken), "%q vs %q", tt.heard, tt.spoken)
	}
}
