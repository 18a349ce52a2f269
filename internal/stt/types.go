package stt

import (
	"errors"
	"time"
)

var (
	// ErrConnectionLost means the session is not open right now. The stream is
	// already reconnecting; callers drop the chunk and keep feeding.
	ErrConnectionLost = errors.New("transcription session connection lost")

	// ErrMissingCredential is the only fatal error of a stream
	ErrMissingCredential = errors.New("transcription credential missing")

	// ErrClosed is returned by Send after Close
	ErrClosed = errors.New("transcription stream closed")
)

// Utterance is one committed unit of transcribed speech
type Utterance struct {
	// Text is the transcript as delivered by the recognizer
	Text string

	// IsFinal is true for committed results. Streams only emit final utterances.
	IsFinal bool

	// Timestamp is when the utterance was received
	Timestamp time.Time

	// Confidence is the recognizer confidence (0.0 to 1.0) if available
	Confidence float64
}

// TranscriptStream wraps a live speech-to-text session
type TranscriptStream interface {
	// Send feeds raw PCM audio. Returns ErrConnectionLost while reconnecting.
	Send(chunk []byte) error

	// NextUtterance returns the next committed utterance, or false when none is ready.
	// It never blocks.
	NextUtterance() (Utterance, bool)

	// Close releases the session. Safe to call repeatedly and before open.
	Close() error
}
