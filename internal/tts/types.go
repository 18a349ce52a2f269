package tts

import (
	"context"

	"github.com/lexiqai/meeting-agent/internal/audio"
)

// Synthesizer converts text to 16-bit mono PCM
type Synthesizer interface {
	// Synthesize returns the complete audio for text
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// Format is the format of the returned audio
	Format() audio.Format
}

// Player plays PCM audio and returns once playback finished or ctx is done
type Player interface {
	Play(ctx context.Context, pcm []byte) error

	// Format is the format Play expects
	Format() audio.Format
}

// Speaker is the text-to-speech sink the coordinator drives.
// Speak blocks until playback is complete and honours ctx cancellation.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}
