package tts

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/meeting-agent/internal/audio"
	"github.com/lexiqai/meeting-agent/internal/observability"
)

// Voice speaks text by synthesizing it and playing the result
type Voice struct {
	synth   Synthesizer
	player  Player
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewVoice builds a Speaker from a synthesizer and a player
func NewVoice(synth Synthesizer, player Player, metrics *observability.Metrics, logger zerolog.Logger) *Voice {
	return &Voice{
		synth:   synth,
		player:  player,
		metrics: metrics,
		logger:  logger.With().Str("component", "tts").Logger(),
	}
}

// Speak synthesizes text and blocks until it has been played
func (v *Voice) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if v.metrics != nil {
		v.metrics.RecordTTSStart()
	}
	pcm, err := v.synth.Synthesize(ctx, text)
	if v.metrics != nil {
		v.metrics.RecordTTSEnd(err == nil)
	}
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}

	pcm, err = convert(pcm, v.synth.Format(), v.player.Format())
	if err != nil {
		return fmt.Errorf("convert speech audio: %w", err)
	}

	if v.metrics != nil {
		v.metrics.RecordAudioBytes("out", int64(len(pcm)))
	}
	v.logger.Debug().
		Int("bytes", len(pcm)).
		Dur("duration", v.player.Format().Duration(len(pcm))).
		Msg("Playing synthesized speech")

	return v.player.Play(ctx, pcm)
}

func convert(pcm []byte, from, to audio.Format) ([]byte, error) {
	if from.Channels != 1 || to.Channels != 1 {
		return nil, fmt.Errorf("only mono speech is supported (got %d -> %d channels)", from.Channels, to.Channels)
	}
	return audio.ResamplePCM16(pcm, from.SampleRate, to.SampleRate)
}
