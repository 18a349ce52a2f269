package ingress

import (
	"context"
	"time"

	"github.com/lexiqai/meeting-agent/internal/audio"
	"github.com/lexiqai/meeting-agent/internal/tts"
)

// playbackFrame is the duration of one outgoing binary frame
const playbackFrame = 20 * time.Millisecond

// socketPlayer streams assistant audio back to the client in real time, so
// Play returns roughly when the client finished playing it
type socketPlayer struct {
	conn   *connection
	format audio.Format
	sleep  func(ctx context.Context, d time.Duration) error
}

var _ tts.Player = (*socketPlayer)(nil)

func newSocketPlayer(conn *connection, format audio.Format) *socketPlayer {
	return &socketPlayer{conn: conn, format: format, sleep: sleepContext}
}

func (p *socketPlayer) Format() audio.Format {
	return p.format
}

func (p *socketPlayer) Play(ctx context.Context, pcm []byte) error {
	frameBytes := p.format.BytesPerSecond() * int(playbackFrame) / int(time.Second)
	frameBytes -= frameBytes % 2
	if frameBytes <= 0 {
		frameBytes = len(pcm)
	}

	start := time.Now()
	sent := 0
	for sent < len(pcm) {
		end := min(sent+frameBytes, len(pcm))
		if err := p.conn.writeBinary(pcm[sent:end]); err != nil {
			return err
		}
		sent = end

		// Stay at most one frame ahead of real time
		ahead := p.format.Duration(sent) - time.Since(start) - playbackFrame
		if ahead > 0 {
			if err := p.sleep(ctx, ahead); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
	}

	// Wait for the tail to finish playing
	if rest := p.format.Duration(sent) - time.Since(start); rest > 0 {
		return p.sleep(ctx, rest)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// announcer mirrors every spoken line to the client as an assistant event
type announcer struct {
	speaker tts.Speaker
	conn    *connection
}

func (a *announcer) Speak(ctx context.Context, text string) error {
	if err := a.conn.writeEvent(ServerEvent{Type: EventAssistant, Text: text}); err != nil {
		return err
	}
	return a.speaker.Speak(ctx, text)
}
