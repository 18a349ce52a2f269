package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lexiqai/meeting-agent/internal/audio"
	"github.com/lexiqai/meeting-agent/internal/resilience"
)

const (
	cartesiaURL     = "https://api.cartesia.ai/tts/bytes"
	cartesiaVersion = "2024-06-10"
)

// CartesiaConfig configures the Cartesia client
type CartesiaConfig struct {
	APIKey     string
	VoiceID    string
	ModelID    string
	SampleRate int
	BaseURL    string // overrides the API endpoint, used by tests

	Retry   *resilience.RetryConfig
	Breaker *resilience.CircuitBreaker
}

// CartesiaClient implements Synthesizer using Cartesia's bytes endpoint
type CartesiaClient struct {
	cfg        CartesiaConfig
	httpClient *http.Client
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// cartesiaRequest represents the request payload for the Cartesia TTS API
type cartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoice        `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

// NewCartesiaClient creates a new Cartesia TTS client
func NewCartesiaClient(cfg CartesiaConfig) (*CartesiaClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("cartesia: api key is required")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = cartesiaURL
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker("cartesia", 5, 30*time.Second)
	}

	return &CartesiaClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Format implements Synthesizer
func (c *CartesiaClient) Format() audio.Format {
	return audio.Format{SampleRate: c.cfg.SampleRate, Channels: 1}
}

// Synthesize converts text to raw PCM
func (c *CartesiaClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(cartesiaRequest{
		ModelID:    c.cfg.ModelID,
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: c.cfg.VoiceID},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.cfg.SampleRate,
		},
		Language: "en",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var pcm []byte
	err = c.cfg.Breaker.Call(func() error {
		return resilience.Retry(ctx, c.cfg.Retry, resilience.IsRetryableNetworkError, func(ctx context.Context) error {
			out, postErr := c.post(ctx, body)
			if postErr != nil {
				return postErr
			}
			pcm = out
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return pcm, nil
}

func (c *CartesiaClient) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("cartesia API returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, resilience.NewRetryableError(err)
		}
		return nil, err
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading Cartesia audio response: %w", err)
	}
	if len(pcm) == 0 {
		return nil, errors.New("cartesia returned empty audio data")
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	return pcm, nil
}
