package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"
)

// VertexConfig configures Gemini on Vertex AI
type VertexConfig struct {
	Project     string
	Location    string
	Model       string
	Temperature float32

	// CredentialsFile is optional; application default credentials are used otherwise
	CredentialsFile string
}

// VertexCompleter implements Completer with the Vertex AI Gemini client
type VertexCompleter struct {
	client *genai.Client
	cfg    VertexConfig
}

// NewVertexCompleter opens a Vertex AI client
func NewVertexCompleter(ctx context.Context, cfg VertexConfig) (*VertexCompleter, error) {
	if cfg.Project == "" {
		return nil, errors.New("vertex: project is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := genai.NewClient(ctx, cfg.Project, cfg.Location, opts...)
	if err != nil {
		return nil, fmt.Errorf("vertex: create client: %w", err)
	}
	return &VertexCompleter{client: client, cfg: cfg}, nil
}

// Complete implements Completer
func (v *VertexCompleter) Complete(ctx context.Context, req Request) (string, error) {
	model := v.client.GenerativeModel(v.cfg.Model)
	model.SetTemperature(v.cfg.Temperature)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return "", fmt.Errorf("vertex generate (%s): %w", v.cfg.Model, err)
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		break
	}
	return cleanCompletion(sb.String())
}

// Close releases the underlying client
func (v *VertexCompleter) Close() error {
	return v.client.Close()
}
