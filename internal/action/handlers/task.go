package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/meeting-agent/internal/action"
	"github.com/lexiqai/meeting-agent/internal/intent"
)

const (
	// LinearEndpoint is Linear's GraphQL API
	LinearEndpoint = "https://api.linear.app/graphql"

	issueCreateMutation = `mutation IssueCreate($input: IssueCreateInput!) {
  issueCreate(input: $input) {
    success
    issue { id identifier url }
  }
}`
)

// LinearConfig configures the task handler
type LinearConfig struct {
	APIKey   string
	TeamID   string
	Endpoint string
	Timeout  time.Duration
}

// TaskHandler files task_creation requests as Linear issues
type TaskHandler struct {
	cfg        LinearConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewTaskHandler creates a Linear backed task handler
func NewTaskHandler(cfg LinearConfig, logger zerolog.Logger) (*TaskHandler, error) {
	if cfg.APIKey == "" || cfg.TeamID == "" {
		return nil, errors.New("linear: api key and team id are required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = LinearEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &TaskHandler{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("handler", "task").Logger(),
	}, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type issueCreateResponse struct {
	Data struct {
		IssueCreate struct {
			Success bool `json:"success"`
			Issue   struct {
				ID         string `json:"id"`
				Identifier string `json:"identifier"`
				URL        string `json:"url"`
			} `json:"issue"`
		} `json:"issueCreate"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Execute implements action.Handler
func (h *TaskHandler) Execute(ctx context.Context, req action.Request) action.Result {
	d, ok := req.Payload.(intent.TaskDetails)
	if !ok {
		return action.Failed(unexpectedPayload(req.Payload))
	}

	input := map[string]any{
		"teamId": h.cfg.TeamID,
		"title":  d.Title,
	}
	if d.Description != "" {
		input["description"] = d.Description
	}
	if d.Priority > 0 {
		input["priority"] = d.Priority
	}
	if d.Due != "" {
		input["dueDate"] = d.Due
	}

	body, err := json.Marshal(graphQLRequest{Query: issueCreateMutation, Variables: map[string]any{"input": input}})
	if err != nil {
		return action.Failed(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return action.Failed(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", h.cfg.APIKey)

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return action.Failed(fmt.Errorf("linear request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return action.Failed(fmt.Errorf("read linear response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return action.Failed(fmt.Errorf("linear returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var out issueCreateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return action.Failed(fmt.Errorf("decode linear response: %w", err))
	}
	if len(out.Errors) > 0 {
		return action.Failed(fmt.Errorf("linear: %s", out.Errors[0].Message))
	}
	if !out.Data.IssueCreate.Success {
		return action.Failed(errors.New("linear: issue was not created"))
	}

	issue := out.Data.IssueCreate.Issue
	h.logger.Info().Str("issue", issue.Identifier).Str("url", issue.URL).Msg("Linear issue created")
	return action.Result{Success: true}
}
