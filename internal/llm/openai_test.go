package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/meeting-agent/internal/resilience"
)

type chatRequest struct {
	Model          string `json:"model"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatResponse(content string) string {
	body, _ := json.Marshal(map[string]interface{}{
		"id":     "cmpl-1",
		"object": "chat.completion",
		"model":  "llama",
		"choices": []map[string]interface{}{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]string{"role": "assistant", "content": content},
		}},
	})
	return string(body)
}

func newTestCompleter(t *testing.T, handler http.HandlerFunc) *OpenAICompleter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewOpenAICompleter(OpenAIConfig{
		APIKey:  "groq-key",
		BaseURL: srv.URL + "/v1",
		Model:   "llama",
		Retry:   &resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1},
	})
	require.NoError(t, err)
	return c
}

func TestOpenAICompleter_Complete(t *testing.T) {
	c := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer groq-key", r.Header.Get("Authorization"))

		var req chatRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.Equal(t, "llama", req.Model)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, "user", req.Messages[1].Role)
			assert.Equal(t, "what did we decide?", req.Messages[1].Content)
		}
		if assert.NotNil(t, req.ResponseFormat) {
			assert.Equal(t, "json_object", req.ResponseFormat.Type)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatResponse("  {\"action\":\"no_action\"}  "))
	})

	out, err := c.Complete(context.Background(), Request{System: "be brief", Prompt: "what did we decide?", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"action":"no_action"}`, out)
}

func TestOpenAICompleter_RetriesRateLimit(t *testing.T) {
	var calls int32
	c := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
			return
		}
		fmt.Fprint(w, chatResponse("ok"))
	})

	out, err := c.Complete(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestOpenAICompleter_EmptyCompletion(t *testing.T) {
	c := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatResponse("   "))
	})

	_, err := c.Complete(context.Background(), Request{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestNewOpenAICompleter_Validation(t *testing.T) {
	_, err := NewOpenAICompleter(OpenAIConfig{Model: "llama"})
	assert.Error(t, err)
	_, err = NewOpenAICompleter(OpenAIConfig{APIKey: "k"})
	assert.Error(t, err)
}

func TestCompleterFunc(t *testing.T) {
	var c Completer = CompleterFunc(func(ctx context.Context, req Request) (string, error) {
		return "echo: " + req.Prompt, nil
	})
	out, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "echo: x", out)
}
