package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/ragroom/pkg/domain"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	r, err := newOpenAI("test-key", filepath.Join(t.TempDir(), "models.json"),
		[]option.RequestOption{option.WithBaseURL(srv.URL), option.WithMaxRetries(0)})
	require.NoError(t, err)
	return r
}

func writeSSE(t *testing.T, w http.ResponseWriter, events ...map[string]any) {
	t.Helper()
	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	for _, event := range events {
		payload, err := json.Marshal(event)
		require.NoError(t, err)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event["type"], payload)
		flusher.Flush()
	}
}

func deltaEvent(text string) map[string]any {
	return map[string]any{"type": "response.output_text.delta", "delta": text}
}

func TestOpenAIStreamingResponsesDialect(t *testing.T) {
	var captured map[string]any
	r := newTestOpenAI(t, func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, http.MethodPost, req.Method)
		require.Equal(t, "/responses", req.URL.Path)
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))

		writeSSE(t, w,
			deltaEvent("Hello"),
			deltaEvent(" world"),
			map[string]any{"type": "response.completed"},
		)
	})

	var progress []domain.MessageProgress
	text, failed, err := r.RunTextCompletionStreaming(context.Background(), "gpt-4.1",
		[]domain.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
		},
		StreamRequest{
			Options:  map[string]any{"seed": RandomSeed, "num_predict": 500},
			Progress: func(p domain.MessageProgress) { progress = append(progress, p) },
		})

	require.NoError(t, err)
	assert.False(t, failed)
	assert.Equal(t, "Hello world", text)

	assert.Equal(t, "gpt-4.1", captured["model"])
	assert.Equal(t, true, captured["stream"])
	assert.Equal(t, float64(500), captured["max_output_tokens"])
	assert.NotContains(t, captured, "seed")

	input, ok := captured["input"].([]any)
	require.True(t, ok)
	require.Len(t, input, 2)
	system := input[0].(map[string]any)
	assert.Equal(t, "system", system["role"])
	assert.Equal(t, "be brief", system["content"])
	user := input[1].(map[string]any)
	assert.Equal(t, "user", user["role"])
	assert.Equal(t, "hi", user["content"])

	// The first chunk has no predecessor, so one progress event arrives.
	require.Len(t, progress, 1)
	assert.Equal(t, "generating", progress[0].Status)
	assert.Equal(t, 2, progress[0].TotalResponseTokens)
}

func TestOpenAIStreamingErrorEvent(t *testing.T) {
	r := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		writeSSE(t, w,
			deltaEvent("partial"),
			map[string]any{"type": "response.error", "message": "model exploded"},
		)
	})

	text, failed, err := r.RunTextCompletionStreaming(context.Background(), "gpt-4.1",
		[]domain.Message{{Role: "user", Content: "hi"}}, StreamRequest{})

	require.NoError(t, err)
	assert.True(t, failed)
	assert.Contains(t, text, "partial")
	assert.Contains(t, text, "LLM generation has failed")
	assert.Contains(t, text, "model exploded")
}

func TestOpenAIStreamingStopped(t *testing.T) {
	r := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		writeSSE(t, w,
			deltaEvent("partial"),
			deltaEvent(" more"),
			deltaEvent(" text"),
			map[string]any{"type": "response.completed"},
		)
	})

	var count atomic.Int32
	text, failed, err := r.RunTextCompletionStreaming(context.Background(), "gpt-4.1",
		[]domain.Message{{Role: "user", Content: "hi"}},
		StreamRequest{IsStopped: func() bool { return count.Add(1) > 2 }})

	require.NoError(t, err)
	assert.True(t, failed)
	assert.True(t, strings.HasSuffix(text, "[STOP]"))
	assert.Contains(t, text, "partial")
}

func TestOpenAIStreamingEmptyResponse(t *testing.T) {
	r := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		writeSSE(t, w, map[string]any{"type": "response.completed"})
	})

	_, _, err := r.RunTextCompletionStreaming(context.Background(), "gpt-4.1",
		[]domain.Message{{Role: "user", Content: "hi"}}, StreamRequest{})
	assert.ErrorIs(t, err, domain.ErrEmptyResponse)
}

func TestOpenAIRunTextCompletion(t *testing.T) {
	var captured map[string]any
	r := newTestOpenAI(t, func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/responses", req.URL.Path)
		body, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"output": []map[string]any{{
				"type": "message",
				"content": []map[string]any{
					{"type": "output_text", "text": "All good."},
				},
			}},
		})
	})

	text, err := r.RunTextCompletion(context.Background(), "gpt-4.1",
		[]domain.Message{{Role: "user", Content: "status?"}},
		map[string]any{"seed": RandomSeed})

	require.NoError(t, err)
	assert.Equal(t, "All good.", text)
	assert.NotContains(t, captured, "stream")
	assert.NotContains(t, captured, "seed")
	assert.Equal(t, float64(MaxTokensLimit), captured["max_output_tokens"])
}
