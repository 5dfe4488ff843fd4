package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/log"
)

// Ollama talks to an ollama server over its native HTTP API, streaming chat
// completions as NDJSON.
type Ollama struct {
	host   string
	client *http.Client
}

func NewOllama(host string) *Ollama {
	return &Ollama{
		host:   strings.TrimSuffix(host, "/"),
		client: &http.Client{},
	}
}

type ollamaModelEntry struct {
	Model string `json:"model"`
}

type ollamaTagsResponse struct {
	Models []ollamaModelEntry `json:"models"`
}

type ollamaShowResponse struct {
	Capabilities []string `json:"capabilities"`
}

type ollamaChatChunk struct {
	Message struct {
		Content  string `json:"content"`
		Thinking string `json:"thinking"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

func (o *Ollama) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.host+path, nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (o *Ollama) postJSON(ctx context.Context, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (o *Ollama) installedModels(ctx context.Context) ([]string, error) {
	var tags ollamaTagsResponse
	if err := o.getJSON(ctx, "/api/tags", &tags); err != nil {
		return nil, err
	}
	models := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, m.Model)
	}
	return models, nil
}

func (o *Ollama) capabilities(ctx context.Context, model string) ([]string, error) {
	var show ollamaShowResponse
	if err := o.postJSON(ctx, "/api/show", map[string]string{"model": model}, &show); err != nil {
		return nil, err
	}
	return show.Capabilities, nil
}

func (o *Ollama) ListChatModels(ctx context.Context) ([]string, error) {
	installed, err := o.installedModels(ctx)
	if err != nil {
		return nil, err
	}
	var completionModels []string
	for _, model := range installed {
		caps, err := o.capabilities(ctx, model)
		if err != nil {
			return nil, err
		}
		if containsString(caps, "completion") {
			completionModels = append(completionModels, model)
		}
	}
	return completionModels, nil
}

func (o *Ollama) IsModelInstalled(ctx context.Context, model string) bool {
	if model == "" {
		return false
	}
	installed, err := o.installedModels(ctx)
	if err != nil {
		return false
	}
	return containsString(installed, model)
}

func (o *Ollama) SupportsThinking(ctx context.Context, model string) bool {
	if !o.IsModelInstalled(ctx, model) {
		return false
	}
	caps, err := o.capabilities(ctx, model)
	if err != nil {
		return false
	}
	return containsString(caps, "thinking")
}

func (o *Ollama) PullModel(ctx context.Context, model string) bool {
	var response map[string]any
	err := o.postJSON(ctx, "/api/pull", map[string]any{"name": model, "stream": false}, &response)
	if err != nil {
		log.Errorf("failed to pull model %s: %v", model, err)
		return false
	}
	_, failed := response["error"]
	return !failed
}

func (o *Ollama) RemoveModel(ctx context.Context, model string) bool {
	var response map[string]any
	err := o.postJSON(ctx, "/api/delete", map[string]string{"name": model}, &response)
	if err != nil {
		log.Errorf("failed to remove model %s: %v", model, err)
		return false
	}
	_, failed := response["error"]
	return !failed
}

func (o *Ollama) defaultOptions() map[string]any {
	return map[string]any{
		"seed":        RandomSeed,
		"num_predict": MaxTokensLimit,
	}
}

func (o *Ollama) RunTextCompletionStreaming(ctx context.Context, model string, messages []domain.Message, req StreamRequest) (string, bool, error) {
	options := mergeOptions(o.defaultOptions(), req.Options)
	g := req.guardOrDefault()

	var text strings.Builder
	numChunks := 0
	var lastTime time.Time
	failed := false

	fail := func(err error) {
		req.publish(domain.MessageProgress{
			Status:              statusError,
			TotalResponseTokens: numChunks,
			Message:             err.Error(),
		})
		// Partial output is still worth returning, with the failure noted.
		if text.Len() > 0 {
			text.WriteString(MessageException(err))
		}
		log.Errorf("error occurred while generating response: %v", err)
		failed = true
	}

	payload, err := json.Marshal(map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   true,
		"options":  options,
	})
	if err != nil {
		return "", true, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", true, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		fail(err)
	} else {
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			log.Errorf("STATUS: %d. Message: %s", resp.StatusCode, body)
			fail(fmt.Errorf("%w: chat endpoint returned status %d", domain.ErrGenerationFailed, resp.StatusCode))
		} else {
			scanner := bufio.NewScanner(resp.Body)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				if req.stopped() {
					text.WriteString("[STOP]")
					req.publish(domain.MessageProgress{
						Status:              statusError,
						TotalResponseTokens: numChunks,
						Message:             stoppedMessage,
					})
					return text.String(), true, nil
				}
				line := bytes.TrimSpace(scanner.Bytes())
				if len(line) == 0 {
					continue
				}
				var chunk ollamaChatChunk
				if err := json.Unmarshal(line, &chunk); err != nil {
					fail(fmt.Errorf("%w: bad stream chunk: %v", domain.ErrGenerationFailed, err))
					break
				}
				if chunk.Done {
					break
				}
				if chunk.Error != "" {
					fail(fmt.Errorf("%w: %s", domain.ErrGenerationFailed, chunk.Error))
					break
				}

				now := time.Now()
				// A thinking-to-content transition is progress, not a loop.
				g.ThinkContentSwitch(chunk.Message.Thinking, chunk.Message.Content)
				chunkText := chunk.Message.Content
				if chunkText == "" {
					chunkText = chunk.Message.Thinking
				}
				numChunks++
				g.AccumulateTokens(chunkText)
				text.WriteString(chunkText)

				if !lastTime.IsZero() {
					req.publish(domain.MessageProgress{
						Status:              statusGenerating,
						NewTokens:           1,
						DurationSeconds:     now.Sub(lastTime).Seconds(),
						TotalResponseTokens: numChunks,
					})
				}
				if g.IsInfiniteGeneration() {
					req.publish(domain.MessageProgress{
						Status:              statusError,
						TotalResponseTokens: numChunks,
						Message:             infiniteLoopMessage,
					})
					text.WriteString(g.MessageInfiniteLoop())
					log.Error(infiniteLoopMessage)
					return text.String(), true, nil
				}
				lastTime = now
			}
			if err := scanner.Err(); err != nil && !failed {
				fail(err)
			}
		}
	}

	if text.Len() == 0 {
		return "", failed, fmt.Errorf("%w: LLM generated empty response", domain.ErrEmptyResponse)
	}
	return text.String(), failed, nil
}

func (o *Ollama) RunTextCompletion(ctx context.Context, model string, messages []domain.Message, options map[string]any) (string, error) {
	payload := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   false,
		"options":  mergeOptions(o.defaultOptions(), options),
	}
	var response struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Error string `json:"error"`
	}
	if err := o.postJSON(ctx, "/api/chat", payload, &response); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	if response.Error != "" {
		return "", fmt.Errorf("%w: %s", domain.ErrGenerationFailed, response.Error)
	}
	return response.Message.Content, nil
}

// Embedding serves the config only when the model is installed on this host.
func (o *Ollama) Embedding(ctx context.Context, cfg domain.EmbeddingConfig) domain.Embedder {
	if cfg.Model == "" || !o.IsModelInstalled(ctx, cfg.Model) {
		return nil
	}
	return &ollamaEmbedder{runner: o, model: cfg.Model}
}

type ollamaEmbedder struct {
	runner *Ollama
	model  string
}

func (e *ollamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	var response struct {
		Embeddings [][]float64 `json:"embeddings"`
		Error      string      `json:"error"`
	}
	payload := map[string]any{"model": e.model, "input": text}
	if err := e.runner.postJSON(ctx, "/api/embed", payload, &response); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrEmbeddingFailed, response.Error)
	}
	if len(response.Embeddings) == 0 {
		return nil, errors.New("embedding response contained no vectors")
	}
	return response.Embeddings[0], nil
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
