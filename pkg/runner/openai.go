package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"

	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/log"
	"github.com/liliang-cn/ragroom/pkg/util"
)

const modelListRefreshInterval = 24 * time.Hour

var defaultOpenAIModels = []string{"gpt-4.1", "gpt-4.1-mini", "gpt-4.1-nano"}

// OpenAI serves chat completions and embeddings from the OpenAI API. The
// exposed model catalog is a curated list persisted next to the process, so
// operators opt models in explicitly instead of exposing the whole account.
type OpenAI struct {
	client        openai.Client
	modelListFile string

	mu           sync.Mutex
	models       []string
	onlineModels []string
	lastUpdate   time.Time
}

func NewOpenAI(apiKey string) (*OpenAI, error) {
	return newOpenAI(apiKey, "openai_models.json", nil)
}

func newOpenAI(apiKey, modelListFile string, extraOptions []option.RequestOption) (*OpenAI, error) {
	opts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, extraOptions...)
	r := &OpenAI{
		client:        openai.NewClient(opts...),
		modelListFile: modelListFile,
	}

	var stored []string
	found, err := util.ReadJSON(modelListFile, &stored)
	if err != nil {
		return nil, err
	}
	if found {
		r.models = dedupeSorted(stored)
	} else {
		r.models = append([]string(nil), defaultOpenAIModels...)
		if err := r.saveModels(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *OpenAI) saveModels() error {
	return util.WriteJSONAtomic(r.modelListFile, r.models)
}

// onlineModelList refreshes the account's model catalog at most daily.
func (r *OpenAI) onlineModelList(ctx context.Context) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastUpdate.IsZero() || time.Since(r.lastUpdate) > modelListRefreshInterval {
		var online []string
		iter := r.client.Models.ListAutoPaging(ctx)
		for iter.Next() {
			online = append(online, iter.Current().ID)
		}
		if err := iter.Err(); err != nil {
			log.Errorf("failed to list openai models: %v", err)
			return r.onlineModels
		}
		r.onlineModels = online
		r.lastUpdate = time.Now()
	}
	return r.onlineModels
}

// ListChatModels returns the curated models that still exist online.
func (r *OpenAI) ListChatModels(ctx context.Context) ([]string, error) {
	online := r.onlineModelList(ctx)

	r.mu.Lock()
	curated := append([]string(nil), r.models...)
	r.mu.Unlock()

	var models []string
	for _, model := range curated {
		if containsString(online, model) {
			models = append(models, model)
		} else {
			log.Errorf("openai runner: could not find model %s online", model)
		}
	}
	return models, nil
}

func (r *OpenAI) IsModelInstalled(ctx context.Context, model string) bool {
	if model == "" {
		return false
	}
	found, err := r.client.Models.Get(ctx, model)
	if err != nil {
		return false
	}
	return found.ID == model
}

// PullModel verifies the model exists online and adds it to the curated
// list.
func (r *OpenAI) PullModel(ctx context.Context, model string) bool {
	if !r.IsModelInstalled(ctx, model) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !containsString(r.models, model) {
		r.models = append(r.models, model)
		if err := r.saveModels(); err != nil {
			log.Errorf("failed to persist openai model list: %v", err)
		}
	}
	return true
}

// RemoveModel drops the model from the curated list.
func (r *OpenAI) RemoveModel(_ context.Context, model string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.models {
		if m == model {
			r.models = append(r.models[:i], r.models[i+1:]...)
			if err := r.saveModels(); err != nil {
				log.Errorf("failed to persist openai model list: %v", err)
			}
			return true
		}
	}
	return false
}

// SupportsThinking always reports false: the API does not expose whether a
// model reasons before answering.
func (r *OpenAI) SupportsThinking(context.Context, string) bool {
	return false
}

func toResponseInput(messages []domain.Message) responses.ResponseInputParam {
	input := make(responses.ResponseInputParam, 0, len(messages))
	for _, msg := range messages {
		role := responses.EasyInputMessageRole(msg.Role)
		switch role {
		case responses.EasyInputMessageRoleSystem,
			responses.EasyInputMessageRoleAssistant,
			responses.EasyInputMessageRoleDeveloper:
		default:
			role = responses.EasyInputMessageRoleUser
		}
		input = append(input, responses.ResponseInputItemParamOfMessage(msg.Content, role))
	}
	return input
}

func (r *OpenAI) responseParams(model string, messages []domain.Message, options map[string]any) responses.ResponseNewParams {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(model),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: toResponseInput(messages)},
	}

	maxTokens := int64(MaxTokensLimit)
	for key, value := range options {
		switch key {
		case "seed":
			// Seeded sampling is not honored by this backend.
		case "temperature":
			if t, ok := toFloat(value); ok {
				params.Temperature = openai.Float(t)
			}
		case "max_output_tokens", "num_predict":
			if n, ok := toInt(value); ok {
				maxTokens = n
			}
		}
	}
	params.MaxOutputTokens = openai.Int(maxTokens)
	return params
}

func (r *OpenAI) RunTextCompletionStreaming(ctx context.Context, model string, messages []domain.Message, req StreamRequest) (string, bool, error) {
	g := req.guardOrDefault()
	params := r.responseParams(model, messages, req.Options)

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
		if text.Len() > 0 {
			text.WriteString(MessageException(err))
		}
		log.Errorf("error occurred while generating response: %v", err)
		failed = true
	}

	stream := r.client.Responses.NewStreaming(ctx, params)
events:
	for stream.Next() {
		if req.stopped() {
			text.WriteString("[STOP]")
			req.publish(domain.MessageProgress{
				Status:              statusError,
				TotalResponseTokens: numChunks,
				Message:             stoppedMessage,
			})
			return text.String(), true, nil
		}

		event := stream.Current()
		switch event.Type {
		case "response.completed":
			break events
		case "error", "response.error":
			fail(fmt.Errorf("%w: %s", domain.ErrGenerationFailed, event.Message))
			break events
		case "response.output_text.delta":
		default:
			continue
		}
		if event.Delta == "" {
			continue
		}

		now := time.Now()
		chunkText := event.Delta
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
	if err := stream.Err(); err != nil {
		fail(fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err))
	}

	if text.Len() == 0 {
		return "", failed, fmt.Errorf("%w: LLM generated empty response", domain.ErrEmptyResponse)
	}
	return text.String(), failed, nil
}

func (r *OpenAI) RunTextCompletion(ctx context.Context, model string, messages []domain.Message, options map[string]any) (string, error) {
	response, err := r.client.Responses.New(ctx, r.responseParams(model, messages, options))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	output := response.OutputText()
	if output == "" {
		return "", fmt.Errorf("%w: no output returned", domain.ErrGenerationFailed)
	}
	return output, nil
}

// Embedding serves the config only when the model exists on the account.
func (r *OpenAI) Embedding(ctx context.Context, cfg domain.EmbeddingConfig) domain.Embedder {
	if cfg.Model == "" || !r.IsModelInstalled(ctx, cfg.Model) {
		return nil
	}
	return &openAIEmbedder{client: r.client, model: cfg.Model}
}

type openAIEmbedder struct {
	client openai.Client
	model  string
}

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	}
	embedding, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
	}
	if len(embedding.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedding data returned", domain.ErrEmbeddingFailed)
	}

	vec := make([]float64, len(embedding.Data[0].Embedding))
	for i, v := range embedding.Data[0].Embedding {
		vec[i] = float64(v)
	}
	return vec, nil
}

func dedupeSorted(models []string) []string {
	seen := make(map[string]bool, len(models))
	var out []string
	for _, m := range models {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

func toInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	}
	return 0, false
}
