// Package runner abstracts LLM backends behind one interface for model
// management, embeddings and streaming text generation.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liliang-cn/ragroom/pkg/config"
	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/guard"
	"github.com/liliang-cn/ragroom/pkg/log"
)

const (
	// RandomSeed pins generations for reproducible conversions.
	RandomSeed = 42
	// MaxTokensLimit caps a single generation.
	MaxTokensLimit = 32000
)

// StreamRequest carries the cooperative controls of a streaming generation.
// All fields are optional.
type StreamRequest struct {
	// IsStopped is polled on every streamed event; when it reports true the
	// partial text is finalized with a stop marker.
	IsStopped func() bool
	Guard     *guard.Guard
	Progress  domain.ProgressFunc
	Options   map[string]any
}

func (r *StreamRequest) stopped() bool {
	return r.IsStopped != nil && r.IsStopped()
}

func (r *StreamRequest) publish(p domain.MessageProgress) {
	if r.Progress != nil {
		r.Progress(p)
	}
}

func (r *StreamRequest) guardOrDefault() *guard.Guard {
	if r.Guard == nil {
		return guard.New()
	}
	return r.Guard
}

// Runner is one LLM backend.
type Runner interface {
	// ListChatModels returns models capable of text completion.
	ListChatModels(ctx context.Context) ([]string, error)
	IsModelInstalled(ctx context.Context, model string) bool
	PullModel(ctx context.Context, model string) bool
	RemoveModel(ctx context.Context, model string) bool
	// SupportsThinking reports whether the model emits a separate thinking
	// stream. Unknown capability reads as false.
	SupportsThinking(ctx context.Context, model string) bool

	// RunTextCompletionStreaming generates a response, reporting progress
	// per event. The failed flag marks stopped, guard-tripped or errored
	// generations whose partial text is still returned. A fully empty
	// response is an error.
	RunTextCompletionStreaming(ctx context.Context, model string, messages []domain.Message, req StreamRequest) (string, bool, error)
	// RunTextCompletion generates a response without streaming.
	RunTextCompletion(ctx context.Context, model string, messages []domain.Message, options map[string]any) (string, error)

	// Embedding returns an embedder for the config, or nil when this
	// backend does not serve the model.
	Embedding(ctx context.Context, cfg domain.EmbeddingConfig) domain.Embedder
}

// FromConfig builds the runners for every active entry.
func FromConfig(configs []config.RunnerConfig) []Runner {
	var runners []Runner
	for _, cfg := range configs {
		if !cfg.Active {
			continue
		}
		if cfg.Type == "huggingface" {
			// Accepted in configurations but not served by this build.
			log.Warnf("skipping huggingface runner %q: backend not available", cfg.Name)
			continue
		}
		r, err := newRunner(cfg)
		if err != nil {
			log.Errorf("could not create %s runner %q: %v", cfg.Type, cfg.Name, err)
			continue
		}
		runners = append(runners, r)
	}
	return runners
}

func newRunner(cfg config.RunnerConfig) (Runner, error) {
	switch cfg.Type {
	case "ollama":
		return NewOllama(cfg.Host), nil
	case "openai":
		return NewOpenAI(cfg.APIKey)
	case "debug":
		return NewDebug(), nil
	default:
		return nil, fmt.Errorf("%w: unknown runner type %q", domain.ErrConfigurationError, cfg.Type)
	}
}

// CheckModelInstalled converts a missing model into a descriptive error.
func CheckModelInstalled(ctx context.Context, r Runner, model string) error {
	if r.IsModelInstalled(ctx, model) {
		return nil
	}
	log.Errorf("[LLM_MODEL_NOT_FOUND]_%s_%s", model, time.Now().UTC().Format(time.RFC3339))
	available, _ := r.ListChatModels(ctx)
	return fmt.Errorf("%w: model %q not installed, available models: %s",
		domain.ErrModelNotFound, model, strings.Join(available, ";"))
}

// MessageException is appended to partial output when generation dies
// mid-stream, so the user sees both the text and the failure.
func MessageException(err error) string {
	return "\n\n" +
		"---\n\n" +
		"SYSTEM: \n\n" +
		fmt.Sprintf("LLM generation has failed: %v\n\n", err) +
		"Please try another prompt and/or model in a different chatroom.\n\n" +
		"---\n\n"
}

const (
	statusGenerating = "generating"
	statusError      = "error"

	stoppedMessage      = "LLM model has been stopped"
	infiniteLoopMessage = "LLM model has entered an infinite loop and response generation has been stopped. Please try another prompt or model."
)

func mergeOptions(defaults, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
