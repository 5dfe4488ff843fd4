package runner

import (
	"context"
	"fmt"

	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/log"
)

// Super fans requests out to its child runners, dispatching generation to
// the first one that has the requested model installed.
type Super struct {
	runners []Runner
}

func NewSuper(runners []Runner) *Super {
	return &Super{runners: runners}
}

// Runners returns the children in registration order.
func (s *Super) Runners() []Runner { return s.runners }

// ListChatModels merges the model lists of every child. A failing child is
// logged and skipped, so one dead backend does not hide the others.
func (s *Super) ListChatModels(ctx context.Context) ([]string, error) {
	var models []string
	for _, r := range s.runners {
		runnerModels, err := r.ListChatModels(ctx)
		if err != nil {
			log.Errorf("an error occurred trying to list models: %v", err)
			continue
		}
		models = append(models, runnerModels...)
	}
	return models, nil
}

func (s *Super) IsModelInstalled(ctx context.Context, model string) bool {
	for _, r := range s.runners {
		if r.IsModelInstalled(ctx, model) {
			return true
		}
	}
	return false
}

func (s *Super) PullModel(ctx context.Context, model string) bool {
	for _, r := range s.runners {
		if r.PullModel(ctx, model) {
			return true
		}
	}
	return false
}

// RemoveModel removes from every child that has the model.
func (s *Super) RemoveModel(ctx context.Context, model string) bool {
	removed := false
	for _, r := range s.runners {
		if r.IsModelInstalled(ctx, model) && r.RemoveModel(ctx, model) {
			removed = true
		}
	}
	return removed
}

func (s *Super) SupportsThinking(ctx context.Context, model string) bool {
	for _, r := range s.runners {
		if r.SupportsThinking(ctx, model) {
			return true
		}
	}
	return false
}

func (s *Super) RunTextCompletionStreaming(ctx context.Context, model string, messages []domain.Message, req StreamRequest) (string, bool, error) {
	for _, r := range s.runners {
		if r.IsModelInstalled(ctx, model) {
			return r.RunTextCompletionStreaming(ctx, model, messages, req)
		}
	}
	return "", true, fmt.Errorf("%w: no runner serves model %q", domain.ErrModelNotFound, model)
}

func (s *Super) RunTextCompletion(ctx context.Context, model string, messages []domain.Message, options map[string]any) (string, error) {
	for _, r := range s.runners {
		if r.IsModelInstalled(ctx, model) {
			return r.RunTextCompletion(ctx, model, messages, options)
		}
	}
	return "", fmt.Errorf("%w: no runner serves model %q", domain.ErrModelNotFound, model)
}

func (s *Super) Embedding(ctx context.Context, cfg domain.EmbeddingConfig) domain.Embedder {
	for _, r := range s.runners {
		if embedder := r.Embedding(ctx, cfg); embedder != nil {
			return embedder
		}
	}
	return nil
}
