package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/ragroom/pkg/config"
	"github.com/liliang-cn/ragroom/pkg/domain"
)

type stubRunner struct {
	models   map[string]bool
	response string
	thinking bool
	calls    int
}

func (s *stubRunner) ListChatModels(context.Context) ([]string, error) {
	var models []string
	for m := range s.models {
		models = append(models, m)
	}
	return models, nil
}

func (s *stubRunner) IsModelInstalled(_ context.Context, model string) bool {
	return s.models[model]
}

func (s *stubRunner) PullModel(_ context.Context, model string) bool {
	if s.models == nil {
		return false
	}
	s.models[model] = true
	return true
}

func (s *stubRunner) RemoveModel(_ context.Context, model string) bool {
	delete(s.models, model)
	return true
}

func (s *stubRunner) SupportsThinking(context.Context, string) bool {
	return s.thinking
}

func (s *stubRunner) RunTextCompletionStreaming(context.Context, string, []domain.Message, StreamRequest) (string, bool, error) {
	s.calls++
	return s.response, false, nil
}

func (s *stubRunner) RunTextCompletion(context.Context, string, []domain.Message, map[string]any) (string, error) {
	s.calls++
	return s.response, nil
}

func (s *stubRunner) Embedding(context.Context, domain.EmbeddingConfig) domain.Embedder {
	return nil
}

func TestSuperDispatchesToInstallingRunner(t *testing.T) {
	first := &stubRunner{models: map[string]bool{"a": true}, response: "from-first"}
	second := &stubRunner{models: map[string]bool{"b": true}, response: "from-second"}
	super := NewSuper([]Runner{first, second})

	text, failed, err := super.RunTextCompletionStreaming(context.Background(), "b", nil, StreamRequest{})
	require.NoError(t, err)
	assert.False(t, failed)
	assert.Equal(t, "from-second", text)
	assert.Zero(t, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestSuperUnknownModel(t *testing.T) {
	super := NewSuper([]Runner{&stubRunner{models: map[string]bool{"a": true}}})

	_, failed, err := super.RunTextCompletionStreaming(context.Background(), "nope", nil, StreamRequest{})
	assert.True(t, failed)
	assert.ErrorIs(t, err, domain.ErrModelNotFound)

	_, err = super.RunTextCompletion(context.Background(), "nope", nil, nil)
	assert.ErrorIs(t, err, domain.ErrModelNotFound)
}

func TestSuperMergesModelLists(t *testing.T) {
	super := NewSuper([]Runner{
		&stubRunner{models: map[string]bool{"a": true}},
		&stubRunner{models: map[string]bool{"b": true}},
	})

	models, err := super.ListChatModels(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, models)
	assert.True(t, super.IsModelInstalled(context.Background(), "a"))
	assert.True(t, super.IsModelInstalled(context.Background(), "b"))
	assert.False(t, super.IsModelInstalled(context.Background(), "c"))
}

func TestSuperRemoveFromAllChildren(t *testing.T) {
	first := &stubRunner{models: map[string]bool{"shared": true}}
	second := &stubRunner{models: map[string]bool{"shared": true}}
	super := NewSuper([]Runner{first, second})

	assert.True(t, super.RemoveModel(context.Background(), "shared"))
	assert.False(t, first.models["shared"])
	assert.False(t, second.models["shared"])
}

func TestDebugRunner(t *testing.T) {
	d := NewDebug()

	models, err := d.ListChatModels(context.Background())
	require.NoError(t, err)
	assert.Contains(t, models, "debug_lorem_ipsum")
	assert.True(t, d.IsModelInstalled(context.Background(), "debug_code"))

	text, failed, err := d.RunTextCompletionStreaming(context.Background(), "debug_code", nil, StreamRequest{})
	require.NoError(t, err)
	assert.False(t, failed)
	assert.Contains(t, text, "Lorem Ipsum")
}

func TestFromConfigSkipsInactive(t *testing.T) {
	runners := FromConfig([]config.RunnerConfig{
		{Active: true, Type: "debug", Name: "d"},
		{Active: false, Type: "debug", Name: "off"},
		{Active: true, Type: "ollama", Name: "o", Host: "http://localhost:11434"},
	})
	assert.Len(t, runners, 2)
}

func TestFromConfigSkipsHuggingface(t *testing.T) {
	runners := FromConfig([]config.RunnerConfig{
		{Active: true, Type: "huggingface", Name: "hf"},
		{Active: true, Type: "debug", Name: "d"},
	})
	require.Len(t, runners, 1)
	assert.True(t, runners[0].IsModelInstalled(context.Background(), "debug_code"))
}
