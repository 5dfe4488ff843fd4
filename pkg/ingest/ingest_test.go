package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/ragroom/pkg/config"
	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/kb"
	"github.com/liliang-cn/ragroom/pkg/runner"
	"github.com/liliang-cn/ragroom/pkg/source"
)

type stubRunner struct {
	embedCalls atomic.Int64
}

func (s *stubRunner) ListChatModels(context.Context) ([]string, error) { return nil, nil }
func (s *stubRunner) IsModelInstalled(context.Context, string) bool    { return true }
func (s *stubRunner) PullModel(context.Context, string) bool           { return false }
func (s *stubRunner) RemoveModel(context.Context, string) bool         { return false }

func (s *stubRunner) SupportsThinking(context.Context, string) bool { return false }

func (s *stubRunner) RunTextCompletionStreaming(context.Context, string, []domain.Message, runner.StreamRequest) (string, bool, error) {
	return "", false, nil
}

func (s *stubRunner) RunTextCompletion(context.Context, string, []domain.Message, map[string]any) (string, error) {
	return "", nil
}

func (s *stubRunner) Embedding(context.Context, domain.EmbeddingConfig) domain.Embedder {
	return stubEmbedder{calls: &s.embedCalls}
}

type stubEmbedder struct {
	calls *atomic.Int64
}

func (e stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	e.calls.Add(1)
	var letters, spaces float64
	for _, r := range text {
		if r == ' ' {
			spaces++
		} else {
			letters++
		}
	}
	return []float64{letters + 1, spaces + 1, float64(len(text)%7) + 1}, nil
}

func testSettings() domain.RAGSettings {
	return domain.RAGSettings{
		DocumentCount:             20,
		CharChunkSize:             1000,
		CharOverlap:               200,
		SimilarityScoreThreshold:  0.8,
		ScoreMargin:               0.2,
		CosineDistanceIrrelevance: 1.0,
	}
}

type harness struct {
	service *Service
	stores  *kb.SuperStore
	runner  *stubRunner
	docRoot string
}

// newHarness wires one sqlite-backed store and one local source named docs
// around a service. convertors defaults to raw when empty.
func newHarness(t *testing.T, convertors ...config.ConvertorSpec) *harness {
	t.Helper()
	if len(convertors) == 0 {
		convertors = []config.ConvertorSpec{{Conversion: "raw"}}
	}

	store, err := kb.NewStore(config.KBStoreConfig{
		StoreType:     "sqlite",
		Name:          "main",
		KBStoreFolder: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.True(t, store.Upsert(config.KnowledgeBaseConfig{
		Name:       "manuals",
		Selection:  []string{"docs/**"},
		Convertors: convertors,
		Embedding:  domain.EmbeddingConfig{Model: "test-embed"},
	}))
	stores := kb.NewSuperStore("", []kb.KBStore{store})

	docRoot := t.TempDir()
	src, err := source.NewLocalFS("docs", docRoot, source.Options{
		CacheDir: t.TempDir(),
		WorkDir:  t.TempDir(),
	})
	require.NoError(t, err)
	super, err := source.NewSuper("", []source.Source{src})
	require.NoError(t, err)

	r := &stubRunner{}
	return &harness{
		service: NewService(stores, super, r, testSettings()),
		stores:  stores,
		runner:  r,
		docRoot: docRoot,
	}
}

func (h *harness) writeDoc(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(h.docRoot, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (h *harness) runOnce(t *testing.T) Status {
	t.Helper()
	h.service.Start(context.Background())
	h.service.Wait()
	return h.service.Status()
}

func TestIngestRun(t *testing.T) {
	h := newHarness(t)
	h.writeDoc(t, "a.txt", "alpha document about storage engines")
	h.writeDoc(t, "sub/b.txt", "beta document about query planners")

	status := h.runOnce(t)
	assert.Equal(t, "done", status.Status)
	assert.False(t, status.Error)
	assert.Greater(t, h.runner.embedCalls.Load(), int64(0))

	kbStatus, err := h.service.KBStatusFor(context.Background(), "manuals")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"docs/a.txt", "docs/sub/b.txt"}, kbStatus.ProcessedDocuments)
	assert.Empty(t, kbStatus.NotProcessedDocuments)

	knowledge := h.stores.Get("manuals")
	results, err := knowledge.RAGLookup(context.Background(), func(cfg domain.EmbeddingConfig) domain.Embedder {
		return h.runner.Embedding(context.Background(), cfg)
	}, "storage engines", 20)
	require.NoError(t, err)
	var contents []string
	for _, r := range results {
		contents = append(contents, r.Content)
	}
	assert.ElementsMatch(t, []string{
		"alpha document about storage engines",
		"beta document about query planners",
	}, contents)
}

func TestIngestSecondRunSkipsUnchangedDocuments(t *testing.T) {
	h := newHarness(t)
	h.writeDoc(t, "a.txt", "stable content")

	status := h.runOnce(t)
	require.Equal(t, "done", status.Status)
	require.False(t, status.Error)
	firstRunCalls := h.runner.embedCalls.Load()

	status = h.runOnce(t)
	assert.Equal(t, "done", status.Status)
	assert.False(t, status.Error)
	assert.Equal(t, firstRunCalls, h.runner.embedCalls.Load())
}

func TestIngestNewDocumentOnSecondRun(t *testing.T) {
	h := newHarness(t)
	h.writeDoc(t, "a.txt", "first")
	require.Equal(t, "done", h.runOnce(t).Status)

	h.writeDoc(t, "b.txt", "second")
	kbStatus, err := h.service.KBStatusFor(context.Background(), "manuals")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/b.txt"}, kbStatus.NotProcessedDocuments)

	status := h.runOnce(t)
	assert.Equal(t, "done", status.Status)
	assert.False(t, status.Error)

	kbStatus, err = h.service.KBStatusFor(context.Background(), "manuals")
	require.NoError(t, err)
	assert.Empty(t, kbStatus.NotProcessedDocuments)
}

func TestIngestSkipsImageConvertorsForTextDocuments(t *testing.T) {
	// ocr only applies to image based documents; raw picks the file up.
	h := newHarness(t,
		config.ConvertorSpec{Conversion: "ocr"},
		config.ConvertorSpec{Conversion: "raw"},
	)
	h.writeDoc(t, "a.txt", "plain text, no pictures")

	status := h.runOnce(t)
	assert.Equal(t, "done", status.Status)
	assert.False(t, status.Error)

	kbStatus, err := h.service.KBStatusFor(context.Background(), "manuals")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/a.txt"}, kbStatus.ProcessedDocuments)
}

func TestIngestReportsErrorWhenNothingConverts(t *testing.T) {
	// An image-only convertor chain cannot handle a text document.
	h := newHarness(t, config.ConvertorSpec{Conversion: "ocr"})
	h.writeDoc(t, "a.txt", "text only")

	status := h.runOnce(t)
	assert.Equal(t, "done", status.Status)
	assert.True(t, status.Error)
}

func TestIngestCancelledContext(t *testing.T) {
	h := newHarness(t)
	h.writeDoc(t, "a.txt", "content")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.service.Start(ctx)
	h.service.Wait()

	assert.Equal(t, "cancelled", h.service.Status().Status)
	assert.Zero(t, h.runner.embedCalls.Load())
}

func TestIngestStartWhileActiveIsNoop(t *testing.T) {
	h := newHarness(t)
	h.service.Start(context.Background())
	h.service.Start(context.Background())
	h.service.Wait()
	assert.Equal(t, "done", h.service.Status().Status)
}

func TestSelectionListingChecksCancellationPerPattern(t *testing.T) {
	h := newHarness(t)
	h.writeDoc(t, "a.txt", "first")
	h.writeDoc(t, "sub/b.txt", "second")

	knowledge := h.stores.Get("manuals")
	require.NotNil(t, knowledge)
	cfg := knowledge.Config()
	cfg.Selection = []string{"docs/a.txt", "docs/sub/**"}
	require.True(t, h.stores.Upsert(cfg))
	knowledge = h.stores.Get("manuals")
	require.NotNil(t, knowledge)

	// Cancellation between patterns stops the walk before the second one.
	var calls int
	_, err := h.service.selectedDocuments(knowledge, func() error {
		calls++
		if calls > 1 {
			return errCancelled
		}
		return nil
	})
	assert.ErrorIs(t, err, errCancelled)
	assert.Equal(t, 2, calls)

	documents, err := h.service.selectedDocuments(knowledge, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/a.txt", "docs/sub/b.txt"}, documents)
}

func TestKBStatusForUnknownBase(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.KBStatusFor(context.Background(), "nosuch")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
