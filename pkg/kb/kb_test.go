package kb

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/ragroom/pkg/config"
	"github.com/liliang-cn/ragroom/pkg/convertor"
	"github.com/liliang-cn/ragroom/pkg/document"
	"github.com/liliang-cn/ragroom/pkg/domain"
)

type fakeEmbedder struct{ calls int }

// Embed maps text onto a small deterministic vector so identical content
// always lands on the same point.
func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	f.calls++
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

func fakeSource(embedder domain.Embedder) domain.EmbeddingSource {
	return func(domain.EmbeddingConfig) domain.Embedder { return embedder }
}

func testKBConfig(name string) config.KnowledgeBaseConfig {
	return config.KnowledgeBaseConfig{
		Name:       name,
		Selection:  []string{"docs/**"},
		Convertors: []config.ConvertorSpec{{Conversion: "raw"}},
		Embedding:  domain.EmbeddingConfig{Model: "test-embed"},
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(config.KBStoreConfig{
		StoreType:     "sqlite",
		Name:          "main",
		KBStoreFolder: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// convertDoc runs the raw convertor over a fresh text document.
func convertDoc(t *testing.T, name, content, workDir string) (*document.File, *convertor.Result) {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	doc, err := document.New("docs", root, path, workDir, document.FileInfo{})
	require.NoError(t, err)

	result, err := convertor.NewRaw().Convert(context.Background(), doc, convertor.DocumentContext{})
	require.NoError(t, err)
	return doc, result
}

func TestStoreUpsertAndReload(t *testing.T) {
	store := newTestStore(t)

	require.True(t, store.Upsert(testKBConfig("manuals")))
	require.True(t, store.Upsert(testKBConfig("contracts")))

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, "contracts", list[0].Name())
	assert.Equal(t, "manuals", list[1].Name())

	kb := store.Get("manuals")
	require.NotNil(t, kb)
	assert.Equal(t, []string{"docs/**"}, kb.Selection())

	// The definition survives a reload from disk, and the db folder is
	// never mistaken for a knowledge base.
	store.Refresh()
	assert.Len(t, store.List(), 2)
	assert.Nil(t, store.Get(dbFolderName))
}

func TestStoreUpsertKeepsBasePath(t *testing.T) {
	store := newTestStore(t)

	require.True(t, store.Upsert(testKBConfig("manuals")))
	first := store.Get("manuals").BasePath()

	require.True(t, store.Upsert(testKBConfig("manuals")))
	assert.Equal(t, first, store.Get("manuals").BasePath())
}

func TestKBBasePathSanitizesNames(t *testing.T) {
	store := newTestStore(t)

	base := filepath.Base(store.kbBasePath("my kb/with:odd chars"))
	assert.True(t, strings.HasPrefix(base, "my_kb_with_odd_chars-"))

	base = filepath.Base(store.kbBasePath(".hidden"))
	assert.True(t, strings.HasPrefix(base, "kb_.hidden-"))

	long := strings.Repeat("a", 80)
	base = filepath.Base(store.kbBasePath(long))
	assert.True(t, strings.HasPrefix(base, strings.Repeat("a", 50)+"-"))
}

func TestStoreConvertorResultAndCompleteness(t *testing.T) {
	store := newTestStore(t)
	require.True(t, store.Upsert(testKBConfig("manuals")))
	kb := store.Get("manuals")

	embedder := &fakeEmbedder{}
	source := fakeSource(embedder)
	ctx := context.Background()
	settings := domain.RAGSettings{CharChunkSize: 1000, CharOverlap: 200, DocumentCount: 5}

	doc, result := convertDoc(t, "a.txt", "the quick brown fox jumps over the lazy dog", t.TempDir())

	full, err := kb.HasFullConvertorResult(ctx, result)
	require.NoError(t, err)
	assert.False(t, full)

	require.NoError(t, kb.StoreConvertorResult(ctx, source, result, settings))

	records, err := store.Backend().Get(ctx, kb.collection, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	meta := records[0].Metadata
	assert.Equal(t, "document", meta["type"])
	assert.Equal(t, "raw", meta["conversion"])
	assert.Equal(t, result.ResultHash, meta["output_hash"])
	assert.Equal(t, doc.DocumentPath(), meta["document_path"])
	assert.Equal(t, 1, metaInt(meta, "document_number"))
	assert.Equal(t, 1, metaInt(meta, "chunk_number"))
	assert.Equal(t, 1, metaInt(meta, "chunk_count"))
	assert.Equal(t, 1, metaInt(meta, "page_number"))

	full, err = kb.HasFullConvertorResult(ctx, result)
	require.NoError(t, err)
	assert.True(t, full)

	full, err = kb.HasFullDocument(ctx, doc, false)
	require.NoError(t, err)
	assert.True(t, full)

	// Storing again must not duplicate records or re-embed.
	embedded := embedder.calls
	require.NoError(t, kb.StoreConvertorResult(ctx, source, result, settings))
	records, err = store.Backend().Get(ctx, kb.collection, nil)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, embedded, embedder.calls)
}

func TestStoreConvertorResultSkipsTamperedArtifact(t *testing.T) {
	store := newTestStore(t)
	require.True(t, store.Upsert(testKBConfig("manuals")))
	kb := store.Get("manuals")

	ctx := context.Background()
	settings := domain.RAGSettings{CharChunkSize: 1000, CharOverlap: 200}
	_, result := convertDoc(t, "a.txt", "original content", t.TempDir())

	require.NoError(t, os.WriteFile(result.Pages[0], []byte("tampered"), 0o644))
	require.NoError(t, kb.StoreConvertorResult(ctx, fakeSource(&fakeEmbedder{}), result, settings))

	records, err := store.Backend().Get(ctx, kb.collection, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAddDocPathMergesAliases(t *testing.T) {
	store := newTestStore(t)
	require.True(t, store.Upsert(testKBConfig("manuals")))
	kb := store.Get("manuals")

	ctx := context.Background()
	settings := domain.RAGSettings{CharChunkSize: 1000, CharOverlap: 200}
	source := fakeSource(&fakeEmbedder{})

	work := t.TempDir()
	_, result := convertDoc(t, "a.txt", "identical content", work)
	require.NoError(t, kb.StoreConvertorResult(ctx, source, result, settings))

	// The same bytes arrive under a different name.
	alias, _ := convertDoc(t, "copy.txt", "identical content", work)
	require.NoError(t, kb.AddDocPath(ctx, alias, false))

	records, err := store.Backend().Get(ctx, kb.collection, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	paths := strings.Split(records[0].Metadata["document_path"].(string), ";")
	assert.Len(t, paths, 2)
	assert.Contains(t, paths, alias.DocumentPath())

	// A second pass is a no-op.
	require.NoError(t, kb.AddDocPath(ctx, alias, false))
	records, err = store.Backend().Get(ctx, kb.collection, nil)
	require.NoError(t, err)
	paths = strings.Split(records[0].Metadata["document_path"].(string), ";")
	assert.Len(t, paths, 2)
}

func TestCheckCache(t *testing.T) {
	store := newTestStore(t)
	require.True(t, store.Upsert(testKBConfig("manuals")))
	kb := store.Get("manuals")

	doc, _ := convertDoc(t, "a.txt", "content", t.TempDir())
	assert.False(t, kb.IsChecked(doc))

	require.NoError(t, kb.UpdateChecked(doc))
	assert.True(t, kb.IsChecked(doc))

	// A checked, unchanged document short-circuits the completeness check
	// even with nothing stored.
	full, err := kb.HasFullDocument(context.Background(), doc, false)
	require.NoError(t, err)
	assert.True(t, full)

	// Forcing the check consults the backend again.
	full, err = kb.HasFullDocument(context.Background(), doc, true)
	require.NoError(t, err)
	assert.False(t, full)

	kb.ClearCache()
	assert.False(t, kb.IsChecked(doc))
}

func TestUpsertChangedDefinitionClearsVectors(t *testing.T) {
	store := newTestStore(t)
	require.True(t, store.Upsert(testKBConfig("manuals")))
	kb := store.Get("manuals")

	ctx := context.Background()
	settings := domain.RAGSettings{CharChunkSize: 1000, CharOverlap: 200}
	_, result := convertDoc(t, "a.txt", "some content", t.TempDir())
	require.NoError(t, kb.StoreConvertorResult(ctx, fakeSource(&fakeEmbedder{}), result, settings))

	// Changing the embedding model invalidates every stored vector.
	changed := testKBConfig("manuals")
	changed.Embedding.Model = "other-model"
	require.True(t, store.Upsert(changed))

	records, err := store.Backend().Get(ctx, store.Get("manuals").collection, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestNeedsRefresh(t *testing.T) {
	kb := New(testKBConfig("manuals"), t.TempDir(), nil)

	assert.False(t, kb.NeedsRefresh(testKBConfig("manuals")))

	widened := testKBConfig("manuals")
	widened.Selection = append(widened.Selection, "extra/**")
	assert.False(t, kb.NeedsRefresh(widened), "widening the selection keeps existing vectors valid")

	narrowed := testKBConfig("manuals")
	narrowed.Selection = []string{"other/**"}
	assert.True(t, kb.NeedsRefresh(narrowed))

	renamed := testKBConfig("renamed")
	assert.True(t, kb.NeedsRefresh(renamed))

	converted := testKBConfig("manuals")
	converted.Convertors = []config.ConvertorSpec{{Conversion: "ocr"}}
	assert.True(t, kb.NeedsRefresh(converted))
}

func TestRAGLookup(t *testing.T) {
	store := newTestStore(t)
	require.True(t, store.Upsert(testKBConfig("manuals")))
	kb := store.Get("manuals")

	ctx := context.Background()
	settings := domain.RAGSettings{CharChunkSize: 1000, CharOverlap: 200}
	source := fakeSource(&fakeEmbedder{})

	_, result := convertDoc(t, "a.txt", "alpha beta gamma", t.TempDir())
	require.NoError(t, kb.StoreConvertorResult(ctx, source, result, settings))

	docs, err := kb.RAGLookup(ctx, source, "alpha beta gamma", 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "alpha beta gamma", docs[0].Content)
	assert.InDelta(t, 0, docs[0].SimilarityScore, 1e-9)
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)
	require.True(t, store.Upsert(testKBConfig("manuals")))
	basePath := store.Get("manuals").BasePath()

	assert.True(t, store.Delete("manuals"))
	assert.Nil(t, store.Get("manuals"))
	_, err := os.Stat(basePath)
	assert.True(t, os.IsNotExist(err))

	assert.False(t, store.Delete("manuals"))
}

func TestFromConfigSeedsDefaultKnowledgeBase(t *testing.T) {
	folder := t.TempDir()
	stores, err := FromConfig([]config.KBStoreConfig{{
		StoreType:     "sqlite",
		Name:          "main",
		KBStoreFolder: folder,
	}}, testKBConfig("default_knowledge_base"))
	require.NoError(t, err)
	require.Len(t, stores, 1)
	t.Cleanup(func() { stores[0].Close() })

	require.NotNil(t, stores[0].Get("default_knowledge_base"))
}
