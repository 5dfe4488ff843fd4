package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ragroom.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Dir(path), cfg.Home)
	assert.Equal(t, "You are a helpful assistant.", cfg.DefaultSystemPrompt)

	require.Len(t, cfg.LLMRunners, 1)
	assert.Equal(t, "ollama", cfg.LLMRunners[0].Type)
	assert.True(t, cfg.LLMRunners[0].Active)

	require.Len(t, cfg.KBStores, 1)
	assert.Equal(t, "sqlite", cfg.KBStores[0].StoreType)

	assert.Equal(t, 20, cfg.RAG.DocumentCount)
	assert.Equal(t, 1000, cfg.RAG.CharChunkSize)
	assert.Equal(t, 200, cfg.RAG.CharOverlap)
	assert.InDelta(t, 0.8, cfg.RAG.SimilarityScoreThreshold, 1e-9)
	assert.InDelta(t, 1.0, cfg.RAG.CosineDistanceIrrelevance, 1e-9)

	assert.Equal(t, 4000, cfg.Guard.SafeTokenThreshold)
	assert.Equal(t, 100, cfg.Guard.TokenCheckInterval)
	assert.Equal(t, 5, cfg.Guard.MaxRepeats)
	assert.Equal(t, 50, cfg.Guard.WindowSize)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
default_system_prompt = "Be terse."

[[llm_runners]]
active = true
type = "ollama"
name = "box"
host = "http://10.0.0.5:11434"

[[llm_runners]]
active = false
type = "openai"
name = "cloud"
api_key = "sk-test"

[[kbstores]]
store_type = "sqlite"
name = "main"
kb_store_folder = "kbs"

[[doc_sources]]
doc_source_type = "local_fs"
name = "papers"
root_path = "/srv/papers"

[rag_settings]
rag_document_count = 7

[generation_guard]
safe_token_threshold = 10
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "Be terse.", cfg.DefaultSystemPrompt)
	require.Len(t, cfg.LLMRunners, 2)
	assert.Equal(t, "box", cfg.LLMRunners[0].Name)
	assert.Equal(t, "sk-test", cfg.LLMRunners[1].APIKey)

	active := cfg.ActiveRunners()
	require.Len(t, active, 1)
	assert.Equal(t, "box", active[0].Name)

	// Relative store folder resolves under Home, absolute root stays as is.
	assert.Equal(t, filepath.Join(filepath.Dir(path), "kbs"), cfg.KBStores[0].KBStoreFolder)
	assert.Equal(t, "/srv/papers", cfg.DocSources[0].RootPath)

	// Explicit values override defaults, untouched ones keep them.
	assert.Equal(t, 7, cfg.RAG.DocumentCount)
	assert.Equal(t, 1000, cfg.RAG.CharChunkSize)
	assert.Equal(t, 10, cfg.Guard.SafeTokenThreshold)
	assert.Equal(t, 100, cfg.Guard.TokenCheckInterval)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			"unknown runner type",
			"[[llm_runners]]\ntype = \"vllm\"\nname = \"v\"\n",
		},
		{
			"empty runner name",
			"[[llm_runners]]\ntype = \"ollama\"\nname = \"\"\n",
		},
		{
			"duplicate runner names",
			"[[llm_runners]]\ntype = \"ollama\"\nname = \"x\"\n\n[[llm_runners]]\ntype = \"debug\"\nname = \"x\"\n",
		},
		{
			"bad host",
			"[[llm_runners]]\ntype = \"ollama\"\nname = \"x\"\nhost = \"bad host\"\n",
		},
		{
			"unknown store type",
			"[[kbstores]]\nstore_type = \"chroma\"\nname = \"c\"\n",
		},
		{
			"overlap not below chunk size",
			"[rag_settings]\nrag_char_chunk_size = 100\nrag_char_overlap = 100\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadAcceptsHuggingfaceRunner(t *testing.T) {
	path := writeConfig(t, "[[llm_runners]]\nactive = true\ntype = \"huggingface\"\nname = \"hf\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.LLMRunners, 1)
	assert.Equal(t, "huggingface", cfg.LLMRunners[0].Type)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
