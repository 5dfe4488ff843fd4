package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultConfigTemplate = `# ragroom configuration

# home = "~/.ragroom"
default_system_prompt = "You are a helpful assistant."

[[llm_runners]]
active = true
type = "ollama"
name = "local_ollama"
host = "http://localhost:11434"

# [[llm_runners]]
# active = true
# type = "openai"
# name = "openai"
# api_key = "sk-..."

[[kbstores]]
store_type = "sqlite"
name = "default_kbstore"
kb_store_folder = "knowledge_bases"

[[doc_sources]]
doc_source_type = "local_fs"
name = "documents"
root_path = "documents"

[default_knowledge_base]
name = "default_knowledge_base"
selection = ["documents/**"]
languages = ["eng"]

[[default_knowledge_base.convertors]]
conversion = "raw"

[default_knowledge_base.embedding]
model = "nomic-embed-text"

[rag_settings]
rag_document_count = 20
rag_char_chunk_size = 1000
rag_char_overlap = 200
rag_similarity_score_threshold = 0.8
rag_score_margin = 0.2
rag_cosine_distance_irrelevance_threshold = 1.0

[generation_guard]
safe_token_threshold = 4000
token_check_interval = 100
max_repeats = 5
window_size = 50
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Writes a commented default ragroom.toml and creates the document and
knowledge base directories next to it. Uses --config as the target path
when given, ./ragroom.toml otherwise.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = "ragroom.toml"
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o644); err != nil {
			return err
		}

		home := filepath.Dir(path)
		for _, dir := range []string{"documents", "knowledge_bases"} {
			if err := os.MkdirAll(filepath.Join(home, dir), 0o755); err != nil {
				return err
			}
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}
