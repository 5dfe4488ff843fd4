// Package config loads and validates the assistant configuration from a
// TOML/YAML/JSON file via viper, with sane defaults for a fresh install.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/guard"
	"github.com/liliang-cn/ragroom/pkg/util"
)

// Backend type names accepted in the configuration file.
var (
	SupportedLLMRunners = []string{"debug", "ollama", "openai", "huggingface"}
	SupportedKBStores   = []string{"sqlite", "qdrant"}
	SupportedDocSources = []string{"local_fs"}
)

type RunnerConfig struct {
	Active bool   `mapstructure:"active"`
	Type   string `mapstructure:"type"`
	Name   string `mapstructure:"name"`
	Host   string `mapstructure:"host"`
	APIKey string `mapstructure:"api_key"`
}

type KBStoreConfig struct {
	StoreType     string `mapstructure:"store_type"`
	Name          string `mapstructure:"name"`
	KBStoreFolder string `mapstructure:"kb_store_folder"`
	Host          string `mapstructure:"host"`
}

type DocSourceConfig struct {
	DocSourceType string `mapstructure:"doc_source_type"`
	Name          string `mapstructure:"name"`
	RootPath      string `mapstructure:"root_path"`
}

// ConvertorSpec selects one conversion inside a knowledge base definition.
type ConvertorSpec struct {
	Conversion string `mapstructure:"conversion" json:"conversion"`
	Model      string `mapstructure:"model" json:"model"`
}

// KnowledgeBaseConfig is the persisted definition of one knowledge base.
type KnowledgeBaseConfig struct {
	Name       string                 `mapstructure:"name" json:"name"`
	FullName   string                 `mapstructure:"full_name" json:"full_name,omitempty"`
	Selection  []string               `mapstructure:"selection" json:"selection"`
	Convertors []ConvertorSpec        `mapstructure:"convertors" json:"convertors"`
	Embedding  domain.EmbeddingConfig `mapstructure:"embedding" json:"embedding"`
	Languages  []string               `mapstructure:"languages" json:"languages,omitempty"`
}

type Config struct {
	Home                 string              `mapstructure:"home"`
	DefaultSystemPrompt  string              `mapstructure:"default_system_prompt"`
	LLMRunners           []RunnerConfig      `mapstructure:"llm_runners"`
	KBStores             []KBStoreConfig     `mapstructure:"kbstores"`
	DocSources           []DocSourceConfig   `mapstructure:"doc_sources"`
	DefaultKnowledgeBase KnowledgeBaseConfig `mapstructure:"default_knowledge_base"`
	RAG                  domain.RAGSettings  `mapstructure:"rag_settings"`
	Guard                guard.Config        `mapstructure:"generation_guard"`
}

// Load reads the configuration file at configPath. When configPath is empty,
// ./ragroom.toml is tried first, then $RAGROOM_HOME/ragroom.toml; a missing
// file yields the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	home := os.Getenv("RAGROOM_HOME")
	if home == "" {
		home = expandHomePath("~/.ragroom")
	}

	if configPath != "" {
		absPath, _ := filepath.Abs(configPath)
		v.SetConfigFile(absPath)
		home = filepath.Dir(absPath)
	} else if _, err := os.Stat("ragroom.toml"); err == nil {
		abs, _ := filepath.Abs("ragroom.toml")
		v.SetConfigFile(abs)
		home = filepath.Dir(abs)
	} else {
		v.SetConfigFile(filepath.Join(home, "ragroom.toml"))
	}

	setDefaults(v, home)

	v.SetEnvPrefix("RAGROOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if configPath != "" {
			return nil, fmt.Errorf("%w: failed to read config file %s: %v",
				domain.ErrConfigurationError, configPath, err)
		}
		// Fresh install, continue with defaults.
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v", domain.ErrConfigurationError, err)
	}
	if config.Home == "" {
		config.Home = home
	}
	config.Home = expandHomePath(config.Home)
	config.expandPaths()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("default_system_prompt", "You are a helpful assistant.")

	v.SetDefault("llm_runners", []map[string]any{{
		"active": true,
		"type":   "ollama",
		"name":   "local_ollama",
		"host":   "http://localhost:11434",
	}})
	v.SetDefault("kbstores", []map[string]any{{
		"store_type":      "sqlite",
		"name":            "default_kbstore",
		"kb_store_folder": filepath.Join(home, "knowledge_bases"),
	}})
	v.SetDefault("doc_sources", []map[string]any{{
		"doc_source_type": "local_fs",
		"name":            "documents",
		"root_path":       filepath.Join(home, "documents"),
	}})

	v.SetDefault("default_knowledge_base.name", "default_knowledge_base")
	v.SetDefault("default_knowledge_base.selection", []string{"documents/**"})
	v.SetDefault("default_knowledge_base.convertors", []map[string]any{{"conversion": "raw"}})
	v.SetDefault("default_knowledge_base.embedding", map[string]any{"model": "nomic-embed-text"})
	v.SetDefault("default_knowledge_base.languages", []string{"eng"})

	v.SetDefault("rag_settings.rag_document_count", 20)
	v.SetDefault("rag_settings.rag_char_chunk_size", 1000)
	v.SetDefault("rag_settings.rag_char_overlap", 200)
	v.SetDefault("rag_settings.rag_similarity_score_threshold", 0.8)
	v.SetDefault("rag_settings.rag_score_margin", 0.2)
	v.SetDefault("rag_settings.rag_cosine_distance_irrelevance_threshold", 1.0)

	v.SetDefault("generation_guard.safe_token_threshold", 4000)
	v.SetDefault("generation_guard.token_check_interval", 100)
	v.SetDefault("generation_guard.max_repeats", 5)
	v.SetDefault("generation_guard.window_size", 50)
}

// Validate checks backend types, runner hosts and name uniqueness.
func (c *Config) Validate() error {
	names := make(map[string]bool)
	for _, r := range c.LLMRunners {
		if !contains(SupportedLLMRunners, r.Type) {
			return fmt.Errorf("%w: llm runner type %q not in supported list %v",
				domain.ErrConfigurationError, r.Type, SupportedLLMRunners)
		}
		if r.Name == "" {
			return fmt.Errorf("%w: llm runner name cannot be empty", domain.ErrConfigurationError)
		}
		if names[r.Name] {
			return fmt.Errorf("%w: duplicate llm runner name %q", domain.ErrConfigurationError, r.Name)
		}
		names[r.Name] = true
		if r.Host != "" && !util.IsValidHost(r.Host) {
			return fmt.Errorf("%w: llm runner host %q is invalid", domain.ErrConfigurationError, r.Host)
		}
	}

	for _, s := range c.KBStores {
		if !contains(SupportedKBStores, s.StoreType) {
			return fmt.Errorf("%w: kb store type %q not in supported list %v",
				domain.ErrConfigurationError, s.StoreType, SupportedKBStores)
		}
		if s.Name == "" {
			return fmt.Errorf("%w: kb store name cannot be empty", domain.ErrConfigurationError)
		}
	}

	for _, s := range c.DocSources {
		if !contains(SupportedDocSources, s.DocSourceType) {
			return fmt.Errorf("%w: doc source type %q not in supported list %v",
				domain.ErrConfigurationError, s.DocSourceType, SupportedDocSources)
		}
		if s.Name == "" {
			return fmt.Errorf("%w: doc source name cannot be empty", domain.ErrConfigurationError)
		}
	}

	if c.RAG.CharChunkSize > 0 && c.RAG.CharOverlap >= c.RAG.CharChunkSize {
		return fmt.Errorf("%w: rag_char_overlap (%d) must be smaller than rag_char_chunk_size (%d)",
			domain.ErrConfigurationError, c.RAG.CharOverlap, c.RAG.CharChunkSize)
	}
	return nil
}

// ActiveRunners returns the runner configs flagged active, preserving order.
func (c *Config) ActiveRunners() []RunnerConfig {
	var active []RunnerConfig
	for _, r := range c.LLMRunners {
		if r.Active {
			active = append(active, r)
		}
	}
	return active
}

func (c *Config) expandPaths() {
	for i := range c.KBStores {
		c.KBStores[i].KBStoreFolder = resolveUnder(c.Home, expandHomePath(c.KBStores[i].KBStoreFolder))
	}
	for i := range c.DocSources {
		c.DocSources[i].RootPath = resolveUnder(c.Home, expandHomePath(c.DocSources[i].RootPath))
	}
}

func resolveUnder(home, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(home, path)
}

func expandHomePath(path string) string {
	if strings.HasPrefix(path, "~/") || path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
		}
	}
	return path
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
