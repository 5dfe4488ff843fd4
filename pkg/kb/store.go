package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/liliang-cn/ragroom/pkg/config"
	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/log"
	"github.com/liliang-cn/ragroom/pkg/util"
	"github.com/liliang-cn/ragroom/pkg/vector"
)

// dbFolderName is reserved inside a store folder for the vector database;
// no knowledge base directory ever gets that name.
const dbFolderName = "db"

const configFileName = "config.json"

// Store keeps knowledge base definitions as directories under its folder,
// one per knowledge base, each holding a config.json next to the check
// cache. The vector data lives in a shared backend keyed by collection name.
type Store struct {
	storeType string
	name      string
	folder    string
	backend   vector.Backend

	kbs map[string]*KnowledgeBase
}

// NewStore opens the store folder and its vector backend per cfg.
func NewStore(cfg config.KBStoreConfig) (*Store, error) {
	var backend vector.Backend
	var err error
	switch cfg.StoreType {
	case "sqlite":
		backend, err = vector.NewSQLiteBackend(filepath.Join(cfg.KBStoreFolder, dbFolderName, "vectors.db"))
	case "qdrant":
		backend, err = vector.NewQdrantBackend(cfg.Host)
	default:
		err = fmt.Errorf("%w: unknown kb store type %q", domain.ErrConfigurationError, cfg.StoreType)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{
		storeType: cfg.StoreType,
		name:      cfg.Name,
		folder:    cfg.KBStoreFolder,
		backend:   backend,
	}
	s.Refresh()
	return s, nil
}

// FromConfig opens every configured store. A store that has no knowledge
// bases yet gets the default knowledge base seeded in.
func FromConfig(cfgs []config.KBStoreConfig, defaultKB config.KnowledgeBaseConfig) ([]*Store, error) {
	var stores []*Store
	for _, cfg := range cfgs {
		store, err := NewStore(cfg)
		if err != nil {
			return nil, err
		}
		if len(store.List()) == 0 && defaultKB.Name != "" {
			if !store.Upsert(defaultKB) {
				log.Errorf("failed to seed default knowledge base into store %s", store.Name())
			}
		}
		stores = append(stores, store)
	}
	return stores, nil
}

func (s *Store) Name() string            { return s.name }
func (s *Store) Type() string            { return s.storeType }
func (s *Store) Backend() vector.Backend { return s.backend }

// Refresh reloads the definitions from disk.
func (s *Store) Refresh() {
	s.kbs = s.load()
}

func (s *Store) load() map[string]*KnowledgeBase {
	kbs := make(map[string]*KnowledgeBase)
	entries, err := os.ReadDir(s.folder)
	if err != nil {
		return kbs
	}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == dbFolderName {
			continue
		}
		basePath := filepath.Join(s.folder, entry.Name())
		configPath := filepath.Join(basePath, configFileName)

		var cfg config.KnowledgeBaseConfig
		found, err := util.ReadJSON(configPath, &cfg)
		if err != nil || !found {
			log.Errorf("store %s did not find a usable %s: %v", s.name, configPath, err)
			continue
		}
		kbs[cfg.Name] = New(cfg, basePath, s.backend)
	}
	return kbs
}

// List returns the knowledge bases sorted by name.
func (s *Store) List() []*KnowledgeBase {
	list := make([]*KnowledgeBase, 0, len(s.kbs))
	for _, kb := range s.kbs {
		list = append(list, kb)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

func (s *Store) Get(name string) *KnowledgeBase {
	return s.kbs[name]
}

// Upsert creates or replaces the definition named by cfg. When a critical
// part of an existing definition changed, its stored vectors are cleared so
// the next ingestion rebuilds them.
func (s *Store) Upsert(cfg config.KnowledgeBaseConfig) bool {
	defer s.Refresh()

	cfg.FullName = ""
	var kb *KnowledgeBase
	if existing := s.Get(cfg.Name); existing != nil {
		kb = New(cfg, existing.basePath, s.backend)
		if existing.NeedsRefresh(cfg) {
			log.Infof("knowledge base config has changed, was %v, got %v, clearing old one",
				existing.Config(), cfg)
			if err := existing.Clear(context.Background()); err != nil {
				log.Errorf("failed to clear knowledge base %s: %v", existing.Name(), err)
			}
		}
	} else {
		kb = New(cfg, s.kbBasePath(cfg.Name), s.backend)
	}

	if err := saveConfig(kb); err != nil {
		log.Errorf("failed to upsert knowledge base: %v", err)
		return false
	}
	return true
}

// Delete clears and removes the named knowledge base.
func (s *Store) Delete(name string) bool {
	defer s.Refresh()

	kb := s.Get(name)
	if kb == nil {
		return false
	}
	if err := kb.Clear(context.Background()); err != nil {
		log.Errorf("failed to clear knowledge base %s: %v", name, err)
	}
	if err := os.RemoveAll(kb.basePath); err != nil {
		log.Errorf("failed to delete %s: %v", name, err)
		return false
	}
	return true
}

func (s *Store) Close() error {
	return s.backend.Close()
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// kbBasePath derives a fresh directory for a knowledge base: the name
// truncated and sanitized, suffixed with a UUID for uniqueness.
func (s *Store) kbBasePath(name string) string {
	const maxLength = 50
	short := name
	if len(short) > maxLength {
		short = short[:maxLength]
	}
	cleaned := unsafeNameChars.ReplaceAllString(short, "_")
	if cleaned == "" || strings.ContainsRune("._-", rune(cleaned[0])) {
		cleaned = "kb_" + cleaned
	}
	return filepath.Join(s.folder, cleaned+"-"+uuid.NewString())
}

// saveConfig writes the definition atomically via a .temp sibling.
func saveConfig(kb *KnowledgeBase) error {
	if err := os.MkdirAll(kb.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", kb.basePath, err)
	}
	data, err := json.Marshal(kb.Config())
	if err != nil {
		return fmt.Errorf("failed to encode config for %s: %w", kb.Name(), err)
	}
	configPath := filepath.Join(kb.basePath, configFileName)
	temp := configPath + ".temp"
	if err := os.WriteFile(temp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", temp, err)
	}
	if err := os.Rename(temp, configPath); err != nil {
		os.Remove(temp)
		return fmt.Errorf("failed to replace %s: %w", configPath, err)
	}
	return nil
}
