// Package source lists and retrieves documents from configured locations.
// Source names double as path prefixes, so "docs/notes/a.txt" addresses
// a.txt inside the source named docs.
package source

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/liliang-cn/ragroom/pkg/document"
	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/util"
)

// DefaultCacheDir holds the per-source document hash caches.
var DefaultCacheDir = filepath.Join(".cache", "doc_hash_cache")

// forbiddenNameSymbols would collide with glob patterns or path separators
// in qualified document paths.
var forbiddenNameSymbols = []string{"/", "\\", "*", "?", "[", "]"}

// Item is a single listing entry. Path is slash separated and qualified
// with the source name.
type Item struct {
	Path   string `json:"path"`
	IsFile bool   `json:"is_file"`
	IsDir  bool   `json:"is_dir"`
}

// Source lists documents by glob pattern and materializes them as files.
type Source interface {
	Name() string
	Type() string
	// List resolves a pattern to items. A directory pattern lists its
	// children, a file pattern yields the file itself.
	List(pattern string) ([]Item, error)
	// Get retrieves one document by its qualified path. The file hash is
	// reused from the cache when mtime and size are unchanged.
	Get(path string) (*document.File, error)
	// UpdateCache records the document's hash keyed by its qualified path.
	UpdateCache(doc *document.File) error
}

// ListFiles returns just the file paths matched by pattern.
func ListFiles(s Source, pattern string) ([]string, error) {
	items, err := s.List(pattern)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, item := range items {
		if item.IsFile {
			files = append(files, item.Path)
		}
	}
	return files, nil
}

func validateName(name string) error {
	for _, symbol := range forbiddenNameSymbols {
		if strings.Contains(name, symbol) {
			return fmt.Errorf("%w: source name cannot contain %v, given %q",
				domain.ErrInvalidInput, forbiddenNameSymbols, name)
		}
	}
	return nil
}

func isGlobPattern(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

type hashEntry struct {
	Hash         string    `json:"hash"`
	LastModified time.Time `json:"last_modified"`
	FileSize     int64     `json:"file_size"`
}

// hashCache persists per-document hashes so unchanged files are not
// re-hashed on every listing.
type hashCache struct {
	path    string
	entries map[string]hashEntry
}

func newHashCache(cacheDir, sourceName string) (*hashCache, error) {
	c := &hashCache{
		path:    filepath.Join(cacheDir, sourceName+".json"),
		entries: map[string]hashEntry{},
	}
	if _, err := util.ReadJSON(c.path, &c.entries); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *hashCache) lookup(documentPath string) (hashEntry, bool) {
	entry, ok := c.entries[documentPath]
	return entry, ok
}

func (c *hashCache) store(doc *document.File) error {
	hash, err := doc.Hash()
	if err != nil {
		return err
	}
	c.entries[doc.DocumentPath()] = hashEntry{
		Hash:         hash,
		LastModified: doc.LastModified,
		FileSize:     doc.FileSize,
	}
	return util.WriteJSONAtomic(c.path, c.entries)
}

func (c *hashCache) clear() error {
	c.entries = map[string]hashEntry{}
	return util.WriteJSONAtomic(c.path, c.entries)
}
