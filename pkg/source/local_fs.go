package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/liliang-cn/ragroom/pkg/document"
	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/log"
)

// LocalFS serves documents from a directory tree on the local filesystem.
type LocalFS struct {
	name     string
	rootPath string
	workDir  string
	cache    *hashCache
}

// Options tunes cache and artifact placement. Zero values mean the default
// cache dir and the current working directory.
type Options struct {
	CacheDir string
	WorkDir  string
}

// NewLocalFS creates the source, its root directory and its hash cache.
func NewLocalFS(name, rootPath string, opts Options) (*LocalFS, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create source root %s: %v", domain.ErrConfigurationError, rootPath, err)
	}
	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = DefaultCacheDir
	}
	cache, err := newHashCache(cacheDir, name)
	if err != nil {
		return nil, err
	}
	return &LocalFS{
		name:     name,
		rootPath: rootPath,
		workDir:  opts.WorkDir,
		cache:    cache,
	}, nil
}

func (s *LocalFS) Name() string { return s.name }
func (s *LocalFS) Type() string { return "local_fs" }
func (s *LocalFS) Root() string { return s.rootPath }

func (s *LocalFS) List(pattern string) ([]Item, error) {
	rel := filepath.ToSlash(pattern)
	if strings.HasPrefix(rel, s.name) {
		rel = strings.TrimLeft(strings.TrimPrefix(rel, s.name), "/")
	}

	if !isGlobPattern(rel) {
		target := s.rootPath
		if rel != "" {
			target = filepath.Join(s.rootPath, filepath.FromSlash(rel))
		}
		if info, err := os.Stat(target); err == nil {
			if info.IsDir() {
				// A directory pattern lists its direct children.
				rel = strings.TrimLeft(rel+"/*", "/")
			} else {
				return []Item{{Path: filepath.ToSlash(pattern), IsFile: true}}, nil
			}
		}
	}

	matches, err := doublestar.FilepathGlob(filepath.Join(s.rootPath, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("%w: bad pattern %q: %v", domain.ErrInvalidInput, pattern, err)
	}

	var items []Item
	for _, match := range matches {
		relPath, err := filepath.Rel(s.rootPath, match)
		if err != nil {
			continue
		}
		qualified := filepath.ToSlash(filepath.Join(s.name, relPath))
		if strings.HasSuffix(qualified, "/.") {
			continue
		}
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		items = append(items, Item{
			Path:   qualified,
			IsFile: !info.IsDir(),
			IsDir:  info.IsDir(),
		})
	}
	return items, nil
}

func (s *LocalFS) Get(path string) (*document.File, error) {
	sourceName, docPath, found := strings.Cut(filepath.ToSlash(path), "/")
	if !found || sourceName != s.name {
		return nil, fmt.Errorf("%w: %s does not belong to source %s", domain.ErrDocumentNotFound, path, s.name)
	}

	fullPath := filepath.Join(s.rootPath, filepath.FromSlash(docPath))
	info, err := os.Stat(fullPath)
	if err != nil {
		log.Errorf("failed while retrieving document %s from source %s: %v", docPath, s.name, err)
		return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, path)
	}

	precalcHash := ""
	hasChanged := false
	if cached, ok := s.cache.lookup(filepath.ToSlash(path)); ok {
		if cached.LastModified.Equal(info.ModTime()) && cached.FileSize == info.Size() {
			precalcHash = cached.Hash
		} else {
			hasChanged = true
		}
	}

	doc, err := document.New(s.name, s.rootPath, fullPath, s.workDir, document.FileInfo{
		PrecalcHash:  precalcHash,
		LastModified: info.ModTime(),
		FileSize:     info.Size(),
	})
	if err != nil {
		return nil, err
	}
	doc.HasChanged = hasChanged
	return doc, nil
}

func (s *LocalFS) UpdateCache(doc *document.File) error {
	return s.cache.store(doc)
}

// ClearCache drops every remembered document hash.
func (s *LocalFS) ClearCache() error {
	return s.cache.clear()
}
