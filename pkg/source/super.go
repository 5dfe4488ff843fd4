package source

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/liliang-cn/ragroom/pkg/document"
	"github.com/liliang-cn/ragroom/pkg/domain"
)

// Super aggregates child sources under one namespace. With an empty name it
// is transparent: child paths pass through unprefixed.
type Super struct {
	name    string
	sources []Source
}

func NewSuper(name string, sources []Source) (*Super, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	kept := make([]Source, 0, len(sources))
	for _, s := range sources {
		if s != nil && s.Name() != "" {
			kept = append(kept, s)
		}
	}
	return &Super{name: name, sources: kept}, nil
}

func (s *Super) Name() string { return s.name }
func (s *Super) Type() string { return "super" }

// Sources returns the child sources in registration order.
func (s *Super) Sources() []Source { return s.sources }

func (s *Super) List(pattern string) ([]Item, error) {
	if pattern == "*" {
		items := make([]Item, 0, len(s.sources))
		for _, child := range s.sources {
			items = append(items, Item{Path: child.Name(), IsDir: true})
		}
		return items, nil
	}

	posix := filepath.ToSlash(pattern)
	segments := strings.Split(posix, "/")

	// A bare child name lists that child's root.
	if len(segments) == 1 && !isGlobPattern(pattern) {
		for _, child := range s.sources {
			if child.Name() == pattern {
				return child.List("*")
			}
		}
		return nil, nil
	}

	var items []Item
	for _, child := range s.sources {
		if segments[0] != child.Name() && segments[0] != "**" {
			continue
		}
		childItems, err := child.List(pattern)
		if err != nil {
			return nil, err
		}
		for _, item := range childItems {
			path := item.Path
			if s.name != "" {
				path = s.name + "/" + path
			}
			if strings.HasSuffix(path, "/.") {
				continue
			}
			items = append(items, Item{Path: path, IsFile: item.IsFile, IsDir: item.IsDir})
		}
	}
	return items, nil
}

func (s *Super) Get(path string) (*document.File, error) {
	docPath := filepath.ToSlash(path)
	if s.name != "" {
		_, rest, found := strings.Cut(docPath, "/")
		if !found {
			return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, path)
		}
		docPath = rest
	}
	for _, child := range s.sources {
		if doc, err := child.Get(docPath); err == nil {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, path)
}

func (s *Super) UpdateCache(doc *document.File) error {
	for _, child := range s.sources {
		if child.Name() == doc.SourceName {
			return child.UpdateCache(doc)
		}
	}
	return fmt.Errorf("%w: no source named %s", domain.ErrDocumentNotFound, doc.SourceName)
}
