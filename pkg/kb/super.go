package kb

import (
	"sort"
	"strings"

	"github.com/liliang-cn/ragroom/pkg/config"
	"github.com/liliang-cn/ragroom/pkg/log"
)

// KBStore is the surface shared by a concrete Store and a SuperStore, so
// composites can hold other composites as children.
type KBStore interface {
	Name() string
	Refresh()
	List() []*KnowledgeBase
	Get(name string) *KnowledgeBase
	Upsert(cfg config.KnowledgeBaseConfig) bool
	Delete(name string) bool
	Close() error
}

// SuperStore federates child stores behind name-qualified paths: a
// knowledge base "docs" in store "main" is addressed as "main/docs", and a
// nested composite "inner" holding "main" yields "inner/main/docs".
// Unqualified names resolve against the children in registration order.
type SuperStore struct {
	name     string
	children []KBStore
	kbs      map[string]*KnowledgeBase
}

// NewSuperStore builds a composite named name; the root composite uses "".
func NewSuperStore(name string, children []KBStore) *SuperStore {
	s := &SuperStore{name: name, children: children}
	s.Refresh()
	return s
}

func (s *SuperStore) Name() string { return s.name }

// addressed returns a copy of kb carrying the qualified full name.
func addressed(kb *KnowledgeBase, prefix string) *KnowledgeBase {
	clone := *kb
	clone.cfg.FullName = prefix + kb.FullName()
	return &clone
}

func (s *SuperStore) Refresh() {
	kbs := make(map[string]*KnowledgeBase)
	for _, child := range s.children {
		child.Refresh()
		for _, kb := range child.List() {
			akb := addressed(kb, child.Name()+"/")
			kbs[akb.Name()] = akb
		}
	}
	s.kbs = kbs
}

func (s *SuperStore) Children() []KBStore { return s.children }

// List returns every knowledge base across all children, sorted by name.
// Name collisions across children surface the last child's definition, as
// with unqualified Get.
func (s *SuperStore) List() []*KnowledgeBase {
	list := make([]*KnowledgeBase, 0, len(s.kbs))
	for _, kb := range s.kbs {
		list = append(list, kb)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Get resolves a bare or qualified knowledge base name. A qualified name
// routes its first segment to the matching child; nested composites consume
// one segment per level.
func (s *SuperStore) Get(name string) *KnowledgeBase {
	if prefix, rest, ok := strings.Cut(name, "/"); ok {
		for _, child := range s.children {
			if child.Name() != prefix {
				continue
			}
			if kb := child.Get(rest); kb != nil {
				return addressed(kb, prefix+"/")
			}
		}
		return nil
	}
	for _, child := range s.children {
		if kb := child.Get(name); kb != nil {
			return addressed(kb, child.Name()+"/")
		}
	}
	return nil
}

// Upsert routes by the config's full name when present, otherwise the first
// child takes the definition. A remaining qualified suffix is passed down so
// nested composites keep routing; a bare suffix leaves placement to the
// child.
func (s *SuperStore) Upsert(cfg config.KnowledgeBaseConfig) bool {
	defer s.Refresh()

	if cfg.FullName != "" {
		prefix, rest, ok := strings.Cut(cfg.FullName, "/")
		if !ok {
			log.Errorf("failed to upsert %s: full name %q has no store prefix", cfg.Name, cfg.FullName)
			return false
		}
		routed := cfg
		if strings.Contains(rest, "/") {
			routed.FullName = rest
		} else {
			routed.FullName = ""
		}
		for _, child := range s.children {
			if child.Name() == prefix && child.Upsert(routed) {
				return true
			}
		}
		return false
	}
	for _, child := range s.children {
		if child.Upsert(cfg) {
			return true
		}
	}
	return false
}

// Delete removes a qualified knowledge base, one name segment per level.
func (s *SuperStore) Delete(fullName string) bool {
	defer s.Refresh()

	prefix, rest, ok := strings.Cut(fullName, "/")
	if !ok {
		return false
	}
	for _, child := range s.children {
		if child.Name() == prefix && child.Delete(rest) {
			return true
		}
	}
	return false
}

func (s *SuperStore) Close() error {
	var firstErr error
	for _, child := range s.children {
		if err := child.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
