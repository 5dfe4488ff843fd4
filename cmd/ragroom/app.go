package main

import (
	"fmt"
	"path/filepath"

	"github.com/liliang-cn/ragroom/pkg/config"
	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/ingest"
	"github.com/liliang-cn/ragroom/pkg/kb"
	"github.com/liliang-cn/ragroom/pkg/runner"
	"github.com/liliang-cn/ragroom/pkg/source"
)

// app holds the wired services every subcommand works against.
type app struct {
	cfg      *config.Config
	runner   runner.Runner
	kbStores *kb.SuperStore
	docs     source.Source
	ingester *ingest.Service
}

func buildApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	runners := runner.FromConfig(cfg.LLMRunners)
	if len(runners) == 0 {
		return nil, fmt.Errorf("%w: no active llm runner could be created", domain.ErrConfigurationError)
	}
	run := runner.NewSuper(runners)

	stores, err := kb.FromConfig(cfg.KBStores, cfg.DefaultKnowledgeBase)
	if err != nil {
		return nil, err
	}
	children := make([]kb.KBStore, 0, len(stores))
	for _, store := range stores {
		children = append(children, store)
	}
	kbStores := kb.NewSuperStore("", children)

	var sources []source.Source
	for _, sc := range cfg.DocSources {
		src, err := source.NewLocalFS(sc.Name, sc.RootPath, source.Options{
			CacheDir: filepath.Join(cfg.Home, source.DefaultCacheDir),
			WorkDir:  cfg.Home,
		})
		if err != nil {
			kbStores.Close()
			return nil, err
		}
		sources = append(sources, src)
	}
	docs, err := source.NewSuper("", sources)
	if err != nil {
		kbStores.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		runner:   run,
		kbStores: kbStores,
		docs:     docs,
		ingester: ingest.NewService(kbStores, docs, run, cfg.RAG),
	}, nil
}

func (a *app) Close() {
	if err := a.kbStores.Close(); err != nil {
		fmt.Printf("Warning: failed to close knowledge base stores: %v\n", err)
	}
}
