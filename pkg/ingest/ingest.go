// Package ingest runs the background worker that feeds documents through
// their convertors into knowledge bases.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liliang-cn/ragroom/pkg/convertor"
	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/kb"
	"github.com/liliang-cn/ragroom/pkg/log"
	"github.com/liliang-cn/ragroom/pkg/runner"
	"github.com/liliang-cn/ragroom/pkg/source"
)

var errCancelled = errors.New("ingestion cancelled")

// Status is the service's progress snapshot.
type Status struct {
	Status    string `json:"status"`
	KBNum     int    `json:"kb_num,omitempty"`
	KBName    string `json:"kb_name,omitempty"`
	KBTotal   int    `json:"kb_total,omitempty"`
	DocNum    int    `json:"doc_num,omitempty"`
	DocPath   string `json:"doc_path,omitempty"`
	DocTotal  int    `json:"doc_total,omitempty"`
	Convertor string `json:"convertor,omitempty"`
	Error     bool   `json:"error,omitempty"`
}

// KBStatus reports which selected documents a knowledge base already holds.
type KBStatus struct {
	ProcessedDocuments    []string `json:"processed_documents"`
	NotProcessedDocuments []string `json:"not_processed_documents"`
}

// Service walks every knowledge base's selection, converts new or changed
// documents and stores the results. One run is active at a time; Stop
// requests cooperative cancellation picked up at checkpoints.
type Service struct {
	stores   *kb.SuperStore
	source   source.Source
	runner   runner.Runner
	settings domain.RAGSettings

	mu     sync.Mutex
	active bool
	wg     sync.WaitGroup

	statusMu sync.RWMutex
	status   Status
}

func NewService(stores *kb.SuperStore, src source.Source, r runner.Runner, settings domain.RAGSettings) *Service {
	return &Service{
		stores:   stores,
		source:   src,
		runner:   r,
		settings: settings,
		status:   Status{Status: "done"},
	}
}

// Start launches a run unless one is already active.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop requests cancellation; the worker exits at its next checkpoint.
func (s *Service) Stop() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// Wait blocks until the current run, if any, has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

func (s *Service) setStatus(status Status) {
	s.statusMu.Lock()
	s.status = status
	s.statusMu.Unlock()
}

func (s *Service) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// KBStatusFor checks every selected document of a knowledge base against
// the stored data.
func (s *Service) KBStatusFor(ctx context.Context, name string) (*KBStatus, error) {
	knowledge := s.stores.Get(name)
	if knowledge == nil {
		return nil, fmt.Errorf("%w: unknown knowledge base %q", domain.ErrInvalidInput, name)
	}
	documents, err := s.selectedDocuments(knowledge, nil)
	if err != nil {
		return nil, err
	}

	status := &KBStatus{
		ProcessedDocuments:    []string{},
		NotProcessedDocuments: []string{},
	}
	for _, path := range documents {
		doc, err := s.source.Get(path)
		if err != nil {
			continue
		}
		full, err := knowledge.HasFullDocument(ctx, doc, false)
		if err != nil {
			return nil, err
		}
		if full {
			status.ProcessedDocuments = append(status.ProcessedDocuments, path)
		} else {
			status.NotProcessedDocuments = append(status.NotProcessedDocuments, path)
		}
	}
	return status, nil
}

// selectedDocuments resolves a knowledge base's selection patterns to a
// sorted, deduplicated file list. A non-nil checkpoint is consulted before
// every pattern.
func (s *Service) selectedDocuments(knowledge *kb.KnowledgeBase, checkpoint func() error) ([]string, error) {
	seen := make(map[string]bool)
	var documents []string
	for _, pattern := range knowledge.Selection() {
		if checkpoint != nil {
			if err := checkpoint(); err != nil {
				return nil, err
			}
		}
		files, err := source.ListFiles(s.source, pattern)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if !seen[f] {
				seen[f] = true
				documents = append(documents, f)
			}
		}
	}
	sort.Strings(documents)
	return documents, nil
}

func (s *Service) run(ctx context.Context) {
	checkpoint := func() error {
		if err := ctx.Err(); err != nil {
			return errCancelled
		}
		if !s.isActive() {
			return errCancelled
		}
		return nil
	}

	s.setStatus(Status{Status: "started"})
	log.Infof("ingestion run started at %s", time.Now().UTC().Format(time.RFC3339))

	err := s.process(ctx, checkpoint)

	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
	log.Infof("ingestion run complete at %s", time.Now().UTC().Format(time.RFC3339))

	final := Status{Status: "done"}
	switch {
	case errors.Is(err, errCancelled):
		final.Status = "cancelled"
	case err != nil:
		log.Errorf("ingestion run failed: %v", err)
		final.Error = true
	}
	s.setStatus(final)
}

func (s *Service) process(ctx context.Context, checkpoint func() error) error {
	embedSource := func(cfg domain.EmbeddingConfig) domain.Embedder {
		return s.runner.Embedding(ctx, cfg)
	}

	errorSeen := false
	kbList := s.stores.List()
	for kbIdx, knowledge := range kbList {
		if err := checkpoint(); err != nil {
			return err
		}
		progress := Status{
			Status:  "processing",
			KBNum:   kbIdx + 1,
			KBName:  knowledge.Name(),
			KBTotal: len(kbList),
		}
		s.setStatus(progress)

		documents, err := s.selectedDocuments(knowledge, checkpoint)
		if errors.Is(err, errCancelled) {
			return err
		}
		if err != nil {
			log.Errorf("failed to list documents for %s: %v", knowledge.Name(), err)
			errorSeen = true
			continue
		}
		convertors := s.buildConvertors(knowledge)
		docCtx := convertor.DocumentContext{CharacterSets: knowledge.Languages()}

		for docIdx, path := range documents {
			if err := checkpoint(); err != nil {
				return err
			}
			progress.DocNum = docIdx + 1
			progress.DocPath = path
			progress.DocTotal = len(documents)
			progress.Convertor = ""
			s.setStatus(progress)

			doc, err := s.source.Get(path)
			if err != nil {
				log.Warnf("could not get document %s: %v", path, err)
				errorSeen = true
				continue
			}

			// Same content already stored under another path is aliased
			// instead of re-ingested.
			full, err := knowledge.HasFullDocument(ctx, doc, false)
			if err != nil {
				return err
			}
			if full {
				if err := knowledge.AddDocPath(ctx, doc, false); err != nil {
					return err
				}
				if err := s.source.UpdateCache(doc); err != nil {
					return err
				}
				if err := knowledge.UpdateChecked(doc); err != nil {
					return err
				}
				continue
			}

			converted := false
			for _, conv := range convertors {
				if err := checkpoint(); err != nil {
					return err
				}
				if conv.ImageBased() && !doc.ImageBased {
					continue
				}
				progress.Convertor = conv.ConversionType()
				s.setStatus(progress)

				result, err := conv.Convert(ctx, doc, docCtx)
				if err != nil {
					log.Errorf("[%s] conversion of %s failed: %v", conv.ConversionType(), path, err)
					continue
				}
				if err := knowledge.StoreConvertorResult(ctx, embedSource, result, s.settings); err != nil {
					return err
				}
				if err := s.source.UpdateCache(doc); err != nil {
					return err
				}
				if err := knowledge.UpdateChecked(doc); err != nil {
					return err
				}
				converted = true
				break
			}
			if !converted {
				log.Errorf("could not convert document %s", path)
				errorSeen = true
			}
		}
	}
	if errorSeen {
		return errors.New("ingestion finished with errors")
	}
	return nil
}

func (s *Service) buildConvertors(knowledge *kb.KnowledgeBase) []convertor.Convertor {
	var convertors []convertor.Convertor
	for _, spec := range knowledge.Convertors() {
		conv, err := convertor.FromConfig(convertor.Config{
			Conversion: spec.Conversion,
			Model:      spec.Model,
		}, s.runner)
		if err != nil {
			log.Errorf("skipping convertor %q for %s: %v", spec.Conversion, knowledge.Name(), err)
			continue
		}
		convertors = append(convertors, conv)
	}
	return convertors
}
