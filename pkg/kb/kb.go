// Package kb manages knowledge bases: named vector collections fed from
// conversion artifacts, plus the on-disk stores that hold their definitions.
package kb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/liliang-cn/ragroom/pkg/chunker"
	"github.com/liliang-cn/ragroom/pkg/config"
	"github.com/liliang-cn/ragroom/pkg/convertor"
	"github.com/liliang-cn/ragroom/pkg/document"
	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/log"
	"github.com/liliang-cn/ragroom/pkg/util"
	"github.com/liliang-cn/ragroom/pkg/vector"
)

const checkCacheFile = "kb_check_cache.json"

// KnowledgeBase binds one vector collection to its definition: which
// documents it selects, how they are converted and which embedding model
// vectorizes them. Its base path holds the config and the per-document
// check cache.
type KnowledgeBase struct {
	cfg        config.KnowledgeBaseConfig
	basePath   string
	collection string
	backend    vector.Backend
	splitter   *chunker.Service
	cacheFile  string
}

func New(cfg config.KnowledgeBaseConfig, basePath string, backend vector.Backend) *KnowledgeBase {
	return &KnowledgeBase{
		cfg:        cfg,
		basePath:   basePath,
		collection: filepath.Base(basePath),
		backend:    backend,
		splitter:   chunker.New(),
		cacheFile:  filepath.Join(basePath, checkCacheFile),
	}
}

func (k *KnowledgeBase) Name() string { return k.cfg.Name }

// FullName is the store-qualified name; equal to Name for an unaddressed
// knowledge base.
func (k *KnowledgeBase) FullName() string {
	if k.cfg.FullName != "" {
		return k.cfg.FullName
	}
	return k.cfg.Name
}

func (k *KnowledgeBase) Selection() []string                { return k.cfg.Selection }
func (k *KnowledgeBase) Convertors() []config.ConvertorSpec { return k.cfg.Convertors }
func (k *KnowledgeBase) Embedding() domain.EmbeddingConfig  { return k.cfg.Embedding }
func (k *KnowledgeBase) BasePath() string                   { return k.basePath }

// Languages are the tesseract character sets used during OCR conversion.
func (k *KnowledgeBase) Languages() []string {
	if len(k.cfg.Languages) == 0 {
		return []string{"eng"}
	}
	return k.cfg.Languages
}

// Config returns the persisted definition, without the full name.
func (k *KnowledgeBase) Config() config.KnowledgeBaseConfig {
	cfg := k.cfg
	cfg.FullName = ""
	return cfg
}

func (k *KnowledgeBase) embedder(source domain.EmbeddingSource) (domain.Embedder, error) {
	embedder := source(k.cfg.Embedding)
	if embedder == nil {
		return nil, fmt.Errorf("%w: no runner serves embedding model %q",
			domain.ErrEmbeddingFailed, k.cfg.Embedding.Model)
	}
	return embedder, nil
}

// RAGLookup embeds the query and returns the closest documents, ordered by
// ascending cosine distance.
func (k *KnowledgeBase) RAGLookup(ctx context.Context, source domain.EmbeddingSource, query string, documentCount int) ([]domain.RetrievedDocument, error) {
	embedder, err := k.embedder(source)
	if err != nil {
		return nil, err
	}
	queryVector, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return k.backend.SimilaritySearch(ctx, k.collection, queryVector, documentCount)
}

// StoreConvertorResult chunks and embeds a conversion artifact into the
// collection. Tampered artifacts are skipped, already complete results
// short-circuit.
func (k *KnowledgeBase) StoreConvertorResult(ctx context.Context, source domain.EmbeddingSource, result *convertor.Result, settings domain.RAGSettings) error {
	if !validateArtifact(result) {
		return nil
	}

	log.Infof("processing %s", result.OutputPath)
	exists, err := k.HasFullConvertorResult(ctx, result)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	log.Infof("[%s] preparing data from %s", result.ConversionType, result.OutputFolder)
	pages := append([]string(nil), result.Pages...)
	sort.Strings(pages)

	records, err := k.buildRecords(result, pages, settings)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	embedder, err := k.embedder(source)
	if err != nil {
		return err
	}
	for i := range records {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrCancelled, err)
		}
		vec, err := embedder.Embed(ctx, records[i].Content)
		if err != nil {
			return err
		}
		records[i].Vector = vec
	}
	return k.backend.Add(ctx, k.collection, records)
}

// buildRecords loads the page files, attaches document metadata and splits
// them into chunk records. Chunk numbering runs across the whole result, so
// completeness checks can compare stored chunk numbers with the recorded
// chunk count.
func (k *KnowledgeBase) buildRecords(result *convertor.Result, pages []string, settings domain.RAGSettings) ([]vector.Record, error) {
	inserted := time.Now().UTC().Format(time.RFC3339Nano)
	docCount := len(pages)

	type pageChunks struct {
		meta   map[string]any
		chunks []string
	}
	var perPage []pageChunks
	totalChunks := 0

	for docNumber, page := range pages {
		content, err := os.ReadFile(page)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read page %s: %v", domain.ErrArtifactInvalid, page, err)
		}

		meta := map[string]any{
			"type":            result.Metadata.Type,
			"inserted":        inserted,
			"conversion":      result.ConversionType,
			"model":           result.Model,
			"document_hash":   result.Metadata.Hash,
			"output_hash":     result.ResultHash,
			"document_number": docNumber + 1,
			"document_count":  docCount,
			"document_path":   result.DocumentPath,
			"source":          page,
		}
		if result.Metadata.Type == document.TypeDocument {
			meta["file_hash"] = result.Metadata.Hash
			meta["filename"] = result.Metadata.Filename
			meta["page_number"] = pageNumber(page)
			meta["page_count"] = docCount
		}

		chunks, err := k.splitter.SplitForRAG(string(content), settings)
		if err != nil {
			return nil, err
		}
		perPage = append(perPage, pageChunks{meta: meta, chunks: chunks})
		totalChunks += len(chunks)
	}

	var records []vector.Record
	chunkNumber := 0
	for _, page := range perPage {
		for _, chunk := range page.chunks {
			chunkNumber++
			if len(chunk) == 0 {
				log.Infof("[%s] dropping empty chunk %d", result.ConversionType, chunkNumber)
				continue
			}
			meta := make(map[string]any, len(page.meta)+2)
			for key, value := range page.meta {
				meta[key] = value
			}
			meta["chunk_number"] = chunkNumber
			meta["chunk_count"] = totalChunks
			records = append(records, vector.Record{
				ID:       uuid.NewString(),
				Content:  chunk,
				Metadata: meta,
			})
		}
	}
	return records, nil
}

// pageNumber parses the trailing dash-separated part of the page file stem.
func pageNumber(page string) int {
	stem := strings.TrimSuffix(filepath.Base(page), filepath.Ext(page))
	parts := strings.Split(stem, "-")
	n, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		log.Errorf("could not get page number out of %s", stem)
		return 0
	}
	return n
}

// HasFullDocument reports whether any complete conversion of doc is stored.
// A positive check cache entry short-circuits for unchanged documents.
func (k *KnowledgeBase) HasFullDocument(ctx context.Context, doc *document.File, forceCheck bool) (bool, error) {
	if k.IsChecked(doc) && !doc.HasChanged && !forceCheck {
		return true, nil
	}
	hash, err := doc.Hash()
	if err != nil {
		return false, err
	}
	records, err := k.backend.Get(ctx, k.collection, map[string]any{"document_hash": hash})
	if err != nil {
		return false, err
	}

	type conversionKey struct {
		outputHash string
		conversion string
		model      string
	}
	groups := make(map[conversionKey][]vector.Record)
	for _, rec := range records {
		key := conversionKey{
			outputHash: metaString(rec.Metadata, "output_hash"),
			conversion: metaString(rec.Metadata, "conversion"),
			model:      metaString(rec.Metadata, "model"),
		}
		groups[key] = append(groups[key], rec)
	}

	for _, group := range groups {
		docNumbers := make(map[int]bool)
		chunkNumbers := make(map[int]bool)
		docCount := metaInt(group[0].Metadata, "document_count")
		chunkCount := metaInt(group[0].Metadata, "chunk_count")
		for _, rec := range group {
			docNumbers[metaInt(rec.Metadata, "document_number")] = true
			chunkNumbers[metaInt(rec.Metadata, "chunk_number")] = true
		}
		if len(docNumbers) == docCount && len(chunkNumbers) == chunkCount {
			return true, nil
		}
	}
	return false, nil
}

// HasFullConvertorResult reports whether the exact artifact (by folder
// digest) is completely stored.
func (k *KnowledgeBase) HasFullConvertorResult(ctx context.Context, result *convertor.Result) (bool, error) {
	records, err := k.backend.Get(ctx, k.collection, map[string]any{"output_hash": result.ResultHash})
	if err != nil {
		return false, err
	}
	if len(records) == 0 {
		return false, nil
	}

	docNumbers := make(map[int]bool)
	chunkNumbers := make(map[int]bool)
	for _, rec := range records {
		docNumbers[metaInt(rec.Metadata, "document_number")] = true
		chunkNumbers[metaInt(rec.Metadata, "chunk_number")] = true
	}
	chunkCount := metaInt(records[0].Metadata, "chunk_count")
	if len(docNumbers) == len(result.Pages) && len(chunkNumbers) == chunkCount {
		log.Infof("[%s] %s already in vector database", result.ConversionType, result.DocumentPath)
		return true, nil
	}
	log.Infof("[%s] %s partially in vector database, reloading", result.ConversionType, result.DocumentPath)
	return false, nil
}

// AddDocPath appends the document's path to the stored records of an
// identical file ingested under another path, so duplicate content is not
// re-embedded.
func (k *KnowledgeBase) AddDocPath(ctx context.Context, doc *document.File, forceCheck bool) error {
	if k.IsChecked(doc) && !doc.HasChanged && !forceCheck {
		return nil
	}
	path := doc.DocumentPath()
	hash, err := doc.Hash()
	if err != nil {
		return err
	}
	records, err := k.backend.Get(ctx, k.collection, map[string]any{"document_hash": hash})
	if err != nil {
		return err
	}

	known := make(map[string]bool)
	for _, rec := range records {
		for _, p := range strings.Split(metaString(rec.Metadata, "document_path"), ";") {
			known[p] = true
		}
	}
	if known[path] {
		return nil
	}

	for i := range records {
		records[i].Metadata["document_path"] = metaString(records[i].Metadata, "document_path") + ";" + path
	}
	return k.backend.Update(ctx, k.collection, records)
}

// NeedsRefresh reports whether replacing this definition with cfg requires
// clearing the stored vectors: a narrowed selection, a rename or a changed
// conversion or embedding setup all invalidate the collection.
func (k *KnowledgeBase) NeedsRefresh(cfg config.KnowledgeBaseConfig) bool {
	for _, existing := range k.cfg.Selection {
		if !containsString(cfg.Selection, existing) {
			return true
		}
	}
	if cfg.Name != k.cfg.Name {
		return true
	}
	if !reflect.DeepEqual(cfg.Convertors, k.cfg.Convertors) {
		return true
	}
	return cfg.Embedding != k.cfg.Embedding
}

// Clear drops the collection and the check cache.
func (k *KnowledgeBase) Clear(ctx context.Context) error {
	k.ClearCache()
	return k.backend.DeleteCollection(ctx, k.collection)
}

type checkEntry struct {
	LastChecked string `json:"last_checked"`
}

// IsChecked reports whether the document passed a completeness check before.
func (k *KnowledgeBase) IsChecked(doc *document.File) bool {
	cache := make(map[string]checkEntry)
	if found, err := util.ReadJSON(k.cacheFile, &cache); err != nil || !found {
		return false
	}
	entry, ok := cache[doc.DocumentPath()]
	return ok && entry.LastChecked != ""
}

// UpdateChecked records a passed completeness check for the document.
func (k *KnowledgeBase) UpdateChecked(doc *document.File) error {
	cache := make(map[string]checkEntry)
	if _, err := util.ReadJSON(k.cacheFile, &cache); err != nil {
		return err
	}
	cache[doc.DocumentPath()] = checkEntry{
		LastChecked: time.Now().UTC().Format(time.RFC3339Nano),
	}
	return util.WriteJSONAtomic(k.cacheFile, cache)
}

func (k *KnowledgeBase) ClearCache() {
	os.Remove(k.cacheFile)
}

// validateArtifact recomputes the artifact folder digest and compares it to
// the hash recorded at conversion time.
func validateArtifact(result *convertor.Result) bool {
	if _, err := os.Stat(result.OutputPath); err != nil {
		log.Infof("data %s does not exist", result.OutputPath)
		return false
	}
	var extras []string
	if result.Model != "" {
		extras = append(extras, result.Model)
	}
	folderHash := util.ComputeFolderHash(result.OutputPath, extras...)
	if folderHash != result.ResultHash {
		log.Warnf("document folder %s contents have been altered", result.OutputPath)
		log.Warnf("original hash: %s, current hash: %s", result.ResultHash, folderHash)
		return false
	}
	return true
}

func metaString(metadata map[string]any, key string) string {
	if s, ok := metadata[key].(string); ok {
		return s
	}
	return ""
}

func metaInt(metadata map[string]any, key string) int {
	switch v := metadata[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
