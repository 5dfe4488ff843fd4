// Package convertor turns source documents into per-page text artifacts.
// Each convertor writes into its own folder under the document's processed
// path and records a folder digest in the metadata sidecar, making completed
// conversions skippable on later runs.
package convertor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/liliang-cn/ragroom/pkg/document"
	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/log"
	"github.com/liliang-cn/ragroom/pkg/util"
)

// Config selects one conversion inside a knowledge base definition.
type Config struct {
	Conversion string `mapstructure:"conversion" json:"conversion"`
	Model      string `mapstructure:"model" json:"model"`
}

// DocumentContext carries knowledge-base level conversion hints.
type DocumentContext struct {
	// CharacterSets are tesseract language codes, e.g. "eng", "deu".
	CharacterSets []string
}

// LLMClient is the slice of a model runner the LLM-backed convertors need.
type LLMClient interface {
	RunTextCompletion(ctx context.Context, model string, messages []domain.Message, options map[string]any) (string, error)
	// SupportsThinking reports whether the model emits structured thinking
	// output. Unknown capability reads as false.
	SupportsThinking(ctx context.Context, model string) bool
}

// Result describes a completed (or cached) conversion.
type Result struct {
	Pages          []string
	Metadata       *document.Metadata
	ConversionType string
	Model          string
	OutputFolder   string
	OutputPath     string
	ResultHash     string
	DocumentPath   string
}

// Convertor produces per-page text for a document.
type Convertor interface {
	ConversionType() string
	Model() string
	OutputFolderName() string
	// ImageBased reports whether the convertor consumes page images rather
	// than the document's own text.
	ImageBased() bool
	Convert(ctx context.Context, doc *document.File, docCtx DocumentContext) (*Result, error)
}

// FromConfig builds the convertor named by cfg. LLM-backed conversions need
// a client; the others ignore it.
func FromConfig(cfg Config, client LLMClient) (Convertor, error) {
	switch cfg.Conversion {
	case "raw":
		return NewRaw(), nil
	case "ocr":
		return NewOCR(), nil
	case "ocr_llm":
		return NewOCRLLM(client, cfg.Model), nil
	case "llm":
		return NewVisionLLM(client, cfg.Model), nil
	default:
		return nil, fmt.Errorf("%w: unknown conversion %q", domain.ErrConfigurationError, cfg.Conversion)
	}
}

type base struct {
	conversionType string
	model          string
}

func (b *base) ConversionType() string { return b.conversionType }
func (b *base) Model() string          { return b.model }

// OutputFolderName is the conversion type, suffixed with the cleaned model
// name for model-dependent conversions.
func (b *base) OutputFolderName() string {
	if b.model == "" {
		return b.conversionType
	}
	return b.conversionType + "_" + util.CleanName(b.model)
}

func (b *base) outputPath(doc *document.File) (string, error) {
	processed, err := doc.ProcessedPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(processed, b.OutputFolderName()), nil
}

func (b *base) hashExtras() []string {
	if b.model == "" {
		return nil
	}
	return []string{b.model}
}

func (b *base) conversionMetadata(resultHash string) document.Conversion {
	return document.Conversion{
		Conversion:   b.conversionType,
		Model:        b.model,
		OutputFolder: b.OutputFolderName(),
		Hash:         resultHash,
	}
}

// getOrInitConversion returns the cached result when the sidecar records
// this conversion and the artifact folder digest still matches; otherwise a
// result with no pages, signalling the conversion must run.
func (b *base) getOrInitConversion(doc *document.File) (*Result, error) {
	meta, err := doc.GetOrInitMetadata()
	if err != nil {
		return nil, err
	}
	outputPath, err := b.outputPath(doc)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Metadata:       meta,
		ConversionType: b.conversionType,
		Model:          b.model,
		OutputFolder:   b.OutputFolderName(),
		OutputPath:     outputPath,
		DocumentPath:   doc.DocumentPath(),
	}

	folderHash := util.ComputeFolderHash(outputPath, b.hashExtras()...)
	for _, conversion := range meta.Conversions {
		if conversion.Conversion != b.conversionType || conversion.Model != b.model {
			continue
		}
		if conversion.Hash != "" && conversion.Hash == folderHash {
			log.Infof("[%s] document %s already complete, using cache", b.conversionType, doc.Path)
			pages, err := listPages(outputPath)
			if err != nil {
				return nil, err
			}
			result.Pages = pages
			result.ResultHash = conversion.Hash
			return result, nil
		}
	}
	return result, nil
}

// finalize records the finished conversion in the sidecar and fills the
// result with the produced pages.
func (b *base) finalize(doc *document.File, result *Result) (*Result, error) {
	resultHash := util.ComputeFolderHash(result.OutputPath, b.hashExtras()...)
	result.Metadata.Conversions = append(result.Metadata.Conversions, b.conversionMetadata(resultHash))
	if err := doc.WriteMetadata(result.Metadata); err != nil {
		return nil, err
	}

	pages, err := listPages(result.OutputPath)
	if err != nil {
		return nil, err
	}
	result.Pages = pages
	result.ResultHash = resultHash
	return result, nil
}

func listPages(outputPath string) ([]string, error) {
	entries, err := os.ReadDir(outputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactInvalid, err)
	}
	var pages []string
	for _, e := range entries {
		if !e.IsDir() {
			pages = append(pages, filepath.Join(outputPath, e.Name()))
		}
	}
	sort.Strings(pages)
	return pages, nil
}

func pageName(imagePath string) string {
	name := filepath.Base(imagePath)
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".txt"
}
