// Package document models source files (PDF, plain text, images) and their
// per-document artifact folder with a metadata sidecar.
package document

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/log"
	"github.com/liliang-cn/ragroom/pkg/util"
)

const (
	TypeDocument = "document"
	TypeImage    = "image"
)

// Kind is the physical file format driving conversion behavior.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindText  Kind = "text"
	KindImage Kind = "image"
)

var (
	pdfExtensions   = []string{".pdf"}
	textExtensions  = []string{".txt", ".md"}
	imageExtensions = []string{".png", ".jpg", ".jpeg"}
)

// Conversion records one finished conversion inside the metadata sidecar.
// Hash is the artifact folder digest at completion time, used to detect
// stale or tampered artifacts.
type Conversion struct {
	Conversion   string `json:"conversion"`
	Model        string `json:"model"`
	OutputFolder string `json:"output_folder"`
	Hash         string `json:"hash"`
}

// Metadata is the metadata.json sidecar stored in the document's artifact
// folder.
type Metadata struct {
	Type         string       `json:"type"`
	Filename     string       `json:"filename"`
	FileLocation string       `json:"file_location"`
	Hash         string       `json:"hash"`
	Conversions  []Conversion `json:"conversions"`
}

// FileInfo carries optional stat and hash data captured by the document
// source. An empty PrecalcHash means the hash is computed on first use.
type FileInfo struct {
	PrecalcHash  string
	LastModified time.Time
	FileSize     int64
}

// File is one source document. The artifact folder lives under
// <workDir>/processed/ and is content addressed by the file hash, so an
// edited document gets a fresh folder.
type File struct {
	SourceName   string
	SourceRoot   string
	Path         string
	Kind         Kind
	DocumentType string
	ImageBased   bool
	HasChanged   bool
	LastModified time.Time
	FileSize     int64

	workDir string
	hash    string
}

// New creates a File for path, picking the variant by extension. Unsupported
// extensions yield a domain.ErrInvalidInput error.
func New(sourceName, sourceRoot, path, workDir string, info FileInfo) (*File, error) {
	ext := strings.ToLower(filepath.Ext(path))

	f := &File{
		SourceName:   sourceName,
		SourceRoot:   sourceRoot,
		Path:         path,
		LastModified: info.LastModified,
		FileSize:     info.FileSize,
		workDir:      workDir,
		hash:         info.PrecalcHash,
	}
	switch {
	case contains(pdfExtensions, ext):
		f.Kind = KindPDF
		f.DocumentType = TypeDocument
		f.ImageBased = true
	case contains(textExtensions, ext):
		f.Kind = KindText
		f.DocumentType = TypeDocument
		f.ImageBased = false
	case contains(imageExtensions, ext):
		f.Kind = KindImage
		f.DocumentType = TypeImage
		f.ImageBased = true
	default:
		return nil, fmt.Errorf("%w: unsupported document extension %q", domain.ErrInvalidInput, ext)
	}
	return f, nil
}

// Supported reports whether path has a recognized document extension.
func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return contains(pdfExtensions, ext) || contains(textExtensions, ext) || contains(imageExtensions, ext)
}

func (f *File) Name() string {
	return filepath.Base(f.Path)
}

// DocumentPath is the slash-separated source-qualified path identifying
// this document across runs, e.g. "docs/notes/a.txt".
func (f *File) DocumentPath() string {
	rel, err := filepath.Rel(f.SourceRoot, f.Path)
	if err != nil {
		rel = f.Name()
	}
	return filepath.ToSlash(filepath.Join(f.SourceName, rel))
}

// Hash returns the SHA-256 of the file contents, computed once.
func (f *File) Hash() (string, error) {
	if f.hash == "" {
		h, err := util.ComputeFileHash(f.Path)
		if err != nil {
			return "", err
		}
		f.hash = h
	}
	return f.hash, nil
}

// ProcessedPath is the content-addressed artifact folder for this document.
func (f *File) ProcessedPath() (string, error) {
	hash, err := f.Hash()
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(f.SourceRoot, f.Path)
	if err != nil {
		rel = f.Name()
	}
	return filepath.Join(f.workDir, "processed", filepath.Dir(rel), f.Name()+"_"+hash), nil
}

func (f *File) tempImagePath() string {
	return filepath.Join(f.workDir, "temp_images")
}

func (f *File) metadataPath() (string, error) {
	processed, err := f.ProcessedPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(processed, "metadata.json"), nil
}

// GetOrInitMetadata loads the sidecar, creating it with an empty conversion
// list on first touch.
func (f *File) GetOrInitMetadata() (*Metadata, error) {
	path, err := f.metadataPath()
	if err != nil {
		return nil, err
	}

	meta := &Metadata{}
	found, err := util.ReadJSON(path, meta)
	if err != nil {
		return nil, err
	}
	if found {
		return meta, nil
	}

	hash, err := f.Hash()
	if err != nil {
		return nil, err
	}
	meta = &Metadata{
		Type:         f.DocumentType,
		Filename:     f.Name(),
		FileLocation: f.Path,
		Hash:         hash,
		Conversions:  []Conversion{},
	}
	if err := util.WriteJSONAtomic(path, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (f *File) WriteMetadata(meta *Metadata) error {
	path, err := f.metadataPath()
	if err != nil {
		return err
	}
	return util.WriteJSONAtomic(path, meta)
}

// CleanupOutput removes the whole artifact folder.
func (f *File) CleanupOutput() error {
	processed, err := f.ProcessedPath()
	if err != nil {
		return err
	}
	return os.RemoveAll(processed)
}

// CleanupTempFiles removes the scratch rasterisation folder.
func (f *File) CleanupTempFiles() error {
	if f.Kind != KindPDF {
		return nil
	}
	return os.RemoveAll(f.tempImagePath())
}

// RawDump extracts the document's own text into <processed>/raw, one file
// per page. Image files carry no text.
func (f *File) RawDump() error {
	processed, err := f.ProcessedPath()
	if err != nil {
		return err
	}
	rawDir := filepath.Join(processed, "raw")

	switch f.Kind {
	case KindPDF:
		log.Infof("raw dumping %s", f.Path)
		return dumpPDFText(f.Path, rawDir)
	case KindText:
		log.Infof("raw dumping %s", f.Path)
		if err := os.MkdirAll(rawDir, 0o755); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrConversionFailed, err)
		}
		return copyFile(f.Path, filepath.Join(rawDir, "1.txt"))
	default:
		return fmt.Errorf("%w: cannot raw dump image file %s", domain.ErrConversionFailed, f.Name())
	}
}

// ToImages yields one image path per page. Image documents are their own
// single page; text files cannot be rasterised.
func (f *File) ToImages() ([]string, error) {
	switch f.Kind {
	case KindImage:
		return []string{f.Path}, nil
	case KindPDF:
		if err := f.CleanupTempFiles(); err != nil {
			return nil, err
		}
		log.Infof("creating temp images for %s", f.Path)
		return ConvertPDF(f.Path, f.tempImagePath())
	default:
		return nil, fmt.Errorf("%w: document %s is not image based", domain.ErrConversionFailed, f.Name())
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConversionFailed, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConversionFailed, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConversionFailed, err)
	}
	return nil
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
