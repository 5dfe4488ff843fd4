package convertor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/liliang-cn/ragroom/pkg/document"
	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/log"
)

// imageToTextFunc converts one page image into text.
type imageToTextFunc func(ctx context.Context, imagePath string, docCtx DocumentContext) (string, error)

// imageConvertor runs a page-image pipeline: rasterise the document, feed
// each page image through imageToText, write one .txt per page.
type imageConvertor struct {
	base
	imageToText imageToTextFunc
}

func (c *imageConvertor) ImageBased() bool { return true }

func (c *imageConvertor) Convert(ctx context.Context, doc *document.File, docCtx DocumentContext) (*Result, error) {
	result, err := c.getOrInitConversion(doc)
	if err != nil {
		return nil, err
	}
	if len(result.Pages) > 0 {
		return result, nil
	}

	if !doc.ImageBased {
		log.Infof("[%s] document %s does not support image conversion", c.conversionType, doc.Path)
		return nil, fmt.Errorf("%w: document %s is not image based", domain.ErrConversionFailed, doc.Name())
	}
	defer func() {
		if err := doc.CleanupTempFiles(); err != nil {
			log.Warnf("failed to clean up temp images for %s: %v", doc.Name(), err)
		}
	}()

	images, err := doc.ToImages()
	if err != nil {
		log.Errorf("image conversion failed, file: %s, error: %v", doc.Name(), err)
		return nil, err
	}
	if err := os.MkdirAll(result.OutputPath, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConversionFailed, err)
	}

	log.Infof("doing %s", c.conversionType)
	for _, imagePath := range images {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
		}
		log.Infof("%s - %s", c.conversionType, imagePath)
		text, err := c.imageToText(ctx, imagePath, docCtx)
		if err != nil {
			log.Errorf("[%s] failed: %v", c.conversionType, err)
			return nil, err
		}
		page := filepath.Join(result.OutputPath, pageName(imagePath))
		if err := os.WriteFile(page, []byte(text), 0o644); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConversionFailed, err)
		}
	}
	return c.finalize(doc, result)
}

// OCR converts page images to text with tesseract.
type OCR struct {
	imageConvertor
}

func NewOCR() *OCR {
	c := &OCR{}
	c.base = base{conversionType: "ocr"}
	c.imageToText = func(ctx context.Context, imagePath string, docCtx DocumentContext) (string, error) {
		return TesseractConvert(ctx, imagePath, docCtx.CharacterSets)
	}
	return c
}

func tesseractPath() string {
	if p := os.Getenv("TESSERACT_PATH"); p != "" {
		return p
	}
	return "tesseract"
}

// TesseractConvert OCRs one image to stdout text. characterSets are joined
// as a tesseract -l language spec; empty means English.
func TesseractConvert(ctx context.Context, imagePath string, characterSets []string) (string, error) {
	if len(characterSets) == 0 {
		characterSets = []string{"eng"}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, tesseractPath(), "-l", strings.Join(characterSets, "+"), imagePath, "stdout")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		log.Errorf("error converting %s with tesseract: %s", imagePath, stderr.String())
		return "", fmt.Errorf("%w: tesseract failed on %s: %v", domain.ErrConversionFailed, imagePath, err)
	}
	return stdout.String(), nil
}

// TesseractLangs lists the installed tesseract languages, minus the osd
// pseudo language.
func TesseractLangs(ctx context.Context) ([]string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, tesseractPath(), "--list-langs")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		log.Errorf("tesseract --list-langs failed: %s", stderr.String())
		return nil, fmt.Errorf("%w: %v", domain.ErrConversionFailed, err)
	}

	var langs []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "osd" || strings.HasPrefix(line, "List of available languages") {
			continue
		}
		langs = append(langs, line)
	}
	return langs, nil
}
