package convertor

import (
	"context"
	"fmt"

	"github.com/liliang-cn/ragroom/pkg/document"
	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/log"
)

// Raw extracts the text a document already carries, without OCR or models.
type Raw struct {
	base
}

func NewRaw() *Raw {
	return &Raw{base{conversionType: "raw"}}
}

func (c *Raw) ImageBased() bool { return false }

func (c *Raw) Convert(ctx context.Context, doc *document.File, _ DocumentContext) (*Result, error) {
	if doc.DocumentType == document.TypeImage {
		log.Warnf("cannot [raw] convert an image file")
		return nil, fmt.Errorf("%w: raw conversion does not support image files", domain.ErrConversionFailed)
	}

	result, err := c.getOrInitConversion(doc)
	if err != nil {
		return nil, err
	}
	if len(result.Pages) > 0 {
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	}
	if err := doc.RawDump(); err != nil {
		log.Errorf("[raw] conversion failed: %v", err)
		return nil, err
	}
	return c.finalize(doc, result)
}
