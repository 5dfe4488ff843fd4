package document

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dslipak/pdf"

	"github.com/liliang-cn/ragroom/pkg/domain"
)

// dumpPDFText writes one zero-padded .txt per PDF page into rawDir. Pages
// without extractable text produce empty files, keeping page numbering
// aligned with the rasterised output.
func dumpPDFText(pdfPath, rawDir string) error {
	reader, err := pdf.Open(pdfPath)
	if err != nil {
		return fmt.Errorf("%w: failed to open pdf %s: %v", domain.ErrConversionFailed, pdfPath, err)
	}
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConversionFailed, err)
	}

	total := reader.NumPage()
	width := len(fmt.Sprint(total))
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		text := ""
		if !page.V.IsNull() {
			if extracted, err := page.GetPlainText(nil); err == nil {
				text = extracted
			}
		}
		name := fmt.Sprintf("%0*d.txt", width, i)
		if err := os.WriteFile(filepath.Join(rawDir, name), []byte(text), 0o644); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrConversionFailed, err)
		}
	}
	return nil
}
