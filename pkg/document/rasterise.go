package document

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/log"
)

const rasterDPI = "300"

// disabledTool skips a rasterisation backend when set as its path.
const disabledTool = "__disabled__"

// ConvertPDF rasterises every page of pdfPath into PNG files under
// outputFolder, which is recreated on each call. The xpdf pdftopng binary is
// tried first, then poppler's pdftoppm. Returns the sorted image paths.
func ConvertPDF(pdfPath, outputFolder string) ([]string, error) {
	if tool := xpdfPath(); tool != disabledTool {
		paths, err := rasterise(tool, []string{"-r", rasterDPI}, pdfPath, outputFolder)
		if err == nil {
			return paths, nil
		}
		log.Warnf("xpdf could not convert pdf %s: %v", pdfPath, err)
	}
	if dir := popplerPath(); dir != disabledTool {
		tool := filepath.Join(dir, "pdftoppm")
		paths, err := rasterise(tool, []string{"-r", rasterDPI, "-png"}, pdfPath, outputFolder)
		if err == nil {
			return paths, nil
		}
		log.Warnf("poppler could not convert pdf %s: %v", pdfPath, err)
	}
	return nil, fmt.Errorf("%w: could not convert pdf to images: %s", domain.ErrConversionFailed, pdfPath)
}

func rasterise(tool string, args []string, pdfPath, outputFolder string) ([]string, error) {
	absPDF, err := filepath.Abs(pdfPath)
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(outputFolder); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outputFolder, 0o755); err != nil {
		return nil, err
	}

	prefix := uuid.NewString()
	cmd := exec.Command(tool, append(args, absPDF, prefix)...)
	cmd.Dir = outputFolder
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w", tool, err)
	}

	entries, err := os.ReadDir(outputFolder)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() {
			paths = append(paths, filepath.Join(outputFolder, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no pages produced by %s", tool)
	}
	sort.Strings(paths)
	return paths, nil
}

func xpdfPath() string {
	if p := os.Getenv("XPDF_PATH"); p != "" {
		return p
	}
	return "pdftopng"
}

func popplerPath() string {
	if p := os.Getenv("POPPLER_PATH"); p != "" {
		return p
	}
	return "/usr/bin"
}
