package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ComputeFileHash returns the SHA-256 hex digest of a file's contents.
func ComputeFileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeFolderHash hashes a conversion artifact folder: the SHA-256 of the
// concatenated per-file hashes of its regular files in sorted name order,
// followed by any extra strings (typically the model name). Returns "" when
// the folder does not exist or holds no files, so callers can treat a missing
// artifact and a mismatched artifact the same way.
func ComputeFolderHash(folder string, extra ...string) string {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)

	var hashes []string
	for _, name := range names {
		fh, err := ComputeFileHash(filepath.Join(folder, name))
		if err != nil {
			return ""
		}
		hashes = append(hashes, fh)
	}
	for _, s := range extra {
		if s != "" {
			hashes = append(hashes, s)
		}
	}

	h := sha256.Sum256([]byte(strings.Join(hashes, "")))
	return hex.EncodeToString(h[:])
}
