package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveDestinationPath checks that destDir is, or can become, the directory
// received files are written into. File names come from the sender.
func ResolveDestinationPath(destDir string) (string, error) {
	info, err := os.Stat(destDir)
	switch {
	case err == nil && info.IsDir():
		return destDir, nil
	case err == nil:
		return "", fmt.Errorf("destination path '%s' exists but is not a directory", destDir)
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("cannot access destination path: %w", err)
	}

	// created on first write, as long as the parent is there
	parent := filepath.Dir(destDir)
	if info, err := os.Stat(parent); err != nil || !info.IsDir() {
		return "", fmt.Errorf("parent directory does not exist: %s", parent)
	}
	return destDir, nil
}

// UniquePath returns path, or "name (n).ext" next to it when path is taken.
func UniquePath(path string) string {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return path
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}
