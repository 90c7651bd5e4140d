package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExtensions are the image types scanned when no extension is configured.
var DefaultExtensions = []string{".jpg", ".png", ".bmp", ".gif"}

// NormalizeExtensions lower-cases the extensions and adds the leading dot where missing.
func NormalizeExtensions(exts []string) []string {
	res := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		res = append(res, ext)
	}
	return res
}

// Scan walks the directory tree in recursive manner and returns the sorted paths of the
// regular files having one of the extensions. The comparison is case-insensitive.
// Unreadable sub-directories are skipped; only a missing or unreadable root is an error.
func Scan(root string, exts []string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("unable to get dir stats: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	exts = NormalizeExtensions(exts)
	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if isValidExtension(filepath.Ext(d.Name()), exts) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to scan %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// isValidExtension checks for the supported extensions.
func isValidExtension(ext string, extensions []string) bool {
	ext = strings.ToLower(ext)
	for _, ex := range extensions {
		if ex == ext {
			return true
		}
	}
	return false
}
