// Package discover walks a source tree and matches files against
// doublestar include/exclude glob patterns, and maps source paths to
// their mirrored destination paths.
package discover

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Files returns the absolute paths under base matching any include
// pattern and no ignore pattern. Patterns are doublestar globs matched
// against the slash-separated path relative to base. Results are sorted
// for a stable processing order.
func Files(base string, include, ignore []string) ([]string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("discover: abs %s: %w", base, err)
	}

	for _, p := range append(append([]string{}, include...), ignore...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("discover: invalid pattern %q", p)
		}
	}

	var out []string
	err = filepath.WalkDir(absBase, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(absBase, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		for _, p := range ignore {
			if ok, _ := doublestar.Match(p, rel); ok {
				return nil
			}
		}
		for _, p := range include {
			if ok, _ := doublestar.Match(p, rel); ok {
				out = append(out, path)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover: walk %s: %w", absBase, err)
	}

	sort.Strings(out)
	return out, nil
}

// FilterExt returns the subset of paths whose extension (lowercased)
// matches ext, e.g. ".css".
func FilterExt(paths []string, ext string) []string {
	var out []string
	for _, p := range paths {
		if strings.EqualFold(filepath.Ext(p), ext) {
			out = append(out, p)
		}
	}
	return out
}

// DestPath mirrors srcPath under destRoot, preserving its path relative
// to base. A srcPath already inside destRoot maps to itself, so stages
// operating on earlier stages' output rewrite in place. Any other
// srcPath outside base is mirrored by basename only.
func DestPath(destRoot, base, srcPath string) string {
	if rel, err := filepath.Rel(destRoot, srcPath); err == nil &&
		rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return srcPath
	}
	rel, err := filepath.Rel(base, srcPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(srcPath)
	}
	return filepath.Join(destRoot, rel)
}

// EnsureDir creates the parent directory chain for path.
func EnsureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("discover: mkdir for %s: %w", path, err)
	}
	return nil
}
