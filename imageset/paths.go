package imageset

import (
	"path/filepath"
	"strings"
)

// VariantPath computes the source-tree destination for one raster
// variant: the breakpoint key becomes a subdirectory of the image's
// directory and a filename suffix.
//
//	assets/a.jpg + 2X -> assets/2X/a@2X.jpg
//
// The function is pure: the generator creates the file at this path and
// the transformer references it, so both must compute the identical
// string.
func VariantPath(srcPath, key string) string {
	ext := filepath.Ext(srcPath)
	name := strings.TrimSuffix(filepath.Base(srcPath), ext)
	return filepath.Join(filepath.Dir(srcPath), key, name+"@"+key+ext)
}

// VectorPath computes the single shared destination for an SVG source:
// a fixed svg/ subdirectory of the image's directory.
func VectorPath(srcPath string) string {
	return filepath.Join(filepath.Dir(srcPath), "svg", filepath.Base(srcPath))
}

// withFormat swaps the path's extension for the configured output image
// format. Empty format keeps the source extension.
func withFormat(path, format string) string {
	if format == "" {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + format
}

// relativeTo renders target as a slash-separated path relative to the
// directory of fromFile, the form embedded in HTML src/srcset values.
func relativeTo(fromFile, target string) string {
	rel, err := filepath.Rel(filepath.Dir(fromFile), target)
	if err != nil {
		return filepath.ToSlash(target)
	}
	return filepath.ToSlash(rel)
}

// IsVector reports whether the image path is an SVG source.
func IsVector(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".svg")
}
