package discover

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestFilesIncludeExclude(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "index.html"))
	touch(t, filepath.Join(dir, "css", "site.css"))
	touch(t, filepath.Join(dir, "js", "app.js"))
	touch(t, filepath.Join(dir, "node_modules", "pkg", "dist.css"))
	touch(t, filepath.Join(dir, "img", "hero.png"))

	files, err := Files(dir,
		[]string{"**/*.html", "**/*.css", "**/*.js"},
		[]string{"node_modules/**"})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %d: %v", len(files), files)
	}
	for _, f := range files {
		if filepath.Base(f) == "dist.css" {
			t.Fatalf("ignored file matched: %s", f)
		}
	}
}

func TestFilesInvalidPattern(t *testing.T) {
	if _, err := Files(t.TempDir(), []string{"[bad"}, nil); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestFilterExt(t *testing.T) {
	paths := []string{"/a/x.css", "/a/y.CSS", "/a/z.html"}
	css := FilterExt(paths, ".css")
	if len(css) != 2 {
		t.Fatalf("expected 2 css files, got %d", len(css))
	}
}

func TestDestPathMirrorsRelative(t *testing.T) {
	got := DestPath("/out", "/src", "/src/a/b.html")
	want := filepath.Join("/out", "a", "b.html")
	if got != want {
		t.Fatalf("DestPath = %q, want %q", got, want)
	}

	// Outside the base: mirror by basename.
	got = DestPath("/out", "/src", "/elsewhere/c.css")
	want = filepath.Join("/out", "c.css")
	if got != want {
		t.Fatalf("DestPath = %q, want %q", got, want)
	}
}

func TestDestPathInsideDestIsInPlace(t *testing.T) {
	// Output of an earlier stage stays where it is.
	got := DestPath("/out", "/src", "/out/a/b.html")
	if got != "/out/a/b.html" {
		t.Fatalf("DestPath = %q, want in-place path", got)
	}

	// A sibling directory sharing the prefix is not inside destRoot.
	got = DestPath("/out", "/src", "/output/c.css")
	if got != filepath.Join("/out", "c.css") {
		t.Fatalf("DestPath = %q, want basename mirror", got)
	}
}
