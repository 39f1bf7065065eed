package selector

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sitemin/sitemin/faillog"
)

func TestExtractDecomposesAndClassifies(t *testing.T) {
	css := `
.a .b { color: red; }
#main, .c > .d { margin: 0; }
@media (max-width: 600px) {
  .e { display: none; }
  #side .f { float: left; }
}
`
	classes, ids, err := Extract(css)
	if err != nil {
		t.Fatal(err)
	}

	wantClasses := []string{".a", ".b", ".c", ".d", ".e", ".f"}
	wantIDs := []string{"#main", "#side"}

	if len(classes) != len(wantClasses) {
		t.Fatalf("classes = %v, want %v", classes, wantClasses)
	}
	for i, c := range wantClasses {
		if classes[i] != c {
			t.Fatalf("classes = %v, want %v", classes, wantClasses)
		}
	}
	if len(ids) != 2 || ids[0] != wantIDs[0] || ids[1] != wantIDs[1] {
		t.Fatalf("ids = %v, want %v", ids, wantIDs)
	}
}

func TestExtractMergesPseudoVariants(t *testing.T) {
	// WHAT: ".btn:hover" and ".btn" must yield exactly one ".btn".
	// WHY: the mapping is keyed by cleaned selector; duplicates would
	// assign two names to one class.
	css := `.btn:hover { color: red; } .btn { color: blue; } .x::before { content: ""; } .y:nth-child(2) { top: 0; }`
	classes, _, err := Extract(css)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{".btn", ".x", ".y"}
	if len(classes) != len(want) {
		t.Fatalf("classes = %v, want %v", classes, want)
	}
	for i := range want {
		if classes[i] != want[i] {
			t.Fatalf("classes = %v, want %v", classes, want)
		}
	}
}

func TestNameGeneratorOrderAndSkip(t *testing.T) {
	g := NewNameGenerator()

	first := g.Next()
	if first != "_" {
		// "-" is skipped, so the first yield is the second alphabet rune.
		t.Fatalf("first name = %q, want %q", first, "_")
	}

	seen := map[string]bool{first: true}
	count := 1
	for count < len(nameAlphabet)*3 {
		n := g.Next()
		if n == "-" {
			t.Fatal("generator yielded bare hyphen")
		}
		if seen[n] {
			t.Fatalf("duplicate name %q", n)
		}
		seen[n] = true
		count++
	}

	// After the 27 single-rune names, two-rune names follow.
	grew := false
	for n := range seen {
		if len(n) == 2 {
			grew = true
		}
	}
	if !grew {
		t.Fatal("expected generator to grow to length-2 names")
	}
}

func TestAssignNamesTotalUniqueValid(t *testing.T) {
	var olds []string
	for i := 0; i < 200; i++ {
		olds = append(olds, ".c"+string(rune('a'+i%26))+string(rune('a'+i/26)))
	}

	mapping := AssignNames(olds)
	if len(mapping) != len(olds) {
		t.Fatalf("mapping not total: %d entries for %d selectors", len(mapping), len(olds))
	}

	used := make(map[string]bool)
	for old, repl := range mapping {
		if !strings.HasPrefix(repl, string(old[0])) {
			t.Fatalf("sigil not preserved: %q -> %q", old, repl)
		}
		if used[repl] {
			t.Fatalf("duplicate new name %q", repl)
		}
		used[repl] = true
		for _, r := range repl[1:] {
			if !strings.ContainsRune(nameAlphabet, r) {
				t.Fatalf("name %q outside alphabet", repl)
			}
		}
	}
}

func TestAssignNamesIndependentKinds(t *testing.T) {
	mapping := BuildMapping([]string{".a"}, []string{"#a"})
	if len(mapping) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(mapping))
	}
	if !strings.HasPrefix(mapping[".a"], ".") || !strings.HasPrefix(mapping["#a"], "#") {
		t.Fatalf("sigils mangled: %v", mapping)
	}
}

func TestReplacerHTMLRoundTrip(t *testing.T) {
	// WHAT: class="a b" with a→x, b→y must become exactly {x, y}.
	mapping := Mapping{".a": ".x", ".b": ".y", "#top": "#z"}
	r := NewReplacer(mapping, "'")

	in := `<html><head></head><body><div id="top" class="a b keep"><a href="#top">up</a></div></body></html>`
	out, err := r.HTML(in)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(out, `class="x y keep"`) {
		t.Fatalf("class list not rewritten: %s", out)
	}
	if strings.Contains(out, `class="a b keep"`) {
		t.Fatalf("old class list survived: %s", out)
	}
	if !strings.Contains(out, "id='z'") {
		t.Fatalf("id not rewritten: %s", out)
	}
	if !strings.Contains(out, `href="#z"`) {
		t.Fatalf("anchor fragment not rewritten: %s", out)
	}
}

func TestReplacerCSSBoundary(t *testing.T) {
	mapping := Mapping{".btn": ".q", "#nav": "#w"}
	r := NewReplacer(mapping, "'")

	in := `.btn { color: red; } .btn-primary { color: blue; } #nav a { top: 0; } #navbar { left: 0; }`
	out := r.CSS(in)

	if !strings.Contains(out, ".q {") {
		t.Fatalf(".btn not rewritten: %s", out)
	}
	if !strings.Contains(out, ".btn-primary") {
		t.Fatalf(".btn-primary must stay untouched: %s", out)
	}
	if !strings.Contains(out, "#w a") {
		t.Fatalf("#nav not rewritten: %s", out)
	}
	if !strings.Contains(out, "#navbar") {
		t.Fatalf("#navbar must stay untouched: %s", out)
	}
}

func TestReplacerCSSAdjacentOccurrences(t *testing.T) {
	// WHAT: compound selectors repeat the same name back to back; the
	// boundary match consumes the separator, so a single pass would
	// leave every second occurrence behind.
	mapping := Mapping{".a": ".z", "#m": "#w"}
	r := NewReplacer(mapping, "'")

	out := r.CSS(`.a.a { color: red; } .a.a.a { top: 0; } #m .a`)

	for _, want := range []string{".z.z {", ".z.z.z {", "#w .z"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in: %s", want, out)
		}
	}
	if strings.Contains(out, ".a") {
		t.Fatalf("old class survived adjacency: %s", out)
	}
}

func TestReplacerJSAdjacentOccurrences(t *testing.T) {
	mapping := Mapping{".a": ".z"}
	r := NewReplacer(mapping, "'")

	out := r.JS(`document.querySelectorAll(".a.a");`)

	if !strings.Contains(out, `".z.z"`) {
		t.Fatalf("compound selector literal not fully rewritten: %s", out)
	}
}

func TestReplacerJSIdioms(t *testing.T) {
	mapping := Mapping{".card": ".k", "#root": "#r"}
	r := NewReplacer(mapping, "'")

	in := strings.Join([]string{
		`document.getElementById("root");`,
		`document.getElementsByClassName("card");`,
		`document.querySelector("#root");`,
		`document.querySelectorAll(".card");`,
		`el.id = "root";`,
		`el.className = "card";`,
		`el.classList.toggle("card");`,
		`var dynamic = "ca" + "rd";`,
	}, "\n")

	out := r.JS(in)

	for _, want := range []string{
		`getElementById('r')`,
		`getElementsByClassName('k')`,
		`querySelector("#r")`,
		`querySelectorAll(".k")`,
		`.id = 'r';`,
		`.className = 'k';`,
		`classList.toggle('k');`,
		`"ca" + "rd"`, // dynamically built names are out of contract
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestManglerRenameWritesMirroredTree(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()

	writeFile(t, filepath.Join(src, "css", "site.css"), `.hero { color: red; } #top { margin: 0; }`)
	writeFile(t, filepath.Join(src, "index.html"),
		`<html><head></head><body><div id="top" class="hero"></div></body></html>`)
	writeFile(t, filepath.Join(src, "app.js"), `document.querySelector(".hero");`)

	fl, err := faillog.Open(filepath.Join(t.TempDir(), "err.log"))
	if err != nil {
		t.Fatal(err)
	}
	defer fl.Close()

	m := NewMangler(Config{FailLog: fl})
	files := []string{
		filepath.Join(src, "css", "site.css"),
		filepath.Join(src, "index.html"),
		filepath.Join(src, "app.js"),
	}
	destFiles, err := m.Rename(context.Background(), files, src, dest, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(destFiles) != 3 {
		t.Fatalf("expected 3 destination files, got %d", len(destFiles))
	}

	css := readFile(t, filepath.Join(dest, "css", "site.css"))
	htmlOut := readFile(t, filepath.Join(dest, "index.html"))
	js := readFile(t, filepath.Join(dest, "app.js"))

	if strings.Contains(css, ".hero") || strings.Contains(css, "#top") {
		t.Fatalf("css still has old selectors: %s", css)
	}
	if strings.Contains(htmlOut, `class="hero"`) || strings.Contains(htmlOut, `id="top"`) {
		t.Fatalf("html still has old selectors: %s", htmlOut)
	}
	if strings.Contains(js, ".hero") {
		t.Fatalf("js still has old selector: %s", js)
	}

	// Consistency: the class got the same new name everywhere.
	var newClass string
	for _, f := range strings.Fields(css) {
		if strings.HasPrefix(f, ".") {
			newClass = strings.TrimLeft(strings.TrimSuffix(f, "{"), ".")
			break
		}
	}
	if newClass == "" {
		t.Fatalf("no class selector in rewritten css: %s", css)
	}
	if !strings.Contains(htmlOut, newClass) || !strings.Contains(js, newClass) {
		t.Fatalf("mapping inconsistent across files: class %q, html %s, js %s", newClass, htmlOut, js)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
