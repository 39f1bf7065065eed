package selector

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"

	"github.com/sitemin/sitemin/batch"
)

// pseudoPattern strips pseudo-classes and pseudo-elements, including
// functional ones with simple arguments (":hover", "::before",
// ":nth-child(2)"). Residual parenthesised notation is truncated
// afterwards.
var pseudoPattern = regexp.MustCompile(`::?[\w-]+(?:\(\w+\))?`)

// ExtractFromFiles reads all CSS files in fixed-size batches,
// concatenates their content, and extracts the deduplicated selector
// sets. Unparsable CSS is fatal: downstream renaming must be total, so
// no partial selector set is usable.
func ExtractFromFiles(ctx context.Context, cssFiles []string, batchSize int) (classes, ids []string, err error) {
	contents := make([]string, len(cssFiles))
	var mu sync.Mutex

	procs := make([]batch.Proc, len(cssFiles))
	for i, file := range cssFiles {
		i, file := i, file
		procs[i] = func(ctx context.Context) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("selector: read css %s: %w", file, err)
			}
			mu.Lock()
			contents[i] = string(data)
			mu.Unlock()
			return nil
		}
	}

	results, err := batch.Run(ctx, procs, batchSize)
	if err != nil {
		return nil, nil, err
	}
	if err := batch.FirstError(results); err != nil {
		return nil, nil, err
	}

	return Extract(strings.Join(contents, "\n"))
}

// Extract parses CSS content into a rule stream and collects every
// class and ID selector token, descending into nested at-rules such as
// media queries. Compound selectors are decomposed on whitespace, so
// ".a .b" yields ".a" and ".b". Tokens are classified by leading sigil,
// cleaned of pseudo suffixes, and deduplicated.
func Extract(cssContents string) (classes, ids []string, err error) {
	classSet := make(map[string]bool)
	idSet := make(map[string]bool)

	p := css.NewParser(parse.NewInputString(cssContents), false)
	for {
		gt, _, _ := p.Next()
		switch gt {
		case css.ErrorGrammar:
			if perr := p.Err(); perr != io.EOF {
				return nil, nil, fmt.Errorf("selector: parse css: %w", perr)
			}
			return cleanSelectors(classSet), cleanSelectors(idSet), nil
		case css.QualifiedRuleGrammar, css.BeginRulesetGrammar:
			// The prelude tokens form one comma-separated selector;
			// nested rules inside at-rules arrive through the same
			// stream, so media queries need no special casing.
			var sb strings.Builder
			for _, val := range p.Values() {
				sb.Write(val.Data)
			}
			collectSelectorTokens(sb.String(), classSet, idSet)
		}
	}
}

func collectSelectorTokens(selectorList string, classSet, idSet map[string]bool) {
	for _, sel := range strings.Split(selectorList, ",") {
		for _, part := range strings.Fields(sel) {
			switch {
			case strings.HasPrefix(part, "."):
				classSet[part] = true
			case strings.HasPrefix(part, "#"):
				idSet[part] = true
			}
		}
	}
}

// cleanSelectors strips pseudo-class/pseudo-element suffixes, truncates
// at any residual parenthesis, and re-deduplicates (".btn:hover" and
// ".btn" merge to one ".btn"). Entries reduced to a bare sigil are
// dropped.
func cleanSelectors(set map[string]bool) []string {
	cleaned := make(map[string]bool, len(set))
	for sel := range set {
		sel = pseudoPattern.ReplaceAllString(sel, "")
		if i := strings.IndexByte(sel, '('); i >= 0 {
			sel = sel[:i]
		}
		if i := strings.IndexByte(sel, ')'); i >= 0 {
			sel = sel[:i]
		}
		if sel == "" || sel == "." || sel == "#" {
			continue
		}
		cleaned[sel] = true
	}

	out := make([]string, 0, len(cleaned))
	for sel := range cleaned {
		out = append(out, sel)
	}
	sort.Strings(out)
	return out
}
