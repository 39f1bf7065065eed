// Package selector implements CSS selector mangling: extracting every
// class/ID selector used across a document set, assigning short
// collision-free replacement names, and rewriting HTML, CSS, and JS
// content consistently against one fixed mapping.
//
// The mapping is computed once per run, before any file is rewritten.
// A selector renamed differently in two files breaks the document, so
// the mapping is immutable for the whole run.
package selector

import "sort"

// Mapping relates old selectors to their replacements. Both sides keep
// the "."/"#" sigil. It is total over the extracted set: every old
// selector has exactly one new name and no two old selectors share one.
type Mapping map[string]string

// sortedKeys gives a stable iteration order for rewriting, so the same
// input produces the same output within one run.
func sortedKeys(m Mapping) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
