package selector

import (
	"math/rand"
	"strings"
)

// nameAlphabet is the replacement-name character set. Every produced
// name is drawn from it, so generated selectors never need escaping.
const nameAlphabet = "-_vjqiyfcbkawgtzsxldonruphem"

// NameGenerator yields an infinite, deterministic-order sequence of
// short identifiers: all length-1 strings over the alphabet, then all
// length-2 strings, and so on. The degenerate single hyphen is skipped.
// It is a stateful cursor: call Next repeatedly.
type NameGenerator struct {
	length int
	index  int
}

// NewNameGenerator returns a cursor positioned before the first name.
func NewNameGenerator() *NameGenerator {
	return &NameGenerator{length: 1}
}

// Next returns the next candidate name.
func (g *NameGenerator) Next() string {
	for {
		limit := 1
		for i := 0; i < g.length; i++ {
			limit *= len(nameAlphabet)
		}
		if g.index >= limit {
			g.length++
			g.index = 0
			continue
		}

		var sb strings.Builder
		num := g.index
		for i := 0; i < g.length; i++ {
			sb.WriteByte(nameAlphabet[num%len(nameAlphabet)])
			num /= len(nameAlphabet)
		}
		g.index++

		// The builder appends least-significant first; reverse to keep
		// the enumeration order stable.
		name := reverse(sb.String())
		if name == "-" {
			continue
		}
		return name
	}
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// AssignNames builds the old→new mapping for one selector kind. Names
// are pulled from a fresh generator into a uniqueness set until exactly
// len(oldSelectors) names exist, then shuffled so output name length
// does not correlate with input order, then paired one-to-one with the
// old selectors, re-prefixed with the original sigil.
//
// Classes and IDs use independent generator instances: the two
// namespaces are already disambiguated by sigil, so collisions are only
// avoided within a kind.
func AssignNames(oldSelectors []string) Mapping {
	gen := NewNameGenerator()

	unique := make(map[string]bool, len(oldSelectors))
	var names []string
	for len(names) < len(oldSelectors) {
		n := gen.Next()
		if unique[n] {
			continue
		}
		unique[n] = true
		names = append(names, n)
	}

	rand.Shuffle(len(names), func(i, j int) {
		names[i], names[j] = names[j], names[i]
	})

	mapping := make(Mapping, len(oldSelectors))
	for i, old := range oldSelectors {
		sigil := "."
		if strings.HasPrefix(old, "#") {
			sigil = "#"
		}
		mapping[old] = sigil + names[i]
	}
	return mapping
}

// BuildMapping assigns names for both selector kinds and merges the
// result into the run's single fixed mapping.
func BuildMapping(classes, ids []string) Mapping {
	mapping := AssignNames(classes)
	for old, repl := range AssignNames(ids) {
		mapping[old] = repl
	}
	return mapping
}
