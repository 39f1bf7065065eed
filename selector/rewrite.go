package selector

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Replacer rewrites one run's fixed mapping into HTML, CSS, and JS
// content. All patterns are compiled once at construction and applied
// in a stable order.
//
// JS rewriting is deliberately pattern-based, not AST-based: it catches
// getElementById/getElementsByClassName call arguments, literal
// query-selector strings, direct .id/.className assignment literals,
// and classList.toggle literal arguments. Selector names assembled from
// string fragments at runtime are not rewritten; that limitation is
// part of the contract.
type Replacer struct {
	quote string

	classByName map[string]string // bare old class → bare new class

	htmlRules []rewriteRule // id= attributes and href="#..." fragments
	cssRules  []rewriteRule
	jsRules   []rewriteRule
}

type rewriteRule struct {
	pattern *regexp.Regexp
	repl    string
	// repeat re-applies the pattern until the content is stable. Needed
	// for rules whose match consumes the character after the name: the
	// consumed character may itself start the next match (".a.a").
	repeat bool
}

func (ru rewriteRule) apply(content string) string {
	out := ru.pattern.ReplaceAllString(content, ru.repl)
	if !ru.repeat {
		return out
	}
	// Replacement names contain no "."/"#", so each pass strictly
	// reduces the remaining match sites and the loop terminates.
	for out != content {
		content = out
		out = ru.pattern.ReplaceAllString(content, ru.repl)
	}
	return out
}

// NewReplacer compiles the rewrite rules for mapping. The quote rune is
// used when emitting replacement attribute/argument literals.
func NewReplacer(mapping Mapping, quote string) *Replacer {
	if quote == "" {
		quote = "'"
	}
	r := &Replacer{
		quote:       quote,
		classByName: make(map[string]string),
	}

	for _, old := range sortedKeys(mapping) {
		repl := mapping[old]
		oldName, replName := old[1:], repl[1:]
		q := regexp.QuoteMeta

		if strings.HasPrefix(old, "#") {
			r.htmlRules = append(r.htmlRules,
				rewriteRule{
					pattern: regexp.MustCompile(`id=["']` + q(oldName) + `["']`),
					repl:    "id=" + quote + replName + quote,
				},
				rewriteRule{
					pattern: regexp.MustCompile(`href=["']#` + q(oldName) + `["']`),
					repl:    `href="#` + replName + `"`,
				})

			r.cssRules = append(r.cssRules, boundaryRule("#", oldName, replName))

			r.jsRules = append(r.jsRules,
				rewriteRule{
					pattern: regexp.MustCompile(`ById\(["']\s?` + q(oldName) + `\s?["']\)`),
					repl:    "ById(" + quote + replName + quote + ")",
				},
				boundaryRule("#", oldName, replName),
				rewriteRule{
					pattern: regexp.MustCompile(`\.id\s?=\s?["']` + q(oldName) + `["'];`),
					repl:    ".id = '" + replName + "';",
				})
			continue
		}

		r.classByName[oldName] = replName

		r.cssRules = append(r.cssRules, boundaryRule(".", oldName, replName))

		r.jsRules = append(r.jsRules,
			rewriteRule{
				pattern: regexp.MustCompile(`ByClassName\(["']\s?` + q(oldName) + `\s?["']\)`),
				repl:    "ByClassName(" + quote + replName + quote + ")",
			},
			boundaryRule(".", oldName, replName),
			rewriteRule{
				pattern: regexp.MustCompile(`classList\.toggle\(["']` + q(oldName) + `["']\);`),
				repl:    "classList.toggle('" + replName + "');",
			},
			rewriteRule{
				pattern: regexp.MustCompile(`\.className\s?=\s?["']` + q(oldName) + `["'];`),
				repl:    ".className = '" + replName + "';",
			})
	}

	return r
}

// boundaryRule matches sigil+name not followed by another identifier
// character, so ".btn" never rewrites inside ".btn-primary". Go's RE2
// has no lookahead; the trailing character is captured and restored.
func boundaryRule(sigil, oldName, replName string) rewriteRule {
	return rewriteRule{
		pattern: regexp.MustCompile(regexp.QuoteMeta(sigil) + regexp.QuoteMeta(oldName) + `([^\w-]|$)`),
		repl:    sigil + replName + "$1",
		repeat:  true,
	}
}

// CSS rewrites selector tokens in stylesheet content.
func (r *Replacer) CSS(content string) string {
	for _, rule := range r.cssRules {
		content = rule.apply(content)
	}
	return content
}

// JS rewrites the supported DOM-access idioms in script content.
func (r *Replacer) JS(content string) string {
	for _, rule := range r.jsRules {
		content = rule.apply(content)
	}
	return content
}

// HTML rewrites class attributes via the DOM (the specific class token
// is swapped on every element carrying it, other tokens preserved),
// then rewrites id attributes and anchor-fragment hrefs by literal
// pattern replacement.
func (r *Replacer) HTML(content string) (string, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("selector: parse html: %w", err)
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for i, attr := range n.Attr {
				if attr.Key != "class" {
					continue
				}
				n.Attr[i].Val = r.rewriteClassList(attr.Val)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", fmt.Errorf("selector: render html: %w", err)
	}

	out := buf.String()
	for _, rule := range r.htmlRules {
		out = rule.apply(out)
	}
	return out, nil
}

func (r *Replacer) rewriteClassList(classAttr string) string {
	tokens := strings.Fields(classAttr)
	for i, tok := range tokens {
		if repl, ok := r.classByName[tok]; ok {
			tokens[i] = repl
		}
	}
	return strings.Join(tokens, " ")
}
