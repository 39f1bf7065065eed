package imageset

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"github.com/sitemin/sitemin/batch"
	"github.com/sitemin/sitemin/config"
	"github.com/sitemin/sitemin/render"
)

// SourceRecord is one <img> occurrence in a document: its exact source
// text (the substitution key for the transformer), the resolved image
// path, its selectors, the original attribute bag, and the rendered
// width per breakpoint. Records are never mutated after parsing.
type SourceRecord struct {
	TagText string
	Path    string // absolute image path, resolved against the document
	ID      string // "#name" or empty
	Classes []string
	Attrs   []html.Attribute // source order, src included
	Sizes   map[string]render.Size
}

// DocumentRecord holds every image record of one HTML document.
type DocumentRecord struct {
	HTMLFile string
	Images   []SourceRecord
}

// Parser scans HTML documents for <img> tags and measures each image's
// rendered width at every breakpoint through the Measurer.
type Parser struct {
	measurer *render.Measurer
	sizes    []config.ScreenSize
	logger   *slog.Logger
}

// NewParser creates a Parser over the given breakpoint table.
func NewParser(m *render.Measurer, sizes []config.ScreenSize, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{measurer: m, sizes: sizes, logger: logger}
}

// ParseDocuments parses htmlFiles in batches. Each batch unit spins a
// browser, so batchSize should come from the memory-derived browser
// budget. An <img> without src is a hard error for the run; a failed
// measurement for one image is logged and the image skipped.
func (p *Parser) ParseDocuments(ctx context.Context, htmlFiles []string, batchSize int) ([]DocumentRecord, error) {
	docs := make([]DocumentRecord, len(htmlFiles))
	procs := make([]batch.Proc, len(htmlFiles))
	for i, file := range htmlFiles {
		i, file := i, file
		procs[i] = func(ctx context.Context) error {
			doc, err := p.parseDocument(ctx, file)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		}
	}

	results, err := batch.Run(ctx, procs, batchSize)
	if err != nil {
		return nil, err
	}
	if err := batch.FirstError(results); err != nil {
		return nil, err
	}
	return docs, nil
}

func (p *Parser) parseDocument(ctx context.Context, htmlFile string) (DocumentRecord, error) {
	abs, err := filepath.Abs(htmlFile)
	if err != nil {
		return DocumentRecord{}, fmt.Errorf("imageset: abs %s: %w", htmlFile, err)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return DocumentRecord{}, fmt.Errorf("imageset: read %s: %w", abs, err)
	}

	doc := DocumentRecord{HTMLFile: abs}

	// Images within one document are measured sequentially: each
	// measurement mutates the shared page viewport.
	for _, tag := range scanTags(data, "img") {
		rec, err := p.buildRecord(ctx, abs, tag)
		if err != nil {
			return DocumentRecord{}, err
		}
		if rec == nil {
			continue
		}
		doc.Images = append(doc.Images, *rec)
	}
	return doc, nil
}

func (p *Parser) buildRecord(ctx context.Context, htmlFile string, tag rawTag) (*SourceRecord, error) {
	src := attrVal(tag.attrs, "src")
	if src == "" {
		// Downstream stages assume every record has a resolvable image
		// path, so a src-less tag invalidates the whole run.
		return nil, fmt.Errorf("imageset: img tag without src in %s: %s", htmlFile, tag.text)
	}

	rec := &SourceRecord{
		TagText: tag.text,
		Path:    filepath.Join(filepath.Dir(htmlFile), src),
		Attrs:   tag.attrs,
	}
	if id := attrVal(tag.attrs, "id"); id != "" {
		rec.ID = "#" + id
	}
	for _, c := range strings.Fields(attrVal(tag.attrs, "class")) {
		rec.Classes = append(rec.Classes, "."+c)
	}

	target := render.Target{ID: rec.ID, Classes: rec.Classes}
	sizes, err := p.measurer.ImageWidths(ctx, htmlFile, target, p.sizes)
	if err != nil {
		p.logger.Warn("imageset: size measurement failed, skipping image",
			"file", htmlFile, "image", rec.Path, "error", err)
		return nil, nil
	}
	rec.Sizes = sizes
	return rec, nil
}

// rawTag is one start tag with its exact source text preserved, so the
// transformer can substitute it literally without re-serializing the
// document.
type rawTag struct {
	text  string
	attrs []html.Attribute
}

// scanTags tokenizes doc and returns every start tag named name with
// its raw source text. The tokenizer's Raw buffer is only valid until
// the next token, so the text is copied out immediately.
func scanTags(doc []byte, name string) []rawTag {
	var tags []rawTag
	tz := html.NewTokenizer(bytes.NewReader(doc))
	for {
		tt := tz.Next()
		if tt == html.ErrorToken {
			return tags
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		raw := string(tz.Raw())
		tok := tz.Token()
		if tok.Data != name {
			continue
		}
		tags = append(tags, rawTag{text: raw, attrs: tok.Attr})
	}
}

func attrVal(attrs []html.Attribute, key string) string {
	for _, a := range attrs {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
