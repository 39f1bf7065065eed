// Package imageset generates responsive image sets: it parses HTML for
// <img> tags, measures each image's rendered width per breakpoint in a
// headless browser, materializes resized variants, and rewrites the
// tags into <picture> elements bound to those variants.
package imageset

import (
	"context"
	"log/slog"
	"os"

	"github.com/sitemin/sitemin/batch"
	"github.com/sitemin/sitemin/config"
	"github.com/sitemin/sitemin/discover"
	"github.com/sitemin/sitemin/encoder"
	"github.com/sitemin/sitemin/faillog"
	"github.com/sitemin/sitemin/render"
)

// Pipeline wires the four image-set stages: parse, measure, generate,
// transform.
type Pipeline struct {
	cfg     *config.Config
	parser  *Parser
	gen     *Generator
	trans   *Transformer
	failLog *faillog.Log
	logger  *slog.Logger
}

// Result reports what one pipeline run produced.
type Result struct {
	// TransformedHTML are the destination paths of the rewritten
	// documents.
	TransformedHTML []string
	// LinkedImages are the variant destination paths that exist on disk
	// after generation, fed to the encoder stage.
	LinkedImages []string
	// SourceImages are the source paths referenced by <img> tags. Later
	// stages copying leftover assets skip these.
	SourceImages []string
}

// NewPipeline assembles the image-set pipeline.
func NewPipeline(cfg *config.Config, measurer *render.Measurer, failLog *faillog.Log, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:     cfg,
		parser:  NewParser(measurer, cfg.ImageSet.ScreenSizes, logger),
		gen:     NewGenerator(cfg.ImageSet.UpscaleLevel, failLog, logger),
		trans:   NewTransformer(&cfg.ImageSet, cfg.Encode.TargetType, encoder.ContainerExt(cfg.Encode.VideoCodec), logger),
		failLog: failLog,
		logger:  logger,
	}
}

// Run processes htmlFiles end to end. Each stage gets its own batch
// size from the per-operation memory cost: browsers are the heaviest,
// encodes lighter, rewrites lightest.
func (p *Pipeline) Run(ctx context.Context, htmlFiles []string, base, destRoot string) (*Result, error) {
	browserBatch := p.batchSize(p.cfg.Batch.MemPerBrowserMB)
	p.logger.Info("image set generation started",
		"html_files", len(htmlFiles), "browser_batch", browserBatch)

	docs, err := p.parser.ParseDocuments(ctx, htmlFiles, browserBatch)
	if err != nil {
		return nil, err
	}

	records := p.buildGenRecords(docs, base, destRoot)
	p.logger.Info("image measurement done",
		"documents", len(docs), "unique_images", len(records))

	if err := p.gen.Generate(ctx, records, p.batchSize(p.cfg.Batch.MemPerEncodeMB)); err != nil {
		return nil, err
	}

	dests, err := p.trans.Transform(ctx, docs, base, destRoot, p.batchSize(p.cfg.Batch.MemPerRewriteMB))
	if err != nil {
		return nil, err
	}
	p.logger.Info("img tag transformation done", "documents", len(dests))

	sources := make([]string, len(records))
	for i, rec := range records {
		sources[i] = rec.SourcePath
	}
	return &Result{
		TransformedHTML: dests,
		LinkedImages:    existingVariants(records),
		SourceImages:    sources,
	}, nil
}

func (p *Pipeline) batchSize(perProcMemMB int) int {
	size := batch.FreeMemSize(perProcMemMB)
	if p.cfg.Batch.Workers > 0 {
		size = batch.Clamp(size, p.cfg.Batch.Workers)
	}
	return size
}

// buildGenRecords turns per-document image records into one GenRecord
// per unique source image. The same image referenced from several
// documents is generated once; the first document's measurements win.
// A raster image with no measured breakpoint at all yields no record:
// its tag stays as-is, so the original file must reach the destination
// through the plain copy stage instead.
func (p *Pipeline) buildGenRecords(docs []DocumentRecord, base, destRoot string) []GenRecord {
	seen := make(map[string]bool)
	var records []GenRecord

	for _, doc := range docs {
		for _, img := range doc.Images {
			if seen[img.Path] {
				continue
			}
			seen[img.Path] = true

			rec := GenRecord{
				SourcePath: img.Path,
				Variants:   make(map[string]Variant),
			}

			if IsVector(img.Path) {
				rec.Vector = true
				rec.Variants["svg"] = Variant{
					DestPath: discover.DestPath(destRoot, base, VectorPath(img.Path)),
				}
			} else {
				measured := false
				for _, size := range p.cfg.ImageSet.ScreenSizes {
					w := img.Sizes[size.Key].Width
					if w > 0 {
						measured = true
					}
					rec.Variants[size.Key] = Variant{
						DestPath: discover.DestPath(destRoot, base, VariantPath(img.Path, size.Key)),
						Width:    w,
					}
				}
				if !measured {
					continue
				}
			}
			records = append(records, rec)
		}
	}
	return records
}

func existingVariants(records []GenRecord) []string {
	var out []string
	for _, rec := range records {
		for _, v := range rec.Variants {
			if _, err := os.Stat(v.DestPath); err == nil {
				out = append(out, v.DestPath)
			}
		}
	}
	return out
}
