package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sitemin/sitemin/batch"
	"github.com/sitemin/sitemin/config"
	"github.com/sitemin/sitemin/discover"
	"github.com/sitemin/sitemin/encoder"
	"github.com/sitemin/sitemin/faillog"
	"github.com/sitemin/sitemin/imageset"
	"github.com/sitemin/sitemin/render"
	"github.com/sitemin/sitemin/report"
	"github.com/sitemin/sitemin/webdoc"
)

// runPipeline executes one full optimization pass from the source tree
// at base into cfg.DestPath, recording the run in the local ledger.
func runPipeline(ctx context.Context, cfg *config.Config, base string) error {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return fmt.Errorf("resolve base %s: %w", base, err)
	}
	destRoot, err := filepath.Abs(cfg.DestPath)
	if err != nil {
		return fmt.Errorf("resolve dest %s: %w", cfg.DestPath, err)
	}

	// Never rediscover our own output on incremental runs.
	if rel, err := filepath.Rel(absBase, destRoot); err == nil && !strings.HasPrefix(rel, "..") {
		pat := filepath.ToSlash(rel) + "/**"
		if !slices.Contains(cfg.IgnorePatterns, pat) {
			cfg.IgnorePatterns = append(cfg.IgnorePatterns, pat)
		}
	}

	if cfg.RemoveOld {
		if err := os.RemoveAll(destRoot); err != nil {
			return fmt.Errorf("clear destination %s: %w", destRoot, err)
		}
	}

	fl, err := faillog.Open("")
	if err != nil {
		return err
	}
	defer fl.Close()

	rec, err := report.Open(ctx, "", absBase, destRoot)
	if err != nil {
		// The ledger is bookkeeping, never a reason to abort a run.
		slog.Warn("run ledger unavailable", "error", err)
		rec = nil
	}

	start := time.Now()
	runErr := runStages(ctx, cfg, absBase, destRoot, fl, rec)
	if rec != nil {
		rec.Finish(ctx, fl.Count(), runErr)
	}
	if runErr != nil {
		return runErr
	}

	slog.Info("optimization done",
		"took", time.Since(start).Round(time.Millisecond),
		"warnings", fl.Count(),
		"fail_log", fl.Path())
	return nil
}

func runStages(ctx context.Context, cfg *config.Config, base, destRoot string, fl *faillog.Log, rec *report.Recorder) error {
	// Degrade unsupported image formats up front so variant links, video
	// posters, and encoder output all agree on the extension.
	cfg.Encode.TargetType = encoder.EffectiveTarget(cfg.Encode.TargetType, slog.Default())

	webDocs, err := discover.Files(base, cfg.LookupPatterns.WebDoc, cfg.IgnorePatterns)
	if err != nil {
		return err
	}
	htmlFiles := append(discover.FilterExt(webDocs, ".html"), discover.FilterExt(webDocs, ".htm")...)

	measurer := render.New(render.Config{})
	st := time.Now()
	res, err := imageset.NewPipeline(cfg, measurer, fl, nil).Run(ctx, htmlFiles, base, destRoot)
	if err != nil {
		return err
	}
	recordStage(ctx, rec, "imageset", len(htmlFiles), st)

	encBatch := batchSize(cfg, cfg.Batch.MemPerEncodeMB)
	enc := encoder.NewStage(cfg.Encode, fl, nil)

	// The media stages touch disjoint file sets, so they run in
	// parallel. The first fatal error cancels the others.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		st := time.Now()
		if err := enc.EncodeImages(gctx, res.LinkedImages, encBatch); err != nil {
			return err
		}
		recordStage(gctx, rec, "encode-images", len(res.LinkedImages), st)
		return nil
	})

	g.Go(func() error {
		// Videos transcode in the destination tree so the sources survive
		// a failed encode untouched.
		videos, err := discover.Files(base, cfg.LookupPatterns.Video, cfg.IgnorePatterns)
		if err != nil {
			return err
		}
		st := time.Now()
		destVideos, err := copyAssets(videos, base, destRoot, nil)
		if err != nil {
			return err
		}
		if err := enc.EncodeVideos(gctx, destVideos, encBatch); err != nil {
			return err
		}
		recordStage(gctx, rec, "encode-videos", len(destVideos), st)
		return nil
	})

	g.Go(func() error {
		// Images referenced only outside <img> tags (CSS backgrounds,
		// favicons, OpenGraph cards) keep their name and format so the
		// references stay valid.
		images, err := discover.Files(base, cfg.LookupPatterns.Image, cfg.IgnorePatterns)
		if err != nil {
			return err
		}
		st := time.Now()
		copied, err := copyAssets(images, base, destRoot, res.SourceImages)
		if err != nil {
			return err
		}
		recordStage(gctx, rec, "copy-assets", len(copied), st)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	// One pass over stylesheets, scripts, and the already transformed
	// documents keeps the selector map consistent across all of them.
	// Transformed documents live under destRoot and rewrite in place.
	stageFiles := append(discover.FilterExt(webDocs, ".css"), discover.FilterExt(webDocs, ".js")...)
	stageFiles = append(stageFiles, res.TransformedHTML...)
	st = time.Now()
	wd := webdoc.NewStage(cfg, fl, nil)
	if _, err := wd.Process(ctx, stageFiles, base, destRoot, batchSize(cfg, cfg.Batch.MemPerRewriteMB)); err != nil {
		return err
	}
	recordStage(ctx, rec, "webdoc", len(stageFiles), st)
	return nil
}

// copyAssets mirrors files under destRoot verbatim, skipping any path in
// skip. It returns the destination paths of the files it copied.
func copyAssets(files []string, base, destRoot string, skip []string) ([]string, error) {
	skipSet := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipSet[s] = true
	}

	var out []string
	for _, file := range files {
		if skipSet[file] {
			continue
		}
		dest := discover.DestPath(destRoot, base, file)
		if dest == file {
			out = append(out, dest)
			continue
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
		if err := discover.EnsureDir(dest); err != nil {
			return nil, err
		}
		if err := os.WriteFile(dest, data, 0644); err != nil {
			return nil, fmt.Errorf("write %s: %w", dest, err)
		}
		out = append(out, dest)
	}
	return out, nil
}

func recordStage(ctx context.Context, rec *report.Recorder, stage string, files int, since time.Time) {
	if rec != nil {
		rec.Stage(ctx, stage, files, time.Since(since))
	}
}

func batchSize(cfg *config.Config, perProcMemMB int) int {
	size := batch.FreeMemSize(perProcMemMB)
	if cfg.Batch.Workers > 0 {
		size = batch.Clamp(size, cfg.Batch.Workers)
	}
	return size
}
