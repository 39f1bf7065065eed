// Package webdoc runs the web-document stage: selector mangling (or a
// verbatim copy when mangling is disabled) followed by in-place
// minification of every HTML/CSS/JS file in the destination tree.
package webdoc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"

	"github.com/sitemin/sitemin/batch"
	"github.com/sitemin/sitemin/config"
	"github.com/sitemin/sitemin/discover"
	"github.com/sitemin/sitemin/faillog"
	"github.com/sitemin/sitemin/selector"
)

// Stage processes the document set's text assets.
type Stage struct {
	cfg     *config.Config
	mangler *selector.Mangler
	min     *minify.M
	failLog *faillog.Log
	logger  *slog.Logger
}

// NewStage builds the web-document stage from the run configuration.
func NewStage(cfg *config.Config, failLog *faillog.Log, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}

	m := minify.New()
	if cfg.HTMLMinify.MinifyCSS {
		m.AddFunc("text/css", css.Minify)
	}
	if cfg.HTMLMinify.MinifyJS {
		m.AddFunc("application/javascript", js.Minify)
	}
	m.Add("text/html", &html.Minifier{
		KeepComments:     !cfg.HTMLMinify.RemoveComments,
		KeepWhitespace:   !cfg.HTMLMinify.CollapseWhitespace,
		KeepDocumentTags: cfg.HTMLMinify.KeepDocumentTags,
		KeepEndTags:      cfg.HTMLMinify.KeepEndTags,
	})

	return &Stage{
		cfg: cfg,
		mangler: selector.NewMangler(selector.Config{
			Quote:    cfg.HTMLMinify.QuoteCharacter,
			DumpMap:  cfg.DumpSelectorMap,
			FailFast: cfg.FailFast,
			FailLog:  failLog,
			Logger:   logger,
		}),
		min:     m,
		failLog: failLog,
		logger:  logger,
	}
}

// Process writes every web document to the destination tree, mangled or
// verbatim, then minifies the written files in place. It returns the
// destination paths.
func (s *Stage) Process(ctx context.Context, webDocFiles []string, base, destRoot string, batchSize int) ([]string, error) {
	var (
		destFiles []string
		err       error
	)
	if s.cfg.MangleSelectors {
		destFiles, err = s.mangler.Rename(ctx, webDocFiles, base, destRoot, batchSize)
		if err != nil {
			return nil, err
		}
	} else {
		destFiles, err = s.copyAll(ctx, webDocFiles, base, destRoot, batchSize)
		if err != nil {
			return nil, err
		}
	}

	if err := s.minifyAll(ctx, destFiles, batchSize); err != nil {
		return nil, err
	}
	return destFiles, nil
}

func (s *Stage) copyAll(ctx context.Context, files []string, base, destRoot string, batchSize int) ([]string, error) {
	destFiles := make([]string, len(files))
	procs := make([]batch.Proc, len(files))
	for i, file := range files {
		i, file := i, file
		dest := discover.DestPath(destRoot, base, file)
		destFiles[i] = dest
		procs[i] = func(ctx context.Context) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("webdoc: read %s: %w", file, err)
			}
			if err := discover.EnsureDir(dest); err != nil {
				return err
			}
			if err := os.WriteFile(dest, data, 0644); err != nil {
				return fmt.Errorf("webdoc: write %s: %w", dest, err)
			}
			return nil
		}
	}

	results, err := batch.Run(ctx, procs, batchSize)
	if err != nil {
		return nil, err
	}
	for _, r := range batch.Failures(results) {
		if s.cfg.FailFast {
			return nil, r.Err
		}
		s.failLog.Warnf("copy failed: %v", r.Err)
	}
	return destFiles, nil
}

// minifyAll shrinks every destination file in place. A single file's
// failure is recoverable: it is logged and the original content kept.
func (s *Stage) minifyAll(ctx context.Context, destFiles []string, batchSize int) error {
	var before, after atomic.Int64

	procs := make([]batch.Proc, 0, len(destFiles))
	for _, file := range destFiles {
		file := file
		mediatype := s.mediatypeFor(file)
		if mediatype == "" {
			continue
		}
		procs = append(procs, func(ctx context.Context) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("webdoc: read %s: %w", file, err)
			}
			minified, err := s.min.Bytes(mediatype, data)
			if err != nil {
				return fmt.Errorf("webdoc: minify %s: %w", file, err)
			}
			if err := os.WriteFile(file, minified, 0644); err != nil {
				return fmt.Errorf("webdoc: write %s: %w", file, err)
			}
			before.Add(int64(len(data)))
			after.Add(int64(len(minified)))
			return nil
		})
	}

	results, err := batch.Run(ctx, procs, batchSize)
	if err != nil {
		return err
	}
	for _, r := range batch.Failures(results) {
		if s.cfg.FailFast {
			return r.Err
		}
		s.failLog.Warnf("minify failed: %v", r.Err)
	}

	saved := before.Load() - after.Load()
	if saved < 0 {
		saved = 0
	}
	s.logger.Info("minification done",
		"files", len(procs),
		"before", humanize.Bytes(uint64(before.Load())),
		"after", humanize.Bytes(uint64(after.Load())),
		"saved", humanize.Bytes(uint64(saved)))
	return nil
}

// mediatypeFor returns the registered mediatype for a file, or "" when
// the file kind is not minified under the current options.
func (s *Stage) mediatypeFor(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".html", ".htm":
		return "text/html"
	case ".css":
		if s.cfg.HTMLMinify.MinifyCSS {
			return "text/css"
		}
	case ".js":
		if s.cfg.HTMLMinify.MinifyJS {
			return "application/javascript"
		}
	}
	return ""
}
