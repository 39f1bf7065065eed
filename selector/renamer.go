package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sitemin/sitemin/batch"
	"github.com/sitemin/sitemin/discover"
	"github.com/sitemin/sitemin/faillog"
)

// MapDumpFileName is the optional selector-map dump written to the
// working directory for debugging mangled output.
const MapDumpFileName = "sitemin.selectors.map.json"

// Mangler orchestrates one mangling run: extract selectors from the
// document set's CSS, assign replacement names, and rewrite every web
// document to the destination tree.
type Mangler struct {
	cfg    Config
	logger *slog.Logger
}

// Config configures a Mangler.
type Config struct {
	// Quote is the attribute/argument quote used in replacements.
	// Default: "'".
	Quote string

	// DumpMap writes MapDumpFileName after assignment.
	DumpMap bool

	// FailFast escalates the first per-file rewrite failure instead of
	// logging and continuing.
	FailFast bool

	// FailLog receives recoverable per-file failures. Required.
	FailLog *faillog.Log

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Quote == "" {
		c.Quote = "'"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// NewMangler creates a Mangler with the given configuration.
func NewMangler(cfg Config) *Mangler {
	cfg.defaults()
	return &Mangler{cfg: cfg, logger: cfg.Logger}
}

// Rename builds the run's selector mapping from the CSS in webDocFiles
// and rewrites every file to its mirrored destination path. It returns
// the destination paths of all web documents for downstream
// minification.
//
// The mapping is computed once, up front, and held fixed for every
// rewrite; file processing order is therefore irrelevant to
// correctness and batching exists only for resource bounding.
func (m *Mangler) Rename(ctx context.Context, webDocFiles []string, base, destRoot string, batchSize int) ([]string, error) {
	cssFiles := discover.FilterExt(webDocFiles, ".css")

	classes, ids, err := ExtractFromFiles(ctx, cssFiles, batchSize)
	if err != nil {
		return nil, err
	}
	m.logger.Info("selector extraction done",
		"css_files", len(cssFiles), "classes", len(classes), "ids", len(ids))

	mapping := BuildMapping(classes, ids)

	if m.cfg.DumpMap {
		if err := dumpMapping(mapping); err != nil {
			// Debug aid only; a failed dump never fails the run.
			m.logger.Warn("selector map dump failed", "error", err)
		}
	}

	replacer := NewReplacer(mapping, m.cfg.Quote)

	destFiles := make([]string, len(webDocFiles))
	procs := make([]batch.Proc, len(webDocFiles))
	for i, file := range webDocFiles {
		i, file := i, file
		dest := discover.DestPath(destRoot, base, file)
		destFiles[i] = dest

		procs[i] = func(ctx context.Context) error {
			return m.renameFile(replacer, file, dest)
		}
	}

	results, err := batch.Run(ctx, procs, batchSize)
	if err != nil {
		return nil, err
	}
	for _, r := range batch.Failures(results) {
		if m.cfg.FailFast {
			return nil, r.Err
		}
		m.cfg.FailLog.Warnf("rename failed: %v", r.Err)
	}

	return destFiles, nil
}

func (m *Mangler) renameFile(replacer *Replacer, src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("selector: read %s: %w", src, err)
	}
	content := string(data)

	switch strings.ToLower(filepath.Ext(src)) {
	case ".html", ".htm":
		content, err = replacer.HTML(content)
		if err != nil {
			return fmt.Errorf("selector: rewrite %s: %w", src, err)
		}
	case ".js":
		content = replacer.JS(content)
	case ".css":
		content = replacer.CSS(content)
	}

	if err := discover.EnsureDir(dest); err != nil {
		return err
	}
	if err := os.WriteFile(dest, []byte(content), 0644); err != nil {
		return fmt.Errorf("selector: write renamed content %s: %w", dest, err)
	}
	return nil
}

func dumpMapping(mapping Mapping) error {
	data, err := json.MarshalIndent(mapping, "", "  ")
	if err != nil {
		return err
	}
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(wd, MapDumpFileName), data, 0644)
}
