package imageset

import (
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	// Decoder registrations for image.Decode/DecodeConfig. WebP is
	// decode-only; see canEncode.
	_ "golang.org/x/image/webp"

	"github.com/sitemin/sitemin/batch"
	"github.com/sitemin/sitemin/discover"
	"github.com/sitemin/sitemin/faillog"
)

// UpscaleCacheDirName is the dot-directory at the working directory
// holding one enlarged copy per source image that required upscaling,
// mirroring the source-relative path. The cache is reused across
// breakpoints so the expensive upscale runs at most once per image.
const UpscaleCacheDirName = ".sitemin-upscale"

// Variant is one output file to materialize: its destination path and
// the rendered target width measured for its breakpoint.
type Variant struct {
	DestPath string
	Width    int
}

// GenRecord is the work unit for one unique source image.
type GenRecord struct {
	SourcePath string
	Vector     bool
	Variants   map[string]Variant // breakpoint key (or "svg") -> variant
}

// Generator materializes image variants: resized raster copies per
// breakpoint, or one verbatim SVG copy.
type Generator struct {
	upscaleLevel int
	cacheRoot    string
	logger       *slog.Logger
	failLog      *faillog.Log
}

// NewGenerator creates a Generator. upscaleLevel (1..3) controls how
// far above native resolution the upscaler is willing to go.
func NewGenerator(upscaleLevel int, failLog *faillog.Log, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return &Generator{
		upscaleLevel: upscaleLevel,
		cacheRoot:    filepath.Join(wd, UpscaleCacheDirName),
		logger:       logger,
		failLog:      failLog,
	}
}

// Generate runs every variant of every record in batches. Missing
// source images and AVIF sources are warned and skipped before
// batching; any other variant failure is fatal for the run.
func (g *Generator) Generate(ctx context.Context, records []GenRecord, batchSize int) error {
	var procs []batch.Proc

	for _, rec := range records {
		rec := rec

		if _, err := os.Stat(rec.SourcePath); err != nil {
			g.failLog.Warnf("skipping missing image: %s", rec.SourcePath)
			continue
		}

		if rec.Vector {
			v, ok := rec.Variants["svg"]
			if !ok {
				continue
			}
			procs = append(procs, func(ctx context.Context) error {
				if err := discover.EnsureDir(v.DestPath); err != nil {
					return err
				}
				return copyIfAbsent(rec.SourcePath, v.DestPath)
			})
			continue
		}

		if strings.EqualFold(filepath.Ext(rec.SourcePath), ".avif") {
			g.failLog.Warnf("skipping AVIF, unsupported in image set generation: %s", rec.SourcePath)
			continue
		}

		for key, v := range rec.Variants {
			key, v := key, v
			if v.Width <= 0 {
				g.failLog.Warnf("skipping %s variant of %s: no rendered width", key, rec.SourcePath)
				continue
			}
			procs = append(procs, func(ctx context.Context) error {
				return g.generateVariant(rec.SourcePath, v)
			})
		}
	}

	results, err := batch.Run(ctx, procs, batchSize)
	if err != nil {
		return err
	}
	return batch.FirstError(results)
}

// generateVariant produces one output file: upscale if the target
// exceeds the native width, then resize down to the target, or copy
// verbatim when the widths already match.
func (g *Generator) generateVariant(srcPath string, v Variant) error {
	width, err := imageWidth(srcPath)
	if err != nil {
		return err
	}

	if err := discover.EnsureDir(v.DestPath); err != nil {
		return err
	}

	if !canEncode(filepath.Ext(srcPath)) {
		// Decode-only formats (WebP) cannot be re-encoded in this
		// pipeline. The verbatim copy keeps the variant link valid; the
		// encoder stage may still convert it later.
		if width != v.Width {
			g.failLog.Warnf("cannot resize %s to %d (no encoder for %s), copying verbatim",
				srcPath, v.Width, filepath.Ext(srcPath))
		}
		return copyIfAbsent(srcPath, v.DestPath)
	}

	base, baseWidth := srcPath, width
	if v.Width > width {
		base, baseWidth, err = g.upscale(srcPath, width)
		if err != nil {
			return err
		}
	}

	if baseWidth == v.Width {
		return copyIfAbsent(base, v.DestPath)
	}
	return resizeTo(base, v.DestPath, v.Width)
}

// upscale produces (or reuses) the cached enlarged copy of srcPath. The
// existence check is not atomic with the write; concurrent variants of
// distinct records sharing a source may both upscale, last write wins.
func (g *Generator) upscale(srcPath string, nativeWidth int) (string, int, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", 0, fmt.Errorf("imageset: getwd: %w", err)
	}
	rel, err := filepath.Rel(wd, srcPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(srcPath)
	}
	cached := filepath.Join(g.cacheRoot, rel)

	if _, err := os.Stat(cached); err == nil {
		w, err := imageWidth(cached)
		if err != nil {
			return "", 0, err
		}
		return cached, w, nil
	}

	if err := discover.EnsureDir(cached); err != nil {
		return "", 0, err
	}
	target := nativeWidth * (g.upscaleLevel + 1)
	if err := resizeTo(srcPath, cached, target); err != nil {
		return "", 0, err
	}
	g.logger.Debug("imageset: upscaled", "source", srcPath, "width", target)
	return cached, target, nil
}

// lanczos3 is the resampling filter used for every resize, matching the
// windowed-sinc kernel with support 3.
var lanczos3 = &draw.Kernel{
	Support: 3,
	At: func(t float64) float64 {
		if t < 0 {
			t = -t
		}
		if t >= 3 {
			return 0
		}
		if t == 0 {
			return 1
		}
		pt := math.Pi * t
		return 3 * math.Sin(pt) * math.Sin(pt/3) / (pt * pt)
	},
}

// resizeTo decodes src, scales it to targetWidth preserving aspect
// ratio, and encodes to dest in the format implied by dest's extension.
func resizeTo(src, dest string, targetWidth int) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("imageset: open %s: %w", src, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("imageset: decode %s: %w", src, err)
	}

	b := img.Bounds()
	if b.Dx() <= 0 {
		return fmt.Errorf("imageset: %s has no width", src)
	}
	targetHeight := int(math.Round(float64(b.Dy()) * float64(targetWidth) / float64(b.Dx())))
	if targetHeight < 1 {
		targetHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	lanczos3.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("imageset: create %s: %w", dest, err)
	}
	defer out.Close()

	if err := encodeTo(out, dst, filepath.Ext(dest)); err != nil {
		return fmt.Errorf("imageset: encode %s: %w", dest, err)
	}
	return nil
}

func encodeTo(w io.Writer, img image.Image, ext string) error {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 90})
	case ".png":
		return png.Encode(w, img)
	case ".gif":
		return gif.Encode(w, img, nil)
	case ".bmp":
		return bmp.Encode(w, img)
	case ".tif", ".tiff":
		return tiff.Encode(w, img, nil)
	default:
		return fmt.Errorf("no encoder for %s", ext)
	}
}

func canEncode(ext string) bool {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff":
		return true
	}
	return false
}

// imageWidth reads the native pixel width from the image header without
// decoding the full bitmap.
func imageWidth(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("imageset: open %s: %w", path, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, fmt.Errorf("imageset: read image header %s: %w", path, err)
	}
	return cfg.Width, nil
}

// copyIfAbsent copies src to dest unless dest already exists. The check
// and the copy are not atomic; see the upscale cache note.
func copyIfAbsent(src, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("imageset: open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("imageset: create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("imageset: copy %s to %s: %w", src, dest, err)
	}
	return nil
}
