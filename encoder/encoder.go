// Package encoder re-encodes media in the destination tree: images
// into the configured output format, videos through ffmpeg, and video
// poster thumbnails. The rest of the pipeline consumes it through the
// small collaborator interfaces below.
package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	_ "image/gif"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/dustin/go-humanize"

	"github.com/sitemin/sitemin/batch"
	"github.com/sitemin/sitemin/config"
	"github.com/sitemin/sitemin/faillog"
)

// ImageEncoder converts an in-memory image to the output format.
type ImageEncoder interface {
	// Encode returns the encoded bytes and the output extension
	// (without the dot).
	Encode(data []byte) ([]byte, string, error)
}

// VideoEncoder re-encodes one video file. Ext is the container
// extension (with dot) the encoder produces.
type VideoEncoder interface {
	Encode(ctx context.Context, src, dest string) error
	Ext() string
}

// Thumbnailer extracts one poster frame from a video.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, videoPath, destPath string) error
}

// EffectiveTarget maps the configured target image type onto a format
// this encoder can actually emit. Formats without an encoder in the
// toolchain (webp, avif) degrade to jpg so that variant links, poster
// paths, and encoder output stay consistent.
func EffectiveTarget(target string, logger *slog.Logger) string {
	switch strings.ToLower(target) {
	case "jpg", "jpeg":
		return "jpg"
	case "png":
		return "png"
	case "":
		return ""
	default:
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("encoder: no encoder for target image type, falling back to jpg",
			"target", target)
		return "jpg"
	}
}

// StdImageEncoder encodes through the Go image codecs.
type StdImageEncoder struct {
	cfg config.EncodeConfig
}

// NewImageEncoder creates the standard image encoder. cfg.TargetType
// must already be an effective target (see EffectiveTarget).
func NewImageEncoder(cfg config.EncodeConfig) *StdImageEncoder {
	return &StdImageEncoder{cfg: cfg}
}

// Encode decodes data and re-encodes it into the target format.
func (e *StdImageEncoder) Encode(data []byte) ([]byte, string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("encoder: decode: %w", err)
	}

	var buf bytes.Buffer
	switch e.cfg.TargetType {
	case "jpg", "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.cfg.Jpeg.Quality})
		if err != nil {
			return nil, "", fmt.Errorf("encoder: jpeg: %w", err)
		}
		return buf.Bytes(), "jpg", nil
	case "png":
		enc := png.Encoder{CompressionLevel: pngLevel(e.cfg.Png.CompressionLevel)}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("encoder: png: %w", err)
		}
		return buf.Bytes(), "png", nil
	default:
		return nil, "", fmt.Errorf("encoder: unsupported target type %q", e.cfg.TargetType)
	}
}

func pngLevel(level int) png.CompressionLevel {
	switch level {
	case 1:
		return png.NoCompression
	case 2:
		return png.BestSpeed
	case 3:
		return png.BestCompression
	default:
		return png.DefaultCompression
	}
}

// Stage drives batched encoding over the destination tree.
type Stage struct {
	images  ImageEncoder
	videos  VideoEncoder
	thumbs  Thumbnailer
	format  string // effective target image format
	failLog *faillog.Log
	logger  *slog.Logger
}

// NewStage assembles the encoder stage from the run configuration.
func NewStage(cfg config.EncodeConfig, failLog *faillog.Log, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{
		images:  NewImageEncoder(cfg),
		videos:  NewFFmpegEncoder(cfg.VideoCodec, cfg.VideoEffort),
		thumbs:  NewFFmpegThumbnailer(),
		format:  cfg.TargetType,
		failLog: failLog,
		logger:  logger,
	}
}

// EncodeImages re-encodes every file into the target format, writing a
// sibling with the target extension and removing the original when the
// extension changed. Per-file failures are recoverable: the original
// file stays in place and the failure is logged.
func (s *Stage) EncodeImages(ctx context.Context, files []string, batchSize int) error {
	if s.format == "" {
		return nil
	}

	var before, after atomic.Int64
	procs := make([]batch.Proc, 0, len(files))
	for _, file := range files {
		file := file
		if strings.EqualFold(filepath.Ext(file), ".svg") {
			continue
		}
		procs = append(procs, func(ctx context.Context) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("encoder: read %s: %w", file, err)
			}
			out, ext, err := s.images.Encode(data)
			if err != nil {
				return fmt.Errorf("encoder: %s: %w", file, err)
			}

			dest := strings.TrimSuffix(file, filepath.Ext(file)) + "." + ext
			if err := os.WriteFile(dest, out, 0644); err != nil {
				return fmt.Errorf("encoder: write %s: %w", dest, err)
			}
			if dest != file {
				if err := os.Remove(file); err != nil {
					return fmt.Errorf("encoder: remove %s: %w", file, err)
				}
			}
			before.Add(int64(len(data)))
			after.Add(int64(len(out)))
			return nil
		})
	}

	results, err := batch.Run(ctx, procs, batchSize)
	if err != nil {
		return err
	}
	for _, r := range batch.Failures(results) {
		s.failLog.Warnf("image encode failed: %v", r.Err)
	}

	s.logger.Info("image encoding done",
		"files", len(procs),
		"before", humanize.Bytes(uint64(before.Load())),
		"after", humanize.Bytes(uint64(after.Load())))
	return nil
}

// EncodeVideos re-encodes every video and extracts its poster thumbnail
// into the sibling thumbnails/ directory the transformer links to.
func (s *Stage) EncodeVideos(ctx context.Context, files []string, batchSize int) error {
	procs := make([]batch.Proc, 0, len(files))
	for _, file := range files {
		file := file
		procs = append(procs, func(ctx context.Context) error {
			base := strings.TrimSuffix(file, filepath.Ext(file))
			dest := base + s.videos.Ext()

			// ffmpeg refuses to read and write the same path, which dest
			// is whenever the container stays. Encode to a scratch
			// sibling and rename over the final name.
			scratch := base + ".enc" + s.videos.Ext()
			if err := s.videos.Encode(ctx, file, scratch); err != nil {
				os.Remove(scratch)
				return err
			}
			if err := os.Rename(scratch, dest); err != nil {
				return fmt.Errorf("encoder: rename %s: %w", scratch, err)
			}
			if dest != file {
				if err := os.Remove(file); err != nil {
					return fmt.Errorf("encoder: remove %s: %w", file, err)
				}
			}

			format := s.format
			if format == "" {
				format = "jpg"
			}
			name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
			thumb := filepath.Join(filepath.Dir(file), "thumbnails", name+"."+format)
			if err := os.MkdirAll(filepath.Dir(thumb), 0755); err != nil {
				return fmt.Errorf("encoder: mkdir %s: %w", filepath.Dir(thumb), err)
			}
			return s.thumbs.Thumbnail(ctx, dest, thumb)
		})
	}

	results, err := batch.Run(ctx, procs, batchSize)
	if err != nil {
		return err
	}
	for _, r := range batch.Failures(results) {
		s.failLog.Warnf("video encode failed: %v", r.Err)
	}
	return nil
}
