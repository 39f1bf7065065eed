package encoder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
)

// Codec identifiers accepted by the video encoder.
const (
	CodecMP4X265 = "mx265" // H.265 in MP4
	CodecMP4AV1  = "mav1"  // AV1 in MP4
	CodecWebmAV1 = "wav1"  // AV1 in WebM
)

// FFmpegEncoder shells out to ffmpeg for video re-encoding.
type FFmpegEncoder struct {
	codec  string
	effort int // 1 fastest .. 3 slowest/best
}

// NewFFmpegEncoder creates an encoder for the given codec identifier.
// Unknown codecs fall back to mx265.
func NewFFmpegEncoder(codec string, effort int) *FFmpegEncoder {
	switch codec {
	case CodecMP4X265, CodecMP4AV1, CodecWebmAV1:
	default:
		codec = CodecMP4X265
	}
	if effort < 1 || effort > 3 {
		effort = 2
	}
	return &FFmpegEncoder{codec: codec, effort: effort}
}

// ContainerExt returns the container extension a codec identifier maps
// to, including unknown identifiers, which encode as mx265.
func ContainerExt(codec string) string {
	if codec == CodecWebmAV1 {
		return ".webm"
	}
	return ".mp4"
}

// Ext returns the container extension for the configured codec.
func (e *FFmpegEncoder) Ext() string {
	return ContainerExt(e.codec)
}

// Encode runs one ffmpeg transcode. Stdout and stderr are captured and
// attached to the returned error on failure.
func (e *FFmpegEncoder) Encode(ctx context.Context, src, dest string) error {
	args := []string{"-y", "-i", src}
	args = append(args, e.codecArgs()...)
	args = append(args, dest)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("encoder: ffmpeg %s -> %s: %w\n%s", src, dest, err, tail(out.Bytes()))
	}
	return nil
}

func (e *FFmpegEncoder) codecArgs() []string {
	switch e.codec {
	case CodecMP4AV1:
		// cpu-used: lower is slower and better.
		cpuUsed := []string{"", "6", "4", "2"}[e.effort]
		return []string{"-c:v", "libaom-av1", "-crf", "30", "-cpu-used", cpuUsed, "-c:a", "copy"}
	case CodecWebmAV1:
		cpuUsed := []string{"", "6", "4", "2"}[e.effort]
		return []string{"-c:v", "libaom-av1", "-crf", "30", "-cpu-used", cpuUsed, "-c:a", "libopus"}
	default:
		preset := []string{"", "fast", "medium", "slow"}[e.effort]
		return []string{"-c:v", "libx265", "-crf", "28", "-preset", preset, "-c:a", "copy"}
	}
}

// FFmpegThumbnailer extracts the first frame of a video as its poster.
type FFmpegThumbnailer struct {
	// Width is the poster width in pixels; height follows the aspect
	// ratio.
	Width int
}

// NewFFmpegThumbnailer creates a thumbnailer with the default poster
// width.
func NewFFmpegThumbnailer() *FFmpegThumbnailer {
	return &FFmpegThumbnailer{Width: 640}
}

// Thumbnail writes one scaled poster frame to destPath.
func (t *FFmpegThumbnailer) Thumbnail(ctx context.Context, videoPath, destPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y", "-i", videoPath,
		"-vf", "scale="+strconv.Itoa(t.Width)+":-1",
		"-frames:v", "1",
		destPath,
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("encoder: thumbnail %s: %w\n%s", videoPath, err, tail(out.Bytes()))
	}
	return nil
}

// tail keeps the last part of a tool's output for error messages.
func tail(b []byte) []byte {
	const keep = 800
	if len(b) > keep {
		return b[len(b)-keep:]
	}
	return b
}
