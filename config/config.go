// Package config holds the sitemin run configuration: breakpoint table,
// encode options, minifier options, lookup patterns, and batching knobs.
// Built-in defaults are merged field-by-field under an optional project
// sitemin.yaml (project values win).
package config

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the project configuration file looked up in the
// working directory.
const ConfigFileName = "sitemin.yaml"

// ScreenSize is one named breakpoint: an upper-bound pixel width keyed
// by a short label (1X..6X). Table order is the operator's order and is
// preserved; media-query chains iterate it largest-to-smallest.
type ScreenSize struct {
	Key   string `yaml:"key"`
	Width int    `yaml:"width"`
}

// ImageSetConfig controls responsive image-set generation.
type ImageSetConfig struct {
	// ScreenSizes are width upper-limits per breakpoint key.
	ScreenSizes []ScreenSize `yaml:"screen_sizes"`
	// UpscaleLevel is the upscale aggressiveness (1..3).
	UpscaleLevel int `yaml:"upscale_level"`
}

// JpegOptions tunes the JPEG encoder collaborator.
type JpegOptions struct {
	Quality     int  `yaml:"quality"`
	Progressive bool `yaml:"progressive"`
}

// WebpOptions tunes the WebP encoder collaborator.
type WebpOptions struct {
	Quality int `yaml:"quality"`
	Method  int `yaml:"method"`
}

// AvifOptions tunes the AVIF encoder collaborator.
type AvifOptions struct {
	Quality int `yaml:"quality"`
	Speed   int `yaml:"speed"`
}

// PngOptions tunes the PNG encoder collaborator.
type PngOptions struct {
	// CompressionLevel maps to image/png levels: 0 default, 1 none,
	// 2 speed, 3 best compression.
	CompressionLevel int `yaml:"compression_level"`
}

// EncodeConfig selects the target image format and per-format options,
// plus the video codec settings.
type EncodeConfig struct {
	// TargetType is the output image format for the encoder stage
	// (jpg, png, webp, avif).
	TargetType string      `yaml:"target_type"`
	Jpeg       JpegOptions `yaml:"jpeg"`
	Webp       WebpOptions `yaml:"webp"`
	Avif       AvifOptions `yaml:"avif"`
	Png        PngOptions  `yaml:"png"`

	// VideoCodec is the codec identifier passed to the video encoder
	// (mx265, mav1, wav1).
	VideoCodec string `yaml:"video_codec"`
	// VideoEffort is the numeric encode-effort level (1..3).
	VideoEffort int `yaml:"video_effort"`
}

// HTMLMinifyOptions is the option set handed to the HTML minifier.
type HTMLMinifyOptions struct {
	RemoveComments     bool   `yaml:"remove_comments"`
	CollapseWhitespace bool   `yaml:"collapse_whitespace"`
	MinifyCSS          bool   `yaml:"minify_css"`
	MinifyJS           bool   `yaml:"minify_js"`
	QuoteCharacter     string `yaml:"quote_character"`
	KeepDocumentTags   bool   `yaml:"keep_document_tags"`
	KeepEndTags        bool   `yaml:"keep_end_tags"`
}

// LookupPatterns are the include globs per asset class, relative to the
// source base path.
type LookupPatterns struct {
	WebDoc []string `yaml:"webdoc"`
	Image  []string `yaml:"image"`
	Video  []string `yaml:"video"`
}

// BatchConfig bounds cooperative concurrency. Workers caps every batch;
// zero means derive from free memory and the per-operation cost.
type BatchConfig struct {
	Workers         int `yaml:"workers"`
	MemPerBrowserMB int `yaml:"mem_per_browser_mb"`
	MemPerEncodeMB  int `yaml:"mem_per_encode_mb"`
	MemPerRewriteMB int `yaml:"mem_per_rewrite_mb"`
}

// Config is the full sitemin configuration.
type Config struct {
	DestPath         string            `yaml:"dest_path"`
	RemoveOld        bool              `yaml:"remove_old"`
	MangleSelectors  bool              `yaml:"mangle_selectors"`
	DumpSelectorMap  bool              `yaml:"dump_selector_map"`
	FailFast         bool              `yaml:"fail_fast"`
	LookupPatterns   LookupPatterns    `yaml:"lookup_patterns"`
	IgnorePatterns   []string          `yaml:"ignore_patterns"`
	ImageSet         ImageSetConfig    `yaml:"image_set"`
	Encode           EncodeConfig      `yaml:"encode"`
	HTMLMinify       HTMLMinifyOptions `yaml:"html_minify"`
	Batch            BatchConfig       `yaml:"batch"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DestPath:        "sitemin-output",
		RemoveOld:       true,
		MangleSelectors: true,
		DumpSelectorMap: false,
		LookupPatterns: LookupPatterns{
			WebDoc: []string{"**/*.css", "**/*.js", "**/*.html", "**/*.htm"},
			Image:  []string{"**/*.png", "**/*.jpg", "**/*.jpeg", "**/*.bmp", "**/*.webp"},
			Video:  []string{"**/*.mp4", "**/*.webm", "**/*.mkv", "**/*.avi", "**/*.mov"},
		},
		IgnorePatterns: []string{"node_modules/**", "sitemin-output/**"},
		ImageSet: ImageSetConfig{
			ScreenSizes: []ScreenSize{
				{Key: "1X", Width: 400},
				{Key: "2X", Width: 640},
				{Key: "3X", Width: 768},
				{Key: "4X", Width: 1024},
				{Key: "5X", Width: 1280},
				{Key: "6X", Width: 1536},
			},
			UpscaleLevel: 2,
		},
		Encode: EncodeConfig{
			TargetType:  "webp",
			Jpeg:        JpegOptions{Quality: 60, Progressive: true},
			Webp:        WebpOptions{Quality: 50, Method: 6},
			Avif:        AvifOptions{Quality: 35, Speed: 0},
			Png:         PngOptions{CompressionLevel: 3},
			VideoCodec:  "mx265",
			VideoEffort: 2,
		},
		HTMLMinify: HTMLMinifyOptions{
			RemoveComments:     true,
			CollapseWhitespace: true,
			MinifyCSS:          true,
			MinifyJS:           true,
			QuoteCharacter:     "'",
			KeepDocumentTags:   true,
			KeepEndTags:        false,
		},
		Batch: BatchConfig{
			MemPerBrowserMB: 2000,
			MemPerEncodeMB:  400,
			MemPerRewriteMB: 100,
		},
	}
}

// Load reads the project config at path (empty = ConfigFileName in the
// working directory) and merges it over Default. A missing project file
// is not an error: defaults are returned unchanged.
func Load(path string) (Config, error) {
	if path == "" {
		path = ConfigFileName
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	// Unmarshalling into a copy of the defaults gives field-by-field
	// override precedence: only keys present in the project file are
	// replaced, absent keys keep the built-in value.
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot honour.
func (c *Config) Validate() error {
	if c.DestPath == "" {
		return fmt.Errorf("config: dest_path must not be empty")
	}
	if len(c.ImageSet.ScreenSizes) == 0 {
		return fmt.Errorf("config: image_set.screen_sizes must not be empty")
	}
	seen := make(map[string]bool, len(c.ImageSet.ScreenSizes))
	for _, s := range c.ImageSet.ScreenSizes {
		if s.Key == "" || s.Width <= 0 {
			return fmt.Errorf("config: invalid screen size %q:%d", s.Key, s.Width)
		}
		if seen[s.Key] {
			return fmt.Errorf("config: duplicate screen size key %q", s.Key)
		}
		seen[s.Key] = true
	}
	if l := c.ImageSet.UpscaleLevel; l < 1 || l > 3 {
		return fmt.Errorf("config: upscale_level must be 1..3, got %d", l)
	}
	return nil
}

// SizesDescending returns the breakpoint table ordered by width,
// largest first, for building media-query chains.
func (c *ImageSetConfig) SizesDescending() []ScreenSize {
	out := slices.Clone(c.ScreenSizes)
	slices.SortFunc(out, func(a, b ScreenSize) int {
		return b.Width - a.Width
	})
	return out
}

// WriteDefault writes the built-in configuration as a commented starter
// file. Refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if path == "" {
		path = ConfigFileName
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("config: marshal defaults: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
