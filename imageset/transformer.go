package imageset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"github.com/sitemin/sitemin/batch"
	"github.com/sitemin/sitemin/config"
	"github.com/sitemin/sitemin/discover"
)

// Transformer rewrites <img> tags into <picture> elements bound to the
// generated variants, links <video> posters, and writes the rewritten
// documents to the destination tree.
//
// Substitution is a literal find-and-replace keyed on each tag's exact
// source text: everything outside the replaced tags survives
// byte-for-byte.
type Transformer struct {
	sizesDesc []config.ScreenSize
	format    string // output image format, "" keeps source extensions
	videoExt  string // video container extension after transcoding, "" keeps source
	logger    *slog.Logger
}

// NewTransformer creates a Transformer. format is the encoder stage's
// target image type and videoExt its video container extension; both
// point rewritten links at the files the encoder will actually produce.
func NewTransformer(cfg *config.ImageSetConfig, format, videoExt string, logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transformer{
		sizesDesc: cfg.SizesDescending(),
		format:    format,
		videoExt:  videoExt,
		logger:    logger,
	}
}

// PictureTag builds the replacement markup for one image record. Raster
// images become a <picture> with one <source> per measured breakpoint
// in descending pixel order plus a fallback <img> on the second-largest
// measured breakpoint's variant; SVG images become a plain <img> on the
// shared svg/ copy. All original attributes except src are carried
// over. A record with no measured breakpoint keeps its original tag:
// the generator produced no variants to link.
func (t *Transformer) PictureTag(rec SourceRecord, htmlFile string) string {
	var sb strings.Builder

	if IsVector(rec.Path) {
		sb.WriteString(`<img src="`)
		sb.WriteString(relativeTo(htmlFile, VectorPath(rec.Path)))
		sb.WriteString(`"`)
		writeAttrs(&sb, rec.Attrs)
		sb.WriteString("/>")
		return sb.String()
	}

	// Only breakpoints with a measured width have a variant on disk.
	var avail []config.ScreenSize
	for _, size := range t.sizesDesc {
		if rec.Sizes[size.Key].Width > 0 {
			avail = append(avail, size)
		}
	}
	if len(avail) == 0 {
		return rec.TagText
	}

	sb.WriteString("<picture>")
	for _, size := range avail {
		variant := withFormat(VariantPath(rec.Path, size.Key), t.format)
		fmt.Fprintf(&sb, `<source media="(max-width:%dpx)" srcset="%s">`,
			size.Width, relativeTo(htmlFile, variant))
	}

	// The fallback <img> serves browsers without <picture> support; the
	// second-largest breakpoint is the compromise default. A
	// single-entry set clamps to its only breakpoint.
	fallback := avail[0]
	if len(avail) > 1 {
		fallback = avail[1]
	}
	variant := withFormat(VariantPath(rec.Path, fallback.Key), t.format)
	sb.WriteString(`<img src="`)
	sb.WriteString(relativeTo(htmlFile, variant))
	sb.WriteString(`"`)
	writeAttrs(&sb, rec.Attrs)
	sb.WriteString("/></picture>")
	return sb.String()
}

func writeAttrs(sb *strings.Builder, attrs []html.Attribute) {
	for _, a := range attrs {
		if a.Key == "src" {
			continue
		}
		sb.WriteString(" ")
		sb.WriteString(a.Key)
		if a.Val != "" {
			sb.WriteString(`="`)
			sb.WriteString(html.EscapeString(a.Val))
			sb.WriteString(`"`)
		}
	}
}

// Transform rewrites every document's img tags and video posters, then
// writes it to its mirrored destination path. Any per-document failure
// is fatal for the run. It returns the destination paths.
func (t *Transformer) Transform(ctx context.Context, docs []DocumentRecord, base, destRoot string, batchSize int) ([]string, error) {
	dests := make([]string, len(docs))
	procs := make([]batch.Proc, len(docs))
	for i, doc := range docs {
		i, doc := i, doc
		dest := discover.DestPath(destRoot, base, doc.HTMLFile)
		dests[i] = dest

		procs[i] = func(ctx context.Context) error {
			return t.transformDocument(doc, dest)
		}
	}

	results, err := batch.Run(ctx, procs, batchSize)
	if err != nil {
		return nil, err
	}
	if err := batch.FirstError(results); err != nil {
		return nil, err
	}
	return dests, nil
}

func (t *Transformer) transformDocument(doc DocumentRecord, dest string) error {
	data, err := os.ReadFile(doc.HTMLFile)
	if err != nil {
		return fmt.Errorf("imageset: read %s: %w", doc.HTMLFile, err)
	}
	content := string(data)

	for _, rec := range doc.Images {
		content = strings.Replace(content, rec.TagText, t.PictureTag(rec, doc.HTMLFile), 1)
	}

	content = t.linkVideoPosters(doc.HTMLFile, content)

	if err := discover.EnsureDir(dest); err != nil {
		return err
	}
	if err := os.WriteFile(dest, []byte(content), 0644); err != nil {
		return fmt.Errorf("imageset: write %s: %w", dest, err)
	}
	return nil
}

// linkVideoPosters rewires every <video> tag with a resolvable source:
// the src (and any <source> children) move to the container extension
// the video encoder stage produces, and tags without a poster get one
// pointing at the sibling thumbnails/ path. Tags whose source cannot be
// determined are left untouched.
func (t *Transformer) linkVideoPosters(htmlFile, content string) string {
	for _, tag := range scanTags([]byte(content), "video") {
		src := attrVal(tag.attrs, "src")
		if src == "" {
			src = firstSourceSrc(content, tag.text)
		}
		if src == "" || strings.Contains(src, "://") {
			continue
		}

		newTag := tag.text
		if old := attrVal(tag.attrs, "src"); old != "" {
			if repl := swapContainerExt(old, t.videoExt); repl != old {
				newTag = strings.Replace(newTag, old, repl, 1)
			}
		}

		if attrVal(tag.attrs, "poster") == "" {
			// The poster name derives from the pre-transcode file name;
			// only the extension changes in transcoding, so the base
			// name matches what the encoder's thumbnailer writes.
			videoPath := filepath.Join(filepath.Dir(htmlFile), src)
			ext := t.format
			if ext == "" {
				ext = "jpg"
			}
			name := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
			thumb := filepath.Join(filepath.Dir(videoPath), "thumbnails", name+"."+ext)
			newTag = insertAttr(newTag, `poster="`+relativeTo(htmlFile, thumb)+`"`)
		}

		if newTag != tag.text {
			content = strings.Replace(content, tag.text, newTag, 1)
		}
		content = t.rewriteSourceChildren(content, newTag)
	}
	return content
}

// rewriteSourceChildren moves the src of every <source> child between
// the video start tag and its closing tag to the transcoded container
// extension.
func (t *Transformer) rewriteSourceChildren(content, videoTag string) string {
	if t.videoExt == "" {
		return content
	}
	idx := strings.Index(content, videoTag)
	if idx < 0 {
		return content
	}
	seg := content[idx+len(videoTag):]
	if end := strings.Index(seg, "</video>"); end >= 0 {
		seg = seg[:end]
	}

	newSeg := seg
	for _, tag := range scanTags([]byte(seg), "source") {
		src := attrVal(tag.attrs, "src")
		if src == "" {
			continue
		}
		repl := swapContainerExt(src, t.videoExt)
		if repl == src {
			continue
		}
		newSeg = strings.Replace(newSeg, tag.text, strings.Replace(tag.text, src, repl, 1), 1)
	}
	if newSeg != seg {
		content = content[:idx+len(videoTag)] + newSeg + content[idx+len(videoTag)+len(seg):]
	}
	return content
}

// swapContainerExt replaces a local video link's extension with the
// transcoded container's. Remote URLs and extension-less links pass
// through unchanged.
func swapContainerExt(src, videoExt string) string {
	if videoExt == "" || strings.Contains(src, "://") {
		return src
	}
	ext := filepath.Ext(src)
	if ext == "" || ext == videoExt {
		return src
	}
	return strings.TrimSuffix(src, ext) + videoExt
}

// firstSourceSrc finds the src of the first <source> child following
// the video start tag in the raw document text.
func firstSourceSrc(content, videoTag string) string {
	idx := strings.Index(content, videoTag)
	if idx < 0 {
		return ""
	}
	rest := content[idx+len(videoTag):]
	if end := strings.Index(rest, "</video>"); end >= 0 {
		rest = rest[:end]
	}
	for _, tag := range scanTags([]byte(rest), "source") {
		if src := attrVal(tag.attrs, "src"); src != "" {
			return src
		}
	}
	return ""
}

// insertAttr places attr just before the start tag's closing bracket,
// keeping the rest of the tag text byte-identical.
func insertAttr(tagText, attr string) string {
	if strings.HasSuffix(tagText, "/>") {
		return tagText[:len(tagText)-2] + " " + attr + "/>"
	}
	if strings.HasSuffix(tagText, ">") {
		return tagText[:len(tagText)-1] + " " + attr + ">"
	}
	return tagText
}
