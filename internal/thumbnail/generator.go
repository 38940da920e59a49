// Package thumbnail generates and caches JPEG previews of image files.
package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // registers the webp decoder with image.Decode

	"drive-go/internal/drive"
)

const (
	DefaultSize    = 100
	DefaultQuality = 80

	// DefaultIconPath is where the API serves the built-in icon.
	DefaultIconPath = "/api/static/default-icon.png"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// IsImage reports whether name has an extension thumbnails are made for.
func IsImage(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// Name returns the cache file name for a source file name.
func Name(source string) string {
	return "th_" + drive.Stem(source) + ".jpg"
}

// Options configures a Generator. Zero values select defaults.
type Options struct {
	Size        int
	Quality     int
	BaseURL     string
	DefaultIcon string
}

// Generator writes thumbnails under the resolver's thumbnail root through a
// ByteStore, so writes are atomic and concurrent regeneration is harmless.
type Generator struct {
	resolver    *drive.PathResolver
	bytes       drive.ByteStore
	size        int
	quality     int
	baseURL     string
	defaultIcon string
}

// NewGenerator creates a Generator.
func NewGenerator(resolver *drive.PathResolver, store drive.ByteStore, opts Options) *Generator {
	g := &Generator{
		resolver:    resolver,
		bytes:       store,
		size:        opts.Size,
		quality:     opts.Quality,
		baseURL:     strings.TrimSuffix(opts.BaseURL, "/"),
		defaultIcon: opts.DefaultIcon,
	}
	if g.size <= 0 {
		g.size = DefaultSize
	}
	if g.quality <= 0 || g.quality > 100 {
		g.quality = DefaultQuality
	}
	if g.defaultIcon == "" {
		g.defaultIcon = g.baseURL + DefaultIconPath
	}
	return g
}

func (g *Generator) DefaultIcon() string {
	return g.defaultIcon
}

// URL returns the public location of an owner's thumbnail file.
func (g *Generator) URL(owner, thumbName string) string {
	return g.baseURL + "/api/thumbnails/" + url.PathEscape(owner) + "/" + url.PathEscape(thumbName)
}

// EnsureThumbnail writes th_<stem>.jpg under the owner's thumbnail directory.
// An existing thumbnail at least as new as src.ModTime is served as is, even
// if it was generated from another file with the same stem; a stale one is
// replaced in place.
func (g *Generator) EnsureThumbnail(ctx context.Context, owner string, src drive.ThumbnailSource) (string, error) {
	if !IsImage(src.Name) {
		return g.defaultIcon, nil
	}

	thumbName := Name(src.Name)
	dest, err := g.resolver.ResolveThumbnail(owner, thumbName)
	if err != nil {
		return "", fmt.Errorf("resolving thumbnail for %q: %w", src.Name, err)
	}

	if info, err := g.bytes.Stat(dest); err == nil && !info.ModTime().Before(src.ModTime) {
		return g.URL(owner, thumbName), nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rc, err := src.Open()
	if err != nil {
		return "", fmt.Errorf("opening source: %w", err)
	}
	defer rc.Close()

	img, err := imaging.Decode(rc, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("%w: decoding %q: %v", drive.ErrUnsupportedMedia, src.Name, err)
	}

	var buf bytes.Buffer
	if err := g.encode(&buf, img); err != nil {
		return "", err
	}

	if err := g.bytes.EnsureDir(filepath.Dir(dest)); err != nil {
		return "", fmt.Errorf("creating thumbnail directory: %w", err)
	}
	if _, err := g.bytes.Replace(dest, &buf); err != nil {
		return "", fmt.Errorf("writing thumbnail: %w", err)
	}
	return g.URL(owner, thumbName), nil
}

func (g *Generator) RemoveThumbnail(ctx context.Context, owner, name string) error {
	if !IsImage(name) {
		return nil
	}
	dest, err := g.resolver.ResolveThumbnail(owner, Name(name))
	if err != nil {
		return err
	}
	return g.bytes.Remove(dest)
}

// encode scales img to fit the bounding box and writes it as JPEG. Transparent
// areas are flattened onto white.
func (g *Generator) encode(w io.Writer, img image.Image) error {
	thumb := imaging.Fit(img, g.size, g.size, imaging.Lanczos)
	b := thumb.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	flat := imaging.Overlay(bg, thumb, image.Pt(0, 0), 1.0)

	if err := imaging.Encode(w, flat, imaging.JPEG, imaging.JPEGQuality(g.quality)); err != nil {
		return fmt.Errorf("encoding thumbnail: %w", err)
	}
	return nil
}

// WriteDefaultIcon renders the built-in placeholder icon as PNG.
func WriteDefaultIcon(w io.Writer, size int) error {
	if size <= 0 {
		size = DefaultSize
	}
	icon := imaging.New(size, size, color.NRGBA{R: 0xe0, G: 0xe0, B: 0xe0, A: 0xff})
	fold := imaging.New(size/3, size/3, color.NRGBA{R: 0xb0, G: 0xb0, B: 0xb0, A: 0xff})
	icon = imaging.Paste(icon, fold, image.Pt(size-size/3, 0))
	if err := imaging.Encode(w, icon, imaging.PNG); err != nil {
		return fmt.Errorf("encoding default icon: %w", err)
	}
	return nil
}

// Compile-time check that Generator implements drive.Thumbnailer interface
var _ drive.Thumbnailer = (*Generator)(nil)
