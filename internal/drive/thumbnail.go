package drive

import (
	"context"
	"io"
	"time"
)

// ThumbnailSource describes a file whose thumbnail may be needed. Open is only
// called when the generator actually has to decode the source.
type ThumbnailSource struct {
	Name    string
	ModTime time.Time
	Open    func() (io.ReadCloser, error)
}

// Thumbnailer derives preview images for files. Thumbnails are a cache: they
// can be deleted and regenerated at any time.
type Thumbnailer interface {
	// EnsureThumbnail returns a URL for the source's thumbnail, generating it
	// if needed. Non-image sources get DefaultIcon. Undecodable images fail
	// with ErrUnsupportedMedia.
	//
	// Thumbnails are keyed by the source's stem within the owner, so a.png
	// and a.jpg share one. A cached thumbnail is reused while it is not older
	// than the source; callers that rename files must evict the thumbnails of
	// both the old and the new name.
	EnsureThumbnail(ctx context.Context, owner string, src ThumbnailSource) (string, error)

	// RemoveThumbnail evicts the thumbnail derived from a file called name.
	RemoveThumbnail(ctx context.Context, owner, name string) error

	DefaultIcon() string
}
