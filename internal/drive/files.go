package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"
	"unicode/utf8"
)

// Download is an open file ready to be streamed to a client. The caller must
// close Body.
type Download struct {
	Name    string
	Size    int64
	ModTime time.Time
	Body    io.ReadCloser
}

// ListFiles returns the files directly under parentID with their sizes and
// thumbnail URLs. Files whose bytes are missing are still listed, with size 0
// and the default icon.
func (s *DriveService) ListFiles(ctx context.Context, ident Identity, parentID *int64) (views []FileView, err error) {
	r, err := s.begin(ctx, ident, "ListFiles", false, "parent", parentParam(parentID))
	if err != nil {
		return nil, err
	}
	defer func() { err = r.finish(ctx, err) }()

	children, err := s.store.ListChildren(ctx, r.owner, parentID)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	views = make([]FileView, 0, len(children))
	for _, n := range children {
		if n.IsFolder {
			continue
		}
		view := FileView{
			ID:        n.ID,
			Name:      n.Name,
			URL:       s.downloadURL(n.ID),
			Folder:    n.ParentID,
			Thumbnail: s.thumbs.DefaultIcon(),
		}

		abs, err := s.resolver.ResolveNode(r.owner, n)
		if err != nil {
			return nil, err
		}
		info, err := s.bytes.Stat(abs)
		if err != nil || info.IsDir() {
			s.metrics.Inconsistency(r.name)
			s.logger.Warn("file bytes missing", "op", r.id, "node", n.ID, "path", abs, "error", err)
			views = append(views, view)
			continue
		}
		view.Size = info.Size()
		view.Thumbnail = s.thumbnailURL(ctx, r, n, abs, info.ModTime())
		views = append(views, view)
	}
	return views, nil
}

// UploadFile stores r as a new file under parentID. The record is inserted
// first; if the bytes cannot be written the record is removed again.
func (s *DriveService) UploadFile(ctx context.Context, ident Identity, name string, body io.Reader, parentID *int64) (view *FileView, err error) {
	r, err := s.begin(ctx, ident, "UploadFile", true, "name", name, "parent", parentParam(parentID))
	if err != nil {
		return nil, err
	}
	defer func() { err = r.finish(ctx, err) }()

	if err := s.checkName(name); err != nil {
		return nil, err
	}
	if err := s.prepareOwnerRoot(r.owner); err != nil {
		return nil, err
	}

	node, err := s.store.CreateNode(ctx, r.owner, name, false, parentID)
	if err != nil {
		return nil, fmt.Errorf("creating file record: %w", err)
	}
	r.to(stateMetadataMutated, "node", node.ID, "path", node.RelativePath)

	abs, err := s.resolver.ResolveNode(r.owner, node)
	if err != nil {
		return nil, s.rollbackCreate(ctx, r, node, err)
	}
	size, err := s.bytes.Write(abs, body)
	if err != nil {
		if missing(err) {
			s.metrics.Inconsistency(r.name)
			err = fmt.Errorf("%w: parent directory of %s is missing: %v", ErrStorageInconsistency, node.RelativePath, err)
		}
		return nil, s.rollbackCreate(ctx, r, node, fmt.Errorf("writing file: %w", err))
	}
	r.to(statePhysicallyMutated, "bytes", size)

	modTime := time.Now()
	if info, err := s.bytes.Stat(abs); err == nil {
		modTime = info.ModTime()
	}
	return &FileView{
		ID:        node.ID,
		Name:      node.Name,
		URL:       s.downloadURL(node.ID),
		Size:      size,
		Folder:    node.ParentID,
		Thumbnail: s.thumbnailURL(ctx, r, node, abs, modTime),
	}, nil
}

// DeleteFile removes a single file.
func (s *DriveService) DeleteFile(ctx context.Context, ident Identity, nodeID int64) (err error) {
	r, err := s.begin(ctx, ident, "DeleteFile", true, "node", nodeID)
	if err != nil {
		return err
	}
	defer func() { err = r.finish(ctx, err) }()

	return s.deleteNode(ctx, r, nodeID, false)
}

// DownloadFile opens a file for streaming. A record whose bytes are gone is
// reported as ErrStorageInconsistency.
func (s *DriveService) DownloadFile(ctx context.Context, ident Identity, nodeID int64) (dl *Download, err error) {
	r, err := s.begin(ctx, ident, "DownloadFile", false, "node", nodeID)
	if err != nil {
		return nil, err
	}
	defer func() { err = r.finish(ctx, err) }()

	node, info, body, err := s.openFile(ctx, r, nodeID)
	if err != nil {
		return nil, err
	}
	return &Download{Name: node.Name, Size: info.Size(), ModTime: info.ModTime(), Body: body}, nil
}

// DefaultTextLimit caps ReadText when the caller passes no limit.
const DefaultTextLimit int64 = 1 << 20

// ReadText returns a file's content as a string. Files larger than limit
// bytes, or whose bytes are not valid UTF-8, are rejected with ErrNotText.
func (s *DriveService) ReadText(ctx context.Context, ident Identity, nodeID int64, limit int64) (text *TextContent, err error) {
	if limit <= 0 {
		limit = DefaultTextLimit
	}
	r, err := s.begin(ctx, ident, "ReadText", false, "node", nodeID, "limit", limit)
	if err != nil {
		return nil, err
	}
	defer func() { err = r.finish(ctx, err) }()

	node, info, body, err := s.openFile(ctx, r, nodeID)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	if info.Size() > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrNotText, node.Name, info.Size(), limit)
	}
	raw, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	if int64(len(raw)) > limit {
		return nil, fmt.Errorf("%w: %s grew beyond %d bytes", ErrNotText, node.Name, limit)
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrNotText, node.Name)
	}
	return &TextContent{ID: node.ID, Name: node.Name, Content: string(raw)}, nil
}

// openFile resolves a file record to its open bytes.
func (s *DriveService) openFile(ctx context.Context, r *run, nodeID int64) (*TreeNode, fs.FileInfo, io.ReadCloser, error) {
	node, err := s.store.Get(ctx, r.owner, nodeID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("looking up file: %w", err)
	}
	if node.IsFolder {
		return nil, nil, nil, fmt.Errorf("%w: %d is a folder", ErrNodeNotFound, nodeID)
	}
	abs, err := s.resolver.ResolveNode(r.owner, node)
	if err != nil {
		return nil, nil, nil, err
	}

	info, err := s.bytes.Stat(abs)
	if err != nil || info.IsDir() {
		s.metrics.Inconsistency(r.name)
		s.logger.Error("file bytes missing", "op", r.id, "node", node.ID, "path", abs, "error", err)
		return nil, nil, nil, fmt.Errorf("%w: no bytes for file %d at %s", ErrStorageInconsistency, node.ID, node.RelativePath)
	}
	body, err := s.bytes.Open(abs)
	if err != nil {
		if missing(err) {
			s.metrics.Inconsistency(r.name)
			return nil, nil, nil, fmt.Errorf("%w: no bytes for file %d at %s", ErrStorageInconsistency, node.ID, node.RelativePath)
		}
		return nil, nil, nil, fmt.Errorf("opening file: %w", err)
	}
	return node, info, body, nil
}

// thumbnailURL asks the generator for a thumbnail and falls back to the
// default icon on any failure.
func (s *DriveService) thumbnailURL(ctx context.Context, r *run, node *TreeNode, abs string, modTime time.Time) string {
	src := ThumbnailSource{
		Name:    node.Name,
		ModTime: modTime,
		Open:    func() (io.ReadCloser, error) { return s.bytes.Open(abs) },
	}
	url, err := s.thumbs.EnsureThumbnail(ctx, r.owner, src)
	if err != nil {
		s.metrics.ThumbnailFailure()
		level := s.logger.Error
		if errors.Is(err, ErrUnsupportedMedia) {
			level = s.logger.Warn
		}
		level("thumbnail unavailable", "op", r.id, "node", node.ID, "error", err)
		return s.thumbs.DefaultIcon()
	}
	return url
}
