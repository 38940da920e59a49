package drive

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PathResolver maps (owner, relative path) pairs onto absolute locations under
// the storage and thumbnail roots. It only manipulates strings; it never
// touches the filesystem.
type PathResolver struct {
	storageRoot string
	thumbRoot   string
}

// NewPathResolver creates a resolver. Both roots are made absolute and cleaned.
func NewPathResolver(storageRoot, thumbRoot string) (*PathResolver, error) {
	if storageRoot == "" || thumbRoot == "" {
		return nil, fmt.Errorf("storage and thumbnail roots are required")
	}
	sr, err := filepath.Abs(storageRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root: %w", err)
	}
	tr, err := filepath.Abs(thumbRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving thumbnail root: %w", err)
	}
	return &PathResolver{storageRoot: sr, thumbRoot: tr}, nil
}

// StorageRoot returns the absolute storage root.
func (r *PathResolver) StorageRoot() string { return r.storageRoot }

// ThumbnailRoot returns the absolute thumbnail root.
func (r *PathResolver) ThumbnailRoot() string { return r.thumbRoot }

// OwnerRoot returns the directory holding all of owner's files.
func (r *PathResolver) OwnerRoot(owner string) (string, error) {
	if err := ValidateOwner(owner); err != nil {
		return "", err
	}
	return filepath.Join(r.storageRoot, owner), nil
}

// Resolve returns the absolute location of relativePath inside owner's root.
// An empty relativePath resolves to the owner root itself.
func (r *PathResolver) Resolve(owner, relativePath string) (string, error) {
	ownerRoot, err := r.OwnerRoot(owner)
	if err != nil {
		return "", err
	}
	return jail(ownerRoot, relativePath)
}

// ResolveNode resolves the node's cached relative path.
func (r *PathResolver) ResolveNode(owner string, node *TreeNode) (string, error) {
	if node.Owner != owner {
		return "", fmt.Errorf("%w: node %d belongs to another owner", ErrPathEscape, node.ID)
	}
	return r.Resolve(owner, node.RelativePath)
}

// ResolveThumbnail returns the location of a thumbnail file for owner.
func (r *PathResolver) ResolveThumbnail(owner, fileName string) (string, error) {
	if err := ValidateOwner(owner); err != nil {
		return "", err
	}
	if err := ValidateName(fileName); err != nil {
		return "", err
	}
	return jail(filepath.Join(r.thumbRoot, owner), fileName)
}

func jail(root, relativePath string) (string, error) {
	if strings.ContainsRune(relativePath, 0) {
		return "", fmt.Errorf("%w: NUL byte in path", ErrPathEscape)
	}
	if strings.HasPrefix(relativePath, "/") || strings.ContainsRune(relativePath, '\\') || filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("%w: %q is not relative", ErrPathEscape, relativePath)
	}
	for _, seg := range strings.Split(relativePath, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrPathEscape, relativePath)
		}
	}

	abs := filepath.Join(root, filepath.FromSlash(relativePath))
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, relativePath)
	}
	return abs, nil
}
