package drive

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// MaxNameLength is the longest leaf name accepted, in bytes.
const MaxNameLength = 255

// TreeNode is one entry of an owner's tree. RelativePath is derived from the
// names of the node and its ancestors and is rewritten by the store whenever an
// ancestor is renamed or moved.
type TreeNode struct {
	ID           int64
	Owner        string
	Name         string
	IsFolder     bool
	ParentID     *int64
	RelativePath string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsRoot reports whether the node sits directly under the owner root.
func (n *TreeNode) IsRoot() bool { return n.ParentID == nil }

// Identity is the caller as established by the authentication collaborator.
type Identity struct {
	OwnerID string
	Role    string
}

// FolderView is the external shape of a folder.
type FolderView struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Parent *int64 `json:"parent"`
}

// FileView is the external shape of a file.
type FileView struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Size      int64  `json:"size"`
	Folder    *int64 `json:"folder"`
	Thumbnail string `json:"thumbnail"`
}

// TextContent is a file decoded as UTF-8 text.
type TextContent struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// NodeView is returned by operations that accept either kind of node.
type NodeView struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	IsFolder     bool   `json:"is_folder"`
	Parent       *int64 `json:"parent"`
	RelativePath string `json:"path"`
}

// ValidateName checks that name is a single safe path segment.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, MaxNameLength)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: contains NUL", ErrInvalidName)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrPathEscape, name)
	}
	return nil
}

// ValidateOwner checks that an owner id can be used as a directory name.
func ValidateOwner(owner string) error {
	if owner == "" {
		return fmt.Errorf("%w: empty owner", ErrInvalid)
	}
	if err := ValidateName(owner); err != nil {
		return fmt.Errorf("owner %q: %w", owner, err)
	}
	return nil
}

// ChildPath returns the relative path of a child named name under parentPath.
// An empty parentPath denotes the owner root.
func ChildPath(parentPath, name string) string {
	if parentPath == "" {
		return name
	}
	return parentPath + "/" + name
}

// Stem returns name without its final extension.
func Stem(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}
