package drive

import (
	"io"
	"io/fs"
)

// ByteStore performs physical I/O on absolute paths produced by a
// PathResolver. Missing entries are reported with errors wrapping
// fs.ErrNotExist.
type ByteStore interface {
	// EnsureDir creates dir and any missing parents.
	EnsureDir(dir string) error

	// Mkdir creates a single directory. An existing empty directory is not an
	// error; anything else already at path is ErrPhysicalConflict.
	Mkdir(path string) error

	// Write streams r into a new file at path and returns the number of bytes
	// written. A partially written file is never visible at path. Any entry
	// already at path is ErrPhysicalConflict and is left untouched.
	Write(path string, r io.Reader) (int64, error)

	// Replace is like Write but atomically overwrites an existing regular
	// file. It is meant for derived data such as thumbnails.
	Replace(path string, r io.Reader) (int64, error)

	// Open opens a regular file for reading.
	Open(path string) (io.ReadCloser, error)

	// Stat returns fresh file info.
	Stat(path string) (fs.FileInfo, error)

	// Rename moves oldPath to newPath. It fails with ErrPhysicalConflict if
	// newPath already exists.
	Rename(oldPath, newPath string) error

	// Remove deletes a single file. RemoveAll deletes a directory tree.
	// Neither fails when the path is already gone.
	Remove(path string) error
	RemoveAll(path string) error
}

// NameFilter reports names that must not be used for nodes, such as the byte
// store's temporary files.
type NameFilter interface {
	Reserved(name string) bool
}
