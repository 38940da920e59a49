package fs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"drive-go/internal/drive"
)

// TempPrefix marks in-flight uploads. Names with this prefix are reserved.
const TempPrefix = ".drive-tmp-"

// OSByteStore is the real filesystem implementation of drive.ByteStore.
type OSByteStore struct{}

// NewOSByteStore creates a byte store that operates on the real filesystem.
func NewOSByteStore() *OSByteStore {
	return &OSByteStore{}
}

func (b *OSByteStore) EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	return nil
}

func (b *OSByteStore) Mkdir(path string) error {
	err := os.Mkdir(path, 0755)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}

	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s exists and is not a directory", drive.ErrPhysicalConflict, path)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("reading directory %s: %w", path, err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: directory %s already exists and is not empty", drive.ErrPhysicalConflict, path)
	}
	return nil
}

// Write streams r into a temp file next to path and links it into place.
// Anything already at path, tracked or not, is ErrPhysicalConflict.
func (b *OSByteStore) Write(path string, r io.Reader) (int64, error) {
	return b.write(path, r, false)
}

// Replace is Write for derived files such as thumbnails: an existing regular
// file at path is atomically overwritten.
func (b *OSByteStore) Replace(path string, r io.Reader) (int64, error) {
	return b.write(path, r, true)
}

func (b *OSByteStore) write(path string, r io.Reader, overwrite bool) (int64, error) {
	if info, err := os.Lstat(path); err == nil {
		if info.IsDir() {
			return 0, fmt.Errorf("%w: %s is a directory", drive.ErrPhysicalConflict, path)
		}
		if !overwrite {
			return 0, fmt.Errorf("%w: %s already exists", drive.ErrPhysicalConflict, path)
		}
	}

	// Same directory as the target so link and rename stay on one filesystem.
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, TempPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	if overwrite {
		if err := os.Rename(tmpPath, path); err != nil {
			return 0, fmt.Errorf("failed to rename temp file: %w", err)
		}
		return written, nil
	}
	if err := publish(tmpPath, path); err != nil {
		return 0, err
	}
	return written, nil
}

// publish makes tmpPath visible at path without clobbering an entry that
// appeared while the data was being copied. The temp name is removed by the
// caller.
func publish(tmpPath, path string) error {
	err := os.Link(tmpPath, path)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s already exists", drive.ErrPhysicalConflict, path)
	}

	// Filesystems without hard links: fall back to check-then-rename.
	if _, statErr := os.Lstat(path); statErr == nil {
		return fmt.Errorf("%w: %s already exists", drive.ErrPhysicalConflict, path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (b *OSByteStore) Open(path string) (io.ReadCloser, error) {
	info, err := b.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("cannot open directory as file: %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return f, nil
}

// Stat does not follow symlinks; the storage tree is expected to contain
// only regular files and directories.
func (b *OSByteStore) Stat(path string) (fs.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	mode := info.Mode()
	if mode&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlinks not supported: %s", path)
	}
	if mode&os.ModeDevice != 0 {
		return nil, fmt.Errorf("device files not supported: %s", path)
	}
	if mode&os.ModeNamedPipe != 0 {
		return nil, fmt.Errorf("named pipes not supported: %s", path)
	}
	if mode&os.ModeSocket != 0 {
		return nil, fmt.Errorf("sockets not supported: %s", path)
	}
	return info, nil
}

func (b *OSByteStore) Rename(oldPath, newPath string) error {
	if _, err := os.Lstat(newPath); err == nil {
		return fmt.Errorf("%w: %s already exists", drive.ErrPhysicalConflict, newPath)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", newPath, err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("renaming %s: %w", oldPath, err)
	}
	return nil
}

func (b *OSByteStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

func (b *OSByteStore) RemoveAll(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// CleanTemp removes upload temp files left under root by an interrupted
// process. It returns the number of files removed.
func (b *OSByteStore) CleanTemp(root string) (int, error) {
	removed := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !strings.HasPrefix(d.Name(), TempPrefix) {
			return nil
		}
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("removing %s: %w", p, err)
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("walking %s: %w", root, err)
	}
	return removed, nil
}

// Compile-time check that OSByteStore implements drive.ByteStore interface
var _ drive.ByteStore = (*OSByteStore)(nil)
