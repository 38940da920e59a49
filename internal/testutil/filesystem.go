package testutil

import (
	"errors"
	"io"
	"io/fs"
	"sync"

	"drive-go/internal/drive"
)

// Byte store operations that can be made to fail.
const (
	OpEnsureDir = "ensure_dir"
	OpMkdir     = "mkdir"
	OpWrite     = "write"
	OpReplace   = "replace"
	OpOpen      = "open"
	OpStat      = "stat"
	OpRename    = "rename"
	OpRemove    = "remove"
	OpRemoveAll = "remove_all"
)

// ErrInjected is the default error returned by a failing operation.
var ErrInjected = errors.New("injected failure")

// FaultyByteStore wraps a real ByteStore and fails selected operations.
// Failures are sticky until cleared with Heal.
type FaultyByteStore struct {
	inner drive.ByteStore

	mu       sync.Mutex
	failures map[string]error
	calls    map[string]int
}

// NewFaultyByteStore wraps inner.
func NewFaultyByteStore(inner drive.ByteStore) *FaultyByteStore {
	return &FaultyByteStore{
		inner:    inner,
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// Fail makes op return err (ErrInjected when err is nil).
func (f *FaultyByteStore) Fail(op string, err error) {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = err
}

// Heal clears all injected failures.
func (f *FaultyByteStore) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = make(map[string]error)
}

// Calls returns how many times op was invoked.
func (f *FaultyByteStore) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FaultyByteStore) check(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.failures[op]
}

func (f *FaultyByteStore) EnsureDir(dir string) error {
	if err := f.check(OpEnsureDir); err != nil {
		return err
	}
	return f.inner.EnsureDir(dir)
}

func (f *FaultyByteStore) Mkdir(path string) error {
	if err := f.check(OpMkdir); err != nil {
		return err
	}
	return f.inner.Mkdir(path)
}

func (f *FaultyByteStore) Write(path string, r io.Reader) (int64, error) {
	if err := f.check(OpWrite); err != nil {
		return 0, err
	}
	return f.inner.Write(path, r)
}

func (f *FaultyByteStore) Replace(path string, r io.Reader) (int64, error) {
	if err := f.check(OpReplace); err != nil {
		return 0, err
	}
	return f.inner.Replace(path, r)
}

func (f *FaultyByteStore) Open(path string) (io.ReadCloser, error) {
	if err := f.check(OpOpen); err != nil {
		return nil, err
	}
	return f.inner.Open(path)
}

func (f *FaultyByteStore) Stat(path string) (fs.FileInfo, error) {
	if err := f.check(OpStat); err != nil {
		return nil, err
	}
	return f.inner.Stat(path)
}

func (f *FaultyByteStore) Rename(oldPath, newPath string) error {
	if err := f.check(OpRename); err != nil {
		return err
	}
	return f.inner.Rename(oldPath, newPath)
}

func (f *FaultyByteStore) Remove(path string) error {
	if err := f.check(OpRemove); err != nil {
		return err
	}
	return f.inner.Remove(path)
}

func (f *FaultyByteStore) RemoveAll(path string) error {
	if err := f.check(OpRemoveAll); err != nil {
		return err
	}
	return f.inner.RemoveAll(path)
}

// Compile-time check
var _ drive.ByteStore = (*FaultyByteStore)(nil)
