package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"drive-go/internal/drive"
)

// MemoryVault is an in-memory implementation of the Vault interface.
// It stores all snapshots in memory, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	name      string
	snapshots map[string][]byte
	mu        sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:      name,
		snapshots: make(map[string][]byte),
	}
}

func (m *MemoryVault) Name() string { return m.name }

// PutSnapshot stores a snapshot under name.
func (m *MemoryVault) PutSnapshot(_ context.Context, name string, r io.Reader, size int64) error {
	if err := drive.ValidateSnapshotName(name); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[name] = data
	return nil
}

// GetSnapshot retrieves a snapshot by name.
func (m *MemoryVault) GetSnapshot(_ context.Context, name string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.snapshots[name]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", drive.ErrSnapshotNotFound, name)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	return nil
}

// ListSnapshots returns the stored snapshots, newest first.
func (m *MemoryVault) ListSnapshots(_ context.Context) ([]drive.SnapshotInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]drive.SnapshotInfo, 0, len(m.snapshots))
	for name, data := range m.snapshots {
		created, _ := drive.SnapshotTime(name)
		infos = append(infos, drive.SnapshotInfo{Name: name, Size: int64(len(data)), CreatedAt: created})
	}
	sortNewestFirst(infos)
	return infos, nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup(context.Context) error {
	return nil
}

// sortNewestFirst orders snapshots by creation time, newest first, breaking
// ties by name so the order is stable.
func sortNewestFirst(infos []drive.SnapshotInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.After(infos[j].CreatedAt)
		}
		return infos[i].Name > infos[j].Name
	})
}

// Compile-time check that MemoryVault implements drive.Vault interface
var _ drive.Vault = (*MemoryVault)(nil)
