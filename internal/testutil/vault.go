package testutil

import (
	"context"
	"fmt"
	"io"

	"drive-go/internal/drive"
	"drive-go/internal/vault"
)

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault() *vault.MemoryVault {
	return vault.NewMemoryVault("test-vault")
}

// BrokenVault wraps a vault and fails every upload after reading the body.
type BrokenVault struct {
	drive.Vault
}

func (b *BrokenVault) PutSnapshot(_ context.Context, name string, r io.Reader, _ int64) error {
	io.Copy(io.Discard, r)
	return fmt.Errorf("%w: put %s", ErrInjected, name)
}
