package encryption

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"drive-go/internal/drive"
)

// testMarker starts every stream sealed by TestEncryptor.
var testMarker = []byte("drive-test-seal\n")

// TestEncryptor seals snapshots without keys. The output is the marker
// followed by the same header-and-data envelope the age encryptor protects,
// so restores still check snapshot names. It provides no secrecy.
type TestEncryptor struct{}

// Compile-time check that TestEncryptor implements drive.Encryptor interface
var _ drive.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

// Setup has nothing to create.
func (e *TestEncryptor) Setup(string) error {
	return nil
}

func (e *TestEncryptor) Seal(h drive.SnapshotHeader, r io.Reader, w io.Writer) error {
	if _, err := w.Write(testMarker); err != nil {
		return fmt.Errorf("writing test marker: %w", err)
	}
	return writeEnvelope(w, h, r)
}

// Unlock accepts any passphrase.
func (e *TestEncryptor) Unlock(string) (drive.DecryptionContext, error) {
	return TestKey{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// TestKey opens streams sealed by TestEncryptor.
type TestKey struct{}

// Compile-time check that TestKey implements drive.DecryptionContext interface
var _ drive.DecryptionContext = TestKey{}

func (TestKey) Open(name string, r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	marker, err := br.Peek(len(testMarker))
	if err != nil || !bytes.Equal(marker, testMarker) {
		return fmt.Errorf("%w: %s was not sealed by the test encryptor", drive.ErrSnapshotMismatch, name)
	}
	if _, err := br.Discard(len(testMarker)); err != nil {
		return err
	}
	return readEnvelope(br, name, w)
}
