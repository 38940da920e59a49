package encryption

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"drive-go/internal/config"
	"drive-go/internal/drive"
)

// ErrKeysExist is returned by Setup when a key file is already in place.
var ErrKeysExist = errors.New("encryption keys already exist")

// AgeEncryptor seals metadata snapshots to an age X25519 recipient. The
// recipient is kept in a plaintext file; the matching identity is kept in a
// second file, itself age-encrypted under a scrypt passphrase.
type AgeEncryptor struct {
	recipientPath string
	identityPath  string
}

// Compile-time check that AgeEncryptor implements drive.Encryptor interface
var _ drive.Encryptor = (*AgeEncryptor)(nil)

// NewAgeEncryptor creates an AgeEncryptor using the key paths in cfg.
func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		recipientPath: cfg.PublicKeyPath,
		identityPath:  cfg.PrivateKeyPath,
	}
}

// Setup creates a key pair for snapshot encryption. It refuses to replace an
// existing pair, since every snapshot sealed to it would become unreadable.
func (e *AgeEncryptor) Setup(passphrase string) error {
	if passphrase == "" {
		return fmt.Errorf("%w: passphrase must not be empty", drive.ErrInvalid)
	}
	for _, p := range []string{e.recipientPath, e.identityPath} {
		if _, err := os.Lstat(p); err == nil {
			return fmt.Errorf("%w: %s", ErrKeysExist, p)
		}
	}

	id, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating snapshot key: %w", err)
	}
	if err := e.storeIdentity(id, passphrase); err != nil {
		return err
	}
	if err := e.storeRecipient(id.Recipient()); err != nil {
		os.Remove(e.identityPath)
		return err
	}
	return nil
}

// storeIdentity writes id encrypted under passphrase. The file is created
// exclusively with owner-only permissions.
func (e *AgeEncryptor) storeIdentity(id *age.X25519Identity, passphrase string) (err error) {
	if err := os.MkdirAll(filepath.Dir(e.identityPath), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	f, err := os.OpenFile(e.identityPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating private key file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing private key file: %w", cerr)
		}
		if err != nil {
			os.Remove(e.identityPath)
		}
	}()

	lock, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("deriving passphrase key: %w", err)
	}
	sealed, err := age.Encrypt(f, lock)
	if err != nil {
		return fmt.Errorf("encrypting private key: %w", err)
	}
	if _, err := fmt.Fprintln(sealed, id.String()); err != nil {
		return fmt.Errorf("encrypting private key: %w", err)
	}
	if err := sealed.Close(); err != nil {
		return fmt.Errorf("encrypting private key: %w", err)
	}
	return f.Sync()
}

func (e *AgeEncryptor) storeRecipient(r *age.X25519Recipient) error {
	if err := os.MkdirAll(filepath.Dir(e.recipientPath), 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(e.recipientPath, []byte(r.String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

// Seal encrypts a snapshot to the stored recipient. The header travels inside
// the age payload, so it is authenticated along with the data.
func (e *AgeEncryptor) Seal(h drive.SnapshotHeader, r io.Reader, w io.Writer) error {
	recipient, err := e.recipient()
	if err != nil {
		return err
	}
	payload, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("starting age stream: %w", err)
	}
	if err := writeEnvelope(payload, h, r); err != nil {
		return err
	}
	if err := payload.Close(); err != nil {
		return fmt.Errorf("finishing age stream: %w", err)
	}
	return nil
}

// Unlock decrypts the stored identity with passphrase.
func (e *AgeEncryptor) Unlock(passphrase string) (drive.DecryptionContext, error) {
	f, err := os.Open(e.identityPath)
	if err != nil {
		return nil, fmt.Errorf("opening private key: %w", err)
	}
	defer f.Close()

	key, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("deriving passphrase key: %w", err)
	}
	plain, err := age.Decrypt(f, key)
	if err != nil {
		return nil, fmt.Errorf("unlocking private key (wrong passphrase?): %w", err)
	}
	ids, err := age.ParseIdentities(plain)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return &AgeKey{identity: ids[0]}, nil
}

// IsConfigured reports whether both key files are present.
func (e *AgeEncryptor) IsConfigured() bool {
	for _, p := range []string{e.recipientPath, e.identityPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// PublicKey returns the age1... recipient snapshots are sealed to.
func (e *AgeEncryptor) PublicKey() (string, error) {
	r, err := e.recipient()
	if err != nil {
		return "", err
	}
	return r.String(), nil
}

func (e *AgeEncryptor) recipient() (*age.X25519Recipient, error) {
	raw, err := os.ReadFile(e.recipientPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	r, err := age.ParseX25519Recipient(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("parsing public key %s: %w", e.recipientPath, err)
	}
	return r, nil
}

// AgeKey is an unlocked snapshot identity.
type AgeKey struct {
	identity age.Identity
}

// Compile-time check that AgeKey implements drive.DecryptionContext interface
var _ drive.DecryptionContext = (*AgeKey)(nil)

// Open decrypts a snapshot fetched under name. The age stream is
// authenticated chunk by chunk, so a mismatched header is caught before any
// data reaches w.
func (k *AgeKey) Open(name string, r io.Reader, w io.Writer) error {
	payload, err := age.Decrypt(r, k.identity)
	if err != nil {
		return fmt.Errorf("decrypting snapshot %s: %w", name, err)
	}
	return readEnvelope(payload, name, w)
}
