package drive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SnapshotInfo describes one stored metadata snapshot.
type SnapshotInfo struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Encrypted reports whether the snapshot was stored age-encrypted.
func (i SnapshotInfo) Encrypted() bool {
	return strings.HasSuffix(i.Name, EncryptedSnapshotSuffix)
}

var (
	ErrSnapshotNotFound = fmt.Errorf("%w: snapshot", ErrNotFound)

	// ErrSnapshotMismatch means decrypted snapshot contents were sealed for
	// another name or were cut short.
	ErrSnapshotMismatch = fmt.Errorf("%w: snapshot contents do not match its name", ErrInvalid)
)

// SnapshotHeader is sealed into an encrypted snapshot together with the data,
// binding the ciphertext to the vault name it was stored under.
type SnapshotHeader struct {
	Name string
	Size int64
}

// Vault stores metadata snapshots off the host.
// All operations stream through io.Reader/io.Writer.
type Vault interface {
	// Name identifies the vault in logs.
	Name() string

	// PutSnapshot stores a snapshot under name. size is the number of bytes
	// that will be read from r; a short or long read is an error and leaves
	// nothing behind.
	PutSnapshot(ctx context.Context, name string, r io.Reader, size int64) error

	// GetSnapshot writes the named snapshot to w, or returns ErrSnapshotNotFound.
	GetSnapshot(ctx context.Context, name string, w io.Writer) error

	// ListSnapshots returns every stored snapshot, newest first.
	ListSnapshots(ctx context.Context) ([]SnapshotInfo, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}

// Encryptor seals snapshots with a public key and unlocks the private key
// for restores.
type Encryptor interface {
	// Setup creates the key pair. The private key is kept encrypted under
	// passphrase.
	Setup(passphrase string) error

	// Seal encrypts exactly h.Size bytes from r into w, with h stored inside
	// the ciphertext. Only the public key is needed.
	Seal(h SnapshotHeader, r io.Reader, w io.Writer) error

	// Unlock opens the private key. A wrong passphrase is an error.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether a key pair is in place.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for a restore.
type DecryptionContext interface {
	// Open decrypts r into w. Contents sealed under a name other than name,
	// or shorter or longer than their sealed size, fail with
	// ErrSnapshotMismatch.
	Open(name string, r io.Reader, w io.Writer) error
}

// Backupper writes a consistent copy of the metadata database to destPath.
type Backupper interface {
	BackupTo(destPath string) error
}

const (
	snapshotPrefix          = "drive-"
	snapshotTimeFormat      = "20060102T150405Z"
	snapshotSuffix          = ".db"
	EncryptedSnapshotSuffix = ".age"

	// SystemOwner is the journal owner of operations that are not scoped to
	// one drive owner.
	SystemOwner = "_system"
)

// SnapshotName returns the vault name of a snapshot taken at t.
func SnapshotName(t time.Time, encrypted bool) string {
	name := snapshotPrefix + t.UTC().Format(snapshotTimeFormat) + snapshotSuffix
	if encrypted {
		name += EncryptedSnapshotSuffix
	}
	return name
}

// ValidateSnapshotName rejects names SnapshotName could not have produced.
func ValidateSnapshotName(name string) error {
	_, err := parseSnapshotName(name)
	return err
}

// SnapshotTime parses the creation time out of a snapshot name.
func SnapshotTime(name string) (time.Time, bool) {
	t, err := parseSnapshotName(name)
	return t, err == nil
}

func parseSnapshotName(name string) (time.Time, error) {
	trimmed := strings.TrimSuffix(name, EncryptedSnapshotSuffix)
	if !strings.HasPrefix(trimmed, snapshotPrefix) || !strings.HasSuffix(trimmed, snapshotSuffix) {
		return time.Time{}, fmt.Errorf("%w: snapshot name %q", ErrInvalid, name)
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(trimmed, snapshotPrefix), snapshotSuffix)
	t, err := time.Parse(snapshotTimeFormat, stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: snapshot name %q", ErrInvalid, name)
	}
	return t, nil
}

// SnapshotService copies the metadata database into a vault and back.
// A nil encryptor stores snapshots in plaintext.
type SnapshotService struct {
	db      Backupper
	vault   Vault
	enc     Encryptor
	journal OperationLog
	clock   Clock
	logger  Logger
	tmpDir  string
}

// NewSnapshotService creates a SnapshotService. journal may be nil.
func NewSnapshotService(db Backupper, vault Vault, enc Encryptor, journal OperationLog, clock Clock, logger Logger) *SnapshotService {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &SnapshotService{
		db:      db,
		vault:   vault,
		enc:     enc,
		journal: journal,
		clock:   clock,
		logger:  logger,
	}
}

// WithTempDir places intermediate files in dir instead of the OS default.
func (s *SnapshotService) WithTempDir(dir string) *SnapshotService {
	s.tmpDir = dir
	return s
}

// Create snapshots the database, encrypts it when an encryptor is set and
// uploads it to the vault.
func (s *SnapshotService) Create(ctx context.Context) (info *SnapshotInfo, err error) {
	now := s.clock.Now()
	name := SnapshotName(now, s.enc != nil)
	done := s.open(ctx, "CreateSnapshot", "vault="+s.vault.Name()+" name="+name)
	defer func() { done(err) }()

	tmpFile, err := os.CreateTemp(s.tmpDir, "drive-snapshot-*.db")
	if err != nil {
		return nil, fmt.Errorf("creating temp file for snapshot: %w", err)
	}
	plainPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(plainPath)

	if err := s.db.BackupTo(plainPath); err != nil {
		return nil, fmt.Errorf("snapshotting database: %w", err)
	}

	uploadPath := plainPath
	if s.enc != nil {
		uploadPath = plainPath + EncryptedSnapshotSuffix
		defer os.Remove(uploadPath)
		if err := s.sealFile(name, plainPath, uploadPath); err != nil {
			return nil, err
		}
	}

	size, err := s.upload(ctx, name, uploadPath)
	if err != nil {
		return nil, err
	}

	s.logger.Info("snapshot stored", "vault", s.vault.Name(), "name", name, "size", size)
	return &SnapshotInfo{Name: name, Size: size, CreatedAt: now.UTC().Truncate(time.Second)}, nil
}

// List returns the vault's snapshots, newest first.
func (s *SnapshotService) List(ctx context.Context) ([]SnapshotInfo, error) {
	infos, err := s.vault.ListSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots in %s: %w", s.vault.Name(), err)
	}
	return infos, nil
}

// Restore fetches the named snapshot into destPath, decrypting it with dec
// when it was stored encrypted. destPath must not exist. On failure nothing
// is left at destPath.
func (s *SnapshotService) Restore(ctx context.Context, name string, dec DecryptionContext, destPath string) (err error) {
	if err := ValidateSnapshotName(name); err != nil {
		return err
	}
	encrypted := SnapshotInfo{Name: name}.Encrypted()
	if encrypted && dec == nil {
		return fmt.Errorf("%w: snapshot %s is encrypted but no passphrase was provided", ErrInvalid, name)
	}
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("%w: output file already exists: %s", ErrConflict, destPath)
	}

	done := s.open(ctx, "RestoreSnapshot", "vault="+s.vault.Name()+" name="+name+" dest="+destPath)
	defer func() { done(err) }()

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	if encrypted {
		err = s.fetchDecrypted(ctx, name, dec, f)
	} else {
		err = s.vault.GetSnapshot(ctx, name, f)
	}
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		f.Close()
		os.Remove(destPath)
		return fmt.Errorf("restoring snapshot %s: %w", name, err)
	}

	s.logger.Info("snapshot restored", "vault", s.vault.Name(), "name", name, "path", destPath)
	return nil
}

// fetchDecrypted pipes vault output straight into the decryptor.
func (s *SnapshotService) fetchDecrypted(ctx context.Context, name string, dec DecryptionContext, w io.Writer) error {
	pr, pw := io.Pipe()
	vaultErrCh := make(chan error, 1)
	go func() {
		err := s.vault.GetSnapshot(ctx, name, pw)
		pw.CloseWithError(err)
		vaultErrCh <- err
	}()

	decryptErr := dec.Open(name, pr, w)
	pr.CloseWithError(decryptErr)
	vaultErr := <-vaultErrCh

	if vaultErr != nil {
		return vaultErr
	}
	if decryptErr != nil {
		return fmt.Errorf("decrypting: %w", decryptErr)
	}
	return nil
}

func (s *SnapshotService) sealFile(name, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening snapshot for encryption: %w", err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat snapshot: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating encrypted snapshot: %w", err)
	}
	if err := s.enc.Seal(SnapshotHeader{Name: name, Size: info.Size()}, in, out); err != nil {
		out.Close()
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing encrypted snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotService) upload(ctx context.Context, name, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening snapshot for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat snapshot: %w", err)
	}

	if err := s.vault.PutSnapshot(ctx, name, f, info.Size()); err != nil {
		return 0, fmt.Errorf("uploading snapshot to %s: %w", s.vault.Name(), err)
	}
	return info.Size(), nil
}

// open journals a snapshot operation under SystemOwner and returns the
// function that closes the entry.
func (s *SnapshotService) open(ctx context.Context, operation, params string) func(error) {
	if s.journal == nil {
		return func(error) {}
	}
	op, err := s.journal.CreateOperation(ctx, SystemOwner, operation, params)
	if err != nil {
		s.logger.Warn("journal entry not created", "operation", operation, "error", err)
		return func(error) {}
	}
	return func(opErr error) {
		status := OperationSuccess
		if opErr != nil {
			status = OperationError
		}
		if err := s.journal.FinishOperation(context.WithoutCancel(ctx), op.ID, status); err != nil {
			s.logger.Warn("journal entry not finished", "journal_id", op.ID, "error", err)
		}
	}
}
