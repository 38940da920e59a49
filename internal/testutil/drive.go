package testutil

import (
	"path/filepath"
	"testing"

	"drive-go/internal/database"
	"drive-go/internal/drive"
	"drive-go/internal/fs"
	"drive-go/internal/lock"
	"drive-go/internal/thumbnail"
)

// TestBaseURL prefixes every URL produced by a TestDrive.
const TestBaseURL = "http://drive.test"

// TestDrive bundles a DriveService with handles on its collaborators.
type TestDrive struct {
	Service  *drive.DriveService
	Store    *database.SQLStore
	Bytes    *FaultyByteStore
	Resolver *drive.PathResolver
	Thumbs   *thumbnail.Generator
	Recorder *CountingRecorder
	Logger   *RecordingLogger
}

// NewTestDrive creates a DriveService over temp directories, an in-memory
// database and a fault-injecting byte store.
func NewTestDrive(t *testing.T) *TestDrive {
	t.Helper()

	root := t.TempDir()
	resolver, err := drive.NewPathResolver(filepath.Join(root, "files"), filepath.Join(root, "thumbnails"))
	if err != nil {
		t.Fatalf("NewPathResolver() error = %v", err)
	}

	store := NewTestStore(t, nil)
	bytes := NewFaultyByteStore(fs.NewOSByteStore())
	thumbs := thumbnail.NewGenerator(resolver, bytes, thumbnail.Options{Size: 16, BaseURL: TestBaseURL})
	recorder := NewCountingRecorder()
	logger := NewRecordingLogger()

	svc, err := drive.NewDriveService(drive.Deps{
		Store:      store,
		Bytes:      bytes,
		Resolver:   resolver,
		Thumbnails: thumbs,
		Locker:     lock.NewMemoryLocker(),
		Names:      fs.NewReservedNames(nil),
		Recorder:   recorder,
		Logger:     logger,
		IDs:        NewStubIDGenerator(),
		BaseURL:    TestBaseURL,
	})
	if err != nil {
		t.Fatalf("NewDriveService() error = %v", err)
	}

	return &TestDrive{
		Service:  svc,
		Store:    store,
		Bytes:    bytes,
		Resolver: resolver,
		Thumbs:   thumbs,
		Recorder: recorder,
		Logger:   logger,
	}
}
