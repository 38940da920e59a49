package drive_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"drive-go/internal/drive"
	"drive-go/internal/testutil"
)

func TestDriveService_CreateFolder(t *testing.T) {
	ctx := context.Background()

	t.Run("creates record and directory", func(t *testing.T) {
		td := testutil.NewTestDrive(t)

		docs := mustFolder(t, td, alice, "docs", nil)
		notes := mustFolder(t, td, alice, "notes", &docs.ID)

		if notes.Parent == nil || *notes.Parent != docs.ID {
			t.Errorf("notes.Parent = %v, want %d", notes.Parent, docs.ID)
		}
		info, err := os.Stat(physical(t, td, "alice", notes.ID))
		if err != nil || !info.IsDir() {
			t.Fatalf("notes directory missing: %v", err)
		}
		if got := td.Recorder.Count("operation:CreateFolder:ok"); got != 2 {
			t.Errorf("ok count = %d, want 2", got)
		}
		assertConsistent(t, td, "alice")
	})

	t.Run("existing empty directory is reused", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		root, _ := td.Resolver.OwnerRoot("alice")
		if err := os.MkdirAll(filepath.Join(root, "docs"), 0755); err != nil {
			t.Fatal(err)
		}

		mustFolder(t, td, alice, "docs", nil)
		assertConsistent(t, td, "alice")
	})

	t.Run("duplicate sibling name", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		mustFolder(t, td, alice, "docs", nil)

		_, err := td.Service.CreateFolder(ctx, alice, "docs", nil)
		if !errors.Is(err, drive.ErrDuplicateName) {
			t.Errorf("CreateFolder() error = %v, want ErrDuplicateName", err)
		}
	})

	t.Run("missing parent", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		missing := int64(999)

		_, err := td.Service.CreateFolder(ctx, alice, "docs", &missing)
		if !errors.Is(err, drive.ErrParentNotFound) {
			t.Errorf("CreateFolder() error = %v, want ErrParentNotFound", err)
		}
		if got := td.Bytes.Calls(testutil.OpMkdir); got != 0 {
			t.Errorf("mkdir called %d times after a metadata failure", got)
		}
	})

	t.Run("invalid and reserved names", func(t *testing.T) {
		td := testutil.NewTestDrive(t)

		for name, want := range map[string]error{
			"":                  drive.ErrInvalidName,
			"..":                drive.ErrPathEscape,
			"a/b":               drive.ErrPathEscape,
			".drive-tmp-upload": drive.ErrInvalidName,
		} {
			if _, err := td.Service.CreateFolder(ctx, alice, name, nil); !errors.Is(err, want) {
				t.Errorf("CreateFolder(%q) error = %v, want %v", name, err, want)
			}
		}
		folders, _ := td.Service.ListFolders(ctx, alice, nil)
		if len(folders) != 0 {
			t.Errorf("ListFolders() = %v, want empty", folders)
		}
	})

	t.Run("mkdir failure removes the record", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		td.Bytes.Fail(testutil.OpMkdir, nil)

		_, err := td.Service.CreateFolder(ctx, alice, "docs", nil)
		if !errors.Is(err, testutil.ErrInjected) {
			t.Fatalf("CreateFolder() error = %v, want injected failure", err)
		}

		folders, err := td.Service.ListFolders(ctx, alice, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(folders) != 0 {
			t.Errorf("record left behind after rollback: %v", folders)
		}
		if got := td.Recorder.Count("rollback:CreateFolder:true"); got != 1 {
			t.Errorf("rollback count = %d, want 1", got)
		}
		if got := td.Recorder.Count("operation:CreateFolder:rolled_back"); got != 1 {
			t.Errorf("rolled_back count = %d, want 1", got)
		}

		td.Bytes.Heal()
		mustFolder(t, td, alice, "docs", nil)
		assertConsistent(t, td, "alice")
	})

	t.Run("non-empty directory on disk is a physical conflict", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		root, _ := td.Resolver.OwnerRoot("alice")
		if err := os.MkdirAll(filepath.Join(root, "docs"), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(root, "docs", "stray"), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}

		_, err := td.Service.CreateFolder(ctx, alice, "docs", nil)
		if !errors.Is(err, drive.ErrPhysicalConflict) {
			t.Fatalf("CreateFolder() error = %v, want ErrPhysicalConflict", err)
		}
		folders, _ := td.Service.ListFolders(ctx, alice, nil)
		if len(folders) != 0 {
			t.Errorf("record left behind after rollback: %v", folders)
		}
	})

	t.Run("missing parent directory is an inconsistency", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		docs := mustFolder(t, td, alice, "docs", nil)
		if err := os.RemoveAll(physical(t, td, "alice", docs.ID)); err != nil {
			t.Fatal(err)
		}

		_, err := td.Service.CreateFolder(ctx, alice, "notes", &docs.ID)
		if !errors.Is(err, drive.ErrStorageInconsistency) {
			t.Fatalf("CreateFolder() error = %v, want ErrStorageInconsistency", err)
		}
		children, _ := td.Store.ListChildren(ctx, "alice", &docs.ID)
		if len(children) != 0 {
			t.Errorf("record left behind after rollback: %v", children)
		}
	})
}

func TestDriveService_ListFolders(t *testing.T) {
	td := testutil.NewTestDrive(t)
	ctx := context.Background()

	docs := mustFolder(t, td, alice, "docs", nil)
	mustFolder(t, td, alice, "music", nil)
	mustUpload(t, td, alice, "a.txt", []byte("a"), nil)
	mustFolder(t, td, alice, "notes", &docs.ID)

	root, err := td.Service.ListFolders(ctx, alice, nil)
	if err != nil {
		t.Fatalf("ListFolders() error = %v", err)
	}
	if len(root) != 2 {
		t.Errorf("len(root) = %d, want 2 (files excluded)", len(root))
	}

	sub, err := td.Service.ListFolders(ctx, alice, &docs.ID)
	if err != nil {
		t.Fatalf("ListFolders() error = %v", err)
	}
	if len(sub) != 1 || sub[0].Name != "notes" {
		t.Errorf("ListFolders(docs) = %+v, want [notes]", sub)
	}
}

func TestDriveService_DeleteFolder(t *testing.T) {
	ctx := context.Background()

	t.Run("removes subtree records and bytes", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		x := mustFolder(t, td, alice, "x", nil)
		sub := mustFolder(t, td, alice, "sub", &x.ID)
		file := mustUpload(t, td, alice, "a.txt", []byte("hello"), &x.ID)
		deep := mustUpload(t, td, alice, "b.png", pngImage(t), &sub.ID)
		xPath := physical(t, td, "alice", x.ID)

		if err := td.Service.DeleteFolder(ctx, alice, x.ID); err != nil {
			t.Fatalf("DeleteFolder() error = %v", err)
		}

		for _, id := range []int64{x.ID, sub.ID, file.ID, deep.ID} {
			if _, err := td.Store.Get(ctx, "alice", id); !errors.Is(err, drive.ErrNotFound) {
				t.Errorf("Get(%d) error = %v, want ErrNotFound", id, err)
			}
		}
		if exists(t, xPath) {
			t.Errorf("%s still exists", xPath)
		}
		thumb, _ := td.Resolver.ResolveThumbnail("alice", "th_b.jpg")
		if exists(t, thumb) {
			t.Errorf("thumbnail %s not evicted", thumb)
		}
		assertConsistent(t, td, "alice")
	})

	t.Run("unknown id", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		if err := td.Service.DeleteFolder(ctx, alice, 42); !errors.Is(err, drive.ErrNodeNotFound) {
			t.Errorf("DeleteFolder() error = %v, want ErrNodeNotFound", err)
		}
	})

	t.Run("file id is not a folder", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		file := mustUpload(t, td, alice, "a.txt", []byte("a"), nil)
		if err := td.Service.DeleteFolder(ctx, alice, file.ID); !errors.Is(err, drive.ErrNodeNotFound) {
			t.Errorf("DeleteFolder() error = %v, want ErrNodeNotFound", err)
		}
		if _, err := td.Store.Get(ctx, "alice", file.ID); err != nil {
			t.Errorf("file was removed: %v", err)
		}
	})

	t.Run("physical failure leaves orphaned bytes but commits", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		x := mustFolder(t, td, alice, "x", nil)
		mustUpload(t, td, alice, "a.txt", []byte("a"), &x.ID)
		xPath := physical(t, td, "alice", x.ID)
		td.Bytes.Fail(testutil.OpRemoveAll, nil)

		if err := td.Service.DeleteFolder(ctx, alice, x.ID); err != nil {
			t.Fatalf("DeleteFolder() error = %v, want nil", err)
		}
		if _, err := td.Store.Get(ctx, "alice", x.ID); !errors.Is(err, drive.ErrNodeNotFound) {
			t.Errorf("Get() error = %v, want ErrNodeNotFound", err)
		}
		if !exists(t, xPath) {
			t.Error("expected orphaned directory to remain")
		}
		if got := td.Recorder.Count("orphaned:DeleteFolder"); got != 1 {
			t.Errorf("orphaned count = %d, want 1", got)
		}
		if !td.Logger.Has("WARN", "orphaned bytes left in storage") {
			t.Error("expected orphaned bytes warning")
		}
	})

	t.Run("already missing directory is fine", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		x := mustFolder(t, td, alice, "x", nil)
		if err := os.RemoveAll(physical(t, td, "alice", x.ID)); err != nil {
			t.Fatal(err)
		}
		if err := td.Service.DeleteFolder(ctx, alice, x.ID); err != nil {
			t.Fatalf("DeleteFolder() error = %v", err)
		}
		if got := td.Recorder.Count("orphaned:DeleteFolder"); got != 0 {
			t.Errorf("orphaned count = %d, want 0", got)
		}
	})
}
