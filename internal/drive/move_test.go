package drive_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"drive-go/internal/drive"
	"drive-go/internal/testutil"
)

func TestDriveService_RenameOrMove(t *testing.T) {
	ctx := context.Background()

	t.Run("renaming a folder rewrites descendant paths", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		docs := mustFolder(t, td, alice, "docs", nil)
		notes := mustFolder(t, td, alice, "notes", &docs.ID)
		f := mustUpload(t, td, alice, "a.txt", []byte("a"), &notes.ID)

		view, err := td.Service.RenameOrMove(ctx, alice, docs.ID, "documents", nil)
		if err != nil {
			t.Fatalf("RenameOrMove() error = %v", err)
		}
		if view.RelativePath != "documents" || view.Name != "documents" || !view.IsFolder {
			t.Errorf("view = %+v", view)
		}

		n, err := td.Store.Get(ctx, "alice", notes.ID)
		if err != nil {
			t.Fatal(err)
		}
		if n.RelativePath != "documents/notes" {
			t.Errorf("notes path = %q, want documents/notes", n.RelativePath)
		}
		fn, _ := td.Store.Get(ctx, "alice", f.ID)
		if fn.RelativePath != "documents/notes/a.txt" {
			t.Errorf("file path = %q, want documents/notes/a.txt", fn.RelativePath)
		}

		root, _ := td.Resolver.OwnerRoot("alice")
		if exists(t, filepath.Join(root, "docs")) {
			t.Error("old directory still exists")
		}
		assertConsistent(t, td, "alice")
	})

	t.Run("moving a file into a folder", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		x := mustFolder(t, td, alice, "x", nil)
		f := mustUpload(t, td, alice, "a.txt", []byte("a"), nil)

		view, err := td.Service.RenameOrMove(ctx, alice, f.ID, "b.txt", &x.ID)
		if err != nil {
			t.Fatalf("RenameOrMove() error = %v", err)
		}
		if view.RelativePath != "x/b.txt" || view.Parent == nil || *view.Parent != x.ID {
			t.Errorf("view = %+v", view)
		}
		assertConsistent(t, td, "alice")

		back, err := td.Service.RenameOrMove(ctx, alice, f.ID, "b.txt", nil)
		if err != nil {
			t.Fatalf("RenameOrMove() to root error = %v", err)
		}
		if back.RelativePath != "b.txt" || back.Parent != nil {
			t.Errorf("view = %+v", back)
		}
		assertConsistent(t, td, "alice")
	})

	t.Run("renaming an image evicts its thumbnail", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		f := mustUpload(t, td, alice, "cat.png", pngImage(t), nil)

		if _, err := td.Service.RenameOrMove(ctx, alice, f.ID, "dog.png", nil); err != nil {
			t.Fatalf("RenameOrMove() error = %v", err)
		}
		old, _ := td.Resolver.ResolveThumbnail("alice", "th_cat.jpg")
		if exists(t, old) {
			t.Error("old thumbnail not evicted")
		}
	})

	t.Run("renaming onto a cached stem evicts the foreign thumbnail", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		f := mustUpload(t, td, alice, "cat.png", pngImage(t), nil)
		cached, _ := td.Resolver.ResolveThumbnail("alice", "th_dog.jpg")
		if err := os.WriteFile(cached, []byte("thumbnail of another dog"), 0644); err != nil {
			t.Fatal(err)
		}
		future := time.Now().Add(time.Hour)
		if err := os.Chtimes(cached, future, future); err != nil {
			t.Fatal(err)
		}

		if _, err := td.Service.RenameOrMove(ctx, alice, f.ID, "dog.png", nil); err != nil {
			t.Fatalf("RenameOrMove() error = %v", err)
		}
		if exists(t, cached) {
			t.Fatal("thumbnail for the new name was not evicted")
		}

		if _, err := td.Service.ListFiles(ctx, alice, nil); err != nil {
			t.Fatalf("ListFiles() error = %v", err)
		}
		got, err := os.ReadFile(cached)
		if err != nil {
			t.Fatalf("thumbnail not regenerated: %v", err)
		}
		if bytes.Equal(got, []byte("thumbnail of another dog")) {
			t.Error("foreign thumbnail served for dog.png")
		}
	})

	t.Run("same name and parent is a no-op", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		docs := mustFolder(t, td, alice, "docs", nil)

		view, err := td.Service.RenameOrMove(ctx, alice, docs.ID, "docs", nil)
		if err != nil {
			t.Fatalf("RenameOrMove() error = %v", err)
		}
		if view.RelativePath != "docs" {
			t.Errorf("view = %+v", view)
		}
		if got := td.Bytes.Calls(testutil.OpRename); got != 0 {
			t.Errorf("rename called %d times", got)
		}
	})

	t.Run("moving a folder beneath itself is a cycle", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		docs := mustFolder(t, td, alice, "docs", nil)
		notes := mustFolder(t, td, alice, "notes", &docs.ID)

		for _, target := range []int64{docs.ID, notes.ID} {
			_, err := td.Service.RenameOrMove(ctx, alice, docs.ID, "docs", &target)
			if !errors.Is(err, drive.ErrCycleDetected) {
				t.Errorf("RenameOrMove(under %d) error = %v, want ErrCycleDetected", target, err)
			}
		}

		n, _ := td.Store.Get(ctx, "alice", notes.ID)
		if n.RelativePath != "docs/notes" {
			t.Errorf("tree changed: notes path = %q", n.RelativePath)
		}
		if got := td.Bytes.Calls(testutil.OpRename); got != 0 {
			t.Errorf("rename called %d times", got)
		}
		assertConsistent(t, td, "alice")
	})

	t.Run("name collision", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		docs := mustFolder(t, td, alice, "docs", nil)
		mustFolder(t, td, alice, "music", nil)

		_, err := td.Service.RenameOrMove(ctx, alice, docs.ID, "music", nil)
		if !errors.Is(err, drive.ErrDuplicateName) {
			t.Errorf("RenameOrMove() error = %v, want ErrDuplicateName", err)
		}
	})

	t.Run("unknown node and parent", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		docs := mustFolder(t, td, alice, "docs", nil)
		missing := int64(404)

		if _, err := td.Service.RenameOrMove(ctx, alice, missing, "x", nil); !errors.Is(err, drive.ErrNodeNotFound) {
			t.Errorf("RenameOrMove(missing node) error = %v, want ErrNodeNotFound", err)
		}
		if _, err := td.Service.RenameOrMove(ctx, alice, docs.ID, "x", &missing); !errors.Is(err, drive.ErrParentNotFound) {
			t.Errorf("RenameOrMove(missing parent) error = %v, want ErrParentNotFound", err)
		}
	})

	t.Run("file as new parent", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		docs := mustFolder(t, td, alice, "docs", nil)
		f := mustUpload(t, td, alice, "a.txt", []byte("a"), nil)

		if _, err := td.Service.RenameOrMove(ctx, alice, docs.ID, "docs", &f.ID); !errors.Is(err, drive.ErrParentNotFound) {
			t.Errorf("RenameOrMove() error = %v, want ErrParentNotFound", err)
		}
	})

	t.Run("rename failure restores metadata", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		docs := mustFolder(t, td, alice, "docs", nil)
		notes := mustFolder(t, td, alice, "notes", &docs.ID)
		td.Bytes.Fail(testutil.OpRename, nil)

		_, err := td.Service.RenameOrMove(ctx, alice, docs.ID, "documents", nil)
		if !errors.Is(err, drive.ErrPhysicalConflict) {
			t.Fatalf("RenameOrMove() error = %v, want ErrPhysicalConflict", err)
		}

		d, _ := td.Store.Get(ctx, "alice", docs.ID)
		n, _ := td.Store.Get(ctx, "alice", notes.ID)
		if d.Name != "docs" || d.RelativePath != "docs" {
			t.Errorf("docs = %+v, want restored", d)
		}
		if n.RelativePath != "docs/notes" {
			t.Errorf("notes path = %q, want docs/notes", n.RelativePath)
		}
		if got := td.Recorder.Count("rollback:RenameOrMove:true"); got != 1 {
			t.Errorf("rollback count = %d, want 1", got)
		}
		if got := td.Recorder.Count("operation:RenameOrMove:rolled_back"); got != 1 {
			t.Errorf("rolled_back count = %d, want 1", got)
		}
		assertConsistent(t, td, "alice")
	})

	t.Run("untracked entry at destination is a physical conflict", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		docs := mustFolder(t, td, alice, "docs", nil)
		root, _ := td.Resolver.OwnerRoot("alice")
		if err := os.WriteFile(filepath.Join(root, "documents"), []byte("stray"), 0644); err != nil {
			t.Fatal(err)
		}

		_, err := td.Service.RenameOrMove(ctx, alice, docs.ID, "documents", nil)
		if !errors.Is(err, drive.ErrPhysicalConflict) {
			t.Fatalf("RenameOrMove() error = %v, want ErrPhysicalConflict", err)
		}
		d, _ := td.Store.Get(ctx, "alice", docs.ID)
		if d.RelativePath != "docs" {
			t.Errorf("docs path = %q, want docs", d.RelativePath)
		}
		got, _ := os.ReadFile(filepath.Join(root, "documents"))
		if string(got) != "stray" {
			t.Error("untracked entry was modified")
		}
	})

	t.Run("missing source is an inconsistency and changes nothing", func(t *testing.T) {
		td := testutil.NewTestDrive(t)
		docs := mustFolder(t, td, alice, "docs", nil)
		if err := os.RemoveAll(physical(t, td, "alice", docs.ID)); err != nil {
			t.Fatal(err)
		}

		_, err := td.Service.RenameOrMove(ctx, alice, docs.ID, "documents", nil)
		if !errors.Is(err, drive.ErrStorageInconsistency) {
			t.Fatalf("RenameOrMove() error = %v, want ErrStorageInconsistency", err)
		}
		d, _ := td.Store.Get(ctx, "alice", docs.ID)
		if d.RelativePath != "docs" {
			t.Errorf("docs path = %q, want docs", d.RelativePath)
		}
	})
}

// A sequence of mixed operations keeps the tree and disk in step.
func TestDriveService_MixedSequence(t *testing.T) {
	td := testutil.NewTestDrive(t)
	ctx := context.Background()

	a := mustFolder(t, td, alice, "a", nil)
	b := mustFolder(t, td, alice, "b", &a.ID)
	c := mustFolder(t, td, alice, "c", &b.ID)
	mustUpload(t, td, alice, "1.txt", []byte("1"), &c.ID)
	mustUpload(t, td, alice, "2.txt", []byte("2"), &b.ID)
	z := mustFolder(t, td, alice, "z", nil)
	assertConsistent(t, td, "alice")

	steps := []func() error{
		func() error { _, err := td.Service.RenameOrMove(ctx, alice, b.ID, "bee", &z.ID); return err },
		func() error { _, err := td.Service.RenameOrMove(ctx, alice, z.ID, "zed", nil); return err },
		func() error { _, err := td.Service.RenameOrMove(ctx, alice, c.ID, "c", &a.ID); return err },
		func() error { return td.Service.DeleteFolder(ctx, alice, z.ID) },
		func() error { _, err := td.Service.RenameOrMove(ctx, alice, a.ID, "root-a", nil); return err },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d error = %v", i, err)
		}
		assertConsistent(t, td, "alice")
	}

	n, err := td.Store.Get(ctx, "alice", c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n.RelativePath != "root-a/c" {
		t.Errorf("c path = %q, want root-a/c", n.RelativePath)
	}
	if _, err := td.Store.Get(ctx, "alice", b.ID); !errors.Is(err, drive.ErrNodeNotFound) {
		t.Errorf("b should be gone with zed: %v", err)
	}
}
