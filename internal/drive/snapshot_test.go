package drive_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"drive-go/internal/database"
	"drive-go/internal/drive"
	"drive-go/internal/testutil"
)

func newSnapshotService(t *testing.T, enc drive.Encryptor) (*drive.SnapshotService, *database.SQLStore, drive.Vault, *testutil.StubClock) {
	t.Helper()
	clock := testutil.FixedClock()
	store := testutil.NewTestStore(t, clock)
	v := testutil.NewTestVault()
	svc := drive.NewSnapshotService(store, v, enc, store, clock, drive.NewNopLogger()).WithTempDir(t.TempDir())
	return svc, store, v, clock
}

func TestSnapshotName(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.FixedZone("CET", 3600))

	if got := drive.SnapshotName(at, false); got != "drive-20240115T093000Z.db" {
		t.Errorf("SnapshotName() = %q", got)
	}
	if got := drive.SnapshotName(at, true); got != "drive-20240115T093000Z.db.age" {
		t.Errorf("SnapshotName(encrypted) = %q", got)
	}

	tests := []struct {
		name  string
		valid bool
	}{
		{"drive-20240115T093000Z.db", true},
		{"drive-20240115T093000Z.db.age", true},
		{"drive-20240115.db", false},
		{"other-20240115T093000Z.db", false},
		{"drive-20240115T093000Z.sqlite", false},
		{"../drive-20240115T093000Z.db", false},
		{"", false},
	}
	for _, tt := range tests {
		err := drive.ValidateSnapshotName(tt.name)
		if (err == nil) != tt.valid {
			t.Errorf("ValidateSnapshotName(%q) error = %v, want valid %v", tt.name, err, tt.valid)
		}
		if err != nil && !errors.Is(err, drive.ErrInvalid) {
			t.Errorf("ValidateSnapshotName(%q) error = %v, want ErrInvalid", tt.name, err)
		}
	}

	created, ok := drive.SnapshotTime("drive-20240115T093000Z.db.age")
	if !ok || !created.Equal(at) {
		t.Errorf("SnapshotTime() = %v, %v; want %v", created, ok, at)
	}
}

func TestSnapshotService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("plaintext", func(t *testing.T) {
		svc, _, v, _ := newSnapshotService(t, nil)

		info, err := svc.Create(ctx)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if info.Name != "drive-20240115T103000Z.db" {
			t.Errorf("Name = %q", info.Name)
		}
		if info.Encrypted() {
			t.Error("Encrypted() = true for plaintext snapshot")
		}

		var buf bytes.Buffer
		if err := v.GetSnapshot(ctx, info.Name, &buf); err != nil {
			t.Fatalf("GetSnapshot() error = %v", err)
		}
		if !bytes.HasPrefix(buf.Bytes(), []byte("SQLite format 3\x00")) {
			t.Error("stored snapshot is not a SQLite database")
		}
		if int64(buf.Len()) != info.Size {
			t.Errorf("Size = %d, stored %d bytes", info.Size, buf.Len())
		}
	})

	t.Run("encrypted", func(t *testing.T) {
		svc, _, v, _ := newSnapshotService(t, testutil.NewTestEncryptor())

		info, err := svc.Create(ctx)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if !info.Encrypted() || !strings.HasSuffix(info.Name, ".db.age") {
			t.Errorf("Name = %q, want encrypted snapshot", info.Name)
		}

		var buf bytes.Buffer
		if err := v.GetSnapshot(ctx, info.Name, &buf); err != nil {
			t.Fatalf("GetSnapshot() error = %v", err)
		}
		if bytes.HasPrefix(buf.Bytes(), []byte("SQLite format 3")) {
			t.Error("encrypted snapshot stored as plaintext")
		}
	})

	t.Run("journaled under the system owner", func(t *testing.T) {
		svc, store, _, _ := newSnapshotService(t, nil)
		if _, err := svc.Create(ctx); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		ops, err := store.ListOperations(ctx, drive.SystemOwner, 10)
		if err != nil {
			t.Fatalf("ListOperations() error = %v", err)
		}
		if len(ops) != 1 || ops[0].Operation != "CreateSnapshot" {
			t.Fatalf("journal = %+v, want one CreateSnapshot", ops)
		}
		if ops[0].Status != drive.OperationSuccess || ops[0].FinishedAt == nil {
			t.Errorf("journal entry = %+v, want finished success", ops[0])
		}
	})

	t.Run("vault failure", func(t *testing.T) {
		clock := testutil.FixedClock()
		store := testutil.NewTestStore(t, clock)
		tmp := t.TempDir()
		v := &testutil.BrokenVault{Vault: testutil.NewTestVault()}
		svc := drive.NewSnapshotService(store, v, nil, store, clock, nil).WithTempDir(tmp)

		_, err := svc.Create(ctx)
		if !errors.Is(err, testutil.ErrInjected) {
			t.Fatalf("Create() error = %v, want ErrInjected", err)
		}

		entries, _ := os.ReadDir(tmp)
		if len(entries) != 0 {
			t.Errorf("temp files left behind: %d", len(entries))
		}
		ops, _ := store.ListOperations(ctx, drive.SystemOwner, 10)
		if len(ops) != 1 || ops[0].Status != drive.OperationError {
			t.Errorf("journal = %+v, want one error entry", ops)
		}
	})
}

func TestSnapshotService_List(t *testing.T) {
	ctx := context.Background()
	svc, _, _, clock := newSnapshotService(t, nil)

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(ctx); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		clock.Advance(time.Hour)
	}

	infos, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"drive-20240115T123000Z.db", "drive-20240115T113000Z.db", "drive-20240115T103000Z.db"}
	if len(infos) != len(want) {
		t.Fatalf("len(List()) = %d, want %d", len(infos), len(want))
	}
	for i := range want {
		if infos[i].Name != want[i] {
			t.Errorf("infos[%d] = %q, want %q", i, infos[i].Name, want[i])
		}
	}
}

func TestSnapshotService_Restore(t *testing.T) {
	ctx := context.Background()
	owner := drive.Identity{OwnerID: "alice"}

	restoreAndOpen := func(t *testing.T, svc *drive.SnapshotService, name string, dec drive.DecryptionContext) []*drive.TreeNode {
		t.Helper()
		dest := filepath.Join(t.TempDir(), "restored", "drive.db")
		if err := svc.Restore(ctx, name, dec, dest); err != nil {
			t.Fatalf("Restore() error = %v", err)
		}
		restored, err := database.OpenSQLite(dest, nil)
		if err != nil {
			t.Fatalf("OpenSQLite() error = %v", err)
		}
		defer restored.Close()
		nodes, err := restored.ListChildren(ctx, owner.OwnerID, nil)
		if err != nil {
			t.Fatalf("ListChildren() error = %v", err)
		}
		return nodes
	}

	t.Run("plaintext round trip", func(t *testing.T) {
		svc, store, _, _ := newSnapshotService(t, nil)
		if _, err := store.CreateNode(ctx, owner.OwnerID, "docs", true, nil); err != nil {
			t.Fatalf("CreateNode() error = %v", err)
		}
		info, err := svc.Create(ctx)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		nodes := restoreAndOpen(t, svc, info.Name, nil)
		if len(nodes) != 1 || nodes[0].Name != "docs" {
			t.Errorf("restored nodes = %v, want [docs]", nodes)
		}
	})

	t.Run("encrypted round trip", func(t *testing.T) {
		enc := testutil.NewTestEncryptor()
		svc, store, _, _ := newSnapshotService(t, enc)
		if _, err := store.CreateNode(ctx, owner.OwnerID, "photos", true, nil); err != nil {
			t.Fatalf("CreateNode() error = %v", err)
		}
		info, err := svc.Create(ctx)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		dec, err := enc.Unlock("passphrase")
		if err != nil {
			t.Fatalf("Unlock() error = %v", err)
		}
		nodes := restoreAndOpen(t, svc, info.Name, dec)
		if len(nodes) != 1 || nodes[0].Name != "photos" {
			t.Errorf("restored nodes = %v, want [photos]", nodes)
		}
	})

	t.Run("encrypted without passphrase", func(t *testing.T) {
		svc, _, _, _ := newSnapshotService(t, testutil.NewTestEncryptor())
		info, err := svc.Create(ctx)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		dest := filepath.Join(t.TempDir(), "drive.db")
		if err := svc.Restore(ctx, info.Name, nil, dest); !errors.Is(err, drive.ErrInvalid) {
			t.Errorf("Restore() error = %v, want ErrInvalid", err)
		}
		if _, err := os.Stat(dest); err == nil {
			t.Error("Restore() created the destination")
		}
	})

	t.Run("destination exists", func(t *testing.T) {
		svc, _, _, _ := newSnapshotService(t, nil)
		info, err := svc.Create(ctx)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		dest := filepath.Join(t.TempDir(), "drive.db")
		os.WriteFile(dest, []byte("keep me"), 0644)

		if err := svc.Restore(ctx, info.Name, nil, dest); !errors.Is(err, drive.ErrConflict) {
			t.Errorf("Restore() error = %v, want ErrConflict", err)
		}
		if data, _ := os.ReadFile(dest); string(data) != "keep me" {
			t.Error("Restore() overwrote the destination")
		}
	})

	t.Run("missing snapshot", func(t *testing.T) {
		svc, _, _, _ := newSnapshotService(t, nil)
		dest := filepath.Join(t.TempDir(), "drive.db")

		err := svc.Restore(ctx, "drive-20200101T000000Z.db", nil, dest)
		if !errors.Is(err, drive.ErrSnapshotNotFound) {
			t.Errorf("Restore() error = %v, want ErrSnapshotNotFound", err)
		}
		if _, err := os.Stat(dest); err == nil {
			t.Error("failed Restore() left the destination behind")
		}
	})

	t.Run("encrypted snapshot stored under another name", func(t *testing.T) {
		enc := testutil.NewTestEncryptor()
		svc, _, v, _ := newSnapshotService(t, enc)
		info, err := svc.Create(ctx)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		var sealed bytes.Buffer
		if err := v.GetSnapshot(ctx, info.Name, &sealed); err != nil {
			t.Fatalf("GetSnapshot() error = %v", err)
		}
		renamed := "drive-20300101T000000Z.db.age"
		if err := v.PutSnapshot(ctx, renamed, bytes.NewReader(sealed.Bytes()), int64(sealed.Len())); err != nil {
			t.Fatalf("PutSnapshot() error = %v", err)
		}

		dec, _ := enc.Unlock("")
		dest := filepath.Join(t.TempDir(), "drive.db")
		err = svc.Restore(ctx, renamed, dec, dest)
		if !errors.Is(err, drive.ErrSnapshotMismatch) {
			t.Fatalf("Restore() error = %v, want ErrSnapshotMismatch", err)
		}
		if _, err := os.Stat(dest); err == nil {
			t.Error("failed Restore() left the destination behind")
		}

		if err := svc.Restore(ctx, info.Name, dec, filepath.Join(t.TempDir(), "ok.db")); err != nil {
			t.Errorf("Restore(original name) error = %v", err)
		}
	})

	t.Run("corrupt ciphertext", func(t *testing.T) {
		svc, _, v, _ := newSnapshotService(t, testutil.NewTestEncryptor())
		name := "drive-20240115T103000Z.db.age"
		if err := v.PutSnapshot(ctx, name, strings.NewReader("garbage"), 7); err != nil {
			t.Fatalf("PutSnapshot() error = %v", err)
		}
		dec, _ := testutil.NewTestEncryptor().Unlock("")
		dest := filepath.Join(t.TempDir(), "drive.db")

		if err := svc.Restore(ctx, name, dec, dest); err == nil {
			t.Error("Restore() error = nil, want decrypt failure")
		}
		if _, err := os.Stat(dest); err == nil {
			t.Error("failed Restore() left the destination behind")
		}
	})

	t.Run("invalid name", func(t *testing.T) {
		svc, _, _, _ := newSnapshotService(t, nil)
		err := svc.Restore(ctx, "../../etc/passwd", nil, filepath.Join(t.TempDir(), "x"))
		if !errors.Is(err, drive.ErrInvalid) {
			t.Errorf("Restore() error = %v, want ErrInvalid", err)
		}
	})
}
