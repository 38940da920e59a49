package encryption

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"drive-go/internal/drive"
)

func TestEnvelope(t *testing.T) {
	const name = "drive-20240115T103000Z.db.age"

	seal := func(t *testing.T, h drive.SnapshotHeader, data string) []byte {
		t.Helper()
		var buf bytes.Buffer
		if err := writeEnvelope(&buf, h, strings.NewReader(data)); err != nil {
			t.Fatalf("writeEnvelope() error = %v", err)
		}
		return buf.Bytes()
	}

	t.Run("header line precedes data", func(t *testing.T) {
		got := seal(t, drive.SnapshotHeader{Name: name, Size: 5}, "hello")
		want := "drive-snapshot/1 " + name + " 5\nhello"
		if string(got) != want {
			t.Errorf("envelope = %q, want %q", got, want)
		}
	})

	t.Run("empty snapshot", func(t *testing.T) {
		raw := seal(t, drive.SnapshotHeader{Name: name}, "")
		var out bytes.Buffer
		if err := readEnvelope(bytes.NewReader(raw), name, &out); err != nil {
			t.Fatalf("readEnvelope() error = %v", err)
		}
		if out.Len() != 0 {
			t.Errorf("readEnvelope() wrote %q", out.String())
		}
	})

	t.Run("source shorter than header size", func(t *testing.T) {
		var buf bytes.Buffer
		err := writeEnvelope(&buf, drive.SnapshotHeader{Name: name, Size: 10}, strings.NewReader("short"))
		if err == nil {
			t.Error("writeEnvelope() error = nil for short source")
		}
	})

	t.Run("source longer than header size", func(t *testing.T) {
		var buf bytes.Buffer
		err := writeEnvelope(&buf, drive.SnapshotHeader{Name: name, Size: 2}, strings.NewReader("longer"))
		if err == nil {
			t.Error("writeEnvelope() error = nil for long source")
		}
	})

	tests := []struct {
		name string
		raw  string
	}{
		{"other snapshot name", "drive-snapshot/1 drive-20200101T000000Z.db.age 5\nhello"},
		{"truncated data", "drive-snapshot/1 " + name + " 9\nhello"},
		{"trailing data", "drive-snapshot/1 " + name + " 5\nhello world"},
		{"unknown version", "drive-snapshot/2 " + name + " 5\nhello"},
		{"negative size", "drive-snapshot/1 " + name + " -1\n"},
		{"no newline", "drive-snapshot/1 " + name + " 5"},
		{"oversized header", strings.Repeat("x", 8192) + "\n"},
	}
	for _, tt := range tests {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := readEnvelope(strings.NewReader(tt.raw), name, &out)
			if !errors.Is(err, drive.ErrSnapshotMismatch) {
				t.Errorf("readEnvelope() error = %v, want ErrSnapshotMismatch", err)
			}
		})
	}
}
