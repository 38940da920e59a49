package encryption

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"drive-go/internal/drive"
)

// envelopeVersion opens the plaintext header line that precedes snapshot
// data inside the ciphertext:
//
//	drive-snapshot/1 <name> <size>\n
const envelopeVersion = "drive-snapshot/1"

// writeEnvelope writes h followed by exactly h.Size bytes of r.
func writeEnvelope(w io.Writer, h drive.SnapshotHeader, r io.Reader) error {
	if err := drive.ValidateSnapshotName(h.Name); err != nil {
		return err
	}
	if h.Size < 0 {
		return fmt.Errorf("%w: negative snapshot size %d", drive.ErrInvalid, h.Size)
	}
	if _, err := fmt.Fprintf(w, "%s %s %d\n", envelopeVersion, h.Name, h.Size); err != nil {
		return fmt.Errorf("writing snapshot header: %w", err)
	}

	n, err := io.Copy(w, io.LimitReader(r, h.Size+1))
	if err != nil {
		return fmt.Errorf("copying snapshot data: %w", err)
	}
	if n != h.Size {
		return fmt.Errorf("snapshot %s changed while sealing: read %d bytes, expected %d", h.Name, n, h.Size)
	}
	return nil
}

// readEnvelope checks that r was sealed for name and copies its data to w.
// Nothing is written to w unless the header matches.
func readEnvelope(r io.Reader, name string, w io.Writer) error {
	br := bufio.NewReader(r)
	h, err := readHeader(br)
	if err != nil {
		return err
	}
	if h.Name != name {
		return fmt.Errorf("%w: sealed as %s, fetched as %s", drive.ErrSnapshotMismatch, h.Name, name)
	}

	n, err := io.CopyN(w, br, h.Size)
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s truncated after %d of %d bytes", drive.ErrSnapshotMismatch, name, n, h.Size)
	}
	if err != nil {
		return fmt.Errorf("copying snapshot data: %w", err)
	}
	if _, err := br.ReadByte(); !errors.Is(err, io.EOF) {
		if err != nil {
			return fmt.Errorf("reading snapshot trailer: %w", err)
		}
		return fmt.Errorf("%w: %s has data past its sealed size", drive.ErrSnapshotMismatch, name)
	}
	return nil
}

func readHeader(br *bufio.Reader) (drive.SnapshotHeader, error) {
	// ReadSlice bounds the header to the reader's buffer.
	line, err := br.ReadSlice('\n')
	if err != nil {
		return drive.SnapshotHeader{}, fmt.Errorf("%w: missing snapshot header: %v", drive.ErrSnapshotMismatch, err)
	}
	fields := strings.Fields(string(line))
	if len(fields) != 3 || fields[0] != envelopeVersion {
		return drive.SnapshotHeader{}, fmt.Errorf("%w: unrecognised snapshot header", drive.ErrSnapshotMismatch)
	}
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || size < 0 {
		return drive.SnapshotHeader{}, fmt.Errorf("%w: bad snapshot size %q", drive.ErrSnapshotMismatch, fields[2])
	}
	return drive.SnapshotHeader{Name: fields[1], Size: size}, nil
}
