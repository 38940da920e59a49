package drive

import (
	"errors"
	"fmt"
)

// Categories. Every specific error below wraps exactly one of these (or none,
// for storage inconsistencies and media errors) so transports can map them
// with errors.Is.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid argument")
)

var (
	ErrNodeNotFound   = fmt.Errorf("%w: node", ErrNotFound)
	ErrParentNotFound = fmt.Errorf("%w: parent folder", ErrNotFound)

	ErrDuplicateName    = fmt.Errorf("%w: a sibling with this name already exists", ErrConflict)
	ErrCycleDetected    = fmt.Errorf("%w: folder cannot be moved beneath itself", ErrConflict)
	ErrPhysicalConflict = fmt.Errorf("%w: physical storage refused the change", ErrConflict)

	ErrPathEscape  = fmt.Errorf("%w: path escapes the owner root", ErrInvalid)
	ErrInvalidName = fmt.Errorf("%w: name", ErrInvalid)
	ErrNotText     = fmt.Errorf("%w: file cannot be read as text", ErrInvalid)

	// ErrStorageInconsistency means metadata and physical storage disagree.
	ErrStorageInconsistency = errors.New("storage inconsistency")

	// ErrUnsupportedMedia is returned by thumbnailers for undecodable images.
	ErrUnsupportedMedia = errors.New("unsupported media")
)
