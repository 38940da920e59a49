package drive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"
)

// Deps collects the collaborators of a DriveService. Store, Bytes, Resolver,
// Thumbnails and Locker are required; the rest have no-op defaults.
type Deps struct {
	Store      Store
	Bytes      ByteStore
	Resolver   *PathResolver
	Thumbnails Thumbnailer
	Locker     Locker
	Names      NameFilter
	Recorder   Recorder
	Logger     Logger
	IDs        IDGenerator

	// BaseURL prefixes download links, e.g. "https://drive.example.com".
	BaseURL string
}

// DriveService keeps the metadata tree and the physical storage tree in step.
// Each structural operation holds the owner's lock for its whole duration,
// commits metadata first, then performs the matching physical change and
// compensates the metadata when the physical change fails.
type DriveService struct {
	store    Store
	bytes    ByteStore
	resolver *PathResolver
	thumbs   Thumbnailer
	locker   Locker
	names    NameFilter
	metrics  Recorder
	logger   Logger
	ids      IDGenerator
	baseURL  string
}

// NewDriveService creates a DriveService from deps.
func NewDriveService(deps Deps) (*DriveService, error) {
	if deps.Store == nil || deps.Bytes == nil || deps.Resolver == nil || deps.Thumbnails == nil || deps.Locker == nil {
		return nil, fmt.Errorf("incomplete dependencies: store, byte store, resolver, thumbnailer and locker are required")
	}
	s := &DriveService{
		store:    deps.Store,
		bytes:    deps.Bytes,
		resolver: deps.Resolver,
		thumbs:   deps.Thumbnails,
		locker:   deps.Locker,
		names:    deps.Names,
		metrics:  deps.Recorder,
		logger:   deps.Logger,
		ids:      deps.IDs,
		baseURL:  strings.TrimSuffix(deps.BaseURL, "/"),
	}
	if s.metrics == nil {
		s.metrics = NopRecorder{}
	}
	if s.logger == nil {
		s.logger = NewNopLogger()
	}
	if s.ids == nil {
		s.ids = UUIDGenerator{}
	}
	return s, nil
}

// opState is a step of the per-operation state machine.
type opState string

const (
	stateValidating        opState = "validating"
	stateMetadataMutated   opState = "metadata_mutated"
	statePhysicallyMutated opState = "physically_mutated"
	stateCommitted         opState = "committed"
	stateRollingBack       opState = "rolling_back"
)

// run tracks one service call from lock acquisition to completion.
type run struct {
	s          *DriveService
	name       string
	id         string
	owner      string
	started    time.Time
	state      opState
	rolledBack bool
	unlock     func()
	journal    *Operation
}

// begin validates the caller, takes the owner lock and, for mutating
// operations, opens a journal entry. params are alternating key/value pairs.
func (s *DriveService) begin(ctx context.Context, ident Identity, name string, mutating bool, params ...any) (*run, error) {
	if err := ValidateOwner(ident.OwnerID); err != nil {
		return nil, err
	}

	r := &run{
		s:       s,
		name:    name,
		id:      s.ids.New(),
		owner:   ident.OwnerID,
		started: time.Now(),
		state:   stateValidating,
	}

	unlock, err := s.locker.Lock(ctx, ident.OwnerID)
	if err != nil {
		s.metrics.ObserveOperation(name, OutcomeError, time.Since(r.started))
		return nil, fmt.Errorf("locking owner %s: %w", ident.OwnerID, err)
	}
	r.unlock = unlock

	if mutating {
		op, err := s.store.CreateOperation(ctx, ident.OwnerID, name, formatParams(params))
		if err != nil {
			s.logger.Warn("journal entry not created", "op", r.id, "operation", name, "error", err)
		} else {
			r.journal = op
		}
	}

	s.logger.Debug("operation started", append([]any{"op", r.id, "operation", name, "owner", r.owner}, params...)...)
	return r, nil
}

// to records a state transition.
func (r *run) to(state opState, args ...any) {
	r.state = state
	r.s.logger.Debug("operation state", append([]any{"op", r.id, "operation", r.name, "state", string(state)}, args...)...)
}

// finish releases the lock, closes the journal entry and reports metrics. It
// returns err unchanged so callers can write `return x, r.finish(err)`.
func (r *run) finish(ctx context.Context, err error) error {
	defer r.unlock()

	outcome := OutcomeOK
	switch {
	case err == nil:
		r.to(stateCommitted)
	case r.rolledBack:
		outcome = OutcomeRolledBack
	default:
		outcome = OutcomeError
	}

	if r.journal != nil {
		status := OperationSuccess
		if err != nil {
			status = OperationError
		}
		if jerr := r.s.store.FinishOperation(context.WithoutCancel(ctx), r.journal.ID, status); jerr != nil {
			r.s.logger.Warn("journal entry not finished", "op", r.id, "journal_id", r.journal.ID, "error", jerr)
		}
	}

	elapsed := time.Since(r.started)
	r.s.metrics.ObserveOperation(r.name, outcome, elapsed)
	if err != nil {
		r.s.logger.Info("operation failed", "op", r.id, "operation", r.name, "owner", r.owner, "outcome", outcome, "error", err)
	} else {
		r.s.logger.Info("operation completed", "op", r.id, "operation", r.name, "owner", r.owner, "elapsed", elapsed)
	}
	return err
}

// rollbackCreate deletes the row of a node whose physical counterpart could
// not be created.
func (s *DriveService) rollbackCreate(ctx context.Context, r *run, node *TreeNode, cause error) error {
	r.to(stateRollingBack, "node", node.ID, "cause", cause)
	r.rolledBack = true

	_, err := s.store.DeleteSubtree(context.WithoutCancel(ctx), r.owner, node.ID)
	s.metrics.Rollback(r.name, err == nil)
	if err != nil {
		s.logger.Error("rollback failed", "op", r.id, "operation", r.name, "node", node.ID, "error", err)
		return errors.Join(cause, fmt.Errorf("rolling back node %d: %w", node.ID, err))
	}
	return cause
}

// checkName validates a new node name.
func (s *DriveService) checkName(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if s.names != nil && s.names.Reserved(name) {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	return nil
}

// prepareOwnerRoot makes sure the owner's storage directory exists.
func (s *DriveService) prepareOwnerRoot(owner string) error {
	root, err := s.resolver.OwnerRoot(owner)
	if err != nil {
		return err
	}
	if err := s.bytes.EnsureDir(root); err != nil {
		return fmt.Errorf("creating owner root: %w", err)
	}
	return nil
}

// missing reports whether err means the physical entry does not exist.
func missing(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func (s *DriveService) downloadURL(id int64) string {
	return s.baseURL + "/api/files/" + strconv.FormatInt(id, 10) + "/download"
}

func formatParams(params []any) string {
	var b strings.Builder
	for i := 0; i+1 < len(params); i += 2 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%v=%v", params[i], params[i+1])
	}
	return b.String()
}

// parentParam renders an optional parent id for logs and the journal.
func parentParam(id *int64) string {
	if id == nil {
		return "root"
	}
	return strconv.FormatInt(*id, 10)
}

func folderView(n *TreeNode) FolderView {
	return FolderView{ID: n.ID, Name: n.Name, Parent: n.ParentID}
}

func nodeView(n *TreeNode) *NodeView {
	return &NodeView{ID: n.ID, Name: n.Name, IsFolder: n.IsFolder, Parent: n.ParentID, RelativePath: n.RelativePath}
}
