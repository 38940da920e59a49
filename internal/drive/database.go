package drive

import (
	"context"
	"time"
)

// TreeStore persists the metadata tree. Every method is scoped to one owner;
// nodes of other owners are invisible. Implementations must run each mutating
// method in a single transaction.
type TreeStore interface {
	// ListChildren returns the direct children of parentID (nil for the owner
	// root), folders first, then by name.
	ListChildren(ctx context.Context, owner string, parentID *int64) ([]*TreeNode, error)

	// Get returns a single node or ErrNodeNotFound.
	Get(ctx context.Context, owner string, nodeID int64) (*TreeNode, error)

	// CreateNode inserts a node under parentID. Fails with ErrParentNotFound
	// when the parent is missing or is a file and with ErrDuplicateName when a
	// sibling already uses the name.
	CreateNode(ctx context.Context, owner, name string, isFolder bool, parentID *int64) (*TreeNode, error)

	// RenameOrMove changes a node's name and/or parent and rewrites the cached
	// relative path of the node and all of its descendants. Fails with
	// ErrCycleDetected when newParentID is the node itself or lies beneath it.
	RenameOrMove(ctx context.Context, owner string, nodeID int64, newName string, newParentID *int64) (*TreeNode, error)

	// CollectSubtree returns the node and all of its descendants in
	// breadth-first order without modifying anything.
	CollectSubtree(ctx context.Context, owner string, nodeID int64) ([]*TreeNode, error)

	// DeleteSubtree removes the node and all of its descendants and returns
	// what was removed, root first.
	DeleteSubtree(ctx context.Context, owner string, nodeID int64) ([]*TreeNode, error)

	// Restore writes the given rows back exactly as they are. Used to undo a
	// RenameOrMove whose physical step failed.
	Restore(ctx context.Context, owner string, nodes []*TreeNode) error
}

// Operation is one journaled mutating request.
type Operation struct {
	ID         int64      `json:"id"`
	Owner      string     `json:"owner"`
	Operation  string     `json:"operation"`
	Parameters string     `json:"parameters"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Operation statuses.
const (
	OperationRunning = "running"
	OperationSuccess = "success"
	OperationError   = "error"
)

// OperationLog journals mutating requests.
type OperationLog interface {
	CreateOperation(ctx context.Context, owner, operation, parameters string) (*Operation, error)
	FinishOperation(ctx context.Context, id int64, status string) error
	// ListOperations returns the most recent operations, newest first. An empty
	// owner lists every owner.
	ListOperations(ctx context.Context, owner string, limit int) ([]*Operation, error)
}

// Store is everything the service needs from the metadata database.
type Store interface {
	TreeStore
	OperationLog
}
