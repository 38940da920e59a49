package drive

import (
	"context"
	"errors"
	"fmt"
)

// RenameOrMove gives a node a new name and/or parent. The metadata subtree is
// rewritten first; then the physical entry is renamed. If the rename fails the
// previous rows are restored and ErrPhysicalConflict is returned.
func (s *DriveService) RenameOrMove(ctx context.Context, ident Identity, nodeID int64, newName string, newParentID *int64) (view *NodeView, err error) {
	r, err := s.begin(ctx, ident, "RenameOrMove", true, "node", nodeID, "name", newName, "parent", parentParam(newParentID))
	if err != nil {
		return nil, err
	}
	defer func() { err = r.finish(ctx, err) }()

	if err := s.checkName(newName); err != nil {
		return nil, err
	}

	before, err := s.store.CollectSubtree(ctx, r.owner, nodeID)
	if err != nil {
		return nil, fmt.Errorf("collecting subtree: %w", err)
	}
	original := before[0]
	oldAbs, err := s.resolver.ResolveNode(r.owner, original)
	if err != nil {
		return nil, err
	}
	if _, err := s.bytes.Stat(oldAbs); err != nil {
		if missing(err) {
			s.metrics.Inconsistency(r.name)
			return nil, fmt.Errorf("%w: no physical entry for node %d at %s", ErrStorageInconsistency, nodeID, original.RelativePath)
		}
		return nil, fmt.Errorf("inspecting source: %w", err)
	}

	moved, err := s.store.RenameOrMove(ctx, r.owner, nodeID, newName, newParentID)
	if err != nil {
		return nil, fmt.Errorf("moving record: %w", err)
	}
	if moved.RelativePath == original.RelativePath {
		return nodeView(moved), nil
	}
	r.to(stateMetadataMutated, "from", original.RelativePath, "to", moved.RelativePath, "nodes", len(before))

	newAbs, err := s.resolver.ResolveNode(r.owner, moved)
	if err == nil {
		err = s.bytes.Rename(oldAbs, newAbs)
	}
	if err != nil {
		if !errors.Is(err, ErrPhysicalConflict) {
			err = fmt.Errorf("%w: %v", ErrPhysicalConflict, err)
		}
		return nil, s.rollbackMove(ctx, r, before, fmt.Errorf("renaming %s to %s: %w", original.RelativePath, moved.RelativePath, err))
	}
	r.to(statePhysicallyMutated)

	if !original.IsFolder && original.Name != moved.Name {
		// Thumbnails are keyed by stem, so a cached one for the new name may
		// belong to a different image.
		for _, name := range []string{original.Name, moved.Name} {
			if err := s.thumbs.RemoveThumbnail(ctx, r.owner, name); err != nil {
				s.logger.Debug("thumbnail not removed", "op", r.id, "node", nodeID, "name", name, "error", err)
			}
		}
	}
	return nodeView(moved), nil
}

// rollbackMove writes the pre-move rows back.
func (s *DriveService) rollbackMove(ctx context.Context, r *run, before []*TreeNode, cause error) error {
	r.to(stateRollingBack, "node", before[0].ID, "cause", cause)
	r.rolledBack = true

	err := s.store.Restore(context.WithoutCancel(ctx), r.owner, before)
	s.metrics.Rollback(r.name, err == nil)
	if err != nil {
		s.logger.Error("rollback failed", "op", r.id, "operation", r.name, "node", before[0].ID, "error", err)
		return errors.Join(cause, fmt.Errorf("restoring %d records: %w", len(before), err))
	}
	return cause
}
