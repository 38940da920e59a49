package drive

import (
	"context"
	"fmt"
)

// ListFolders returns the folders directly under parentID (nil for the owner
// root).
func (s *DriveService) ListFolders(ctx context.Context, ident Identity, parentID *int64) ([]FolderView, error) {
	if err := ValidateOwner(ident.OwnerID); err != nil {
		return nil, err
	}
	children, err := s.store.ListChildren(ctx, ident.OwnerID, parentID)
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	views := make([]FolderView, 0, len(children))
	for _, n := range children {
		if n.IsFolder {
			views = append(views, folderView(n))
		}
	}
	return views, nil
}

// CreateFolder adds a folder under parentID and creates its directory. When
// the directory cannot be created the folder record is removed again.
func (s *DriveService) CreateFolder(ctx context.Context, ident Identity, name string, parentID *int64) (view *FolderView, err error) {
	r, err := s.begin(ctx, ident, "CreateFolder", true, "name", name, "parent", parentParam(parentID))
	if err != nil {
		return nil, err
	}
	defer func() { err = r.finish(ctx, err) }()

	if err := s.checkName(name); err != nil {
		return nil, err
	}
	if err := s.prepareOwnerRoot(r.owner); err != nil {
		return nil, err
	}

	node, err := s.store.CreateNode(ctx, r.owner, name, true, parentID)
	if err != nil {
		return nil, fmt.Errorf("creating folder record: %w", err)
	}
	r.to(stateMetadataMutated, "node", node.ID, "path", node.RelativePath)

	abs, err := s.resolver.ResolveNode(r.owner, node)
	if err != nil {
		return nil, s.rollbackCreate(ctx, r, node, err)
	}
	if err := s.bytes.Mkdir(abs); err != nil {
		if missing(err) {
			s.metrics.Inconsistency(r.name)
			err = fmt.Errorf("%w: parent directory of %s is missing: %v", ErrStorageInconsistency, node.RelativePath, err)
		}
		return nil, s.rollbackCreate(ctx, r, node, fmt.Errorf("creating directory: %w", err))
	}
	r.to(statePhysicallyMutated)

	v := folderView(node)
	return &v, nil
}

// DeleteFolder removes a folder with everything beneath it.
func (s *DriveService) DeleteFolder(ctx context.Context, ident Identity, nodeID int64) (err error) {
	r, err := s.begin(ctx, ident, "DeleteFolder", true, "node", nodeID)
	if err != nil {
		return err
	}
	defer func() { err = r.finish(ctx, err) }()

	return s.deleteNode(ctx, r, nodeID, true)
}

// deleteNode removes the metadata subtree rooted at nodeID in one transaction,
// then removes the physical entry. Physical failures are logged and leave
// orphaned bytes behind; the metadata delete is not undone.
func (s *DriveService) deleteNode(ctx context.Context, r *run, nodeID int64, folder bool) error {
	node, err := s.store.Get(ctx, r.owner, nodeID)
	if err != nil {
		return fmt.Errorf("looking up node: %w", err)
	}
	if node.IsFolder != folder {
		kind := "file"
		if folder {
			kind = "folder"
		}
		return fmt.Errorf("%w: %d is not a %s", ErrNodeNotFound, nodeID, kind)
	}
	abs, err := s.resolver.ResolveNode(r.owner, node)
	if err != nil {
		return err
	}

	subtree, err := s.store.CollectSubtree(ctx, r.owner, nodeID)
	if err != nil {
		return fmt.Errorf("collecting subtree: %w", err)
	}
	s.logger.Debug("deleting subtree", "op", r.id, "node", nodeID, "nodes", len(subtree))

	removed, err := s.store.DeleteSubtree(ctx, r.owner, nodeID)
	if err != nil {
		return fmt.Errorf("deleting records: %w", err)
	}
	r.to(stateMetadataMutated, "removed", len(removed))

	if folder {
		err = s.bytes.RemoveAll(abs)
	} else {
		err = s.bytes.Remove(abs)
	}
	if err != nil {
		s.metrics.OrphanedBytes(r.name)
		s.logger.Warn("orphaned bytes left in storage", "op", r.id, "operation", r.name, "path", abs, "error", err)
	} else {
		r.to(statePhysicallyMutated)
	}

	for _, n := range removed {
		if n.IsFolder {
			continue
		}
		if err := s.thumbs.RemoveThumbnail(ctx, r.owner, n.Name); err != nil {
			s.logger.Debug("thumbnail not removed", "op", r.id, "node", n.ID, "error", err)
		}
	}
	return nil
}
