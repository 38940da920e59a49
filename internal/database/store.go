package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"drive-go/internal/database/migrations"
	"drive-go/internal/drive"
)

// Dialect captures the differences between the supported SQL engines.
type Dialect struct {
	Name        string
	Placeholder sq.PlaceholderFormat
	TxOptions   *sql.TxOptions
	// Retries is how many times a transaction is retried after a
	// serialization failure.
	Retries int
}

var (
	SQLiteDialect = Dialect{
		Name:        migrations.SQLite,
		Placeholder: sq.Question,
	}
	PostgresDialect = Dialect{
		Name:        migrations.Postgres,
		Placeholder: sq.Dollar,
		TxOptions:   &sql.TxOptions{Isolation: sql.LevelSerializable},
		Retries:     3,
	}
)

// deleteBatch bounds the number of ids bound into one IN clause.
const deleteBatch = 500

// maxDepth bounds ancestor walks so a corrupted parent chain cannot loop.
const maxDepth = 4096

var nodeColumns = []string{"id", "owner", "name", "is_folder", "parent_id", "relative_path", "created_at", "updated_at"}

type nodeRow struct {
	ID           int64         `db:"id"`
	Owner        string        `db:"owner"`
	Name         string        `db:"name"`
	IsFolder     bool          `db:"is_folder"`
	ParentID     sql.NullInt64 `db:"parent_id"`
	RelativePath string        `db:"relative_path"`
	CreatedAt    time.Time     `db:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at"`
}

func (r *nodeRow) toNode() *drive.TreeNode {
	n := &drive.TreeNode{
		ID:           r.ID,
		Owner:        r.Owner,
		Name:         r.Name,
		IsFolder:     r.IsFolder,
		RelativePath: r.RelativePath,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.ParentID.Valid {
		id := r.ParentID.Int64
		n.ParentID = &id
	}
	return n
}

// parentValue renders an optional parent for sq.Eq, where nil means IS NULL.
func parentValue(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

// SQLStore implements drive.Store on top of a SQL database.
type SQLStore struct {
	db      *sqlx.DB
	dialect Dialect
	sb      sq.StatementBuilderType
	clock   drive.Clock
	path    string
}

// NewSQLStore wraps an open connection. The schema must already be migrated.
func NewSQLStore(db *sqlx.DB, dialect Dialect, clock drive.Clock) *SQLStore {
	if clock == nil {
		clock = drive.RealClock{}
	}
	return &SQLStore{
		db:      db,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(dialect.Placeholder),
		clock:   clock,
	}
}

// OpenSQLite opens (creating if necessary) a SQLite database.
// path can be a file path or ":memory:" for an in-memory database.
func OpenSQLite(path string, clock drive.Clock) (*SQLStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	s := NewSQLStore(db, SQLiteDialect, clock)
	s.path = path
	return s, nil
}

// OpenConnection opens and configures a SQLite connection. Foreign keys are
// enforced and transactions take the write lock up front.
func OpenConnection(path string) (*sqlx.DB, error) {
	dsn := "file:" + path + "?_foreign_keys=on&_txlock=immediate&_busy_timeout=5000"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; a single connection also keeps an
	// in-memory database from splitting into one database per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// OpenPostgres connects to a PostgreSQL database.
func OpenPostgres(dsn string, clock drive.Clock) (*SQLStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewSQLStore(db, PostgresDialect, clock), nil
}

// Tree operations

func (s *SQLStore) ListChildren(ctx context.Context, owner string, parentID *int64) ([]*drive.TreeNode, error) {
	if parentID != nil {
		if _, err := s.parentFolder(ctx, s.db, owner, *parentID); err != nil {
			return nil, err
		}
	}

	query, args, err := s.sb.Select(nodeColumns...).From("nodes").
		Where(sq.Eq{"owner": owner, "parent_id": parentValue(parentID)}).
		OrderBy("is_folder DESC", "name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var rows []nodeRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing children: %w", err)
	}
	nodes := make([]*drive.TreeNode, len(rows))
	for i := range rows {
		nodes[i] = rows[i].toNode()
	}
	return nodes, nil
}

func (s *SQLStore) Get(ctx context.Context, owner string, nodeID int64) (*drive.TreeNode, error) {
	row, err := s.getNode(ctx, s.db, owner, nodeID)
	if err != nil {
		return nil, err
	}
	return row.toNode(), nil
}

func (s *SQLStore) CreateNode(ctx context.Context, owner, name string, isFolder bool, parentID *int64) (*drive.TreeNode, error) {
	if err := drive.ValidateName(name); err != nil {
		return nil, err
	}

	var created *nodeRow
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		parentPath := ""
		if parentID != nil {
			parent, err := s.parentFolder(ctx, tx, owner, *parentID)
			if err != nil {
				return err
			}
			parentPath = parent.RelativePath
		}

		relPath := drive.ChildPath(parentPath, name)
		if err := s.checkPathFree(ctx, tx, owner, relPath); err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		row := &nodeRow{
			Owner:        owner,
			Name:         name,
			IsFolder:     isFolder,
			ParentID:     nullID(parentID),
			RelativePath: relPath,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		query, args, err := s.sb.Insert("nodes").
			Columns("owner", "name", "is_folder", "parent_id", "relative_path", "created_at", "updated_at").
			Values(row.Owner, row.Name, row.IsFolder, row.ParentID, row.RelativePath, row.CreatedAt, row.UpdatedAt).
			Suffix("RETURNING id").
			ToSql()
		if err != nil {
			return fmt.Errorf("building insert: %w", err)
		}
		if err := tx.QueryRowxContext(ctx, query, args...).Scan(&row.ID); err != nil {
			return mapConstraint(fmt.Errorf("inserting node: %w", err))
		}
		created = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created.toNode(), nil
}

func (s *SQLStore) RenameOrMove(ctx context.Context, owner string, nodeID int64, newName string, newParentID *int64) (*drive.TreeNode, error) {
	if err := drive.ValidateName(newName); err != nil {
		return nil, err
	}

	var result *nodeRow
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		node, err := s.getNode(ctx, tx, owner, nodeID)
		if err != nil {
			return err
		}

		parentPath := ""
		if newParentID != nil {
			// Checked before the parent lookup so that a file named as its
			// own parent is a cycle rather than a missing folder.
			if *newParentID == node.ID {
				return fmt.Errorf("%w: node %d", drive.ErrCycleDetected, node.ID)
			}
			parent, err := s.parentFolder(ctx, tx, owner, *newParentID)
			if err != nil {
				return err
			}
			if err := s.checkNotAncestor(ctx, tx, owner, node.ID, parent); err != nil {
				return err
			}
			parentPath = parent.RelativePath
		}

		newPath := drive.ChildPath(parentPath, newName)
		if newPath == node.RelativePath {
			result = node
			return nil
		}
		if err := s.checkPathFree(ctx, tx, owner, newPath); err != nil {
			return err
		}

		subtree, err := s.collect(ctx, tx, owner, node)
		if err != nil {
			return err
		}

		// Arena of the subtree by id; BFS order guarantees a parent's new path
		// is known before its children are visited.
		arena := make(map[int64]*nodeRow, len(subtree))
		for _, n := range subtree {
			arena[n.ID] = n
		}
		newPaths := make(map[int64]string, len(subtree))
		newPaths[node.ID] = newPath
		for _, n := range subtree[1:] {
			newPaths[n.ID] = drive.ChildPath(newPaths[n.ParentID.Int64], n.Name)
		}

		now := s.clock.Now().UTC()
		query, args, err := s.sb.Update("nodes").
			Set("name", newName).
			Set("parent_id", nullID(newParentID)).
			Set("relative_path", newPath).
			Set("updated_at", now).
			Where(sq.Eq{"owner": owner, "id": node.ID}).
			ToSql()
		if err != nil {
			return fmt.Errorf("building update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return mapConstraint(fmt.Errorf("updating node %d: %w", node.ID, err))
		}

		for _, n := range subtree[1:] {
			query, args, err := s.sb.Update("nodes").
				Set("relative_path", newPaths[n.ID]).
				Where(sq.Eq{"owner": owner, "id": n.ID}).
				ToSql()
			if err != nil {
				return fmt.Errorf("building update: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return mapConstraint(fmt.Errorf("rewriting path of node %d: %w", n.ID, err))
			}
		}

		moved := *arena[node.ID]
		moved.Name = newName
		moved.ParentID = nullID(newParentID)
		moved.RelativePath = newPath
		moved.UpdatedAt = now
		result = &moved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result.toNode(), nil
}

func (s *SQLStore) CollectSubtree(ctx context.Context, owner string, nodeID int64) ([]*drive.TreeNode, error) {
	root, err := s.getNode(ctx, s.db, owner, nodeID)
	if err != nil {
		return nil, err
	}
	rows, err := s.collect(ctx, s.db, owner, root)
	if err != nil {
		return nil, err
	}
	return toNodes(rows), nil
}

func (s *SQLStore) DeleteSubtree(ctx context.Context, owner string, nodeID int64) ([]*drive.TreeNode, error) {
	var removed []*nodeRow
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		root, err := s.getNode(ctx, tx, owner, nodeID)
		if err != nil {
			return err
		}
		rows, err := s.collect(ctx, tx, owner, root)
		if err != nil {
			return err
		}

		// Deepest nodes first so no batch removes a parent before its children.
		ids := make([]int64, 0, len(rows))
		for i := len(rows) - 1; i >= 0; i-- {
			ids = append(ids, rows[i].ID)
		}
		for start := 0; start < len(ids); start += deleteBatch {
			end := min(start+deleteBatch, len(ids))
			query, args, err := s.sb.Delete("nodes").
				Where(sq.Eq{"owner": owner, "id": ids[start:end]}).
				ToSql()
			if err != nil {
				return fmt.Errorf("building delete: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("deleting nodes: %w", err)
			}
		}
		removed = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return toNodes(removed), nil
}

func (s *SQLStore) Restore(ctx context.Context, owner string, nodes []*drive.TreeNode) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, n := range nodes {
			if n.Owner != owner {
				return fmt.Errorf("restoring node %d: owned by %q, not %q", n.ID, n.Owner, owner)
			}
			query, args, err := s.sb.Update("nodes").
				Set("name", n.Name).
				Set("parent_id", nullID(n.ParentID)).
				Set("relative_path", n.RelativePath).
				Set("created_at", n.CreatedAt.UTC()).
				Set("updated_at", n.UpdatedAt.UTC()).
				Where(sq.Eq{"owner": owner, "id": n.ID}).
				ToSql()
			if err != nil {
				return fmt.Errorf("building update: %w", err)
			}
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return mapConstraint(fmt.Errorf("restoring node %d: %w", n.ID, err))
			}
			if affected, err := res.RowsAffected(); err == nil && affected == 0 {
				return fmt.Errorf("restoring node %d: %w", n.ID, drive.ErrNodeNotFound)
			}
		}
		return nil
	})
}

// helpers

func (s *SQLStore) getNode(ctx context.Context, q sqlx.QueryerContext, owner string, id int64) (*nodeRow, error) {
	query, args, err := s.sb.Select(nodeColumns...).From("nodes").
		Where(sq.Eq{"owner": owner, "id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	var row nodeRow
	if err := sqlx.GetContext(ctx, q, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", drive.ErrNodeNotFound, id)
		}
		return nil, fmt.Errorf("finding node %d: %w", id, err)
	}
	return &row, nil
}

// parentFolder loads a node that is about to become (or is used as) a parent.
func (s *SQLStore) parentFolder(ctx context.Context, q sqlx.QueryerContext, owner string, id int64) (*nodeRow, error) {
	parent, err := s.getNode(ctx, q, owner, id)
	if err != nil {
		if errors.Is(err, drive.ErrNodeNotFound) {
			return nil, fmt.Errorf("%w: %d", drive.ErrParentNotFound, id)
		}
		return nil, err
	}
	if !parent.IsFolder {
		return nil, fmt.Errorf("%w: %d is a file", drive.ErrParentNotFound, id)
	}
	return parent, nil
}

// checkPathFree fails with ErrDuplicateName when relPath is taken.
func (s *SQLStore) checkPathFree(ctx context.Context, q sqlx.QueryerContext, owner, relPath string) error {
	query, args, err := s.sb.Select("COUNT(*)").From("nodes").
		Where(sq.Eq{"owner": owner, "relative_path": relPath}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	var count int
	if err := sqlx.GetContext(ctx, q, &count, query, args...); err != nil {
		return fmt.Errorf("checking siblings: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", drive.ErrDuplicateName, relPath)
	}
	return nil
}

// checkNotAncestor walks from parent up to the owner root and fails with
// ErrCycleDetected if nodeID is on the way.
func (s *SQLStore) checkNotAncestor(ctx context.Context, q sqlx.QueryerContext, owner string, nodeID int64, parent *nodeRow) error {
	cur := parent
	for depth := 0; ; depth++ {
		if cur.ID == nodeID {
			return fmt.Errorf("%w: %d is %d or one of its descendants", drive.ErrCycleDetected, parent.ID, nodeID)
		}
		if !cur.ParentID.Valid {
			return nil
		}
		if depth >= maxDepth {
			return fmt.Errorf("ancestor chain of node %d exceeds %d levels", parent.ID, maxDepth)
		}
		next, err := s.getNode(ctx, q, owner, cur.ParentID.Int64)
		if err != nil {
			return fmt.Errorf("walking ancestors: %w", err)
		}
		cur = next
	}
}

// collect returns root and all of its descendants in breadth-first order,
// expanding one level of folders per query.
func (s *SQLStore) collect(ctx context.Context, q sqlx.QueryerContext, owner string, root *nodeRow) ([]*nodeRow, error) {
	out := []*nodeRow{root}
	var frontier []int64
	if root.IsFolder {
		frontier = append(frontier, root.ID)
	}
	seen := map[int64]bool{root.ID: true}

	for len(frontier) > 0 {
		var next []int64
		for start := 0; start < len(frontier); start += deleteBatch {
			end := min(start+deleteBatch, len(frontier))
			query, args, err := s.sb.Select(nodeColumns...).From("nodes").
				Where(sq.Eq{"owner": owner, "parent_id": frontier[start:end]}).
				OrderBy("id").
				ToSql()
			if err != nil {
				return nil, fmt.Errorf("building query: %w", err)
			}
			var rows []nodeRow
			if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
				return nil, fmt.Errorf("collecting subtree: %w", err)
			}
			for i := range rows {
				row := &rows[i]
				if seen[row.ID] {
					return nil, fmt.Errorf("node %d reached twice while collecting subtree of %d", row.ID, root.ID)
				}
				seen[row.ID] = true
				out = append(out, row)
				if row.IsFolder {
					next = append(next, row.ID)
				}
			}
		}
		frontier = next
	}
	return out, nil
}

// withTx runs fn in a transaction, retrying serialization failures.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil || attempt >= s.dialect.Retries || !isSerializationFailure(err) {
			return err
		}
	}
}

func (s *SQLStore) runTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, s.dialect.TxOptions)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapConstraint(fmt.Errorf("committing transaction: %w", err))
	}
	return nil
}

// mapConstraint turns unique violations into drive.ErrDuplicateName.
func mapConstraint(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", drive.ErrDuplicateName, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return fmt.Errorf("%w: %v", drive.ErrDuplicateName, err)
	}
	return err
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "serialization_failure"
}

func toNodes(rows []*nodeRow) []*drive.TreeNode {
	nodes := make([]*drive.TreeNode, len(rows))
	for i, r := range rows {
		nodes[i] = r.toNode()
	}
	return nodes
}

var _ drive.Store = (*SQLStore)(nil)
