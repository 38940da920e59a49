package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"drive-go/internal/database/migrations"
	"drive-go/internal/drive"
)

type operationRow struct {
	ID         int64        `db:"id"`
	Owner      string       `db:"owner"`
	Operation  string       `db:"operation"`
	Parameters string       `db:"parameters"`
	Status     string       `db:"status"`
	StartedAt  time.Time    `db:"started_at"`
	FinishedAt sql.NullTime `db:"finished_at"`
}

func (r *operationRow) toOperation() *drive.Operation {
	op := &drive.Operation{
		ID:         r.ID,
		Owner:      r.Owner,
		Operation:  r.Operation,
		Parameters: r.Parameters,
		Status:     r.Status,
		StartedAt:  r.StartedAt.UTC(),
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time.UTC()
		op.FinishedAt = &t
	}
	return op
}

// Operation journal

func (s *SQLStore) CreateOperation(ctx context.Context, owner, operation, parameters string) (*drive.Operation, error) {
	row := operationRow{
		Owner:      owner,
		Operation:  operation,
		Parameters: parameters,
		Status:     drive.OperationRunning,
		StartedAt:  s.clock.Now().UTC(),
	}
	query, args, err := s.sb.Insert("operations").
		Columns("owner", "operation", "parameters", "status", "started_at").
		Values(row.Owner, row.Operation, row.Parameters, row.Status, row.StartedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert: %w", err)
	}
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&row.ID); err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	return row.toOperation(), nil
}

func (s *SQLStore) FinishOperation(ctx context.Context, id int64, status string) error {
	query, args, err := s.sb.Update("operations").
		Set("status", status).
		Set("finished_at", s.clock.Now().UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLStore) ListOperations(ctx context.Context, owner string, limit int) ([]*drive.Operation, error) {
	qb := s.sb.Select("id", "owner", "operation", "parameters", "status", "started_at", "finished_at").
		From("operations").
		OrderBy("id DESC")
	if owner != "" {
		qb = qb.Where(sq.Eq{"owner": owner})
	}
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var rows []operationRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	ops := make([]*drive.Operation, len(rows))
	for i := range rows {
		ops[i] = rows[i].toOperation()
	}
	return ops, nil
}

// Administration

// Dialect returns the SQL dialect in use.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Path returns the database file path (or ":memory:" for in-memory databases).
// It is empty for PostgreSQL.
func (s *SQLStore) Path() string {
	return s.path
}

// Migrate brings the schema to the latest version.
func (s *SQLStore) Migrate() error {
	return migrations.MigrateUp(s.db.DB, s.dialect.Name)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db.DB, s.dialect.Name)
}

// BackupTo creates a complete copy of a SQLite database at destPath using
// VACUUM INTO. PostgreSQL databases are backed up with their own tooling.
func (s *SQLStore) BackupTo(destPath string) error {
	if s.dialect.Name != SQLiteDialect.Name {
		return fmt.Errorf("snapshots are only supported for sqlite, not %s", s.dialect.Name)
	}
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
