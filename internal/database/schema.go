package database

import (
	"context"
	"fmt"
	"strings"
)

// Schema returns the CREATE statements of a SQLite database, tables before
// indexes, excluding SQLite internals and the migration bookkeeping table.
func (s *SQLStore) Schema(ctx context.Context) (string, error) {
	if s.dialect.Name != SQLiteDialect.Name {
		return "", fmt.Errorf("schema dump is only supported for sqlite, not %s", s.dialect.Name)
	}

	query := `
		SELECT sql || ';'
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND name != 'schema_migrations'
		  AND tbl_name != 'schema_migrations'
		ORDER BY
		  CASE type
		    WHEN 'table' THEN 1
		    WHEN 'index' THEN 2
		  END,
		  name
	`

	var stmts []string
	if err := s.db.SelectContext(ctx, &stmts, query); err != nil {
		return "", fmt.Errorf("reading schema: %w", err)
	}

	var b strings.Builder
	b.WriteString("-- Generated from internal/database/migrations/files/sqlite.\n\n")
	for _, stmt := range stmts {
		b.WriteString(stmt)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}
