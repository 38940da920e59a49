package database

import (
	"context"
	"strings"
	"testing"
)

func TestSQLStore_Schema(t *testing.T) {
	s, _ := newTestStore(t)

	schema, err := s.Schema(context.Background())
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}

	for _, want := range []string{"CREATE TABLE nodes", "CREATE TABLE operations", "CREATE INDEX idx_nodes_owner_parent"} {
		if !strings.Contains(schema, want) {
			t.Errorf("schema missing %q", want)
		}
	}
	if strings.Contains(schema, "schema_migrations") {
		t.Error("schema includes the migration bookkeeping table")
	}
	if strings.Index(schema, "CREATE INDEX") < strings.Index(schema, "CREATE TABLE operations") {
		t.Error("indexes listed before tables")
	}
}
