package database

import (
	"path/filepath"
	"testing"

	"drive-go/internal/config"
)

func TestNewStoreFromConfig(t *testing.T) {
	t.Run("memory database", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "memory"}
		got, err := NewStoreFromConfig(cfg, nil)
		if err != nil {
			t.Fatalf("NewStoreFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("sqlite database with auto migrate", func(t *testing.T) {
		cfg := config.DatabaseConfig{
			Type:        "sqlite",
			DataDir:     t.TempDir(),
			AutoMigrate: true,
		}
		got, err := NewStoreFromConfig(cfg, nil)
		if err != nil {
			t.Fatalf("NewStoreFromConfig() unexpected error: %v", err)
		}
		got.Close()
	})

	t.Run("sqlite database without migrations", func(t *testing.T) {
		cfg := config.DatabaseConfig{
			Type:    "sqlite",
			DataDir: t.TempDir(),
		}
		got, err := NewStoreFromConfig(cfg, nil)
		if err == nil {
			got.Close()
			t.Fatal("NewStoreFromConfig() expected schema error for fresh database, got nil")
		}
	})

	t.Run("sqlite database without data_dir", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "sqlite"}
		got, err := NewStoreFromConfig(cfg, nil)

		if err == nil {
			t.Error("NewStoreFromConfig() expected error for missing data_dir, got nil")
		}
		if got != nil {
			t.Error("NewStoreFromConfig() should return nil on error")
			got.Close()
		}
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "postgres"}
		if _, err := NewStoreFromConfig(cfg, nil); err == nil {
			t.Error("NewStoreFromConfig() expected error for missing dsn, got nil")
		}
	})

	t.Run("unknown database type", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "unknown"}
		got, err := NewStoreFromConfig(cfg, nil)
		if err == nil {
			t.Error("NewStoreFromConfig() expected error for unknown type, got nil")
		}
		if got != nil {
			got.Close()
		}
	})
}

func TestOpenFromConfig(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "nested", "db")
	cfg := config.DatabaseConfig{Type: "sqlite", DataDir: dataDir}

	store, err := OpenFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("OpenFromConfig() error = %v", err)
	}
	if err := store.CheckMigrations(); err == nil {
		t.Error("CheckMigrations() on fresh database = nil, want error")
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	store.Close()

	reopened, err := NewStoreFromConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewStoreFromConfig() after migrate error = %v", err)
	}
	reopened.Close()

	if store.Path() != filepath.Join(dataDir, DatabaseFileName) {
		t.Errorf("Path() = %q", store.Path())
	}
}
