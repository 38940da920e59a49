package database

import (
	"fmt"
	"os"
	"path/filepath"

	"drive-go/internal/config"
	"drive-go/internal/drive"
)

// DatabaseFileName is the SQLite file created inside data_dir.
const DatabaseFileName = "drive.db"

// OpenFromConfig opens the metadata store described by cfg without touching
// its schema.
func OpenFromConfig(cfg config.DatabaseConfig, clock drive.Clock) (*SQLStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return OpenSQLite(filepath.Join(cfg.DataDir, DatabaseFileName), clock)
	case "memory":
		return OpenSQLite(":memory:", clock)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for postgres database")
		}
		return OpenPostgres(cfg.DSN, clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

// NewStoreFromConfig opens the metadata store described by cfg. In-memory
// stores are always migrated; other stores are migrated when auto_migrate is
// set and otherwise must already be at the latest schema version.
func NewStoreFromConfig(cfg config.DatabaseConfig, clock drive.Clock) (*SQLStore, error) {
	store, err := OpenFromConfig(cfg, clock)
	if err != nil {
		return nil, err
	}

	if cfg.Type == "memory" || cfg.AutoMigrate {
		if err := store.Migrate(); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}
	}
	if err := store.CheckMigrations(); err != nil {
		store.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}
	return store, nil
}
