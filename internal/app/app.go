package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"drive-go/internal/api"
	"drive-go/internal/config"
	"drive-go/internal/database"
	"drive-go/internal/drive"
	"drive-go/internal/encryption"
	"drive-go/internal/fs"
	"drive-go/internal/lock"
	"drive-go/internal/metrics"
	"drive-go/internal/thumbnail"
	"drive-go/internal/vault"
)

// DriveApp is the application layer between the CLI and DriveService.
// It constructs all dependencies from config and releases them on Close.
type DriveApp struct {
	cfg      *config.Config
	store    *database.SQLStore
	bytes    *fs.OSByteStore
	resolver *drive.PathResolver
	thumbs   *thumbnail.Generator
	metrics  *metrics.PrometheusRecorder
	service  *drive.DriveService
	logger   drive.Logger
	logFile  *os.File

	closeLocker func() error
}

// NewDriveApp creates a fully wired DriveApp from the given config.
// operation names the CLI command being run and tags every log line.
// The caller must call Close when done.
func NewDriveApp(cfg *config.Config, operation string) (*DriveApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opID := operation + "-" + time.Now().UTC().Format("20060102T150405Z")
	sl, logFile, err := newLogger(cfg.LogDir, cfg.LogLevel, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &DriveApp{cfg: cfg, logger: &slogAdapter{l: sl}, logFile: logFile}

	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *DriveApp) wire() error {
	cfg := a.cfg

	store, err := database.NewStoreFromConfig(cfg.Database, drive.RealClock{})
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.store = store

	a.bytes = fs.NewOSByteStore()
	for _, root := range []string{cfg.Storage.Root, cfg.Storage.ThumbnailRoot} {
		if err := a.bytes.EnsureDir(root); err != nil {
			return fmt.Errorf("preparing storage root: %w", err)
		}
	}
	if n, err := a.bytes.CleanTemp(cfg.Storage.Root); err != nil {
		a.logger.Warn("temp file sweep failed", "root", cfg.Storage.Root, "error", err)
	} else if n > 0 {
		a.logger.Info("removed interrupted uploads", "root", cfg.Storage.Root, "count", n)
	}

	resolver, err := drive.NewPathResolver(cfg.Storage.Root, cfg.Storage.ThumbnailRoot)
	if err != nil {
		return fmt.Errorf("creating path resolver: %w", err)
	}
	a.resolver = resolver

	a.thumbs = thumbnail.NewGenerator(resolver, a.bytes, thumbnail.Options{
		Size:        cfg.Thumbnails.Size,
		Quality:     cfg.Thumbnails.Quality,
		BaseURL:     cfg.Server.BaseURL,
		DefaultIcon: cfg.Thumbnails.DefaultIconURL,
	})

	locker, closeLocker, err := lock.NewLockerFromConfig(cfg.Lock, a.logger)
	if err != nil {
		return fmt.Errorf("creating locker: %w", err)
	}
	a.closeLocker = closeLocker

	a.metrics = metrics.NewPrometheusRecorder()

	svc, err := drive.NewDriveService(drive.Deps{
		Store:      store,
		Bytes:      a.bytes,
		Resolver:   resolver,
		Thumbnails: a.thumbs,
		Locker:     locker,
		Names:      fs.NewReservedNames(cfg.Storage.Reserved),
		Recorder:   a.metrics,
		Logger:     a.logger,
		BaseURL:    cfg.Server.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("creating drive service: %w", err)
	}
	a.service = svc
	return nil
}

// Config returns the config the app was built from.
func (a *DriveApp) Config() *config.Config { return a.cfg }

// Service returns the wired DriveService.
func (a *DriveApp) Service() *drive.DriveService { return a.service }

// Journal returns the operation log.
func (a *DriveApp) Journal() drive.OperationLog { return a.store }

// Logger returns the application logger.
func (a *DriveApp) Logger() drive.Logger { return a.logger }

// Server builds the HTTP API around the service.
func (a *DriveApp) Server() *api.Server {
	return api.NewServer(a.service, a.store, a.resolver, a.metrics.Handler(), a.logger, api.Options{
		OwnerHeader: a.cfg.Server.OwnerHeader,
		RoleHeader:  a.cfg.Server.RoleHeader,
		UserRoles:   a.cfg.Server.UserRoles,
		AdminRoles:  a.cfg.Server.AdminRoles,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		IconSize:    a.cfg.Thumbnails.Size,
	})
}

// Encryptor builds the snapshot encryptor from config. It is nil when
// encryption is disabled.
func (a *DriveApp) Encryptor() (drive.Encryptor, error) {
	return encryption.NewEncryptorFromConfig(a.cfg.Encryption)
}

// Snapshots builds a SnapshotService for the first configured vault.
func (a *DriveApp) Snapshots(ctx context.Context) (*drive.SnapshotService, error) {
	return NewSnapshotService(ctx, a.cfg, a.store, a.store, a.logger)
}

// NewSnapshotService wires a SnapshotService from config. It is separate from
// DriveApp so restores can run without opening the live database.
func NewSnapshotService(ctx context.Context, cfg *config.Config, db drive.Backupper, journal drive.OperationLog, logger drive.Logger) (*drive.SnapshotService, error) {
	if len(cfg.Vaults) == 0 {
		return nil, fmt.Errorf("no vaults configured")
	}
	v, err := vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}
	if err := v.ValidateSetup(ctx); err != nil {
		return nil, fmt.Errorf("vault %s: %w", v.Name(), err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if enc != nil && !enc.IsConfigured() {
		return nil, fmt.Errorf("encryption keys missing: run `drive config keys` first")
	}

	return drive.NewSnapshotService(db, v, enc, journal, drive.RealClock{}, logger), nil
}

// Close closes all resources. It is safe to call on a partially wired app.
func (a *DriveApp) Close() error {
	var firstErr error

	if a.closeLocker != nil {
		if err := a.closeLocker(); err != nil {
			firstErr = fmt.Errorf("closing locker: %w", err)
		}
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
