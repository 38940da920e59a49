package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"drive-go/internal/app"
	"drive-go/internal/config"
	"drive-go/internal/database"
	"drive-go/internal/drive"
	"drive-go/internal/encryption"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readConfig loads the config file named by the defaults.
func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a DriveApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "mkdir", "serve").
func newApp(operation string) (*app.DriveApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewDriveApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// identity builds the caller identity from the persistent flags.
func identity(cmd *cobra.Command) (drive.Identity, error) {
	owner, _ := cmd.Flags().GetString("owner")
	role, _ := cmd.Flags().GetString("role")
	if owner == "" {
		return drive.Identity{}, fmt.Errorf("no owner: set --owner or DRIVE_OWNER")
	}
	return drive.Identity{OwnerID: owner, Role: role}, nil
}

// optionalID returns the value of an id flag, or nil when it was not given
// or is 0. Nil denotes the owner's root.
func optionalID(cmd *cobra.Command, flag string) *int64 {
	id, _ := cmd.Flags().GetInt64(flag)
	if id == 0 {
		return nil
	}
	return &id
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid node id %q", arg)
	}
	return id, nil
}

// readPassphrase prompts on the terminal without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func formatParent(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}

var rootCmd = &cobra.Command{
	Use:          "drive",
	Short:        "Per-owner virtual drive",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Storage Root: %s\n", cfg.Storage.Root)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:       %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:        %s\n", cfg.LogDir)
		fmt.Printf("Storage Root:   %s\n", cfg.Storage.Root)
		fmt.Printf("Thumbnail Root: %s\n", cfg.Storage.ThumbnailRoot)
		fmt.Printf("Database:       %s\n", cfg.Database.Type)
		fmt.Printf("Listen:         %s\n", cfg.Server.Addr)
		fmt.Printf("Lock:           %s\n", cfg.Lock.Type)
		fmt.Printf("Encryption:     %s\n", cfg.Encryption.Type)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:          %s (%s)\n", v.Name, v.Type)
		}
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the age key pair used to encrypt snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		if cfg.Encryption.Type != "age" {
			return fmt.Errorf("encryption type is %q, keys are only used with age", cfg.Encryption.Type)
		}

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		enc := encryption.NewAgeEncryptor(cfg.Encryption)
		if err := enc.Setup(pass); err != nil {
			return fmt.Errorf("setting up keys: %w", err)
		}
		pub, err := enc.PublicKey()
		if err != nil {
			return err
		}
		fmt.Printf("Public key: %s\n", pub)
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the metadata database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		store, err := database.OpenFromConfig(cfg.Database, drive.RealClock{})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		if err := store.Migrate(); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
		fmt.Println("Database is up to date")
		return nil
	},
}

var dbSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the SQL schema of a freshly migrated sqlite database",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := database.OpenSQLite(":memory:", nil)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Migrate(); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}
		schema, err := store.Schema(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Print(schema)
		return nil
	},
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Store a snapshot of the metadata database in the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("backup")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		snaps, err := a.Snapshots(ctx)
		if err != nil {
			return err
		}
		info, err := snaps.Create(ctx)
		if err != nil {
			return fmt.Errorf("creating snapshot: %w", err)
		}
		fmt.Printf("Stored snapshot %s (%d bytes)\n", info.Name, info.Size)
		return nil
	},
}

var dbSnapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List stored snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		snaps, err := app.NewSnapshotService(ctx, cfg, nil, nil, nil)
		if err != nil {
			return err
		}
		infos, err := snaps.List(ctx)
		if err != nil {
			return fmt.Errorf("listing snapshots: %w", err)
		}
		if len(infos) == 0 {
			fmt.Println("No snapshots")
			return nil
		}
		for _, info := range infos {
			fmt.Printf("%s  %10d  %s\n", info.CreatedAt.Local().Format("2006-01-02 15:04:05"), info.Size, info.Name)
		}
		return nil
	},
}

var dbRestoreCmd = &cobra.Command{
	Use:   "restore NAME DEST",
	Short: "Restore a snapshot into a new database file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, dest := args[0], args[1]
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		snaps, err := app.NewSnapshotService(ctx, cfg, nil, nil, nil)
		if err != nil {
			return err
		}

		var dec drive.DecryptionContext
		if (drive.SnapshotInfo{Name: name}).Encrypted() {
			enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
			if err != nil {
				return err
			}
			if enc == nil {
				return fmt.Errorf("snapshot %s is encrypted but encryption is disabled", name)
			}
			pass, err := readPassphrase("Passphrase: ")
			if err != nil {
				return err
			}
			if dec, err = enc.Unlock(pass); err != nil {
				return fmt.Errorf("unlocking key: %w", err)
			}
		}

		abs, err := filepath.Abs(dest)
		if err != nil {
			return err
		}
		if err := snaps.Restore(ctx, name, dec, abs); err != nil {
			return fmt.Errorf("restoring %s: %w", name, err)
		}
		fmt.Printf("Restored %s to %s\n", name, abs)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("serve")
		if err != nil {
			return err
		}
		defer a.Close()

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = a.Config().Server.Addr
		}

		srv := a.Server()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start(addr) }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		a.Logger().Info("shutting down")
		return srv.Shutdown(context.Background())
	},
}

// folder command
var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage folders",
}

var folderLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List folders under --parent (default: root)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ident, err := identity(cmd)
		if err != nil {
			return err
		}
		a, err := newApp("folder-ls")
		if err != nil {
			return err
		}
		defer a.Close()

		folders, err := a.Service().ListFolders(cmd.Context(), ident, optionalID(cmd, "parent"))
		if err != nil {
			return err
		}
		for _, f := range folders {
			fmt.Printf("%6d  %6s  %s/\n", f.ID, formatParent(f.Parent), f.Name)
		}
		return nil
	},
}

var folderMkdirCmd = &cobra.Command{
	Use:   "mkdir NAME",
	Short: "Create a folder under --parent (default: root)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ident, err := identity(cmd)
		if err != nil {
			return err
		}
		a, err := newApp("folder-mkdir")
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := a.Service().CreateFolder(cmd.Context(), ident, args[0], optionalID(cmd, "parent"))
		if err != nil {
			return err
		}
		fmt.Printf("Created folder #%d %s\n", f.ID, f.Name)
		return nil
	},
}

var folderRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a folder and everything under it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ident, err := identity(cmd)
		if err != nil {
			return err
		}
		a, err := newApp("folder-rm")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Service().DeleteFolder(cmd.Context(), ident, id); err != nil {
			return err
		}
		fmt.Printf("Deleted folder #%d\n", id)
		return nil
	},
}

// file command
var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Manage files",
}

var fileLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List files in --folder (default: root)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ident, err := identity(cmd)
		if err != nil {
			return err
		}
		a, err := newApp("file-ls")
		if err != nil {
			return err
		}
		defer a.Close()

		files, err := a.Service().ListFiles(cmd.Context(), ident, optionalID(cmd, "folder"))
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Printf("%6d  %10d  %s\n", f.ID, f.Size, f.Name)
		}
		return nil
	},
}

var filePutCmd = &cobra.Command{
	Use:   "put PATH",
	Short: "Upload a local file into --folder (default: root)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ident, err := identity(cmd)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = filepath.Base(args[0])
		}

		src, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer src.Close()

		a, err := newApp("file-put")
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := a.Service().UploadFile(cmd.Context(), ident, name, src, optionalID(cmd, "folder"))
		if err != nil {
			return err
		}
		fmt.Printf("Uploaded #%d %s (%d bytes)\n", f.ID, f.Name, f.Size)
		return nil
	},
}

var fileGetCmd = &cobra.Command{
	Use:   "get ID [DEST]",
	Short: "Download a file; DEST defaults to its name, - writes to stdout",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ident, err := identity(cmd)
		if err != nil {
			return err
		}
		a, err := newApp("file-get")
		if err != nil {
			return err
		}
		defer a.Close()

		dl, err := a.Service().DownloadFile(cmd.Context(), ident, id)
		if err != nil {
			return err
		}
		defer dl.Body.Close()

		dest := dl.Name
		if len(args) == 2 {
			dest = args[1]
		}
		if dest == "-" {
			_, err := io.Copy(os.Stdout, dl.Body)
			return err
		}

		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, dl.Body); err != nil {
			out.Close()
			os.Remove(dest)
			return fmt.Errorf("writing %s: %w", dest, err)
		}
		if err := out.Close(); err != nil {
			return err
		}
		fmt.Printf("Saved %s (%d bytes)\n", dest, dl.Size)
		return nil
	},
}

var fileCatCmd = &cobra.Command{
	Use:   "cat ID",
	Short: "Print a text file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ident, err := identity(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt64("limit")
		a, err := newApp("file-cat")
		if err != nil {
			return err
		}
		defer a.Close()

		text, err := a.Service().ReadText(cmd.Context(), ident, id, limit)
		if err != nil {
			return err
		}
		fmt.Print(text.Content)
		return nil
	},
}

var fileRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a file and its thumbnail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ident, err := identity(cmd)
		if err != nil {
			return err
		}
		a, err := newApp("file-rm")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Service().DeleteFile(cmd.Context(), ident, id); err != nil {
			return err
		}
		fmt.Printf("Deleted file #%d\n", id)
		return nil
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv ID NAME",
	Short: "Rename a node and place it under --to (default: root)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ident, err := identity(cmd)
		if err != nil {
			return err
		}
		a, err := newApp("mv")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Service().RenameOrMove(cmd.Context(), ident, id, args[1], optionalID(cmd, "to"))
		if err != nil {
			return err
		}
		fmt.Printf("Moved #%d to %s\n", n.ID, n.RelativePath)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("history")
		if err != nil {
			return err
		}
		defer a.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		owner := ""
		if all, _ := cmd.Flags().GetBool("all"); !all {
			owner, _ = cmd.Flags().GetString("owner")
		}
		ops, err := a.Journal().ListOperations(cmd.Context(), owner, limit)
		if err != nil {
			return fmt.Errorf("listing operations: %w", err)
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded")
			return nil
		}

		for _, op := range ops {
			finished := ""
			if op.FinishedAt != nil {
				finished = op.FinishedAt.Sub(op.StartedAt).String()
			}
			fmt.Printf("#%d  %-15s  %-12s  %s  %-8s  %s  %s\n",
				op.ID,
				op.Operation,
				op.Owner,
				op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.Status,
				finished,
				op.Parameters,
			)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("owner", app.DefaultOwner(), "Owner the command acts for (env DRIVE_OWNER)")
	rootCmd.PersistentFlags().String("role", "user", "Role of the caller")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)

	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbSchemaCmd)
	dbCmd.AddCommand(dbBackupCmd)
	dbCmd.AddCommand(dbSnapshotsCmd)
	dbCmd.AddCommand(dbRestoreCmd)

	folderCmd.AddCommand(folderLsCmd)
	folderLsCmd.Flags().Int64("parent", 0, "Parent folder id (0 for root)")
	folderCmd.AddCommand(folderMkdirCmd)
	folderMkdirCmd.Flags().Int64("parent", 0, "Parent folder id (0 for root)")
	folderCmd.AddCommand(folderRmCmd)

	fileCmd.AddCommand(fileLsCmd)
	fileLsCmd.Flags().Int64("folder", 0, "Folder id (0 for root)")
	fileCmd.AddCommand(filePutCmd)
	filePutCmd.Flags().Int64("folder", 0, "Folder id (0 for root)")
	filePutCmd.Flags().String("name", "", "Name to store the file under (default: base name of PATH)")
	fileCmd.AddCommand(fileGetCmd)
	fileCmd.AddCommand(fileCatCmd)
	fileCatCmd.Flags().Int64("limit", drive.DefaultTextLimit, "Refuse files larger than this many bytes")
	fileCmd.AddCommand(fileRmCmd)

	serveCmd.Flags().String("addr", "", "Listen address (default: server.addr from config)")
	mvCmd.Flags().Int64("to", 0, "New parent folder id (0 for root)")
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	historyCmd.Flags().Bool("all", false, "Show every owner's operations")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(folderCmd)
	rootCmd.AddCommand(fileCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(historyCmd)
}
