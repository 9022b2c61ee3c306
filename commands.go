package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jamesruggles/scanmanager/internal/config"
	"github.com/jamesruggles/scanmanager/internal/database"
	"github.com/jamesruggles/scanmanager/internal/migrate"
	"github.com/jamesruggles/scanmanager/internal/report"
	"github.com/jamesruggles/scanmanager/internal/server"
)

// version is the release of the binary, set at link time.
var version = "dev"

// app carries what the subcommands share.
type app struct {
	configPath string
	logOutput  io.Writer

	cfg *config.Config
	db  *database.DB

	// exitCode is returned by run once the command finished.
	exitCode int
}

// run executes the command line and returns the process exit status.
func run(args []string) int {
	return execute(args, os.Stdout, os.Stderr)
}

func execute(args []string, stdout, stderr io.Writer) int {
	a := &app{logOutput: stderr}
	defer a.close()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		return 1
	}
	return a.exitCode
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scanmanager",
		Short:         "Manage the scan manager database",
		Long:          "scanmanager creates, upgrades, backs up and inspects the scan manager's SQLite database.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "config.yaml", "path to config file")

	// keep the order commands are added in
	cobra.EnableCommandSorting = false

	root.AddCommand(
		a.migrateCmd(),
		a.initCmd(),
		a.versionCmd(),
		a.backupCmd(),
		a.reportCmd(),
		a.serveCmd(),
	)
	return root
}

// open loads the configuration, sets up logging and opens the database.
func (a *app) open() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(a.logOutput, &slog.HandlerOptions{Level: level})))

	db, err := database.New(cfg.Database.Path, database.Options{BusyTimeout: cfg.Database.BusyTimeout})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	a.cfg = cfg
	a.db = db
	return nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
}

func (a *app) migrator() (*migrate.Migrator, error) {
	return migrate.New(a.db,
		migrate.WithStateDir(a.cfg.StateDir),
		migrate.WithLogger(slog.Default().With("component", "migrate")),
	)
}

func (a *app) migrateCmd() *cobra.Command {
	var to int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Upgrade the database schema",
		Long: "Upgrade the database to the requested schema version. The exit status is " +
			"0 when migrated, 1 when already current, 2 when no migration path exists and -1 on error.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.migrator()
			if err != nil {
				return err
			}
			outcome, err := m.Migrate(cmd.Context(), to)
			if err != nil {
				slog.Error("migration failed", "error", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), outcome)
			a.exitCode = int(outcome)
			return nil
		},
	}
	cmd.Flags().IntVar(&to, "to", migrate.DatabaseVersion, "schema version to migrate to")
	return cmd
}

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a database at the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.migrator()
			if err != nil {
				return err
			}
			if err := m.Initialize(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized %s at version %d\n", a.db.Path(), migrate.DatabaseVersion)
			return nil
		},
	}
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the database and build versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := database.Version(cmd.Context(), a.db)
			if err != nil {
				return err
			}
			current := "none"
			if v >= 0 {
				current = fmt.Sprint(v)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanmanager %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "database version: %s\n", current)
			fmt.Fprintf(cmd.OutOrStdout(), "supported version: %d\n", migrate.DatabaseVersion)
			return nil
		},
	}
}

func (a *app) backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Copy the database next to itself",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.db.Backup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func (a *app) reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Write a markdown report of the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := report.NewGenerator(a.db, a.cfg.Reports.Directory).SaveMarkdown(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the administrative HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := server.New(a.cfg, a.db)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			defer srv.Close()
			return srv.ListenAndServe()
		},
	}
}
