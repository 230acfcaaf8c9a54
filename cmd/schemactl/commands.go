package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/receiptvault/schemactl/backup"
	"github.com/receiptvault/schemactl/config"
	"github.com/receiptvault/schemactl/driver/postgres"
	"github.com/receiptvault/schemactl/revision"
	"github.com/receiptvault/schemactl/runner"
)

type app struct {
	log *slog.Logger

	env           string
	migrationsDir string
	backupDir     string
}

func newRootCommand(log *slog.Logger) *cobra.Command {
	a := &app{log: log}
	root := &cobra.Command{
		Use:           "schemactl",
		Short:         "Postgres schema migration and backup orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})
	root.PersistentFlags().StringVar(&a.env, "env", "dev", "target environment (prod, stage, dev, test, local)")
	root.PersistentFlags().StringVar(&a.migrationsDir, "dir", "migrations", "migrations directory")
	root.PersistentFlags().StringVar(&a.backupDir, "backup-dir", "db_backups", "backups directory")

	root.AddCommand(
		a.upCommand(),
		a.downCommand(),
		a.historyCommand(),
		a.currentCommand(),
		a.createCommand(),
		a.verifyCommand(),
		a.backupCommand(),
		a.listCommand(),
		a.restoreCommand(),
		a.cleanupCommand(),
	)
	return root
}

func (a *app) params() (config.Params, error) {
	params, err := config.Resolve(a.env, os.LookupEnv)
	if err != nil {
		return config.Params{}, fmt.Errorf("%w: %v", errUsage, err)
	}
	return params, nil
}

func (a *app) catalog() (*revision.Catalog, error) {
	return revision.Load(os.DirFS(a.migrationsDir))
}

func (a *app) engine() *backup.Engine {
	return backup.NewEngine(a.backupDir, backup.WithLogger(a.log))
}

// newRunner wires catalog, database driver and backup engine together
// for one invocation. The returned func releases the connection pool.
func (a *app) newRunner(ctx context.Context) (*runner.Runner, func(), error) {
	catalog, err := a.catalog()
	if err != nil {
		return nil, nil, err
	}
	params, err := a.params()
	if err != nil {
		return nil, nil, err
	}
	pool, err := pgxpool.New(ctx, params.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s failed: %w", params.Environment, err)
	}
	drv, err := postgres.New(ctx, pool, postgres.WithLogger(a.log))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	run := runner.New(catalog, drv, params,
		runner.WithBackups(a.engine()),
		runner.WithLogger(a.log),
	)
	return run, pool.Close, nil
}

func (a *app) upCommand() *cobra.Command {
	var opts runner.Options
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply forward migrations up to --revision (default: chain head)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			run, release, err := a.newRunner(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			result, runErr := run.Up(cmd.Context(), opts)
			return a.report(cmd, run, result, runErr)
		},
	}
	cmd.Flags().StringVar(&opts.Target, "revision", "", "target revision id")
	cmd.Flags().BoolVar(&opts.SkipBackup, "no-backup", false, "skip the pre-migration backup")
	return cmd
}

func (a *app) downCommand() *cobra.Command {
	var opts runner.Options
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Revert migrations down to --revision (default: one step back)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			run, release, err := a.newRunner(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			result, runErr := run.Down(cmd.Context(), opts)
			return a.report(cmd, run, result, runErr)
		},
	}
	cmd.Flags().StringVar(&opts.Target, "revision", "", `target revision id ("root" reverts everything)`)
	cmd.Flags().BoolVar(&opts.SkipBackup, "no-backup", false, "skip the pre-migration backup")
	return cmd
}

// report prints the outcome of an up/down run. On failure the pointer is
// still accurate, so it names the last successfully applied revision for
// the operator.
func (a *app) report(cmd *cobra.Command, run *runner.Runner, result runner.Result, err error) error {
	if result.Backup != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "backup: %s\n", result.Backup.Path)
	}
	for _, step := range result.Applied {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", step.Direction, step.Revision.ID)
	}
	if err != nil {
		if current, currentErr := run.Current(cmd.Context()); currentErr == nil {
			a.log.Info("last successfully applied revision", "revision", printable(current))
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "current revision: %s\n", printable(result.To))
	return nil
}

func (a *app) historyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show the revision chain and which revisions are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			run, release, err := a.newRunner(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			history, err := run.History(cmd.Context())
			if err != nil {
				return err
			}
			for _, entry := range history {
				mark, note := "pending", ""
				if entry.Applied {
					mark = "applied"
					note = "  " + entry.AppliedAt.Format("2006-01-02 15:04:05")
				}
				if entry.Revision.Irreversible {
					note += "  (irreversible)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s%s\n", mark, entry.Revision.ID, note)
			}
			return nil
		},
	}
}

func (a *app) currentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Show the applied-revision pointer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			run, release, err := a.newRunner(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			current, err := run.Current(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), printable(current))
			return nil
		},
	}
}

func (a *app) createCommand() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Append a new templated revision linked to the chain head",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if message == "" {
				return fmt.Errorf("%w: --message is required for create", errUsage)
			}
			if err := os.MkdirAll(a.migrationsDir, 0o755); err != nil {
				return fmt.Errorf("create migrations directory failed: %w", err)
			}
			catalog, err := a.catalog()
			if err != nil {
				return err
			}
			upPath, downPath, err := revision.Create(a.migrationsDir, catalog, message)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\ncreated %s\n", upPath, downPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "migration description")
	return cmd
}

func (a *app) verifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check applied-log checksums against the migration files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			run, release, err := a.newRunner(cmd.Context())
			if err != nil {
				return err
			}
			defer release()
			drifts, err := run.Verify(cmd.Context())
			if err != nil {
				return err
			}
			for _, drift := range drifts {
				fmt.Fprintf(cmd.OutOrStdout(), "corrupted: %s (stored %s, computed %s)\n",
					drift.RevisionID, drift.Stored, drift.Computed)
			}
			if len(drifts) > 0 {
				return fmt.Errorf("%d corrupted migrations", len(drifts))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func (a *app) backupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Dump the environment's schema to the backups directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := a.params()
			if err != nil {
				return err
			}
			record, err := a.engine().Backup(cmd.Context(), params)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), record.Path)
			return nil
		},
	}
}

func (a *app) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the environment's backups, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := a.engine().List(a.env)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no backups found for %s\n", a.env)
				return nil
			}
			for _, record := range records {
				fmt.Fprintln(cmd.OutOrStdout(), record.Path)
			}
			return nil
		},
	}
}

func (a *app) restoreCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Replace the environment's schema with a dump file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return fmt.Errorf("%w: --file is required for restore", errUsage)
			}
			params, err := a.params()
			if err != nil {
				return err
			}
			return a.engine().Restore(cmd.Context(), params, file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "dump file to restore")
	return cmd
}

func (a *app) cleanupCommand() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete all but the most recent backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			removed, err := a.engine().Cleanup(a.env, keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d backups\n", len(removed))
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 10, "number of backups to retain")
	return cmd
}

func printable(id string) string {
	if id == revision.Root {
		return runner.TargetRoot
	}
	return id
}
