package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"

	"DexLedger/internal/observability"
	"DexLedger/internal/persistence"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

type migrateCmd struct {
	dsn           string
	migrationsDir string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	m := &migrateCmd{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply and inspect DexLedger schema migrations",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SilenceUsage = true
	cmd.PersistentFlags().StringVar(&m.dsn, "dsn", envOrDefault("DEX_POSTGRES_DSN", "postgres://localhost:5432/dexledger?sslmode=disable"), "Postgres connection string")
	cmd.PersistentFlags().StringVar(&m.migrationsDir, "dir", envOrDefault("DEX_MIGRATIONS_DIR", "migrations"), "migrations directory")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE:  m.withMigrator(func(ctx context.Context, mg *persistence.Migrator) error { return mg.Up(ctx) }),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last applied migration",
			Args:  cobra.NoArgs,
			RunE:  m.withMigrator(func(ctx context.Context, mg *persistence.Migrator) error { return mg.Down(ctx) }),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and when they were applied",
			Args:  cobra.NoArgs,
			RunE:  m.withMigrator(printStatus),
		},
	)
	return cmd
}

func (m *migrateCmd) withMigrator(fn func(context.Context, *persistence.Migrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		logger := observability.NewLogger("migrate")

		db, err := sql.Open("postgres", m.dsn)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := fn(ctx, persistence.NewMigrator(db, m.migrationsDir)); err != nil {
			return fmt.Errorf("migrate %s: %w", cmd.Name(), err)
		}
		logger.Info().Str("command", cmd.Name()).Str("dir", m.migrationsDir).Msg("done")
		return nil
	}
}

func printStatus(ctx context.Context, mg *persistence.Migrator) error {
	statuses, err := mg.Status(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tFILE\tAPPLIED")
	for _, s := range statuses {
		applied := "pending"
		if s.Applied {
			applied = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Version, s.Filename, applied)
	}
	return w.Flush()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
