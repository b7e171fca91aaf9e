package main

import (
	"github.com/spf13/cobra"

	"github.com/SirClappington/jobexec/internal/storage"
)

func (c *cli) migrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory (default $MIGRATIONS_DIR)")
	migrationsDir := func() string {
		if dir != "" {
			return dir
		}
		return c.cfg.MigrationsDir
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return storage.Migrate(c.cfg.PostgresDSN, migrationsDir())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the state of every migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return storage.MigrationStatus(c.cfg.PostgresDSN, migrationsDir())
			},
		},
	)
	return cmd
}
