package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/SirClappington/jobexec/internal/config"
	"github.com/SirClappington/jobexec/internal/domain"
)

type openFunc func(ctx context.Context, cfg config.Config) (domain.Store, error)

// cli carries the state shared by every subcommand.
type cli struct {
	cfg  config.Config
	open openFunc
}

func newRootCmd(open openFunc) *cobra.Command {
	c := &cli{open: open}
	root := &cobra.Command{
		Use:           "jobctl",
		Short:         "Operate the job store: migrations, enqueueing and dead letters.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}
	root.AddCommand(
		c.migrateCmd(),
		c.enqueueCmd(),
		c.deadLettersCmd(),
		c.resubmitCmd(),
	)
	return root
}

// withStore opens the configured store for the duration of fn.
func (c *cli) withStore(ctx context.Context, fn func(domain.Store) error) error {
	s, err := c.open(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}
