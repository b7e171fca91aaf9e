package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/SirClappington/jobexec/internal/domain"
)

func (c *cli) deadLettersCmd() *cobra.Command {
	var (
		f      domain.Filter
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "deadletters",
		Short: "List jobs that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f.SortBy = domain.SortByEndTime
			f.Descending = true
			return c.withStore(cmd.Context(), func(s domain.Store) error {
				dead, err := s.ListDeadLetters(cmd.Context(), f)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(dead)
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tKIND\tHANDLER\tTENANT\tATTEMPTS\tFAILED AT\tERROR")
				for _, d := range dead {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
						d.ID, d.Kind, d.HandlerType, d.TenantID, d.Attempts,
						d.FailedAt.Format(time.RFC3339), d.ExceptionMessage)
				}
				return tw.Flush()
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.TenantID, "tenant", "", "tenant id")
	fl.StringVar(&f.HandlerType, "handler", "", "handler type")
	fl.StringVar(&f.ProcessInstanceID, "process-instance", "", "process instance id")
	fl.IntVar(&f.Limit, "limit", 50, "max rows")
	fl.BoolVar(&asJSON, "json", false, "JSON output")
	return cmd
}

func (c *cli) resubmitCmd() *cobra.Command {
	var (
		retries int
		due     string
	)
	cmd := &cobra.Command{
		Use:   "resubmit <id>...",
		Short: "Move dead letters back to their lane",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("retries") {
				retries = c.cfg.DefaultRetries
			}
			if retries < 1 {
				return fmt.Errorf("retries must be at least 1")
			}
			at, err := parseDue(due, time.Now().UTC())
			if err != nil {
				return err
			}
			return c.withStore(cmd.Context(), func(s domain.Store) error {
				for _, id := range args {
					j, err := s.ResubmitDeadLetter(cmd.Context(), id, retries, at)
					if err != nil {
						return fmt.Errorf("resubmit %s: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tretries=%d\n", j.ID, j.Kind, j.Retries)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&retries, "retries", 0, "retries (default $DEFAULT_RETRIES)")
	cmd.Flags().StringVar(&due, "due", "", "due date as RFC3339 or a delay such as 5m (default now)")
	return cmd
}
