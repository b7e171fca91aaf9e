package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SirClappington/jobexec/internal/domain"
)

func (c *cli) enqueueCmd() *cobra.Command {
	var (
		j       domain.Job
		kind    string
		conf    string
		due     string
		retries int
	)
	cmd := &cobra.Command{
		Use:   "enqueue <handler-type>",
		Short: "Create a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := domain.ParseKind(kind)
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			at, err := parseDue(due, now)
			if err != nil {
				return err
			}
			j.Kind = k
			j.HandlerType = args[0]
			j.DueDate = at
			if conf != "" {
				j.Configuration = []byte(conf)
			}
			j.Retries = c.cfg.DefaultRetries
			if cmd.Flags().Changed("retries") {
				j.Retries = retries
			}

			return c.withStore(cmd.Context(), func(s domain.Store) error {
				if err := s.CreateJob(cmd.Context(), &j); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), j.ID)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&j.ID, "id", "", "job id (generated when empty)")
	f.StringVar(&kind, "kind", string(domain.KindJob), "record kind: job or history")
	f.StringVar(&conf, "config", "", "handler configuration, usually JSON")
	f.StringVar(&j.TenantID, "tenant", "", "tenant id")
	f.StringVar(&j.ProcessInstanceID, "process-instance", "", "process instance id")
	f.StringVar(&j.ProcessDefinitionID, "process-definition", "", "process definition id")
	f.StringVar(&j.ExecutionID, "execution", "", "execution id")
	f.StringVar(&due, "due", "", "due date as RFC3339 or a delay such as 5m (default now)")
	f.IntVar(&retries, "retries", 0, "retries (default $DEFAULT_RETRIES)")
	f.StringVar(&j.Repeat, "repeat", "", "repeat cycle as a cron expression")
	f.BoolVar(&j.Archive, "archive", false, "keep a historic record on success")
	return cmd
}

// parseDue accepts an absolute RFC3339 time or a delay relative to now.
func parseDue(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("due %q is neither a duration nor RFC3339", s)
	}
	return t.UTC(), nil
}
