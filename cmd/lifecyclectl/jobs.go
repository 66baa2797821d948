package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hackgods/appointment-lifecycle/internal/lifecycle"
)

var runCmd = &cobra.Command{
	Use:       "run <job>",
	Short:     "Run one lifecycle job once",
	ValidArgs: jobNames(),
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Long: `Run a single pass of a lifecycle job and print its result.

The distributed job lock still applies: if a worker is running the same job,
the result is reported as skipped.

Example:
  lifecyclectl run reminder
  lifecyclectl run cleanup`,
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := lifecycle.ParseJob(args[0])
		if err != nil {
			return err
		}
		res, err := application.Scheduler.RunJob(cmd.Context(), job)
		if err != nil {
			return fmt.Errorf("run %s: %w", job, err)
		}
		return printJSON(res)
	},
}

var remindCmd = &cobra.Command{
	Use:   "remind <appointment-id>",
	Short: "Send the reminder email now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid appointment id: %w", err)
		}
		appt, err := application.Scheduler.SendReminderNow(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(appt)
	},
}

var callCmd = &cobra.Command{
	Use:   "call <appointment-id>",
	Short: "Place a follow-up voice call now",
	Long: `Place a follow-up call regardless of business hours or earlier attempts.
The attempt is recorded even when the call fails.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid appointment id: %w", err)
		}
		rec, err := application.Scheduler.CallNow(cmd.Context(), id)
		if rec != nil {
			if perr := printJSON(rec); perr != nil {
				return perr
			}
		}
		return err
	},
}

func jobNames() []string {
	names := make([]string, len(lifecycle.Jobs))
	for i, j := range lifecycle.Jobs {
		names[i] = string(j)
	}
	return names
}

func init() {
	runCmd.Short += " (" + strings.Join(jobNames(), ", ") + ")"
	rootCmd.AddCommand(runCmd, remindCmd, callCmd)
}
