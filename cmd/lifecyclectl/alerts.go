package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hackgods/appointment-lifecycle/internal/appointment"
)

var showAll bool

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and resolve operator alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open alerts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var resolved *bool
		if !showAll {
			resolved = appointment.Bool(false)
		}
		alerts, err := application.Service.ListAlerts(cmd.Context(), resolved)
		if err != nil {
			return err
		}
		if len(alerts) == 0 {
			fmt.Println("No alerts.")
			return nil
		}
		for _, a := range alerts {
			state := "open"
			if a.Resolved {
				state = "resolved"
			}
			fmt.Printf("%s  %-8s  %s  %s\n", a.ID, state, a.CreatedAt.Format("2006-01-02 15:04"), a.Message)
		}
		return nil
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Mark an alert resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid alert id: %w", err)
		}
		alert, err := application.Service.ResolveAlert(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(alert)
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <confirmation-code>",
	Short: "Find appointments by confirmation code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appts, err := application.Service.LookupByCode(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(appts)
	},
}

func init() {
	alertsListCmd.Flags().BoolVar(&showAll, "all", false, "include resolved alerts")
	alertsCmd.AddCommand(alertsListCmd, alertsResolveCmd)
	rootCmd.AddCommand(alertsCmd, lookupCmd)
}
