package commands

import (
	"github.com/spf13/cobra"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and run triggers, and run on a schedule",
		Long: `Start the operator HTTP server (health, readiness, metrics, last run, run
triggers and checkpoint lookups) and the cron scheduler configured under
schedule. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := root.app(cmd.Context(), "", true)
			if err != nil {
				return err
			}
			if err := app.SetupServer(cmd.Context()); err != nil {
				app.Stop()
				return err
			}
			app.Start(cmd.Context())
			return nil
		},
	}
}
