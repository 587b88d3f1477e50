package cli

import (
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the document schema in postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			// bootstrap migrates when STORE=postgres
			a, err := bootstrap(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			a.log.Info("schema up to date")
			return nil
		},
	}
}

func expirePromotionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire-promotions",
		Short: "Clear promotions whose end date has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			summary, err := a.engine.Promotions.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
}

func sweepPaymentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-payments",
		Short: "Verify stale pending payments with the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.cfg.RequireGateway(); err != nil {
				return err
			}
			summary, err := a.engine.Sweeper.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
}

func reconcileEventCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-event [event-id]",
		Short: "Recompute an event's available spaces and collection balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.engine.Drift.Reconcile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}
