package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRedispatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "redispatch <run-id>",
		Short: "Retry undelivered instructions of a settled run",
		Long: "Sends every pending or failed instruction of a settled run to the gateway again.\n" +
			"Instructions already dispatched are skipped. Settlement is not recomputed.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := a.newService(store).Dispatch(ctx, args[0])
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			if report.Failed > 0 {
				return fmt.Errorf("%d instructions still failing", report.Failed)
			}
			return nil
		},
	}
}
