package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/mmynk/payday/internal/calculator"
	"github.com/mmynk/payday/internal/gateway"
	"github.com/mmynk/payday/internal/loader"
	"github.com/mmynk/payday/internal/models"
)

func newRunCmd(a *app) *cobra.Command {
	var dispatch bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one payday now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			svc := a.newService(store)
			run, err := svc.Run(ctx)
			out := cmd.OutOrStdout()
			if run != nil {
				printRunSummary(out, run)
			}
			if err != nil {
				printFailure(out, err)
				return err
			}

			if !dispatch {
				return nil
			}
			report, err := svc.Dispatch(ctx, run.ID)
			if err != nil {
				return err
			}
			printReport(out, report)
			if report.Failed > 0 {
				return fmt.Errorf("%d of %d instructions failed; retry with `payday redispatch %s`",
					report.Failed, len(report.Results), run.ID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dispatch, "dispatch", true, "send instructions to the gateway after settling")
	return cmd
}

func printRunSummary(w io.Writer, run *models.PaydayRun) {
	fmt.Fprintf(w, "run:          %s\n", run.ID)
	fmt.Fprintf(w, "status:       %s\n", run.Status)
	fmt.Fprintf(w, "snapshot at:  %s\n", formatTime(run.SnapshotAt))
	fmt.Fprintf(w, "instructions: %d\n", len(run.Instructions))
	if run.Status == models.RunSettled {
		fmt.Fprintf(w, "captured:     %s\n", run.TotalCaptured.String())
		fmt.Fprintf(w, "paid out:     %s\n", run.TotalPaidOut.String())
	}
}

// printFailure prints the detail of integrity and conservation failures.
func printFailure(w io.Writer, err error) {
	var die *loader.DataIntegrityError
	if errors.As(err, &die) {
		fmt.Fprintf(w, "data integrity violations (%d):\n", len(die.Violations))
		for _, v := range die.Violations {
			fmt.Fprintf(w, "  - %s\n", v)
		}
		return
	}
	var ce *calculator.ConservationError
	if errors.As(err, &ce) {
		fmt.Fprintf(w, "conservation failed: team residual sum %s, net sum %s\n", ce.TeamResidual, ce.NetSum)
		for _, id := range slices.Sorted(maps.Keys(ce.Teams)) {
			t := ce.Teams[id]
			fmt.Fprintf(w, "  team %s: collected %s, paid out %s, residual %s\n", id, t.Collected, t.PaidOut, t.Residual)
		}
	}
}

func printReport(w io.Writer, r *gateway.Report) {
	fmt.Fprintf(w, "dispatched:   %d\n", r.Dispatched)
	fmt.Fprintf(w, "failed:       %d\n", r.Failed)
	fmt.Fprintf(w, "skipped:      %d\n", r.Skipped)
	for _, res := range r.Results {
		if res.Err != nil {
			fmt.Fprintf(w, "  %s: %v\n", res.ParticipantID, res.Err)
		}
	}
}
