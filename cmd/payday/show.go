package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mmynk/payday/internal/models"
)

func newShowCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a recorded payday run and its instructions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := a.newService(store).GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(run)
			}
			printRun(cmd.OutOrStdout(), run)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run as JSON")
	return cmd
}

func printRun(w io.Writer, run *models.PaydayRun) {
	printRunSummary(w, run)
	fmt.Fprintf(w, "started at:   %s\n", formatTime(run.StartedAt))
	fmt.Fprintf(w, "finished at:  %s\n", formatTime(run.FinishedAt))
	if run.Failure != "" {
		fmt.Fprintf(w, "failure:      %s\n", run.Failure)
	}
	if len(run.Instructions) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PARTICIPANT\tDIRECTION\tAMOUNT\tSTATUS\tATTEMPTS\tLAST ERROR")
	for _, ins := range run.Instructions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			ins.ParticipantID, ins.Direction(), ins.Amount.Abs(), ins.Status, ins.Attempts, ins.LastError)
	}
	tw.Flush()
}
