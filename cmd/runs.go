package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/segflow/internal/store"
	"github.com/andresmejia3/segflow/internal/utils"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:         "runs",
	Short:       "List pipeline runs recorded in the ledger",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{dbAnnotation: dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		runRuns(cmd.Context())
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Show at most this many runs (0 = all)")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(ctx context.Context) {
	runs, err := DB.ListRuns(ctx, runsLimit)
	if err != nil {
		utils.Die("Failed to list runs", err, nil)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found in database.")
		return
	}
	printRuns(os.Stdout, runs)
}

func printRuns(out io.Writer, runs []store.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tINPUT\tSTARTED\tDURATION\tITEMS\tFAILED")
	fmt.Fprintln(w, "--\t----\t-----\t-------\t--------\t-----\t------")

	for _, r := range runs {
		duration := "running"
		if r.FinishedAt != nil {
			duration = fmtTime(r.FinishedAt.Sub(r.StartedAt).Seconds())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			r.ID.String()[:8], r.Mode, r.Input, r.StartedAt.Local().Format("2006-01-02 15:04"), duration, r.Items, r.Failed)
	}
	w.Flush()
}

