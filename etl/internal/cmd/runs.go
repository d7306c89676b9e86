package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/telhawk-etl/etl/internal/ledger"
)

var errNoLedger = errors.New("run ledger is not configured (set ledger.database_url)")

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the run ledger",
}

var runsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the most recent runs",
	Args:  cobra.NoArgs,
	RunE:  runRunsLs,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsLsCmd)

	runsLsCmd.Flags().IntP("limit", "n", 20, "maximum number of runs to show")
}

func runRunsLs(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 1 {
		return fmt.Errorf("--limit must be positive, got %d", limit)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Ledger.DatabaseURL == "" {
		return errNoLedger
	}

	db, err := ledger.NewPostgres(cmd.Context(), cfg.Ledger.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	return listRuns(cmd, db, limit)
}

func listRuns(cmd *cobra.Command, r ledger.Reader, limit int) error {
	runs, err := r.Recent(cmd.Context(), limit)
	if err != nil {
		return err
	}
	return writeRuns(cmd.OutOrStdout(), runs)
}

// writeRuns prints runs as an aligned table.
func writeRuns(out io.Writer, runs []ledger.Run) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN ID\tSTATE\tRECORDS\tSTARTED\tDURATION\tREASON")
	for _, run := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			run.RunID,
			run.State,
			run.RecordCount,
			run.StartedAt.UTC().Format(time.RFC3339),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
			run.Reason,
		)
	}
	return w.Flush()
}
