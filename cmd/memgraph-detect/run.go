package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/nuka-memgraph/internal/detect"
	"github.com/nidhogg/nuka-memgraph/internal/metrics"
	"github.com/spf13/cobra"
)

var runFull bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Detect relationships among recent observations",
	Long: `Runs one detection pass over the most recent observations and inserts new
relationships in a single transaction. Re-running is idempotent. With --full the
existing edge set is removed in the same transaction first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := backends.DetectionJob(cfg.Detection, metrics.NewMetrics())
		if err != nil {
			return err
		}
		sum, err := job.Run(cmd.Context(), detect.RunOptions{Full: runFull})
		if errors.Is(err, detect.ErrRunInProgress) {
			return fmt.Errorf("another detection run holds the lock; try again later")
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d observations, %d pairs, %d detected, %d inserted in %s\n",
			sum.RunID, sum.Observations, sum.PairsCompared, sum.Detected, sum.Inserted,
			sum.Duration.Round(time.Millisecond))
		for t, n := range sum.ByType {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-16s %d\n", t, n)
		}
		return nil
	},
}

var runsLimit int64

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent detection run summaries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backends.Coord == nil {
			return fmt.Errorf("run history needs database.redis.url")
		}
		msgs, err := backends.Coord.Recent(cmd.Context(), detect.RunsStream, runsLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd, msgs)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runFull, "full", false, "remove existing relationships before inserting")
	runsCmd.Flags().Int64VarP(&runsLimit, "n", "n", 10, "number of runs to show")
	rootCmd.AddCommand(runCmd, runsCmd)
}
