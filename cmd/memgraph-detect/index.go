package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	indexLimit int
	indexSince time.Duration
	indexBatch int
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Embed recent observations into the Qdrant collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backends.Semantic == nil {
			return fmt.Errorf("indexing needs database.qdrant.host and embedding.endpoint")
		}
		since := time.Now().Add(-indexSince).UnixMilli()
		obs, err := backends.Store.RecentObservations(cmd.Context(), indexLimit, since)
		if err != nil {
			return err
		}

		total := 0
		for start := 0; start < len(obs); start += indexBatch {
			end := start + indexBatch
			if end > len(obs) {
				end = len(obs)
			}
			n, err := backends.Semantic.Index(cmd.Context(), obs[start:end]...)
			if err != nil {
				return fmt.Errorf("index batch at %d: %w", start, err)
			}
			total += n
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d of %d observations\n", total, len(obs))
		return nil
	},
}

func init() {
	indexCmd.Flags().IntVar(&indexLimit, "limit", 5000, "maximum observations")
	indexCmd.Flags().DurationVar(&indexSince, "since", 7*24*time.Hour, "lookback window")
	indexCmd.Flags().IntVar(&indexBatch, "batch", 64, "observations per embedding request")
	rootCmd.AddCommand(indexCmd)
}
