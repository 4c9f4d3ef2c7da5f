package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/nidhogg/nuka-memgraph/internal/app"
	"github.com/nidhogg/nuka-memgraph/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgPath  string
	cfg      *config.Config
	logger   *zap.Logger
	backends *app.Backends
)

var rootCmd = &cobra.Command{
	Use:   "memgraph-detect",
	Short: "Batch relationship detection and graph inspection for memgraph.",
	Long: `memgraph-detect runs the relationship detection job over recent observations
and inspects the resulting graph: counts, high-confidence edges, neighbors and paths.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		_ = godotenv.Load()
		if cfgPath == "" {
			cfgPath = os.Getenv("CONFIG_PATH")
		}
		if cfgPath == "" {
			cfgPath = "configs/memgraph.json"
		}
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			return err
		}
		if logger, err = config.NewLogger(cfg.Server.LogLevel); err != nil {
			return err
		}
		backends, err = app.Open(cmd.Context(), cfg, logger)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if backends != nil {
			backends.Close(context.Background())
		}
		if logger != nil {
			logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default $CONFIG_PATH or configs/memgraph.json)")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
