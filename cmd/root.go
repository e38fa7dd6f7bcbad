package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dataset-audit/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dataset-audit",
	Short: "Deterministic data-quality audit for tabular datasets",
	Long:  "Snapshots a dataset, resolves metadata trust, runs risk detectors, decides proceed/fix/abort, and appends the report to a hash-chained ledger.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
