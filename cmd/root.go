package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliarafa/llmarena/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "llmarena",
	Short: "Multi-provider LLM comparison arena",
	Long:  "Fans one prompt out to multiple LLM backends concurrently, optionally judges and fuses the answers, and meters usage against a credit ledger.",
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
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
