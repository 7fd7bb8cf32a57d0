// Package main is the entry point for the Brandely CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/brandely/internal/config"
	"github.com/ent0n29/brandely/internal/logging"
)

var (
	configPath string
	cfg        config.Config
	logger     *zap.Logger
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "brandely",
		Short: "Conversational branding assistant",
		Long: `Brandely helps founders shape a brand identity through conversation.

Every message passes a safety gate, joins the session transcript and is
answered by the configured language model provider.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			logger, err = logging.New(cfg.LogLevel, cfg.LogEncoding)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a brandely.yaml config file")

	root.AddCommand(
		serveCmd(),
		chatCmd(),
		checkCmd(),
	)
	return root
}
