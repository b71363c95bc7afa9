package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"magpipeline/internal/config"
	"magpipeline/internal/logging"
)

var (
	verbose    bool
	configPath string

	cfg    *config.AppConfig
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "magpipeline",
	Short: "MAG pipeline bot - Salesforce pipeline exports to a formatted Gantt workbook",
	Long: `magpipeline watches an inbox for Salesforce pipeline exports, maps their
columns onto the active template and replies with the formatted workbook.

Sending "Adjust Columns" returns the current template; replying "Here" with a
modified copy replaces it (the previous version is kept as a backup).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.LoadFile(configPath)
		} else {
			cfg, err = config.LoadConfig()
		}
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, err = logging.New(verbose || cfg.Server.DevMode)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.toml (default: next to the executable)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(templateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
