package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"siphon/internal/config"
	"siphon/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "siphon",
	Short: "siphon - adaptive web data extraction",
	Long: `siphon extracts structured data from websites using learned page
bindings. Recipes describe WHAT to extract; the engine discovers HOW by
binding semantic page regions to live selectors, repairing them when
sites change, and exploring unfamiliar sites to learn their behavior.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Logging.Level == "debug" {
			verbose = true
		}
		logger, err = logging.New(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// version is stamped by the release build via -ldflags.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the siphon version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("siphon", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "siphon.yaml", "path to config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(exploreCmd)
	rootCmd.AddCommand(bindingsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
