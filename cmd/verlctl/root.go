package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/verlops/verlctl/internal/config"
	"github.com/verlops/verlctl/internal/formatter"
)

var (
	// Global flags
	dryRun  bool
	verbose bool
	output  string
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "verlctl",
	Short: "Launch and track verl training runs",
	Long: `verlctl drives python -m verl.trainer.main from declarative experiment
manifests instead of hand-maintained launch scripts.

Core Commands:
  launch       Launch a training run from a manifest
  runs         List and inspect past runs
  data         Validate datasets and prompt templates
  doctor       Check the local environment
  config       Show resolved configuration
  version      Show version information

A manifest names the model, dataset, prompt template, and resources for one
experiment; verlctl turns it into the trainer's dotted overrides, plans GPU
placement, and records the run in a local ledger.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		syncConfigFlagToEnv()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Show what would happen without executing")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: .verlctl/config.yaml)")
}

func syncConfigFlagToEnv() {
	path := strings.TrimSpace(cfgFile)
	if path == "" {
		return
	}
	_ = os.Setenv("VERLCTL_CONFIG", path)
}

// loadConfig loads configuration with the global flags layered on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(&config.Config{Output: output, Verbose: verbose})
	if err != nil {
		return nil, err
	}
	if !formatter.ValidFormat(cfg.Output) {
		return nil, fmt.Errorf("%w: %q", formatter.ErrUnknownFormat, cfg.Output)
	}
	return cfg, nil
}
