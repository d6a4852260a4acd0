package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/verlops/verlctl/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show resolved configuration",
	Long: `Show the resolved verlctl configuration with the source of each value.

Configuration priority (highest to lowest):
  1. Command-line flags
  2. Environment variables (VERLCTL_*)
  3. Project config (.verlctl/config.yaml)
  4. Home config (~/.verlctl/config.yaml)
  5. Defaults

Environment variables:
  VERLCTL_CONFIG              - Explicit config file path (overrides default project config location)
  VERLCTL_OUTPUT              - Default output format (table, json, yaml)
  VERLCTL_BASE_DIR            - Data directory path
  VERLCTL_VERBOSE             - Enable verbose output (true/1)
  VERLCTL_PYTHON              - Interpreter used to spawn the trainer (default: python3)
  VERLCTL_TRAINER_MODULE      - Trainer entry point (default: verl.trainer.main)
  VERLCTL_NVIDIA_SMI          - GPU detection command (default: nvidia-smi)
  VERLCTL_DEFAULT_GPUS        - Default GPU count for manifests that omit it
  VERLCTL_IMAGE_ROOT          - Default image root directory
  VERLCTL_PROJECT             - Default tracking project name
  VERLCTL_GPUS                - Explicit device list for launches (e.g. "0,2,4,6")
  VERLCTL_WATCH_POLL_INTERVAL - Progress poll fallback cadence (e.g. 2s)

Examples:
  verlctl config           # Show resolved configuration
  verlctl config -o json   # Output as JSON`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	// Get resolved config with sources
	resolved := config.Resolve(output, "", verbose)

	if output == "json" {
		data, err := json.MarshalIndent(resolved, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "verlctl Configuration")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Config files:")
	homeConfig := filepath.Join(os.Getenv("HOME"), ".verlctl", "config.yaml")
	if _, err := os.Stat(homeConfig); err == nil {
		fmt.Fprintf(w, "  ✓ Home:    %s\n", homeConfig)
	} else {
		fmt.Fprintf(w, "  ✗ Home:    %s (not found)\n", homeConfig)
	}

	cwd, _ := os.Getwd()
	projectConfig := filepath.Join(cwd, ".verlctl", "config.yaml")
	if _, err := os.Stat(projectConfig); err == nil {
		fmt.Fprintf(w, "  ✓ Project: %s\n", projectConfig)
	} else {
		fmt.Fprintf(w, "  ✗ Project: %s (not found)\n", projectConfig)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Resolved values:")
	fmt.Fprintf(w, "  output:       %v  (from %s)\n", resolved.Output.Value, resolved.Output.Source)
	fmt.Fprintf(w, "  base_dir:     %v  (from %s)\n", resolved.BaseDir.Value, resolved.BaseDir.Source)
	fmt.Fprintf(w, "  verbose:      %v  (from %s)\n", resolved.Verbose.Value, resolved.Verbose.Source)
	fmt.Fprintf(w, "  python:       %v  (from %s)\n", resolved.PythonCommand.Value, resolved.PythonCommand.Source)
	fmt.Fprintf(w, "  module:       %v  (from %s)\n", resolved.TrainerModule.Value, resolved.TrainerModule.Source)
	fmt.Fprintf(w, "  nvidia_smi:   %v  (from %s)\n", resolved.NvidiaSMI.Value, resolved.NvidiaSMI.Source)
	fmt.Fprintf(w, "  default_gpus: %v  (from %s)\n", resolved.DefaultGPUs.Value, resolved.DefaultGPUs.Source)
	fmt.Fprintf(w, "  image_root:   %v  (from %s)\n", resolved.ImageRoot.Value, resolved.ImageRoot.Source)
	fmt.Fprintf(w, "  project:      %v  (from %s)\n", resolved.Project.Value, resolved.Project.Source)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment variables (if set):")
	envVars := []string{
		"VERLCTL_CONFIG",
		"VERLCTL_OUTPUT",
		"VERLCTL_BASE_DIR",
		"VERLCTL_VERBOSE",
		"VERLCTL_PYTHON",
		"VERLCTL_TRAINER_MODULE",
		"VERLCTL_NVIDIA_SMI",
		"VERLCTL_DEFAULT_GPUS",
		"VERLCTL_IMAGE_ROOT",
		"VERLCTL_PROJECT",
		"VERLCTL_GPUS",
		"VERLCTL_WATCH_POLL_INTERVAL",
	}
	anySet := false
	for _, env := range envVars {
		if v := os.Getenv(env); v != "" {
			fmt.Fprintf(w, "  %s=%s\n", env, v)
			anySet = true
		}
	}
	if !anySet {
		fmt.Fprintln(w, "  (none set)")
	}

	return nil
}
