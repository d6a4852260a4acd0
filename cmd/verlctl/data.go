package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/verlops/verlctl/internal/dataset"
	"github.com/verlops/verlctl/internal/experiment"
	"github.com/verlops/verlctl/internal/formatter"
)

var dataWorkers int

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Validate datasets and prompt templates",
}

var dataValidateCmd = &cobra.Command{
	Use:   "validate <manifest.yaml>",
	Short: "Preflight a manifest's annotation files and template",
	Long: `Run the dataset preflight without launching anything.

Checks every annotation record for missing fields and missing image files,
and validates the format-prompt template.

Examples:
  verlctl data validate experiments/chartqa.yaml
  verlctl data validate experiments/chartqa.yaml -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runDataValidate,
}

func init() {
	dataValidateCmd.Flags().IntVar(&dataWorkers, "workers", runtime.NumCPU(), "Image check concurrency")
	dataCmd.AddCommand(dataValidateCmd)
	rootCmd.AddCommand(dataCmd)
}

// validateOutput aggregates preflight results for one manifest.
type validateOutput struct {
	Manifest string                  `json:"manifest"`
	Reports  []dataset.Report        `json:"reports"`
	Template *dataset.TemplateReport `json:"template,omitempty"`
	OK       bool                    `json:"ok"`
}

func runDataValidate(cmd *cobra.Command, args []string) error {
	manifestPath := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	m, err := experiment.Load(manifestPath, experiment.Defaults{
		GPUs:      cfg.Defaults.GPUs,
		ImageRoot: cfg.Defaults.ImageRoot,
		Project:   cfg.Defaults.Project,
	})
	if err != nil {
		return err
	}

	out := validateOutput{Manifest: manifestPath, OK: true}

	paths := []string{m.Data.TrainPath}
	if m.Data.ValPath != "" {
		paths = append(paths, m.Data.ValPath)
	}
	for _, path := range paths {
		report, err := dataset.Preflight(cmd.Context(), path, m.Data.ImageRoot, m.Data.ImageSuffix, dataWorkers)
		if err != nil {
			return err
		}
		if !report.OK() {
			out.OK = false
		}
		out.Reports = append(out.Reports, report)
	}

	if m.Data.FormatPrompt != "" {
		report, err := dataset.CheckTemplate(m.Data.FormatPrompt)
		if err != nil {
			return err
		}
		out.Template = &report
	}

	if cfg.Output != formatter.FormatTable {
		if err := formatter.Object(cmd.OutOrStdout(), cfg.Output, out); err != nil {
			return err
		}
	} else {
		printValidateOutput(cmd, out)
	}

	if !out.OK {
		return fmt.Errorf("validation failed for %s", manifestPath)
	}
	return nil
}

func printValidateOutput(cmd *cobra.Command, out validateOutput) {
	w := cmd.OutOrStdout()
	for _, report := range out.Reports {
		if report.OK() {
			fmt.Fprintf(w, "ok: %s (%d records)\n", report.Path, report.Records)
			continue
		}
		fmt.Fprintf(w, "FAIL: %s (%d records, %d problem(s))\n", report.Path, report.Records, len(report.Problems))
		for _, p := range report.Problems {
			fmt.Fprintf(w, "  record %d (%s): %s\n", p.Index, p.ImgID, p.Reason)
		}
		if report.Truncated {
			fmt.Fprintln(w, "  ... more problems omitted")
		}
	}
	if out.Template != nil {
		if len(out.Template.Warnings) == 0 {
			fmt.Fprintf(w, "ok: %s\n", out.Template.Path)
		}
		for _, warning := range out.Template.Warnings {
			fmt.Fprintf(w, "warning: %s: %s\n", out.Template.Path, warning)
		}
	}
}
