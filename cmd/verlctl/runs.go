package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/verlops/verlctl/internal/formatter"
	"github.com/verlops/verlctl/internal/store"
)

var (
	runsStatus string
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List and inspect past runs",
	Long: `Query the run ledger.

Examples:
  verlctl runs list
  verlctl runs list --status failed --limit 5
  verlctl runs show 3f2a91bc
  verlctl runs events 3f2a91bc -o json`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsEventsCmd = &cobra.Command{
	Use:   "events <run-id>",
	Short: "Show a run's event log",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsEvents,
}

func init() {
	runsListCmd.Flags().StringVar(&runsStatus, "status", "", "Filter by status (pending, running, completed, failed, canceled)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum runs to list (0 = all)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsEventsCmd)
	rootCmd.AddCommand(runsCmd)
}

// openStore loads config and opens the ledger.
func openStore() (*store.Store, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	st, err := store.Open(cfg.BaseDir)
	if err != nil {
		return nil, "", err
	}
	return st, cfg.Output, nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	st, format, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		_ = st.Close() //nolint:errcheck // read path done
	}()

	filter := store.ListFilter{Limit: runsLimit}
	if runsStatus != "" {
		status := store.Status(runsStatus)
		if !status.Valid() {
			return fmt.Errorf("unknown status %q", runsStatus)
		}
		filter.Status = status
	}

	runs, err := st.List(filter)
	if err != nil {
		return err
	}
	return formatter.Runs(cmd.OutOrStdout(), format, runs)
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	st, format, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		_ = st.Close() //nolint:errcheck // read path done
	}()

	run, err := st.Get(args[0])
	if err != nil {
		return err
	}
	if format == formatter.FormatTable {
		return formatter.Runs(cmd.OutOrStdout(), format, []store.Run{*run})
	}
	return formatter.Object(cmd.OutOrStdout(), format, run)
}

func runRunsEvents(cmd *cobra.Command, args []string) error {
	st, format, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		_ = st.Close() //nolint:errcheck // read path done
	}()

	events, err := st.Events(args[0])
	if err != nil {
		return err
	}
	return formatter.Events(cmd.OutOrStdout(), format, events)
}
