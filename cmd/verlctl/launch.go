package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verlops/verlctl/internal/dataset"
	"github.com/verlops/verlctl/internal/experiment"
	"github.com/verlops/verlctl/internal/gpu"
	"github.com/verlops/verlctl/internal/launcher"
	"github.com/verlops/verlctl/internal/logging"
	"github.com/verlops/verlctl/internal/overrides"
	"github.com/verlops/verlctl/internal/store"
	"github.com/verlops/verlctl/internal/watch"
)

var (
	launchSkipPreflight bool
	launchPython        string
)

var launchCmd = &cobra.Command{
	Use:   "launch <manifest.yaml>",
	Short: "Launch a training run from a manifest",
	Long: `Launch the trainer from an experiment manifest.

Loads and validates the manifest, preflights the annotation files and prompt
template, plans GPU placement, then executes the trainer in the foreground.
Progress lines and checkpoints are recorded in the run ledger as the trainer
writes them.

Examples:
  verlctl launch experiments/chartqa.yaml
  verlctl launch experiments/chartqa.yaml --dry-run
  verlctl launch experiments/chartqa.yaml --skip-preflight`,
	Args: cobra.ExactArgs(1),
	RunE: runLaunch,
}

func init() {
	launchCmd.Flags().BoolVar(&launchSkipPreflight, "skip-preflight", false, "Skip dataset and template preflight checks")
	launchCmd.Flags().StringVar(&launchPython, "python", "", "Interpreter used to spawn the trainer (default from config)")
	rootCmd.AddCommand(launchCmd)
}

func runLaunch(cmd *cobra.Command, args []string) error {
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

	log := logging.New(cfg.Verbose)
	defer func() {
		_ = log.Sync() //nolint:errcheck // stderr sync is best-effort
	}()

	if !launchSkipPreflight {
		if err := preflight(cmd.Context(), cmd, m); err != nil {
			return err
		}
	}

	trainerArgs, err := overrides.Build(m)
	if err != nil {
		return err
	}

	plan, err := gpu.Build(m.Resources.GPUs, cfg.Trainer.NvidiaSMICommand)
	if err != nil {
		return err
	}
	if minGB := gpu.MinMemoryGB(m.Model.Path); minGB > 0 {
		log.Info("model memory guidance",
			zap.String("model", m.Model.Path),
			zap.Int("min_gpu_memory_gb", minGB),
		)
	}

	env, err := overrides.Env(m, plan.VisibleDevices())
	if err != nil {
		return err
	}

	module := m.Trainer.Module
	if module == "" {
		module = cfg.Trainer.Module
	}
	python := cfg.Trainer.PythonCommand
	if launchPython != "" {
		python = launchPython
	}

	inv := launcher.Invocation{
		Python:   python,
		Module:   module,
		Args:     trainerArgs,
		ExtraEnv: env,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	}

	if dryRun {
		fmt.Fprint(cmd.OutOrStdout(), launcher.Render(inv))
		return nil
	}

	st, err := store.Open(cfg.BaseDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = st.Close() //nolint:errcheck // read path done
	}()

	run, err := st.Create(m.Name, manifestPath, m.Model.Path, len(plan.Devices), m.Training.Epochs)
	if err != nil {
		return err
	}
	inv.LogPath = run.LogPath
	inv.OnStart = func(pid int) {
		if err := st.MarkStarted(run.ID, pid); err != nil {
			log.Warn("record start", zap.Error(err))
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s on %d GPU(s) [%s]\n",
		run.ShortID(), m.Name, len(plan.Devices), plan.VisibleDevices())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watchCtx, stopWatch := context.WithCancel(context.Background())
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		watcher := watch.New(log, cfg.WatchPollInterval())
		err := watcher.Watch(watchCtx, run.LogPath, m.CheckpointDir(), watch.Callbacks{
			OnProgress: func(p watch.Progress) {
				event := store.Event{RunID: run.ID, Kind: store.EventProgress, Step: p.Step, Epoch: p.Epoch}
				if p.HasReward {
					event.Reward = p.Reward
				}
				if err := st.AppendEvent(event); err != nil {
					log.Warn("record progress", zap.Error(err))
				}
			},
			OnCheckpoint: func(path string) {
				event := store.Event{RunID: run.ID, Kind: store.EventCheckpoint, Message: path}
				if err := st.AppendEvent(event); err != nil {
					log.Warn("record checkpoint", zap.Error(err))
				}
			},
		})
		if err != nil {
			log.Warn("watch", zap.Error(err))
		}
	}()

	result, runErr := launcher.New(log).Run(ctx, inv)

	// Give the watcher a moment to drain the log tail, then stop it.
	time.Sleep(100 * time.Millisecond)
	stopWatch()
	<-watchDone

	if runErr != nil {
		if ferr := st.MarkFinished(run.ID, store.StatusFailed, -1); ferr != nil {
			log.Warn("record finish", zap.Error(ferr))
		}
		return runErr
	}

	status := store.StatusCompleted
	switch {
	case result.Canceled:
		status = store.StatusCanceled
	case result.ExitCode != 0:
		status = store.StatusFailed
	}
	if err := st.MarkFinished(run.ID, status, result.ExitCode); err != nil {
		log.Warn("record finish", zap.Error(err))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s %s (exit %d)\n", run.ShortID(), status, result.ExitCode)
	if status == store.StatusFailed {
		return fmt.Errorf("run %s failed with exit code %d", run.ShortID(), result.ExitCode)
	}
	return nil
}

// preflight validates the annotation files and the prompt template before
// anything is spawned.
func preflight(ctx context.Context, cmd *cobra.Command, m *experiment.Manifest) error {
	workers := runtime.NumCPU()

	paths := []string{m.Data.TrainPath}
	if m.Data.ValPath != "" {
		paths = append(paths, m.Data.ValPath)
	}
	for _, path := range paths {
		report, err := dataset.Preflight(ctx, path, m.Data.ImageRoot, m.Data.ImageSuffix, workers)
		if err != nil {
			return err
		}
		if !report.OK() {
			for _, p := range report.Problems {
				fmt.Fprintf(cmd.ErrOrStderr(), "  record %d (%s): %s\n", p.Index, p.ImgID, p.Reason)
			}
			if report.Truncated {
				fmt.Fprintln(cmd.ErrOrStderr(), "  ... more problems omitted")
			}
			return fmt.Errorf("preflight failed for %s: %d problem(s)", path, len(report.Problems))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "preflight ok: %s (%d records)\n", path, report.Records)
	}

	if m.Data.FormatPrompt != "" {
		report, err := dataset.CheckTemplate(m.Data.FormatPrompt)
		if err != nil {
			return err
		}
		for _, w := range report.Warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
		}
	}

	return nil
}
