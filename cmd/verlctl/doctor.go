package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/verlops/verlctl/internal/formatter"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the local environment",
	Long: `Run health checks on the training environment.

Validates that the trainer can actually be launched from this machine.
Optional components are reported as warnings but do not cause failure.

Examples:
  verlctl doctor
  verlctl doctor -o json`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type doctorCheck struct {
	Name     string `json:"name"`
	Status   string `json:"status"` // "pass", "warn", "fail"
	Detail   string `json:"detail"`
	Required bool   `json:"required"`
}

type doctorOutput struct {
	Checks []doctorCheck `json:"checks"`
	Result string        `json:"result"` // "HEALTHY", "DEGRADED", "UNHEALTHY"
}

// doctorStatusIcon returns the display icon for a check status.
func doctorStatusIcon(status string) string {
	switch status {
	case "pass":
		return "✓"
	case "warn":
		return "!"
	case "fail":
		return "✗"
	}
	return "?"
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	checks := []doctorCheck{
		checkPython(cfg.Trainer.PythonCommand),
		checkTrainerModule(cfg.Trainer.PythonCommand, cfg.Trainer.Module),
		checkNvidiaSMI(cfg.Trainer.NvidiaSMICommand),
		checkBaseDir(cfg.BaseDir),
	}

	out := doctorOutput{Checks: checks, Result: "HEALTHY"}
	for _, c := range checks {
		if c.Status == "fail" && c.Required {
			out.Result = "UNHEALTHY"
		} else if c.Status != "pass" && out.Result == "HEALTHY" {
			out.Result = "DEGRADED"
		}
	}

	if cfg.Output != formatter.FormatTable {
		if err := formatter.Object(cmd.OutOrStdout(), cfg.Output, out); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, c := range checks {
			fmt.Fprintf(w, "%s %s: %s\n", doctorStatusIcon(c.Status), c.Name, c.Detail)
		}
		fmt.Fprintf(w, "\n%s\n", out.Result)
	}

	if out.Result == "UNHEALTHY" {
		return fmt.Errorf("environment is unhealthy")
	}
	return nil
}

func checkPython(python string) doctorCheck {
	check := doctorCheck{Name: "python", Required: true}
	path, err := exec.LookPath(python)
	if err != nil {
		check.Status = "fail"
		check.Detail = fmt.Sprintf("%s not found in PATH", python)
		return check
	}
	check.Status = "pass"
	check.Detail = path
	return check
}

// checkTrainerModule best-effort imports the trainer's top-level package.
// A missing interpreter was already reported by checkPython.
func checkTrainerModule(python, module string) doctorCheck {
	check := doctorCheck{Name: "trainer module", Required: false}
	top := module
	if i := strings.Index(module, "."); i > 0 {
		top = module[:i]
	}

	if _, err := exec.LookPath(python); err != nil {
		check.Status = "warn"
		check.Detail = "skipped, no interpreter"
		return check
	}

	out, err := exec.Command(python, "-c", "import "+top).CombinedOutput()
	if err != nil {
		check.Status = "warn"
		check.Detail = fmt.Sprintf("import %s failed: %s", top, strings.TrimSpace(string(out)))
		return check
	}
	check.Status = "pass"
	check.Detail = fmt.Sprintf("import %s ok", top)
	return check
}

func checkNvidiaSMI(command string) doctorCheck {
	check := doctorCheck{Name: "nvidia-smi", Required: false}
	path, err := exec.LookPath(command)
	if err != nil {
		check.Status = "warn"
		check.Detail = fmt.Sprintf("%s not found, GPU detection disabled", command)
		return check
	}
	check.Status = "pass"
	check.Detail = path
	return check
}

func checkBaseDir(baseDir string) doctorCheck {
	check := doctorCheck{Name: "base dir", Required: true}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		check.Status = "fail"
		check.Detail = fmt.Sprintf("%s: %v", baseDir, err)
		return check
	}

	probe := filepath.Join(baseDir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		check.Status = "fail"
		check.Detail = fmt.Sprintf("%s not writable: %v", baseDir, err)
		return check
	}
	_ = os.Remove(probe) //nolint:errcheck // probe cleanup

	check.Status = "pass"
	check.Detail = baseDir
	return check
}
