package config

import (
	"os"
	"path/filepath"
	"testing"
)

// isolate points HOME and the cwd at empty temp directories so host config
// files cannot leak into assertions.
func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("VERLCTL_CONFIG", filepath.Join(tmp, "does-not-exist.yaml"))
	return tmp
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Output != "table" {
		t.Errorf("Output = %q, want table", cfg.Output)
	}
	if cfg.BaseDir != ".verlctl" {
		t.Errorf("BaseDir = %q, want .verlctl", cfg.BaseDir)
	}
	if cfg.Trainer.PythonCommand != "python3" {
		t.Errorf("PythonCommand = %q, want python3", cfg.Trainer.PythonCommand)
	}
	if cfg.Trainer.Module != "verl.trainer.main" {
		t.Errorf("Module = %q, want verl.trainer.main", cfg.Trainer.Module)
	}
	if cfg.Defaults.GPUs != 8 {
		t.Errorf("Defaults.GPUs = %d, want 8", cfg.Defaults.GPUs)
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Output != "table" {
		t.Errorf("Output = %q, want table", cfg.Output)
	}
	if cfg.Trainer.NvidiaSMICommand != "nvidia-smi" {
		t.Errorf("NvidiaSMICommand = %q, want nvidia-smi", cfg.Trainer.NvidiaSMICommand)
	}
}

func TestLoad_HomeConfig(t *testing.T) {
	tmp := isolate(t)

	dir := filepath.Join(tmp, ".verlctl")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "output: json\ntrainer:\n  python_command: python3.11\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Output != "json" {
		t.Errorf("Output = %q, want json", cfg.Output)
	}
	if cfg.Trainer.PythonCommand != "python3.11" {
		t.Errorf("PythonCommand = %q, want python3.11", cfg.Trainer.PythonCommand)
	}
	// Fields not in the file keep defaults.
	if cfg.Trainer.Module != "verl.trainer.main" {
		t.Errorf("Module = %q, want default", cfg.Trainer.Module)
	}
}

func TestLoad_ProjectConfigOverridesHome(t *testing.T) {
	tmp := isolate(t)

	homeDir := filepath.Join(tmp, ".verlctl")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(homeDir, "config.yaml"), []byte("output: json\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	projectFile := filepath.Join(tmp, "project.yaml")
	if err := os.WriteFile(projectFile, []byte("output: yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VERLCTL_CONFIG", projectFile)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Output != "yaml" {
		t.Errorf("Output = %q, want yaml (project beats home)", cfg.Output)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("VERLCTL_PYTHON", "python-env")
	t.Setenv("VERLCTL_DEFAULT_GPUS", "4")
	t.Setenv("VERLCTL_VERBOSE", "1")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Trainer.PythonCommand != "python-env" {
		t.Errorf("PythonCommand = %q, want python-env", cfg.Trainer.PythonCommand)
	}
	if cfg.Defaults.GPUs != 4 {
		t.Errorf("Defaults.GPUs = %d, want 4", cfg.Defaults.GPUs)
	}
	if !cfg.Verbose {
		t.Error("Verbose = false, want true")
	}
}

func TestLoad_InvalidEnvGPUsIgnored(t *testing.T) {
	isolate(t)
	t.Setenv("VERLCTL_DEFAULT_GPUS", "eight")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Defaults.GPUs != 8 {
		t.Errorf("Defaults.GPUs = %d, want default 8", cfg.Defaults.GPUs)
	}
}

func TestLoad_FlagOverridesEnv(t *testing.T) {
	isolate(t)
	t.Setenv("VERLCTL_OUTPUT", "json")

	cfg, err := Load(&Config{Output: "yaml"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Output != "yaml" {
		t.Errorf("Output = %q, want yaml (flag beats env)", cfg.Output)
	}
}

func TestResolve_Sources(t *testing.T) {
	isolate(t)
	t.Setenv("VERLCTL_PYTHON", "python-env")

	rc := Resolve("json", "", true)

	if rc.Output.Source != SourceFlag {
		t.Errorf("Output.Source = %q, want flag", rc.Output.Source)
	}
	if rc.Output.Value != "json" {
		t.Errorf("Output.Value = %v, want json", rc.Output.Value)
	}
	if rc.PythonCommand.Source != SourceEnv {
		t.Errorf("PythonCommand.Source = %q, want environment", rc.PythonCommand.Source)
	}
	if rc.BaseDir.Source != SourceDefault {
		t.Errorf("BaseDir.Source = %q, want default", rc.BaseDir.Source)
	}
	if rc.Verbose.Source != SourceFlag {
		t.Errorf("Verbose.Source = %q, want flag", rc.Verbose.Source)
	}
}
