// Package config provides configuration management for verlctl.
// Configuration is loaded from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (VERLCTL_*)
// 3. Project config (.verlctl/config.yaml in cwd)
// 4. Home config (~/.verlctl/config.yaml)
// 5. Defaults
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all verlctl configuration.
type Config struct {
	// Output controls the default output format (table, json, yaml).
	Output string `yaml:"output" json:"output"`

	// BaseDir is the verlctl data directory (default: .verlctl).
	BaseDir string `yaml:"base_dir" json:"base_dir"`

	// Verbose enables verbose output.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// Trainer settings
	Trainer TrainerConfig `yaml:"trainer" json:"trainer"`

	// Defaults applied to manifests that omit the corresponding field.
	Defaults DefaultsConfig `yaml:"defaults" json:"defaults"`

	// Watch settings
	Watch WatchConfig `yaml:"watch" json:"watch"`
}

// TrainerConfig holds settings for invoking the external trainer.
type TrainerConfig struct {
	// PythonCommand is the interpreter used to spawn the trainer.
	// Default: "python3".
	PythonCommand string `yaml:"python_command" json:"python_command"`
	// Module is the trainer entry point passed to python -m.
	// Default: "verl.trainer.main".
	Module string `yaml:"module" json:"module"`
	// NvidiaSMICommand is the command used for GPU detection.
	// Default: "nvidia-smi".
	NvidiaSMICommand string `yaml:"nvidia_smi_command" json:"nvidia_smi_command"`
}

// DefaultsConfig holds manifest-level defaults.
type DefaultsConfig struct {
	// GPUs is the default GPU count per node.
	GPUs int `yaml:"gpus" json:"gpus"`
	// ImageRoot is the default image root directory.
	ImageRoot string `yaml:"image_root" json:"image_root"`
	// Project is the default tracking project name.
	Project string `yaml:"project" json:"project"`
}

// WatchConfig holds progress-watch settings.
type WatchConfig struct {
	// PollInterval is the fallback poll cadence when fsnotify events
	// are quiet, e.g. "2s".
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`
}

// Default config values (used in resolution and validation).
const (
	defaultOutput       = "table"
	defaultBaseDir      = ".verlctl"
	defaultPython       = "python3"
	defaultModule       = "verl.trainer.main"
	defaultNvidiaSMI    = "nvidia-smi"
	defaultGPUs         = 8
	defaultProject      = "verlctl"
	defaultPollInterval = "2s"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Output:  defaultOutput,
		BaseDir: defaultBaseDir,
		Verbose: false,
		Trainer: TrainerConfig{
			PythonCommand:    defaultPython,
			Module:           defaultModule,
			NvidiaSMICommand: defaultNvidiaSMI,
		},
		Defaults: DefaultsConfig{
			GPUs:    defaultGPUs,
			Project: defaultProject,
		},
		Watch: WatchConfig{
			PollInterval: defaultPollInterval,
		},
	}
}

// Load loads configuration with proper precedence.
// Priority: flags > env > project > home > defaults
func Load(flagOverrides *Config) (*Config, error) {
	cfg := Default()

	// Load home config
	homeConfig, _ := loadFromPath(homeConfigPath())
	if homeConfig != nil {
		cfg = merge(cfg, homeConfig)
	}

	// Load project config
	projectConfig, _ := loadFromPath(projectConfigPath())
	if projectConfig != nil {
		cfg = merge(cfg, projectConfig)
	}

	// Apply environment variables
	cfg = applyEnv(cfg)

	// Apply flag overrides
	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	return cfg, nil
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".verlctl", "config.yaml")
}

// projectConfigPath returns the project config path.
func projectConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("VERLCTL_CONFIG")); override != "" {
		return override
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return filepath.Join(cwd, ".verlctl", "config.yaml")
}

// loadFromPath loads config from a YAML file.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("VERLCTL_OUTPUT"); v != "" {
		cfg.Output = v
	}
	if v := os.Getenv("VERLCTL_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if os.Getenv("VERLCTL_VERBOSE") == "true" || os.Getenv("VERLCTL_VERBOSE") == "1" {
		cfg.Verbose = true
	}
	if v := os.Getenv("VERLCTL_PYTHON"); v != "" {
		cfg.Trainer.PythonCommand = v
	}
	if v := os.Getenv("VERLCTL_TRAINER_MODULE"); v != "" {
		cfg.Trainer.Module = v
	}
	if v := os.Getenv("VERLCTL_NVIDIA_SMI"); v != "" {
		cfg.Trainer.NvidiaSMICommand = v
	}
	if v := os.Getenv("VERLCTL_DEFAULT_GPUS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Defaults.GPUs = n
		}
	}
	if v := os.Getenv("VERLCTL_IMAGE_ROOT"); v != "" {
		cfg.Defaults.ImageRoot = v
	}
	if v := os.Getenv("VERLCTL_PROJECT"); v != "" {
		cfg.Defaults.Project = v
	}
	if v := os.Getenv("VERLCTL_WATCH_POLL_INTERVAL"); v != "" {
		cfg.Watch.PollInterval = v
	}
	return cfg
}

// WatchPollInterval parses the configured poll interval. Zero is returned
// when unset or malformed; the watcher applies its own default.
func (c *Config) WatchPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Watch.PollInterval)
	if err != nil {
		return 0
	}
	return d
}

// mergeStr overwrites dst with src when src is non-empty.
func mergeStr(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// mergeInt overwrites dst with src when src is non-zero.
func mergeInt(dst *int, src int) {
	if src != 0 {
		*dst = src
	}
}

// merge merges src into dst, with src values taking precedence.
func merge(dst, src *Config) *Config {
	mergeStr(&dst.Output, src.Output)
	mergeStr(&dst.BaseDir, src.BaseDir)
	if src.Verbose {
		dst.Verbose = true
	}

	mergeTrainer(&dst.Trainer, &src.Trainer)
	mergeDefaults(&dst.Defaults, &src.Defaults)
	mergeWatch(&dst.Watch, &src.Watch)

	return dst
}

// mergeTrainer merges trainer-specific config fields.
func mergeTrainer(dst, src *TrainerConfig) {
	mergeStr(&dst.PythonCommand, src.PythonCommand)
	mergeStr(&dst.Module, src.Module)
	mergeStr(&dst.NvidiaSMICommand, src.NvidiaSMICommand)
}

// mergeDefaults merges manifest-default config fields.
func mergeDefaults(dst, src *DefaultsConfig) {
	mergeInt(&dst.GPUs, src.GPUs)
	mergeStr(&dst.ImageRoot, src.ImageRoot)
	mergeStr(&dst.Project, src.Project)
}

// mergeWatch merges watch-specific config fields.
func mergeWatch(dst, src *WatchConfig) {
	mergeStr(&dst.PollInterval, src.PollInterval)
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceHome    Source = "~/.verlctl/config.yaml"
	SourceProject Source = ".verlctl/config.yaml"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)

// resolveStringField resolves a string through the precedence chain.
// Returns the resolved value and its source.
func resolveStringField(home, project, env, flag, def string) Resolved {
	result := Resolved{Value: def, Source: SourceDefault}

	if home != "" {
		result = Resolved{Value: home, Source: SourceHome}
	}
	if project != "" {
		result = Resolved{Value: project, Source: SourceProject}
	}
	if env != "" {
		result = Resolved{Value: env, Source: SourceEnv}
	}
	if flag != "" {
		result = Resolved{Value: flag, Source: SourceFlag}
	}

	return result
}

// ResolvedConfig shows config values with their sources.
type ResolvedConfig struct {
	Output        Resolved `json:"output"`
	BaseDir       Resolved `json:"base_dir"`
	Verbose       Resolved `json:"verbose"`
	PythonCommand Resolved `json:"python_command"`
	TrainerModule Resolved `json:"trainer_module"`
	NvidiaSMI     Resolved `json:"nvidia_smi_command"`
	DefaultGPUs   Resolved `json:"default_gpus"`
	ImageRoot     Resolved `json:"image_root"`
	Project       Resolved `json:"project"`
}

// Resolved pairs a config value with the layer that supplied it.
type Resolved struct {
	Value  interface{} `json:"value"`
	Source Source      `json:"source"`
}

// Resolve returns configuration with source tracking.
// Uses precedence chain: flags > env > project > home > defaults.
func Resolve(flagOutput, flagBaseDir string, flagVerbose bool) *ResolvedConfig {
	homeConfig, _ := loadFromPath(homeConfigPath())
	projectConfig, _ := loadFromPath(projectConfigPath())

	var home Config
	if homeConfig != nil {
		home = *homeConfig
	}
	var project Config
	if projectConfig != nil {
		project = *projectConfig
	}

	envGPUs := ""
	if v := os.Getenv("VERLCTL_DEFAULT_GPUS"); v != "" {
		if _, err := strconv.Atoi(v); err == nil {
			envGPUs = v
		}
	}

	rc := &ResolvedConfig{
		Output:        resolveStringField(home.Output, project.Output, os.Getenv("VERLCTL_OUTPUT"), flagOutput, defaultOutput),
		BaseDir:       resolveStringField(home.BaseDir, project.BaseDir, os.Getenv("VERLCTL_BASE_DIR"), flagBaseDir, defaultBaseDir),
		Verbose:       Resolved{Value: false, Source: SourceDefault},
		PythonCommand: resolveStringField(home.Trainer.PythonCommand, project.Trainer.PythonCommand, os.Getenv("VERLCTL_PYTHON"), "", defaultPython),
		TrainerModule: resolveStringField(home.Trainer.Module, project.Trainer.Module, os.Getenv("VERLCTL_TRAINER_MODULE"), "", defaultModule),
		NvidiaSMI:     resolveStringField(home.Trainer.NvidiaSMICommand, project.Trainer.NvidiaSMICommand, os.Getenv("VERLCTL_NVIDIA_SMI"), "", defaultNvidiaSMI),
		DefaultGPUs:   resolveIntField(home.Defaults.GPUs, project.Defaults.GPUs, envGPUs, defaultGPUs),
		ImageRoot:     resolveStringField(home.Defaults.ImageRoot, project.Defaults.ImageRoot, os.Getenv("VERLCTL_IMAGE_ROOT"), "", ""),
		Project:       resolveStringField(home.Defaults.Project, project.Defaults.Project, os.Getenv("VERLCTL_PROJECT"), "", defaultProject),
	}

	// Resolve verbose (boolean with OR semantics through chain)
	if home.Verbose {
		rc.Verbose = Resolved{Value: true, Source: SourceHome}
	}
	if project.Verbose {
		rc.Verbose = Resolved{Value: true, Source: SourceProject}
	}
	if v := os.Getenv("VERLCTL_VERBOSE"); v == "true" || v == "1" {
		rc.Verbose = Resolved{Value: true, Source: SourceEnv}
	}
	if flagVerbose {
		rc.Verbose = Resolved{Value: true, Source: SourceFlag}
	}

	return rc
}

// resolveIntField resolves an int through the precedence chain. The env layer
// arrives pre-validated as a decimal string.
func resolveIntField(home, project int, env string, def int) Resolved {
	result := Resolved{Value: def, Source: SourceDefault}

	if home != 0 {
		result = Resolved{Value: home, Source: SourceHome}
	}
	if project != 0 {
		result = Resolved{Value: project, Source: SourceProject}
	}
	if env != "" {
		n, _ := strconv.Atoi(env)
		result = Resolved{Value: n, Source: SourceEnv}
	}

	return result
}
