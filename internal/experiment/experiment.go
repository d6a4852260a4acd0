// Package experiment defines the training-run manifest: the declarative
// replacement for the launch scripts that used to export environment
// variables and forward flags to the trainer by hand.
package experiment

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest describes a single training run.
type Manifest struct {
	// Name is the experiment name, forwarded as trainer.experiment_name.
	Name string `yaml:"name"`

	// Project is the tracking project name, forwarded as trainer.project_name.
	Project string `yaml:"project"`

	Trainer   TrainerSpec   `yaml:"trainer"`
	Model     ModelSpec     `yaml:"model"`
	Data      DataSpec      `yaml:"data"`
	Resources ResourcesSpec `yaml:"resources"`
	Training  TrainingSpec  `yaml:"training"`

	// Env holds extra environment variables for the trainer process.
	Env map[string]string `yaml:"env"`

	// Overrides holds free-form dotted trainer overrides beyond the
	// structured fields above.
	Overrides map[string]string `yaml:"overrides"`
}

// TrainerSpec selects the trainer entry point.
type TrainerSpec struct {
	// Module is the python module invoked with -m. Empty means the
	// configured default (verl.trainer.main).
	Module string `yaml:"module"`
	// BaseConfig is an optional trainer config file passed as config=...
	BaseConfig string `yaml:"base_config"`
}

// ModelSpec identifies the policy model.
type ModelSpec struct {
	// Path is a checkpoint directory or hub identifier, forwarded as
	// worker.actor.model.model_path.
	Path string `yaml:"path"`
}

// DataSpec locates the dataset and prompt template.
type DataSpec struct {
	// TrainPath is the training annotation file (data.train_files).
	TrainPath string `yaml:"train_path"`
	// ValPath is the validation annotation file (data.val_files).
	ValPath string `yaml:"val_path"`
	// FormatPrompt is the jinja prompt template path (data.format_prompt).
	FormatPrompt string `yaml:"format_prompt"`
	// ImageRoot is the directory holding annotation images (data.image_root).
	ImageRoot string `yaml:"image_root"`
	// ImageSuffix is appended to each annotation img_id to form the image
	// filename. The trainer's dataset loader expects "_origin.png".
	ImageSuffix string `yaml:"image_suffix"`
	// MaxPromptLength is forwarded as data.max_prompt_length.
	MaxPromptLength int `yaml:"max_prompt_length"`
}

// ResourcesSpec sizes the run.
type ResourcesSpec struct {
	// GPUs per node, forwarded as trainer.n_gpus_per_node.
	GPUs int `yaml:"gpus"`
	// Nodes, forwarded as trainer.nnodes.
	Nodes int `yaml:"nodes"`
}

// TrainingSpec holds schedule knobs.
type TrainingSpec struct {
	// Epochs is forwarded as trainer.total_epochs.
	Epochs int `yaml:"epochs"`
	// SaveFreq, when positive, is forwarded as trainer.save_freq.
	SaveFreq int `yaml:"save_freq"`
	// RolloutBatchSize, when positive, is forwarded as data.rollout_batch_size.
	RolloutBatchSize int `yaml:"rollout_batch_size"`
}

// Manifest limits.
const (
	MaxGPUs             = 64
	DefaultImageSuffix  = "_origin.png"
	DefaultMaxPromptLen = 1024
	DefaultEpochs       = 1
	DefaultNodes        = 1
)

// Defaults supplies values for fields a manifest may omit. They come from
// tool config so a team can pin its cluster shape once.
type Defaults struct {
	GPUs      int
	ImageRoot string
	Project   string
}

// Load reads and validates a manifest from a YAML file. Unknown keys are
// rejected so typos surface at load time instead of silently dropping a
// trainer override.
func Load(path string, defaults Defaults) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only
	}()

	var m Manifest
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	m.applyDefaults(defaults)
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}

	return &m, nil
}

// applyDefaults fills zero-valued fields.
func (m *Manifest) applyDefaults(d Defaults) {
	if m.Project == "" {
		m.Project = d.Project
	}
	if m.Data.ImageRoot == "" {
		m.Data.ImageRoot = d.ImageRoot
	}
	if m.Data.ImageSuffix == "" {
		m.Data.ImageSuffix = DefaultImageSuffix
	}
	if m.Data.MaxPromptLength == 0 {
		m.Data.MaxPromptLength = DefaultMaxPromptLen
	}
	if m.Resources.GPUs == 0 {
		m.Resources.GPUs = d.GPUs
	}
	if m.Resources.Nodes == 0 {
		m.Resources.Nodes = DefaultNodes
	}
	if m.Training.Epochs == 0 {
		m.Training.Epochs = DefaultEpochs
	}
}

// CheckpointDir returns where the trainer saves checkpoints, taken from the
// trainer.save_checkpoint_path override. Empty means the location is owned
// by the trainer's own config and unknown to us.
func (m *Manifest) CheckpointDir() string {
	return strings.TrimSpace(m.Overrides["trainer.save_checkpoint_path"])
}

// Validate checks the manifest after defaulting. File existence is a
// preflight concern, not a validation concern; the model path in particular
// may be a hub identifier that never exists locally.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: name", ErrMissingField)
	}
	if strings.TrimSpace(m.Model.Path) == "" {
		return fmt.Errorf("%w: model.path", ErrMissingField)
	}
	if strings.TrimSpace(m.Data.TrainPath) == "" {
		return fmt.Errorf("%w: data.train_path", ErrMissingField)
	}
	if m.Resources.GPUs < 1 || m.Resources.GPUs > MaxGPUs {
		return fmt.Errorf("%w: resources.gpus %d (valid: 1..%d)", ErrOutOfRange, m.Resources.GPUs, MaxGPUs)
	}
	if m.Resources.Nodes < 1 {
		return fmt.Errorf("%w: resources.nodes %d", ErrOutOfRange, m.Resources.Nodes)
	}
	if m.Training.Epochs < 1 {
		return fmt.Errorf("%w: training.epochs %d", ErrOutOfRange, m.Training.Epochs)
	}
	if m.Data.MaxPromptLength < 1 {
		return fmt.Errorf("%w: data.max_prompt_length %d", ErrOutOfRange, m.Data.MaxPromptLength)
	}
	if m.Training.SaveFreq < 0 {
		return fmt.Errorf("%w: training.save_freq %d", ErrOutOfRange, m.Training.SaveFreq)
	}
	if m.Training.RolloutBatchSize < 0 {
		return fmt.Errorf("%w: training.rollout_batch_size %d", ErrOutOfRange, m.Training.RolloutBatchSize)
	}
	for k := range m.Env {
		if strings.TrimSpace(k) == "" || strings.ContainsAny(k, "= \t") {
			return fmt.Errorf("%w: env key %q", ErrInvalidValue, k)
		}
	}
	return nil
}
