// Package overrides assembles the trainer command line and process
// environment from an experiment manifest. The trainer accepts OmegaConf
// style dotted key=value pairs; verlctl renders them in a stable order so a
// dry run diffs cleanly against a previous launch.
package overrides

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/verlops/verlctl/internal/experiment"
)

// keyPattern constrains dotted override keys to the trainer's config schema
// shape: lowercase segments separated by dots.
var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)

// Build renders the trainer argument list for a manifest: the base config
// reference first (when set), then dotted overrides sorted by key.
func Build(m *experiment.Manifest) ([]string, error) {
	derived := derive(m)

	merged := make(map[string]string, len(derived)+len(m.Overrides))
	for k, v := range derived {
		merged[k] = v
	}
	for k, v := range m.Overrides {
		if !keyPattern.MatchString(k) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKey, k)
		}
		if _, ok := derived[k]; ok {
			return nil, fmt.Errorf("%w: %q is derived from the manifest", ErrKeyCollision, k)
		}
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys)+1)
	if m.Trainer.BaseConfig != "" {
		args = append(args, "config="+m.Trainer.BaseConfig)
	}
	for _, k := range keys {
		args = append(args, k+"="+merged[k])
	}

	return args, nil
}

// derive maps structured manifest fields to their trainer override keys.
// Empty optional fields emit no pair.
func derive(m *experiment.Manifest) map[string]string {
	d := map[string]string{
		"trainer.experiment_name":       m.Name,
		"trainer.project_name":          m.Project,
		"trainer.n_gpus_per_node":       strconv.Itoa(m.Resources.GPUs),
		"trainer.nnodes":                strconv.Itoa(m.Resources.Nodes),
		"trainer.total_epochs":          strconv.Itoa(m.Training.Epochs),
		"worker.actor.model.model_path": m.Model.Path,
		"data.train_files":              m.Data.TrainPath,
		"data.max_prompt_length":        strconv.Itoa(m.Data.MaxPromptLength),
	}

	if m.Data.ValPath != "" {
		d["data.val_files"] = m.Data.ValPath
	}
	if m.Data.FormatPrompt != "" {
		d["data.format_prompt"] = m.Data.FormatPrompt
	}
	if m.Data.ImageRoot != "" {
		d["data.image_root"] = m.Data.ImageRoot
	}
	if m.Training.SaveFreq > 0 {
		d["trainer.save_freq"] = strconv.Itoa(m.Training.SaveFreq)
	}
	if m.Training.RolloutBatchSize > 0 {
		d["data.rollout_batch_size"] = strconv.Itoa(m.Training.RolloutBatchSize)
	}

	return d
}

// Env renders the environment additions for the trainer process, in a fixed
// order: the unbuffered-output flag, the device mask, then manifest env
// sorted by name. Manifest env may override PYTHONUNBUFFERED but never the
// device mask; device placement belongs to the GPU plan alone.
func Env(m *experiment.Manifest, visibleDevices string) ([]string, error) {
	unbuffered := "1"
	extra := make(map[string]string)
	for k, v := range m.Env {
		switch k {
		case "CUDA_VISIBLE_DEVICES":
			return nil, fmt.Errorf("%w: CUDA_VISIBLE_DEVICES", ErrReservedEnv)
		case "PYTHONUNBUFFERED":
			unbuffered = v
		default:
			extra[k] = v
		}
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys)+2)
	env = append(env, "PYTHONUNBUFFERED="+unbuffered)
	env = append(env, "CUDA_VISIBLE_DEVICES="+visibleDevices)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}

	return env, nil
}
