package experiment

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exp.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalManifest = `
name: chartqa-grpo
model:
  path: Qwen/Qwen2.5-VL-7B-Instruct
data:
  train_path: data/train_annotations.json
`

func TestLoad_MinimalDefaults(t *testing.T) {
	path := writeManifest(t, minimalManifest)

	m, err := Load(path, Defaults{GPUs: 8, Project: "verlctl"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if m.Name != "chartqa-grpo" {
		t.Errorf("Name = %q, want chartqa-grpo", m.Name)
	}
	if m.Project != "verlctl" {
		t.Errorf("Project = %q, want verlctl", m.Project)
	}
	if m.Resources.GPUs != 8 {
		t.Errorf("GPUs = %d, want 8", m.Resources.GPUs)
	}
	if m.Resources.Nodes != 1 {
		t.Errorf("Nodes = %d, want 1", m.Resources.Nodes)
	}
	if m.Training.Epochs != 1 {
		t.Errorf("Epochs = %d, want 1", m.Training.Epochs)
	}
	if m.Data.ImageSuffix != "_origin.png" {
		t.Errorf("ImageSuffix = %q, want _origin.png", m.Data.ImageSuffix)
	}
	if m.Data.MaxPromptLength != 1024 {
		t.Errorf("MaxPromptLength = %d, want 1024", m.Data.MaxPromptLength)
	}
}

func TestLoad_FullManifest(t *testing.T) {
	path := writeManifest(t, `
name: chartqa-grpo-2ep
project: vlm-rl
trainer:
  module: verl.trainer.main
  base_config: examples/config.yaml
model:
  path: /ckpt/qwen2_5_vl_7b
data:
  train_path: data/train.json
  val_path: data/val.json
  format_prompt: prompts/think_boxed.jinja
  image_root: /data/images
  image_suffix: _origin.png
  max_prompt_length: 2048
resources:
  gpus: 4
  nodes: 2
training:
  epochs: 2
  save_freq: 5
  rollout_batch_size: 512
env:
  VLLM_ATTENTION_BACKEND: XFORMERS
overrides:
  worker.rollout.temperature: "1.0"
`)

	m, err := Load(path, Defaults{GPUs: 8, Project: "verlctl"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if m.Project != "vlm-rl" {
		t.Errorf("Project = %q, want vlm-rl (manifest beats default)", m.Project)
	}
	if m.Resources.GPUs != 4 {
		t.Errorf("GPUs = %d, want 4", m.Resources.GPUs)
	}
	if m.Resources.Nodes != 2 {
		t.Errorf("Nodes = %d, want 2", m.Resources.Nodes)
	}
	if m.Training.SaveFreq != 5 {
		t.Errorf("SaveFreq = %d, want 5", m.Training.SaveFreq)
	}
	if m.Env["VLLM_ATTENTION_BACKEND"] != "XFORMERS" {
		t.Errorf("Env = %v, want VLLM_ATTENTION_BACKEND set", m.Env)
	}
	if m.Overrides["worker.rollout.temperature"] != "1.0" {
		t.Errorf("Overrides = %v, want worker.rollout.temperature set", m.Overrides)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeManifest(t, minimalManifest+"\nepochs: 3\n")

	_, err := Load(path, Defaults{GPUs: 8})
	if err == nil {
		t.Fatal("Load() error = nil, want unknown-field error")
	}
	if !strings.Contains(err.Error(), "epochs") {
		t.Errorf("error %q does not name the unknown key", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), Defaults{GPUs: 8})
	if err == nil {
		t.Fatal("Load() error = nil, want open error")
	}
}

func TestCheckpointDir(t *testing.T) {
	var m Manifest
	if got := m.CheckpointDir(); got != "" {
		t.Errorf("CheckpointDir() = %q, want empty when no override is set", got)
	}

	m.Overrides = map[string]string{"trainer.save_checkpoint_path": " ckpts/chartqa "}
	if got, want := m.CheckpointDir(), "ckpts/chartqa"; got != want {
		t.Errorf("CheckpointDir() = %q, want %q", got, want)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Manifest {
		return Manifest{
			Name:      "exp",
			Model:     ModelSpec{Path: "m"},
			Data:      DataSpec{TrainPath: "t.json", MaxPromptLength: 1024},
			Resources: ResourcesSpec{GPUs: 8, Nodes: 1},
			Training:  TrainingSpec{Epochs: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Manifest)
		wantErr error
	}{
		{"valid", func(m *Manifest) {}, nil},
		{"missing name", func(m *Manifest) { m.Name = " " }, ErrMissingField},
		{"missing model path", func(m *Manifest) { m.Model.Path = "" }, ErrMissingField},
		{"missing train path", func(m *Manifest) { m.Data.TrainPath = "" }, ErrMissingField},
		{"zero gpus", func(m *Manifest) { m.Resources.GPUs = 0 }, ErrOutOfRange},
		{"too many gpus", func(m *Manifest) { m.Resources.GPUs = 65 }, ErrOutOfRange},
		{"zero epochs", func(m *Manifest) { m.Training.Epochs = 0 }, ErrOutOfRange},
		{"negative save freq", func(m *Manifest) { m.Training.SaveFreq = -1 }, ErrOutOfRange},
		{"bad env key", func(m *Manifest) { m.Env = map[string]string{"A=B": "x"} }, ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(&m)
			err := m.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
