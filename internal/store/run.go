// Package store persists the run ledger: a sqlite index of launches plus an
// append-only JSONL event log per run.
package store

import "time"

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether a run in this status is finished.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Run is one launch of the trainer.
type Run struct {
	// ID is the run UUID.
	ID string `json:"id"`
	// Name is the experiment name.
	Name string `json:"name"`
	// ManifestPath is the manifest the run was launched from.
	ManifestPath string `json:"manifest_path"`
	// ModelPath is the model identifier at launch time.
	ModelPath string `json:"model_path"`
	// GPUs is the per-node device count.
	GPUs int `json:"gpus"`
	// Epochs is the configured epoch count.
	Epochs int `json:"epochs"`

	Status   Status `json:"status"`
	PID      int    `json:"pid,omitempty"`
	ExitCode int    `json:"exit_code"`
	LogPath  string `json:"log_path,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ShortID returns the 8-char ID prefix used in filenames and listings.
func (r Run) ShortID() string {
	if len(r.ID) > 8 {
		return r.ID[:8]
	}
	return r.ID
}

// Event is one entry in a run's event log.
type Event struct {
	RunID string    `json:"run_id"`
	Time  time.Time `json:"time"`
	// Kind is one of: created, started, progress, checkpoint, finished.
	Kind string `json:"kind"`

	// Progress fields, set for kind=progress.
	Step   int     `json:"step,omitempty"`
	Epoch  int     `json:"epoch,omitempty"`
	Reward float64 `json:"reward,omitempty"`

	// Message carries checkpoint paths and finish summaries.
	Message string `json:"message,omitempty"`
}

// Event kinds.
const (
	EventCreated    = "created"
	EventStarted    = "started"
	EventProgress   = "progress"
	EventCheckpoint = "checkpoint"
	EventFinished   = "finished"
)
