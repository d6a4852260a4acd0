package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseProgress(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Progress
		ok   bool
	}{
		{
			name: "full line",
			line: "step:15 epoch:1 reward:0.432 kl:0.01",
			want: Progress{Step: 15, Epoch: 1, Reward: 0.432, HasReward: true},
			ok:   true,
		},
		{
			name: "step only",
			line: "training step:3",
			want: Progress{Step: 3},
			ok:   true,
		},
		{
			name: "negative reward",
			line: "step:7 reward:-0.25",
			want: Progress{Step: 7, Reward: -0.25, HasReward: true},
			ok:   true,
		},
		{
			name: "zero reward still flagged",
			line: "step:9 reward:0",
			want: Progress{Step: 9, Reward: 0, HasReward: true},
			ok:   true,
		},
		{
			name: "no step token",
			line: "loading checkpoint shards",
			ok:   false,
		},
		{
			name: "step without number",
			line: "next step: unknown",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseProgress(tt.line)
			if ok != tt.ok {
				t.Fatalf("ParseProgress(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("ParseProgress(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

// collector gathers watch callbacks under a lock.
type collector struct {
	mu          sync.Mutex
	progress    []Progress
	checkpoints []string
}

func (c *collector) callbacks() Callbacks {
	return Callbacks{
		OnProgress: func(p Progress) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.progress = append(c.progress, p)
		},
		OnCheckpoint: func(name string) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.checkpoints = append(c.checkpoints, name)
		},
	}
}

func (c *collector) snapshot() ([]Progress, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Progress(nil), c.progress...), append([]string(nil), c.checkpoints...)
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestWatch_TailsProgress(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "run.log")

	var c collector
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(nil, 50*time.Millisecond).Watch(ctx, logPath, "", c.callbacks())
	}()

	// Log appears after the watch starts, like a real launch.
	time.Sleep(20 * time.Millisecond)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("loading model\nstep:1 epoch:1 reward:0.1\n"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("step:2 epoch:1 reward:0.2\n"); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		progress, _ := c.snapshot()
		return len(progress) >= 2
	})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	progress, _ := c.snapshot()
	if progress[0].Step != 1 || progress[1].Step != 2 {
		t.Errorf("progress = %+v, want steps 1,2", progress)
	}
}

func TestWatch_PartialLinesHeldBack(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "run.log")

	var c collector
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(nil, 20*time.Millisecond).Watch(ctx, logPath, "", c.callbacks())
	}()

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	// Write a progress line in two chunks with no trailing newline yet.
	if _, err := f.WriteString("step:4 epo"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)

	progress, _ := c.snapshot()
	if len(progress) != 0 {
		t.Errorf("partial line dispatched early: %+v", progress)
	}

	if _, err := f.WriteString("ch:2 reward:0.5\n"); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		progress, _ := c.snapshot()
		return len(progress) == 1
	})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	progress, _ = c.snapshot()
	want := Progress{Step: 4, Epoch: 2, Reward: 0.5, HasReward: true}
	if progress[0] != want {
		t.Errorf("progress[0] = %+v, want %+v", progress[0], want)
	}
}

func TestWatch_Checkpoints(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "run.log")
	ckptDir := filepath.Join(dir, "checkpoints")

	var c collector
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(nil, 20*time.Millisecond).Watch(ctx, logPath, ckptDir, c.callbacks())
	}()

	time.Sleep(20 * time.Millisecond)
	if err := os.MkdirAll(filepath.Join(ckptDir, "global_step_5"), 0o755); err != nil {
		t.Fatal(err)
	}
	// Unrelated entries are ignored.
	if err := os.WriteFile(filepath.Join(ckptDir, "latest.txt"), []byte("5"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		_, ckpts := c.snapshot()
		return len(ckpts) >= 1
	})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	_, ckpts := c.snapshot()
	if len(ckpts) != 1 || ckpts[0] != "global_step_5" {
		t.Errorf("checkpoints = %v, want [global_step_5]", ckpts)
	}
}

func TestWatch_DoesNotCreateCheckpointDir(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "run.log")
	ckptDir := filepath.Join(dir, "checkpoints")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(nil, 20*time.Millisecond).Watch(ctx, logPath, ckptDir, Callbacks{})
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// The trainer owns checkpoint dir creation; the watcher only observes.
	if _, err := os.Stat(ckptDir); !os.IsNotExist(err) {
		t.Errorf("Stat(%s) err = %v, want not-exist", ckptDir, err)
	}
}

func TestWatch_CancelBeforeLogExists(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "never.log")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := New(nil, time.Second).Watch(ctx, logPath, "", Callbacks{}); err != nil {
		t.Fatalf("Watch() error = %v, want nil on cancellation", err)
	}
}
