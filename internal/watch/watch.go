// Package watch follows a running trainer from the outside: it tails the
// run log for progress lines and watches the checkpoint directory so the
// run ledger stays current without touching the trainer itself.
package watch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Progress is one parsed trainer progress line.
type Progress struct {
	Step   int
	Epoch  int
	Reward float64
	// HasReward distinguishes reward 0.0 from no reward on the line.
	HasReward bool
}

// Callbacks receive watch events. Nil callbacks are skipped.
type Callbacks struct {
	OnProgress   func(Progress)
	OnCheckpoint func(name string)
}

// Watcher follows one run.
type Watcher struct {
	log  *zap.Logger
	poll time.Duration
}

// New creates a Watcher. poll is the fallback cadence used when fsnotify
// stays quiet; zero means 2s. A nil logger disables logging.
func New(log *zap.Logger, poll time.Duration) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Watcher{log: log, poll: poll}
}

// Watch tails logPath and observes ckptDir (when non-empty) until the
// context is canceled. The log file may not exist yet when Watch starts;
// it is picked up on creation. Returns nil on cancellation.
func (w *Watcher) Watch(ctx context.Context, logPath, ckptDir string, cb Callbacks) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = fw.Close() //nolint:errcheck // shutting down
	}()

	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	if err := fw.Add(logDir); err != nil {
		return fmt.Errorf("watch %s: %w", logDir, err)
	}
	// The checkpoint dir is created by the trainer on its first save, so it
	// may not exist yet; the poll ticker retries until it does.
	ckptWatched := false
	addCkptWatch := func() {
		if ckptDir == "" || ckptWatched {
			return
		}
		if _, err := os.Stat(ckptDir); err != nil {
			return
		}
		if err := fw.Add(ckptDir); err != nil {
			w.log.Warn("watch checkpoint dir", zap.Error(err))
			return
		}
		ckptWatched = true
	}
	addCkptWatch()

	tail := &tailState{path: logPath}
	seen := make(map[string]bool)

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	// Catch up on anything written before the watch started.
	w.drain(tail, cb)
	w.scanCheckpoints(ckptDir, seen, cb)

	for {
		select {
		case <-ctx.Done():
			w.drain(tail, cb)
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Name == logPath && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.drain(tail, cb)
			}
			if ckptDir != "" && filepath.Dir(event.Name) == ckptDir && event.Op&fsnotify.Create != 0 {
				w.scanCheckpoints(ckptDir, seen, cb)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		case <-ticker.C:
			// Editors and network filesystems can swallow events; the poll
			// keeps the tail honest.
			addCkptWatch()
			w.drain(tail, cb)
			w.scanCheckpoints(ckptDir, seen, cb)
		}
	}
}

// tailState tracks the read position and any partial trailing line.
type tailState struct {
	path    string
	offset  int64
	partial string
}

// drain reads newly appended bytes and dispatches complete progress lines.
func (w *Watcher) drain(tail *tailState, cb Callbacks) {
	f, err := os.Open(tail.path)
	if err != nil {
		return // not created yet
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only
	}()

	info, err := f.Stat()
	if err != nil {
		return
	}
	if info.Size() < tail.offset {
		// Truncated or rotated; start over.
		tail.offset = 0
		tail.partial = ""
	}
	if info.Size() == tail.offset {
		return
	}

	if _, err := f.Seek(tail.offset, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return
	}
	tail.offset += int64(len(data))

	text := tail.partial + string(data)
	lines := strings.Split(text, "\n")
	tail.partial = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		if p, ok := ParseProgress(line); ok {
			w.log.Debug("progress", zap.Int("step", p.Step), zap.Float64("reward", p.Reward))
			if cb.OnProgress != nil {
				cb.OnProgress(p)
			}
		}
	}
}

// scanCheckpoints reports unseen global_step_* entries, sorted by name.
func (w *Watcher) scanCheckpoints(ckptDir string, seen map[string]bool, cb Callbacks) {
	if ckptDir == "" {
		return
	}
	entries, err := os.ReadDir(ckptDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "global_step_") || seen[name] {
			continue
		}
		seen[name] = true
		w.log.Info("checkpoint", zap.String("name", name))
		if cb.OnCheckpoint != nil {
			cb.OnCheckpoint(name)
		}
	}
}

var (
	stepPattern   = regexp.MustCompile(`\bstep:(\d+)\b`)
	epochPattern  = regexp.MustCompile(`\bepoch:(\d+)\b`)
	rewardPattern = regexp.MustCompile(`\breward:(-?\d+(?:\.\d+)?)\b`)
)

// ParseProgress extracts step/epoch/reward tokens from a trainer console
// line. A line without a step token is not progress.
func ParseProgress(line string) (Progress, bool) {
	m := stepPattern.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}
	p := Progress{}
	p.Step, _ = strconv.Atoi(m[1])

	if m := epochPattern.FindStringSubmatch(line); m != nil {
		p.Epoch, _ = strconv.Atoi(m[1])
	}
	if m := rewardPattern.FindStringSubmatch(line); m != nil {
		p.Reward, _ = strconv.ParseFloat(m[1], 64)
		p.HasReward = true
	}
	return p, true
}
