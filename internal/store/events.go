package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// eventsPath returns the JSONL event log path for a run.
func (s *Store) eventsPath(run *Run) string {
	return filepath.Join(s.baseDir, RunsDir, s.runFileBase(run)+".events.jsonl")
}

// AppendEvent appends an event to the run's JSONL log. The timestamp is
// assigned here when unset.
func (s *Store) AppendEvent(event Event) error {
	run, err := s.Get(event.RunID)
	if err != nil {
		return err
	}
	if event.Time.IsZero() {
		event.Time = s.now().UTC()
	}
	return appendJSONL(s.eventsPath(run), event)
}

// Events returns all events for a run, oldest first.
func (s *Store) Events(id string) (events []Event, err error) {
	run, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(s.eventsPath(run))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue // Skip malformed lines
		}
		events = append(events, event)
	}

	return events, scanner.Err()
}

// appendJSONL appends a JSON line to a file with an fsync, so a crashed
// launcher never leaves a torn tail.
func appendJSONL(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // sync already called, close best-effort
	}()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write line: %w", err)
	}

	return f.Sync()
}
