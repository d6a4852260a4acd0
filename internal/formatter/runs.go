// Package formatter renders run listings and reports in the output formats
// the CLI supports: an aligned table for humans, JSON and YAML for scripts.
package formatter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/verlops/verlctl/internal/store"
)

// Output formats accepted by the CLI.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// ValidFormat reports whether name is a supported output format.
func ValidFormat(name string) bool {
	switch name {
	case FormatTable, FormatJSON, FormatYAML:
		return true
	}
	return false
}

// Runs writes a run listing in the requested format.
func Runs(w io.Writer, format string, runs []store.Run) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, runs)
	case FormatYAML:
		return writeYAML(w, runs)
	case FormatTable:
		return runsTable(w, runs)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Events writes a run's event log in the requested format.
func Events(w io.Writer, format string, events []store.Event) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, events)
	case FormatYAML:
		return writeYAML(w, events)
	case FormatTable:
		return eventsTable(w, events)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Object writes any value as JSON or YAML; table output is the caller's
// responsibility for one-off shapes.
func Object(w io.Writer, format string, v any) error {
	switch format {
	case FormatJSON, FormatTable:
		return writeJSON(w, v)
	case FormatYAML:
		return writeYAML(w, v)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Table cell limits. Experiment names and checkpoint messages are the only
// unbounded values; everything else is fixed width by construction.
const (
	maxNameWidth    = 32
	maxMessageWidth = 60
)

func runsTable(w io.Writer, runs []store.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	writeHeader(tw, "ID", "NAME", "STATUS", "GPUS", "EPOCHS", "STARTED", "DURATION", "EXIT")
	for _, r := range runs {
		//nolint:errcheck // tabwriter buffers; Flush reports the write error
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			r.ShortID(),
			truncate(r.Name, maxNameWidth),
			r.Status,
			r.GPUs,
			r.Epochs,
			formatTime(r.StartedAt),
			formatDuration(r),
			formatExit(r),
		)
	}
	return tw.Flush()
}

func eventsTable(w io.Writer, events []store.Event) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	writeHeader(tw, "TIME", "KIND", "STEP", "EPOCH", "REWARD", "MESSAGE")
	for _, e := range events {
		step, epoch, reward := "", "", ""
		if e.Kind == store.EventProgress {
			step = fmt.Sprintf("%d", e.Step)
			epoch = fmt.Sprintf("%d", e.Epoch)
			reward = fmt.Sprintf("%.4f", e.Reward)
		}
		//nolint:errcheck // tabwriter buffers; Flush reports the write error
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Time.Local().Format("15:04:05"), e.Kind, step, epoch, reward,
			truncate(e.Message, maxMessageWidth),
		)
	}
	return tw.Flush()
}

// writeHeader emits the column row and a dashed separator. An empty table
// still renders its header.
func writeHeader(tw io.Writer, headers ...string) {
	dashed := make([]string, len(headers))
	for i, h := range headers {
		dashed[i] = strings.Repeat("-", len(h))
	}
	//nolint:errcheck // tabwriter buffers; Flush reports the write error
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	//nolint:errcheck // tabwriter buffers; Flush reports the write error
	fmt.Fprintln(tw, strings.Join(dashed, "\t"))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatDuration(r store.Run) string {
	if r.StartedAt == nil {
		return "-"
	}
	end := time.Now()
	if r.FinishedAt != nil {
		end = *r.FinishedAt
	}
	return end.Sub(*r.StartedAt).Round(time.Second).String()
}

func formatExit(r store.Run) string {
	if !r.Status.Terminal() || r.ExitCode < 0 {
		return "-"
	}
	return fmt.Sprintf("%d", r.ExitCode)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	defer func() {
		_ = enc.Close() //nolint:errcheck // flushed by Encode
	}()
	return enc.Encode(v)
}
