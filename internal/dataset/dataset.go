// Package dataset validates annotation files and prompt templates before a
// launch, so a missing image fails in seconds instead of minutes into a
// multi-GPU run. The formats mirror what the trainer's dataset loader
// consumes: a JSON array of {img_id, question, answer, location} records,
// images named <img_id><suffix> under an image root, and a jinja template
// that renders the question into its "content" slot.
package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/verlops/verlctl/internal/worker"
)

// Annotation is one record of the annotation file. Answer is a scalar of
// unspecified type (numbers and strings both appear in real files); the
// loader stringifies it, so verlctl only checks presence.
type Annotation struct {
	ImgID    string          `json:"img_id"`
	Question string          `json:"question"`
	Answer   json.RawMessage `json:"answer"`
	Location []float64       `json:"location,omitempty"`
}

// ImagePath resolves the image file for this record.
func (a Annotation) ImagePath(imageRoot, suffix string) string {
	return filepath.Join(imageRoot, a.ImgID+suffix)
}

// Problem describes one defective record.
type Problem struct {
	Index  int    `json:"index"`
	ImgID  string `json:"img_id"`
	Reason string `json:"reason"`
}

// Report summarizes a preflight pass over one annotation file.
type Report struct {
	Path     string    `json:"path"`
	Records  int       `json:"records"`
	Problems []Problem `json:"problems,omitempty"`
	// Truncated is set when more problems existed than the report carries.
	Truncated bool `json:"truncated,omitempty"`
}

// OK reports whether the file passed.
func (r Report) OK() bool {
	return len(r.Problems) == 0 && !r.Truncated
}

// maxProblems bounds report size; a wrong image root would otherwise
// produce one problem per record.
const maxProblems = 20

// Preflight parses an annotation file and checks every record: non-empty
// img_id and question, present answer, and an existing image file. Image
// checks fan out across a worker pool.
func Preflight(ctx context.Context, path, imageRoot, suffix string, workers int) (Report, error) {
	report := Report{Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		return report, fmt.Errorf("read annotations: %w", err)
	}

	var records []Annotation
	if err := json.Unmarshal(data, &records); err != nil {
		return report, fmt.Errorf("%w: %s: %v", ErrMalformedAnnotations, path, err)
	}
	report.Records = len(records)
	if len(records) == 0 {
		return report, fmt.Errorf("%w: %s", ErrEmptyAnnotations, path)
	}

	problems := make([]Problem, 0)
	add := func(p Problem) {
		if len(problems) < maxProblems {
			problems = append(problems, p)
			return
		}
		report.Truncated = true
	}

	for i, rec := range records {
		if strings.TrimSpace(rec.ImgID) == "" {
			add(Problem{Index: i, Reason: "empty img_id"})
		}
		if strings.TrimSpace(rec.Question) == "" {
			add(Problem{Index: i, ImgID: rec.ImgID, Reason: "empty question"})
		}
		if len(rec.Answer) == 0 || string(rec.Answer) == "null" {
			add(Problem{Index: i, ImgID: rec.ImgID, Reason: "missing answer"})
		}
	}

	if imageRoot != "" {
		pool := worker.NewPool[Annotation, struct{}](workers)
		results := pool.Process(ctx, records, func(_ context.Context, rec Annotation) (struct{}, error) {
			if rec.ImgID == "" {
				return struct{}{}, nil // already reported above
			}
			p := rec.ImagePath(imageRoot, suffix)
			if _, err := os.Stat(p); err != nil {
				return struct{}{}, fmt.Errorf("image %s: %w", p, err)
			}
			return struct{}{}, nil
		})
		for _, res := range results {
			if res.Err != nil {
				add(Problem{Index: res.Index, ImgID: records[res.Index].ImgID, Reason: res.Err.Error()})
			}
		}
	}

	report.Problems = problems
	return report, nil
}

// contentSlot matches the jinja placeholder the trainer renders the question
// into, with optional surrounding whitespace: {{ content }}.
var contentSlot = regexp.MustCompile(`\{\{\s*content\s*\}\}`)

// TemplateReport summarizes a format-prompt check.
type TemplateReport struct {
	Path     string   `json:"path"`
	Warnings []string `json:"warnings,omitempty"`
}

// CheckTemplate validates a format-prompt template: it must exist, be
// non-empty, and reference the content slot. A template containing the
// <image> token is flagged because the dataset loader prepends that token
// itself; doubling it shifts every image position.
func CheckTemplate(path string) (TemplateReport, error) {
	report := TemplateReport{Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		return report, fmt.Errorf("read format prompt: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return report, fmt.Errorf("%w: %s", ErrEmptyTemplate, path)
	}
	if !contentSlot.MatchString(text) {
		return report, fmt.Errorf("%w: %s has no {{ content }} slot", ErrNoContentSlot, path)
	}
	if strings.Contains(text, "<image>") {
		report.Warnings = append(report.Warnings, "template contains <image>; the dataset loader prepends this token itself")
	}

	return report, nil
}
