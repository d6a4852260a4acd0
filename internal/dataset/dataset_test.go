package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// writeFixture creates an annotation file and matching images, returning the
// annotation path and image root.
func writeFixture(t *testing.T, annotations string, imgIDs ...string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	annPath := filepath.Join(dir, "train.json")
	if err := os.WriteFile(annPath, []byte(annotations), 0o644); err != nil {
		t.Fatal(err)
	}
	imageRoot := filepath.Join(dir, "images")
	if err := os.MkdirAll(imageRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, id := range imgIDs {
		if err := os.WriteFile(filepath.Join(imageRoot, id+"_origin.png"), []byte("png"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return annPath, imageRoot
}

func TestPreflight_Clean(t *testing.T) {
	ann := `[
		{"img_id": "02438", "question": "What is the lowest tick?", "answer": 0, "location": [56, 511, 64, 525]},
		{"img_id": "02439", "question": "Which bar is tallest?", "answer": "2019"}
	]`
	annPath, imageRoot := writeFixture(t, ann, "02438", "02439")

	report, err := Preflight(context.Background(), annPath, imageRoot, "_origin.png", 4)
	if err != nil {
		t.Fatalf("Preflight() error = %v", err)
	}
	if !report.OK() {
		t.Errorf("report not OK: %+v", report)
	}
	if report.Records != 2 {
		t.Errorf("Records = %d, want 2", report.Records)
	}
}

func TestPreflight_MissingImage(t *testing.T) {
	ann := `[
		{"img_id": "02438", "question": "q", "answer": 0},
		{"img_id": "99999", "question": "q", "answer": 1}
	]`
	annPath, imageRoot := writeFixture(t, ann, "02438")

	report, err := Preflight(context.Background(), annPath, imageRoot, "_origin.png", 4)
	if err != nil {
		t.Fatalf("Preflight() error = %v", err)
	}
	if report.OK() {
		t.Fatal("report OK, want missing-image problem")
	}
	if len(report.Problems) != 1 {
		t.Fatalf("Problems = %+v, want exactly 1", report.Problems)
	}
	if report.Problems[0].Index != 1 || report.Problems[0].ImgID != "99999" {
		t.Errorf("Problems[0] = %+v, want index 1 img 99999", report.Problems[0])
	}
}

func TestPreflight_DefectiveRecords(t *testing.T) {
	ann := `[
		{"img_id": "", "question": "q", "answer": 0},
		{"img_id": "02438", "question": "  ", "answer": 0},
		{"img_id": "02438", "question": "q"}
	]`
	annPath, imageRoot := writeFixture(t, ann, "02438")

	report, err := Preflight(context.Background(), annPath, imageRoot, "_origin.png", 4)
	if err != nil {
		t.Fatalf("Preflight() error = %v", err)
	}

	reasons := make(map[string]bool)
	for _, p := range report.Problems {
		reasons[p.Reason] = true
	}
	for _, want := range []string{"empty img_id", "empty question", "missing answer"} {
		if !reasons[want] {
			t.Errorf("missing problem %q in %+v", want, report.Problems)
		}
	}
}

func TestPreflight_ProblemCapTruncates(t *testing.T) {
	records := "["
	for i := 0; i < 50; i++ {
		if i > 0 {
			records += ","
		}
		records += fmt.Sprintf(`{"img_id": "missing-%02d", "question": "q", "answer": 1}`, i)
	}
	records += "]"
	annPath, imageRoot := writeFixture(t, records)

	report, err := Preflight(context.Background(), annPath, imageRoot, "_origin.png", 4)
	if err != nil {
		t.Fatalf("Preflight() error = %v", err)
	}
	if len(report.Problems) != maxProblems {
		t.Errorf("len(Problems) = %d, want cap %d", len(report.Problems), maxProblems)
	}
	if !report.Truncated {
		t.Error("Truncated = false, want true")
	}
}

func TestPreflight_MalformedJSON(t *testing.T) {
	annPath, imageRoot := writeFixture(t, `{"img_id": "not-an-array"}`)

	_, err := Preflight(context.Background(), annPath, imageRoot, "_origin.png", 4)
	if !errors.Is(err, ErrMalformedAnnotations) {
		t.Fatalf("Preflight() error = %v, want ErrMalformedAnnotations", err)
	}
}

func TestPreflight_EmptyArray(t *testing.T) {
	annPath, imageRoot := writeFixture(t, `[]`)

	_, err := Preflight(context.Background(), annPath, imageRoot, "_origin.png", 4)
	if !errors.Is(err, ErrEmptyAnnotations) {
		t.Fatalf("Preflight() error = %v, want ErrEmptyAnnotations", err)
	}
}

func TestPreflight_NoImageRootSkipsImageChecks(t *testing.T) {
	ann := `[{"img_id": "02438", "question": "q", "answer": 0}]`
	annPath, _ := writeFixture(t, ann)

	report, err := Preflight(context.Background(), annPath, "", "_origin.png", 4)
	if err != nil {
		t.Fatalf("Preflight() error = %v", err)
	}
	if !report.OK() {
		t.Errorf("report not OK without image root: %+v", report)
	}
}

func writeTemplate(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prompt.jinja")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheckTemplate(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantErr  error
		wantWarn bool
	}{
		{
			name:    "valid",
			content: "{{ content }} Put the answer in \\boxed{}.",
		},
		{
			name:    "valid tight braces",
			content: "{{content}}",
		},
		{
			name:    "empty",
			content: "  \n",
			wantErr: ErrEmptyTemplate,
		},
		{
			name:    "no slot",
			content: "Answer the question.",
			wantErr: ErrNoContentSlot,
		},
		{
			name:     "image token warned",
			content:  "<image>{{ content }}",
			wantWarn: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemplate(t, tt.content)
			report, err := CheckTemplate(path)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("CheckTemplate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("CheckTemplate() error = %v", err)
			}
			if tt.wantWarn != (len(report.Warnings) > 0) {
				t.Errorf("Warnings = %v, wantWarn = %v", report.Warnings, tt.wantWarn)
			}
		})
	}
}

func TestCheckTemplate_MissingFile(t *testing.T) {
	_, err := CheckTemplate(filepath.Join(t.TempDir(), "nope.jinja"))
	if err == nil {
		t.Fatal("CheckTemplate() error = nil, want read error")
	}
}
