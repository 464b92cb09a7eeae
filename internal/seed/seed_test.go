package seed

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
)

func TestDemoIsValidAndStable(t *testing.T) {
	a, b := Demo(), Demo()
	if err := a.Validate(); err != nil {
		t.Fatal(err)
	}
	if a.Exam.ID != b.Exam.ID || a.Questions[3].ID != b.Questions[3].ID {
		t.Error("demo ids change between calls")
	}
	if len(a.Exam.Questions) != 10 || a.Exam.DurationSeconds != 600 || a.Exam.PassingScorePercent != 50 {
		t.Errorf("demo exam = %+v", a.Exam)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exam.json")
	raw, _ := json.Marshal(Demo())
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}

	b, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if b.Exam.Title != "Demo: Arithmetic" || len(b.Questions) != 10 {
		t.Errorf("loaded %+v", b.Exam)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Bundle)
		want string
	}{
		{"unknown ref", func(b *Bundle) {
			b.Exam.Questions = append(b.Exam.Questions, model.QuestionRef{QuestionID: uuid.New()})
		}, "unknown question"},
		{"duplicate ref", func(b *Bundle) {
			b.Exam.Questions = append(b.Exam.Questions, b.Exam.Questions[0])
		}, "appears twice"},
		{"no correct option", func(b *Bundle) {
			for i := range b.Questions[0].Options {
				b.Questions[0].Options[i].IsCorrect = false
			}
		}, "no correct option"},
		{"written with options", func(b *Bundle) {
			b.Questions[1].Type = model.QuestionTypeWritten
		}, "take no options"},
		{"bad passing score", func(b *Bundle) { b.Exam.PassingScorePercent = 120 }, "passing_score_percent"},
		{"duplicate option", func(b *Bundle) { b.Questions[2].Options[1].ID = "a" }, "unique"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Demo()
			tt.edit(&b)
			err := b.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want %q", err, tt.want)
			}
		})
	}
}
