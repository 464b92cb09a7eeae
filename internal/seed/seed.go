// Package seed loads exam definitions into a store: the built-in demo exam or a
// JSON bundle from disk.
package seed

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// Bundle is an exam together with the bank questions it references.
type Bundle struct {
	Exam      model.ExamDefinition       `json:"exam"`
	Questions []model.QuestionDefinition `json:"questions"`
}

// demoNamespace keeps demo ids stable so re-seeding overwrites instead of duplicating.
var demoNamespace = uuid.MustParse("6f1d3c1e-5c2a-4f57-9a43-0c7e2b1d9e10")

// DemoID derives a stable id for a demo entity.
func DemoID(name string) uuid.UUID {
	return uuid.NewSHA1(demoNamespace, []byte(name))
}

// Demo returns a published ten-question arithmetic exam: one point per question,
// ten minutes, 50% to pass, a single attempt. Option "b" is always the right answer.
func Demo() Bundle {
	b := Bundle{
		Exam: model.ExamDefinition{
			ID:                  DemoID("exam"),
			Title:               "Demo: Arithmetic",
			Status:              model.ExamStatusPublished,
			DurationSeconds:     600,
			PassingScorePercent: 50,
			MaxAttempts:         1,
		},
	}
	for i := 1; i <= 10; i++ {
		q := model.QuestionDefinition{
			ID:     DemoID(fmt.Sprintf("question-%d", i)),
			Type:   model.QuestionTypeSingleChoice,
			Text:   fmt.Sprintf("%d + %d = ?", i, i),
			Points: 1,
			Options: []model.Option{
				{ID: "a", Text: fmt.Sprint(2*i - 1)},
				{ID: "b", Text: fmt.Sprint(2 * i), IsCorrect: true},
				{ID: "c", Text: fmt.Sprint(2*i + 1)},
				{ID: "d", Text: fmt.Sprint(i * i * 3)},
			},
			EstimatedTimeSeconds: 30,
		}
		b.Questions = append(b.Questions, q)
		b.Exam.Questions = append(b.Exam.Questions, model.QuestionRef{QuestionID: q.ID, Points: 1, Order: i})
	}
	return b
}

// LoadFile reads and validates a JSON bundle.
func LoadFile(path string) (Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, fmt.Errorf("read seed file: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return Bundle{}, fmt.Errorf("decode seed file: %w", err)
	}
	if err := b.Validate(); err != nil {
		return Bundle{}, fmt.Errorf("seed file %s: %w", path, err)
	}
	return b, nil
}

// Validate checks the bundle is internally consistent and scorable.
func (b Bundle) Validate() error {
	var errs []error
	e := b.Exam

	if e.ID == uuid.Nil {
		errs = append(errs, errors.New("exam id is required"))
	}
	if e.Title == "" {
		errs = append(errs, errors.New("exam title is required"))
	}
	if e.DurationSeconds < 0 {
		errs = append(errs, errors.New("duration_seconds must not be negative"))
	}
	if e.PassingScorePercent < 0 || e.PassingScorePercent > 100 {
		errs = append(errs, errors.New("passing_score_percent must be within 0..100"))
	}
	if e.MaxAttempts < 0 {
		errs = append(errs, errors.New("max_attempts must not be negative"))
	}
	if e.AvailableFrom != nil && e.AvailableUntil != nil && !e.AvailableFrom.Before(*e.AvailableUntil) {
		errs = append(errs, errors.New("available_from must be before available_until"))
	}

	bank := make(map[uuid.UUID]model.QuestionDefinition, len(b.Questions))
	for _, q := range b.Questions {
		if err := validateQuestion(q); err != nil {
			errs = append(errs, err)
		}
		bank[q.ID] = q
	}

	seen := make(map[uuid.UUID]bool, len(e.Questions))
	for _, ref := range e.Questions {
		if _, ok := bank[ref.QuestionID]; !ok {
			errs = append(errs, fmt.Errorf("exam references unknown question %s", ref.QuestionID))
		}
		if seen[ref.QuestionID] {
			errs = append(errs, fmt.Errorf("question %s appears twice", ref.QuestionID))
		}
		seen[ref.QuestionID] = true
	}
	return errors.Join(errs...)
}

func validateQuestion(q model.QuestionDefinition) error {
	if q.ID == uuid.Nil {
		return errors.New("question id is required")
	}
	if q.Points < 0 {
		return fmt.Errorf("question %s: points must not be negative", q.ID)
	}

	switch q.Type {
	case model.QuestionTypeWritten:
		if len(q.Options) > 0 {
			return fmt.Errorf("question %s: written questions take no options", q.ID)
		}
		return nil
	case model.QuestionTypeSingleChoice, model.QuestionTypeTrueFalse:
	default:
		return fmt.Errorf("question %s: unknown type %q", q.ID, q.Type)
	}

	ids := make(map[string]bool, len(q.Options))
	for _, o := range q.Options {
		if o.ID == "" || ids[o.ID] {
			return fmt.Errorf("question %s: option ids must be unique and non-empty", q.ID)
		}
		ids[o.ID] = true
	}
	if len(q.CorrectOptionIDs()) == 0 {
		return fmt.Errorf("question %s: no correct option", q.ID)
	}
	if q.Type == model.QuestionTypeTrueFalse && len(q.Options) != 2 {
		return fmt.Errorf("question %s: true/false questions need exactly two options", q.ID)
	}
	return nil
}
