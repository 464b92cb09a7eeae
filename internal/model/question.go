package model

import (
	"github.com/google/uuid"
)

type QuestionType string

const (
	QuestionTypeSingleChoice QuestionType = "SINGLE_CHOICE"
	QuestionTypeTrueFalse    QuestionType = "TRUE_FALSE"
	QuestionTypeWritten      QuestionType = "WRITTEN"
)

// IsAutoScored reports whether answers of this type are scored by the engine.
func (t QuestionType) IsAutoScored() bool {
	return t == QuestionTypeSingleChoice || t == QuestionTypeTrueFalse
}

// QuestionDefinition is a bank question with its answer key.
type QuestionDefinition struct {
	ID                   uuid.UUID    `json:"id"`
	Type                 QuestionType `json:"type"`
	Text                 string       `json:"text"`
	Options              []Option     `json:"options"`
	Points               int          `json:"points"`
	EstimatedTimeSeconds int          `json:"estimated_time_seconds"`
}

// Option is an answer option. IsCorrect is server-side only.
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// CorrectOptionIDs returns the ids of the options marked correct.
func (q QuestionDefinition) CorrectOptionIDs() []string {
	var ids []string
	for _, o := range q.Options {
		if o.IsCorrect {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// HasOption reports whether id names one of the question's options.
func (q QuestionDefinition) HasOption(id string) bool {
	for _, o := range q.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

// OptionForStudent is an option without the answer key.
type OptionForStudent struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID       uuid.UUID          `json:"id"`
	Type     QuestionType       `json:"type"`
	Text     string             `json:"text"`
	Options  []OptionForStudent `json:"options,omitempty"`
	Points   int                `json:"points"`
	OrderNum int                `json:"order_num"`
}
