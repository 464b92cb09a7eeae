// Package scoring computes attempt scores. Everything here is pure: the same
// attempt and definitions always produce the same result.
package scoring

import (
	"sort"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// Score grades every question of exam against the attempt's answers.
// Questions missing from questions are treated as unanswerable and earn nothing.
func Score(attempt *model.Attempt, exam *model.ExamDefinition, questions map[uuid.UUID]model.QuestionDefinition) model.ScoreResult {
	res := model.ScoreResult{
		Breakdown: make([]model.QuestionScore, 0, len(exam.Questions)),
	}

	for _, ref := range exam.Questions {
		q, ok := questions[ref.QuestionID]
		possible := float64(ref.Points)
		if possible <= 0 && ok {
			possible = float64(q.Points)
		}
		res.MaxScore += possible

		qs := model.QuestionScore{QuestionID: ref.QuestionID, Possible: possible}

		switch {
		case !ok:
		case !q.Type.IsAutoScored():
			qs.RequiresManualGrading = true
			res.RequiresManualGrading = true
		default:
			ans := attempt.Answers[ref.QuestionID]
			correct := SameSet(ans.SelectedOptionIDs, q.CorrectOptionIDs())
			qs.Correct = &correct
			if correct {
				qs.Earned = possible
				res.Score += possible
			}
		}
		res.Breakdown = append(res.Breakdown, qs)
	}

	if res.MaxScore > 0 {
		res.Percentage = res.Score / res.MaxScore * 100
	}
	res.Passed = res.Percentage >= exam.PassingScorePercent
	return res
}

// SameSet reports whether a and b hold the same ids, ignoring order and duplicates.
// An empty selection never matches.
func SameSet(a, b []string) bool {
	x, y := normalize(a), normalize(b)
	if len(x) == 0 || len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func normalize(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
