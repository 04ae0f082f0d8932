package exam

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strings"

	"examportal/internal/question"
)

const (
	ReasonCorrect      = "correct"
	ReasonWrong        = "wrong"
	ReasonUnanswered   = "unanswered"
	ReasonManualReview = "manual_review"
	ReasonGraded       = "graded"
)

// Answer is a submitted value. Single-value question types use one element.
type Answer []string

// UnmarshalJSON accepts either a JSON string or an array of strings.
func (a *Answer) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "null" {
		*a = nil
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Answer{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return errors.New("answer must be a string or an array of strings")
	}
	*a = Answer(list)
	return nil
}

// Values returns the trimmed, non-empty, de-duplicated entries in input order.
func (a Answer) Values() []string {
	seen := make(map[string]struct{}, len(a))
	out := make([]string, 0, len(a))
	for _, v := range a {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (a Answer) IsEmpty() bool {
	return len(a.Values()) == 0
}

// exactValues returns the non-blank entries as submitted, without trimming.
func (a Answer) exactValues() []string {
	seen := make(map[string]struct{}, len(a))
	out := make([]string, 0, len(a))
	for _, v := range a {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// QuestionResult is the scored state of one question. For manual-review
// questions EarnedPoints stays 0 until a grader assigns a score;
// SuggestedPoints carries the automatic short-answer match meanwhile.
type QuestionResult struct {
	QuestionID           int64   `json:"questionId"`
	EarnedPoints         float64 `json:"earnedPoints"`
	SuggestedPoints      float64 `json:"suggestedPoints,omitempty"`
	MaxPoints            int     `json:"maxPoints"`
	Answered             bool    `json:"answered"`
	IsCorrect            *bool   `json:"isCorrect,omitempty"`
	RequiresManualReview bool    `json:"requiresManualReview"`
	ManuallyGraded       bool    `json:"manuallyGraded,omitempty"`
	Reason               string  `json:"reason"`
}

// GradeAnswer scores one answer against a question worth points.
func GradeAnswer(q question.Question, points int, ans Answer) QuestionResult {
	if points < 0 {
		points = 0
	}
	res := QuestionResult{QuestionID: q.ID, MaxPoints: points}
	values := ans.Values()
	res.Answered = len(values) > 0

	switch q.Type {
	case question.TypeEssay:
		res.RequiresManualReview = true
		res.Reason = ReasonManualReview
		return res
	case question.TypeShortAnswer:
		res.RequiresManualReview = true
	}

	if !res.Answered {
		res.Reason = ReasonUnanswered
		return res
	}

	correct := false
	switch q.Type {
	case question.TypeMultipleChoice:
		exact := ans.exactValues()
		correct = len(exact) == 1 && len(q.CorrectAnswers) == 1 && exact[0] == q.CorrectAnswers[0]
	case question.TypeTrueFalse:
		correct = len(values) == 1 && len(q.CorrectAnswers) == 1 && strings.EqualFold(values[0], q.CorrectAnswers[0])
	case question.TypeShortAnswer:
		correct = len(values) == 1 && len(q.CorrectAnswers) == 1 &&
			strings.EqualFold(values[0], strings.TrimSpace(q.CorrectAnswers[0]))
	}

	res.IsCorrect = boolPtr(correct)
	if !correct {
		res.Reason = ReasonWrong
		return res
	}
	res.Reason = ReasonCorrect
	if res.RequiresManualReview {
		res.SuggestedPoints = float64(points)
	} else {
		res.EarnedPoints = float64(points)
	}
	return res
}

// GradeAll scores every exam question against answers, keyed by question id.
func GradeAll(e Exam, answers map[int64]Answer) map[int64]QuestionResult {
	out := make(map[int64]QuestionResult, len(e.Questions))
	for _, eq := range e.Questions {
		out[eq.Question.ID] = GradeAnswer(eq.Question, eq.EffectivePoints(), answers[eq.Question.ID])
	}
	return out
}

// AggregateAttemptScore converts earned points into a percentage in
// [0,100], rounded half away from zero. It is 0 when maxScore is not positive.
func AggregateAttemptScore(results []QuestionResult, maxScore int) int {
	if maxScore <= 0 {
		return 0
	}
	earned := 0.0
	for _, r := range results {
		if math.IsNaN(r.EarnedPoints) || r.EarnedPoints <= 0 {
			continue
		}
		earned += r.EarnedPoints
	}
	pct := int(math.Round(earned / float64(maxScore) * 100))
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// sortedResults returns results ordered by question id so aggregation and
// serialization are deterministic.
func sortedResults(m map[int64]QuestionResult) []QuestionResult {
	out := make([]QuestionResult, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out
}

func hasManualReview(m map[int64]QuestionResult) bool {
	for _, r := range m {
		if r.RequiresManualReview {
			return true
		}
	}
	return false
}

func boolPtr(v bool) *bool {
	return &v
}
