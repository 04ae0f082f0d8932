package question

import (
	"errors"
	"strings"
	"time"

	"examportal/internal/examerr"
)

type Type string

const (
	TypeMultipleChoice Type = "MULTIPLE_CHOICE"
	TypeTrueFalse      Type = "TRUE_FALSE"
	TypeShortAnswer    Type = "SHORT_ANSWER"
	TypeEssay          Type = "ESSAY"
)

type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Question is an immutable snapshot of a bank item. Edits produce a new
// value with a bumped Version.
type Question struct {
	ID             int64      `json:"id"`
	Text           string     `json:"question"`
	Type           Type       `json:"type"`
	Options        []string   `json:"options,omitempty"`
	CorrectAnswers []string   `json:"correctAnswers"`
	Points         int        `json:"points"`
	Subject        string     `json:"subject"`
	Difficulty     Difficulty `json:"difficulty"`
	Tags           []string   `json:"tags,omitempty"`
	Explanation    string     `json:"explanation,omitempty"`
	Version        int        `json:"version"`
	CreatedBy      int64      `json:"createdBy,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type Input struct {
	Text           string
	Type           string
	Options        []string
	CorrectAnswers []string
	Points         int
	Subject        string
	Difficulty     string
	Tags           []string
	Explanation    string
	CreatedBy      int64
}

// IsAutoGradable reports whether correctness can be decided without a human.
func (q Question) IsAutoGradable() bool {
	return q.Type == TypeMultipleChoice || q.Type == TypeTrueFalse
}

// New normalizes the input and validates it into a version 1 question.
func New(in Input) (Question, error) {
	q := Question{
		Text:           strings.TrimSpace(in.Text),
		Type:           NormalizeType(in.Type),
		Points:         in.Points,
		Subject:        strings.TrimSpace(in.Subject),
		Difficulty:     NormalizeDifficulty(in.Difficulty),
		Tags:           cleanStrings(in.Tags),
		Explanation:    strings.TrimSpace(in.Explanation),
		Version:        1,
		CreatedBy:      in.CreatedBy,
		CorrectAnswers: cleanStrings(in.CorrectAnswers),
	}
	if q.Difficulty == "" {
		q.Difficulty = DifficultyMedium
	}
	switch q.Type {
	case TypeMultipleChoice:
		q.Options = cleanStrings(in.Options)
	case TypeTrueFalse:
		for i, v := range q.CorrectAnswers {
			q.CorrectAnswers[i] = strings.ToLower(v)
		}
	}
	if err := Validate(q); err != nil {
		return Question{}, err
	}
	return q, nil
}

// Revise validates in against the current question and returns the next version.
func Revise(cur Question, in Input) (Question, error) {
	next, err := New(in)
	if err != nil {
		var ve *examerr.ValidationError
		if errors.As(err, &ve) {
			ve.ID = cur.ID
		}
		return Question{}, err
	}
	next.ID = cur.ID
	next.Version = cur.Version + 1
	next.CreatedBy = cur.CreatedBy
	next.CreatedAt = cur.CreatedAt
	return next, nil
}

func Validate(q Question) error {
	if q.Text == "" {
		return examerr.Validation("question", q.ID, "question", "text is required")
	}
	if q.Points <= 0 {
		return examerr.Validation("question", q.ID, "points", "must be a positive integer")
	}
	switch q.Difficulty {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
	default:
		return examerr.Validation("question", q.ID, "difficulty", "must be EASY, MEDIUM or HARD")
	}

	switch q.Type {
	case TypeMultipleChoice:
		if len(q.Options) < 2 {
			return examerr.Validation("question", q.ID, "options", "at least 2 non-empty options are required")
		}
		if len(q.CorrectAnswers) != 1 {
			return examerr.Validation("question", q.ID, "correctAnswers", "exactly one correct option is required")
		}
		if !contains(q.Options, q.CorrectAnswers[0]) {
			return examerr.Validation("question", q.ID, "correctAnswers", "correct answer must be one of the options")
		}
	case TypeTrueFalse:
		if len(q.CorrectAnswers) != 1 {
			return examerr.Validation("question", q.ID, "correctAnswers", "exactly one of true or false is required")
		}
		if v := q.CorrectAnswers[0]; v != "true" && v != "false" {
			return examerr.Validation("question", q.ID, "correctAnswers", "must be true or false")
		}
	case TypeShortAnswer, TypeEssay:
		if len(q.CorrectAnswers) != 1 {
			return examerr.Validation("question", q.ID, "correctAnswers", "exactly one reference answer is required")
		}
	default:
		return examerr.Validation("question", q.ID, "type", "unsupported question type '"+string(q.Type)+"'")
	}
	return nil
}

func NormalizeType(v string) Type {
	v = strings.ToUpper(strings.TrimSpace(v))
	v = strings.ReplaceAll(v, "-", "_")
	v = strings.ReplaceAll(v, " ", "_")
	return Type(v)
}

func NormalizeDifficulty(v string) Difficulty {
	return Difficulty(strings.ToUpper(strings.TrimSpace(v)))
}

func cleanStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
