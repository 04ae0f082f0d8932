package exam

import (
	"encoding/json"
	"strings"
	"time"

	"examportal/internal/examerr"
	"examportal/internal/question"
)

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISHED"
	StatusCompleted Status = "COMPLETED"
	StatusArchived  Status = "ARCHIVED"
)

// ExamQuestion is a question snapshot as included in an exam. Points
// overrides the question's own points when positive.
type ExamQuestion struct {
	Question question.Question `json:"question"`
	Points   int               `json:"points,omitempty"`
}

func (eq ExamQuestion) EffectivePoints() int {
	if eq.Points > 0 {
		return eq.Points
	}
	return eq.Question.Points
}

type Exam struct {
	ID                 int64          `json:"id"`
	Title              string         `json:"title"`
	Subject            string         `json:"subject"`
	Description        string         `json:"description"`
	Questions          []ExamQuestion `json:"questions"`
	DurationMinutes    int            `json:"duration"`
	StartTime          time.Time      `json:"startTime"`
	EndTime            time.Time      `json:"endTime"`
	AllowedAttempts    int            `json:"allowedAttempts"`
	RandomizeQuestions bool           `json:"randomizeQuestions"`
	ShowResults        bool           `json:"showResults"`
	Status             Status         `json:"status"`
	CreatedBy          int64          `json:"createdBy"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
	PublishedAt        *time.Time     `json:"publishedAt,omitempty"`
	ArchivedAt         *time.Time     `json:"archivedAt,omitempty"`
}

// MarshalJSON adds the derived totalPoints field.
func (e Exam) MarshalJSON() ([]byte, error) {
	type plain Exam
	return json.Marshal(struct {
		plain
		TotalPoints int `json:"totalPoints"`
	}{plain: plain(e), TotalPoints: e.TotalPoints()})
}

type ExamInput struct {
	Title              string
	Subject            string
	Description        string
	DurationMinutes    int
	StartTime          time.Time
	EndTime            time.Time
	AllowedAttempts    int
	RandomizeQuestions bool
	ShowResults        bool
	CreatedBy          int64
}

// TotalPoints is always derived from the included questions.
func (e Exam) TotalPoints() int {
	total := 0
	for _, eq := range e.Questions {
		total += eq.EffectivePoints()
	}
	return total
}

func (e Exam) QuestionByID(id int64) (ExamQuestion, bool) {
	for _, eq := range e.Questions {
		if eq.Question.ID == id {
			return eq, true
		}
	}
	return ExamQuestion{}, false
}

// NewExam validates the input and returns a Draft exam without questions.
func NewExam(in ExamInput, now time.Time) (Exam, error) {
	e := Exam{
		Title:              strings.TrimSpace(in.Title),
		Subject:            strings.TrimSpace(in.Subject),
		Description:        strings.TrimSpace(in.Description),
		Questions:          []ExamQuestion{},
		DurationMinutes:    in.DurationMinutes,
		StartTime:          in.StartTime,
		EndTime:            in.EndTime,
		AllowedAttempts:    in.AllowedAttempts,
		RandomizeQuestions: in.RandomizeQuestions,
		ShowResults:        in.ShowResults,
		Status:             StatusDraft,
		CreatedBy:          in.CreatedBy,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if e.AllowedAttempts == 0 {
		e.AllowedAttempts = 1
	}
	if err := validateExam(e); err != nil {
		return Exam{}, err
	}
	return e, nil
}

func validateExam(e Exam) error {
	if e.Title == "" {
		return examerr.Validation("exam", e.ID, "title", "title is required")
	}
	if e.DurationMinutes <= 0 {
		return examerr.Validation("exam", e.ID, "duration", "must be a positive number of minutes")
	}
	if e.StartTime.IsZero() || e.EndTime.IsZero() {
		return examerr.Validation("exam", e.ID, "startTime", "start and end time are required")
	}
	if !e.StartTime.Before(e.EndTime) {
		return examerr.Validation("exam", e.ID, "endTime", "end time must be after start time")
	}
	if e.AllowedAttempts < 1 {
		return examerr.Validation("exam", e.ID, "allowedAttempts", "must be at least 1")
	}
	return nil
}

// SetQuestions replaces the question set of a Draft exam.
func SetQuestions(e Exam, qs []ExamQuestion, now time.Time) (Exam, error) {
	if e.Status != StatusDraft {
		return Exam{}, examerr.InvalidState("exam", e.ID, string(e.Status), "change questions")
	}
	seen := make(map[int64]struct{}, len(qs))
	next := make([]ExamQuestion, 0, len(qs))
	for _, eq := range qs {
		if eq.Question.ID <= 0 {
			return Exam{}, examerr.Validation("exam", e.ID, "questions", "question id is required")
		}
		if _, dup := seen[eq.Question.ID]; dup {
			return Exam{}, examerr.Validation("exam", e.ID, "questions", "question included more than once")
		}
		if eq.Points < 0 {
			return Exam{}, examerr.Validation("exam", e.ID, "points", "point override must not be negative")
		}
		if err := question.Validate(eq.Question); err != nil {
			return Exam{}, err
		}
		seen[eq.Question.ID] = struct{}{}
		next = append(next, eq)
	}
	e.Questions = next
	e.UpdatedAt = now
	return e, nil
}

// Publish makes a Draft exam visible to students within its window.
func Publish(e Exam, now time.Time) (Exam, error) {
	if e.Status != StatusDraft {
		return Exam{}, examerr.InvalidState("exam", e.ID, string(e.Status), "publish")
	}
	if len(e.Questions) == 0 {
		return Exam{}, examerr.Validation("exam", e.ID, "questions", "at least one question is required to publish")
	}
	if !e.StartTime.Before(e.EndTime) {
		return Exam{}, examerr.Validation("exam", e.ID, "endTime", "end time must be after start time")
	}
	e.Status = StatusPublished
	e.PublishedAt = &now
	e.UpdatedAt = now
	return e, nil
}

// Refresh applies the time-based Published to Completed transition.
func Refresh(e Exam, now time.Time) Exam {
	if e.Status == StatusPublished && now.After(e.EndTime) {
		e.Status = StatusCompleted
	}
	return e
}

func Archive(e Exam, now time.Time) (Exam, error) {
	e = Refresh(e, now)
	if e.Status != StatusPublished && e.Status != StatusCompleted {
		return Exam{}, examerr.InvalidState("exam", e.ID, string(e.Status), "archive")
	}
	e.Status = StatusArchived
	e.ArchivedAt = &now
	e.UpdatedAt = now
	return e, nil
}

// IsOpenForAttempts reports whether a student with attemptCount prior
// attempts may start a new one at now.
func IsOpenForAttempts(e Exam, now time.Time, attemptCount int) bool {
	return notOpenReason(e, now, attemptCount) == ""
}

func IsUpcoming(e Exam, now time.Time) bool {
	e = Refresh(e, now)
	return e.Status == StatusPublished && now.Before(e.StartTime)
}

func notOpenReason(e Exam, now time.Time, attemptCount int) string {
	e = Refresh(e, now)
	switch {
	case e.Status != StatusPublished:
		return "exam is " + strings.ToLower(string(e.Status))
	case now.Before(e.StartTime):
		return "exam has not started"
	case now.After(e.EndTime):
		return "exam has ended"
	case attemptCount >= e.AllowedAttempts:
		return "no attempts remaining"
	}
	return ""
}
