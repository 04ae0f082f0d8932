package exam

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"examportal/internal/examerr"
	"examportal/internal/question"
)

var baseTime = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func validExamInput() ExamInput {
	return ExamInput{
		Title:           "  Midterm Algebra ",
		Subject:         "Math",
		DurationMinutes: 60,
		StartTime:       baseTime,
		EndTime:         baseTime.Add(2 * time.Hour),
		AllowedAttempts: 1,
		ShowResults:     true,
		CreatedBy:       7,
	}
}

// publishedExam builds a Published exam open from baseTime for two hours.
func publishedExam(t *testing.T, qs ...question.Question) Exam {
	t.Helper()
	e, err := NewExam(validExamInput(), baseTime.Add(-time.Hour))
	if err != nil {
		t.Fatalf("new exam: %v", err)
	}
	e.ID = 1
	included := make([]ExamQuestion, 0, len(qs))
	for _, q := range qs {
		included = append(included, ExamQuestion{Question: q})
	}
	if e, err = SetQuestions(e, included, baseTime.Add(-time.Hour)); err != nil {
		t.Fatalf("set questions: %v", err)
	}
	if e, err = Publish(e, baseTime.Add(-time.Hour)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	return e
}

func TestNewExamDefaultsAndValidation(t *testing.T) {
	e, err := NewExam(ExamInput{
		Title:           "Quiz",
		DurationMinutes: 30,
		StartTime:       baseTime,
		EndTime:         baseTime.Add(time.Hour),
	}, baseTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Status != StatusDraft {
		t.Fatalf("expected draft, got %s", e.Status)
	}
	if e.AllowedAttempts != 1 {
		t.Fatalf("expected default allowed attempts 1, got %d", e.AllowedAttempts)
	}
	if e.TotalPoints() != 0 {
		t.Fatalf("expected zero total points, got %d", e.TotalPoints())
	}

	tests := []struct {
		name  string
		mut   func(in *ExamInput)
		field string
	}{
		{name: "missing title", mut: func(in *ExamInput) { in.Title = "  " }, field: "title"},
		{name: "zero duration", mut: func(in *ExamInput) { in.DurationMinutes = 0 }, field: "duration"},
		{name: "missing start", mut: func(in *ExamInput) { in.StartTime = time.Time{} }, field: "startTime"},
		{name: "end before start", mut: func(in *ExamInput) { in.EndTime = in.StartTime.Add(-time.Minute) }, field: "endTime"},
		{name: "end equals start", mut: func(in *ExamInput) { in.EndTime = in.StartTime }, field: "endTime"},
		{name: "negative attempts", mut: func(in *ExamInput) { in.AllowedAttempts = -1 }, field: "allowedAttempts"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := validExamInput()
			tc.mut(&in)
			_, err := NewExam(in, baseTime)
			var ve *examerr.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, ve.Field)
			}
		})
	}
}

func TestSetQuestions(t *testing.T) {
	e, err := NewExam(validExamInput(), baseTime)
	if err != nil {
		t.Fatalf("new exam: %v", err)
	}

	next, err := SetQuestions(e, []ExamQuestion{
		{Question: mcQuestion(1, 10)},
		{Question: essayQuestion(2, 20), Points: 5},
	}, baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.TotalPoints() != 15 {
		t.Fatalf("expected total points 15, got %d", next.TotalPoints())
	}
	if len(e.Questions) != 0 {
		t.Fatalf("input exam must not be mutated")
	}

	_, err = SetQuestions(e, []ExamQuestion{{Question: mcQuestion(1, 10)}, {Question: mcQuestion(1, 10)}}, baseTime)
	if !errors.Is(err, examerr.ErrValidation) {
		t.Fatalf("expected validation error for duplicates, got %v", err)
	}

	_, err = SetQuestions(e, []ExamQuestion{{Question: mcQuestion(1, 10), Points: -1}}, baseTime)
	if !errors.Is(err, examerr.ErrValidation) {
		t.Fatalf("expected validation error for negative points, got %v", err)
	}

	published := publishedExam(t, mcQuestion(1, 10))
	_, err = SetQuestions(published, nil, baseTime)
	if !errors.Is(err, examerr.ErrInvalidState) {
		t.Fatalf("expected invalid state on published exam, got %v", err)
	}
}

func TestPublishRequiresQuestions(t *testing.T) {
	e, err := NewExam(validExamInput(), baseTime)
	if err != nil {
		t.Fatalf("new exam: %v", err)
	}
	if _, err := Publish(e, baseTime); !errors.Is(err, examerr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	published := publishedExam(t, mcQuestion(1, 10))
	if published.Status != StatusPublished || published.PublishedAt == nil {
		t.Fatalf("expected published exam with timestamp, got %+v", published)
	}
	if _, err := Publish(published, baseTime); !errors.Is(err, examerr.ErrInvalidState) {
		t.Fatalf("expected invalid state on second publish, got %v", err)
	}
}

func TestRefreshAndArchive(t *testing.T) {
	e := publishedExam(t, mcQuestion(1, 10))

	if got := Refresh(e, e.EndTime); got.Status != StatusPublished {
		t.Fatalf("exam must stay published at exactly end time, got %s", got.Status)
	}
	completed := Refresh(e, e.EndTime.Add(time.Second))
	if completed.Status != StatusCompleted {
		t.Fatalf("expected completed after end time, got %s", completed.Status)
	}
	if e.Status != StatusPublished {
		t.Fatalf("refresh must not mutate its input")
	}

	archived, err := Archive(e, baseTime)
	if err != nil || archived.Status != StatusArchived || archived.ArchivedAt == nil {
		t.Fatalf("archive published: %+v %v", archived, err)
	}
	if archived, err = Archive(e, e.EndTime.Add(time.Hour)); err != nil || archived.Status != StatusArchived {
		t.Fatalf("archive completed: %+v %v", archived, err)
	}
	if _, err := Archive(archived, baseTime); !errors.Is(err, examerr.ErrInvalidState) {
		t.Fatalf("expected invalid state archiving twice, got %v", err)
	}

	draft, _ := NewExam(validExamInput(), baseTime)
	if _, err := Archive(draft, baseTime); !errors.Is(err, examerr.ErrInvalidState) {
		t.Fatalf("expected invalid state archiving draft, got %v", err)
	}
}

func TestIsOpenForAttempts(t *testing.T) {
	e := publishedExam(t, mcQuestion(1, 10))
	e.AllowedAttempts = 2
	draft, _ := NewExam(validExamInput(), baseTime)
	archived, _ := Archive(e, baseTime)

	tests := []struct {
		name     string
		exam     Exam
		now      time.Time
		attempts int
		want     bool
	}{
		{name: "at start", exam: e, now: e.StartTime, want: true},
		{name: "at end", exam: e, now: e.EndTime, want: true},
		{name: "before start", exam: e, now: e.StartTime.Add(-time.Second), want: false},
		{name: "after end", exam: e, now: e.EndTime.Add(time.Second), want: false},
		{name: "one attempt left", exam: e, now: e.StartTime, attempts: 1, want: true},
		{name: "attempts used", exam: e, now: e.StartTime, attempts: 2, want: false},
		{name: "draft", exam: draft, now: baseTime.Add(time.Minute), want: false},
		{name: "archived", exam: archived, now: baseTime.Add(time.Minute), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsOpenForAttempts(tc.exam, tc.now, tc.attempts); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}

	if !IsUpcoming(e, e.StartTime.Add(-time.Minute)) {
		t.Fatalf("expected upcoming before start")
	}
	if IsUpcoming(e, e.StartTime) || IsUpcoming(draft, baseTime.Add(-time.Hour)) {
		t.Fatalf("expected not upcoming")
	}
}

func TestExamJSONIncludesTotalPoints(t *testing.T) {
	e := publishedExam(t, mcQuestion(1, 10), tfQuestion(2, 5, "true"))
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["totalPoints"] != float64(15) {
		t.Fatalf("expected totalPoints 15, got %v", out["totalPoints"])
	}
	if out["status"] != string(StatusPublished) {
		t.Fatalf("expected status PUBLISHED, got %v", out["status"])
	}
}
