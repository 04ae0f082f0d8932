package exam

import (
	"context"
	"errors"
	"testing"
	"time"

	internaldb "examportal/internal/db"
	"examportal/internal/examerr"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	conn, err := internaldb.OpenTestSQLite(context.Background())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewSQLStore(conn)
}

func TestSQLStoreExamRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	e := publishedExam(t, mcQuestion(1, 10), essayQuestion(2, 20))
	e.ID = 0
	created, err := store.CreateExam(ctx, e)
	if err != nil {
		t.Fatalf("create exam: %v", err)
	}
	if created.ID <= 0 {
		t.Fatalf("expected id, got %d", created.ID)
	}

	got, err := store.GetExam(ctx, created.ID)
	if err != nil {
		t.Fatalf("get exam: %v", err)
	}
	if got.Title != "Midterm Algebra" || got.Status != StatusPublished || got.CreatedBy != 7 {
		t.Fatalf("unexpected exam: %+v", got)
	}
	if !got.StartTime.Equal(e.StartTime) || !got.EndTime.Equal(e.EndTime) {
		t.Fatalf("unexpected window: %s - %s", got.StartTime, got.EndTime)
	}
	if got.PublishedAt == nil || got.ArchivedAt != nil {
		t.Fatalf("unexpected timestamps: %+v", got)
	}
	if len(got.Questions) != 2 || got.Questions[1].Question.Type != "ESSAY" || got.TotalPoints() != 30 {
		t.Fatalf("unexpected questions snapshot: %+v", got.Questions)
	}

	if _, err := store.GetExam(ctx, 999); !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	archived, err := Archive(*got, baseTime)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := store.UpdateExam(ctx, archived, StatusDraft); !errors.Is(err, examerr.ErrInvalidState) {
		t.Fatalf("expected guarded update to fail, got %v", err)
	}
	if err := store.UpdateExam(ctx, archived, StatusPublished); err != nil {
		t.Fatalf("update exam: %v", err)
	}
	archived.ID = 999
	if err := store.UpdateExam(ctx, archived, StatusPublished); !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	other := e
	other.CreatedBy = 8
	if _, err := store.CreateExam(ctx, other); err != nil {
		t.Fatalf("create second exam: %v", err)
	}
	all, err := store.ListExams(ctx, 0)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 exams, got %d %v", len(all), err)
	}
	mine, err := store.ListExams(ctx, 8)
	if err != nil || len(mine) != 1 || mine[0].CreatedBy != 8 {
		t.Fatalf("expected one exam by author 8, got %+v %v", mine, err)
	}
}

func TestSQLStoreAttemptLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	e := publishedExam(t, mcQuestion(1, 10), essayQuestion(2, 20))
	e.ID = 0
	createdExam, err := store.CreateExam(ctx, e)
	if err != nil {
		t.Fatalf("create exam: %v", err)
	}
	now := createdExam.StartTime.Add(time.Minute)

	a, err := store.CreateAttempt(ctx, createdExam.ID, 42, func(prior int) (Attempt, error) {
		if prior != 0 {
			t.Fatalf("expected no prior attempts, got %d", prior)
		}
		return Start(*createdExam, 42, prior, now)
	})
	if err != nil {
		t.Fatalf("create attempt: %v", err)
	}
	if a.ID <= 0 || a.Ordinal != 1 || a.MaxScore != 30 {
		t.Fatalf("unexpected attempt: %+v", a)
	}

	_, err = store.CreateAttempt(ctx, createdExam.ID, 42, func(prior int) (Attempt, error) {
		return Start(*createdExam, 42, prior, now)
	})
	if !errors.Is(err, examerr.ErrNotOpen) {
		t.Fatalf("expected not open from attempt limit, got %v", err)
	}

	// A writer that raced past the count still hits the unique key.
	_, err = store.CreateAttempt(ctx, createdExam.ID, 42, func(prior int) (Attempt, error) {
		return Start(*createdExam, 42, 0, now)
	})
	if !errors.Is(err, examerr.ErrNotOpen) {
		t.Fatalf("expected not open from unique key, got %v", err)
	}
	if n, err := store.CountAttempts(ctx, createdExam.ID, 42); err != nil || n != 1 {
		t.Fatalf("expected 1 attempt, got %d %v", n, err)
	}

	answered, _ := RecordAnswer(*a, 1, Answer{"A"})
	answered, _ = RecordAnswer(answered, 2, Answer{"Essay text"})
	if err := store.UpdateAttempt(ctx, answered, AttemptInProgress); err != nil {
		t.Fatalf("save answers: %v", err)
	}

	submitted, err := Submit(answered, *createdExam, now.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := store.UpdateAttempt(ctx, submitted, AttemptInProgress); err != nil {
		t.Fatalf("save submit: %v", err)
	}
	if err := store.UpdateAttempt(ctx, submitted, AttemptInProgress); !errors.Is(err, examerr.ErrInvalidState) {
		t.Fatalf("expected second submit to lose the guard, got %v", err)
	}

	loaded, err := store.GetAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if loaded.Status != AttemptSubmitted || loaded.Score != nil || loaded.SubmittedAt == nil {
		t.Fatalf("unexpected submitted attempt: %+v", loaded)
	}
	if got := loaded.Answers[2]; len(got) != 1 || got[0] != "Essay text" {
		t.Fatalf("unexpected answers: %+v", loaded.Answers)
	}
	if r := loaded.Results[1]; r.EarnedPoints != 10 || r.Reason != ReasonCorrect {
		t.Fatalf("unexpected result: %+v", r)
	}
	if len(loaded.QuestionOrder) != 2 {
		t.Fatalf("unexpected order: %v", loaded.QuestionOrder)
	}

	graded, err := Grade(*loaded, map[int64]float64{2: 20}, "Excellent", 7, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if err := store.UpdateAttempt(ctx, graded, AttemptSubmitted); err != nil {
		t.Fatalf("save grade: %v", err)
	}
	loaded, _ = store.GetAttempt(ctx, a.ID)
	if loaded.Status != AttemptGraded || loaded.Score == nil || *loaded.Score != 100 || loaded.GradedBy != 7 || loaded.Feedback != "Excellent" {
		t.Fatalf("unexpected graded attempt: %+v", loaded)
	}

	items, err := store.ListAttempts(ctx, AttemptFilter{Status: AttemptGraded})
	if err != nil || len(items) != 1 {
		t.Fatalf("expected 1 graded attempt, got %d %v", len(items), err)
	}
	items, _ = store.ListAttempts(ctx, AttemptFilter{ExamID: createdExam.ID, StudentID: 43})
	if len(items) != 0 {
		t.Fatalf("expected no attempts for another student, got %d", len(items))
	}
	if _, err := store.GetAttempt(ctx, 999); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServiceOnSQLStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := baseTime.Add(-time.Hour)
	svc := NewService(store, memQuestions{1: mcQuestion(1, 10)}).WithClock(func() time.Time { return now })

	e, err := svc.CreateExam(ctx, validExamInput())
	if err != nil {
		t.Fatalf("create exam: %v", err)
	}
	if _, err := svc.SetExamQuestions(ctx, e.ID, []QuestionRef{{QuestionID: 1}}); err != nil {
		t.Fatalf("set questions: %v", err)
	}
	if _, err := svc.PublishExam(ctx, e.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	now = baseTime.Add(time.Minute)
	a, err := svc.StartAttempt(ctx, e.ID, 42)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.RecordAnswer(ctx, a.ID, 1, Answer{"A"}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	done, err := svc.SubmitAttempt(ctx, a.ID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if done.Status != AttemptGraded || *done.Score != 100 {
		t.Fatalf("expected graded 100, got %+v", done)
	}
}
