package exam

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"examportal/internal/examerr"
	"examportal/internal/question"
)

var (
	ErrExamNotFound      = errors.New("exam not found")
	ErrAttemptNotFound   = errors.New("attempt not found")
	ErrQuestionNotInExam = errors.New("question not in exam")
)

type ExamFilter struct {
	CreatedBy int64
	Statuses  []Status
}

func (f ExamFilter) match(e Exam) bool {
	if f.CreatedBy > 0 && e.CreatedBy != f.CreatedBy {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if e.Status == s {
			return true
		}
	}
	return false
}

type AttemptFilter struct {
	ExamID    int64
	StudentID int64
	Status    AttemptStatus
}

// Store is the persistence boundary. Updates are guarded by the expected
// current status so a concurrent transition fails instead of overwriting.
type Store interface {
	CreateExam(ctx context.Context, e Exam) (*Exam, error)
	GetExam(ctx context.Context, id int64) (*Exam, error)
	ListExams(ctx context.Context, createdBy int64) ([]Exam, error)
	UpdateExam(ctx context.Context, e Exam, expected Status) error

	// CreateAttempt counts the student's attempts and inserts the attempt
	// returned by build inside one transaction.
	CreateAttempt(ctx context.Context, examID, studentID int64, build func(prior int) (Attempt, error)) (*Attempt, error)
	GetAttempt(ctx context.Context, id int64) (*Attempt, error)
	ListAttempts(ctx context.Context, f AttemptFilter) ([]Attempt, error)
	CountAttempts(ctx context.Context, examID, studentID int64) (int, error)
	UpdateAttempt(ctx context.Context, a Attempt, expected AttemptStatus) error
}

// QuestionSource loads current question versions for snapshotting into exams.
type QuestionSource interface {
	GetQuestions(ctx context.Context, ids []int64) ([]question.Question, error)
}

type QuestionRef struct {
	QuestionID int64 `json:"questionId"`
	Points     int   `json:"points"`
}

type GradeInput struct {
	AttemptID int64
	Overrides map[int64]float64
	Feedback  string
	GraderID  int64
}

type Service struct {
	store     Store
	questions QuestionSource
	now       func() time.Time
}

func NewService(store Store, questions QuestionSource) *Service {
	return &Service{store: store, questions: questions, now: time.Now}
}

// WithClock replaces the time source used for every time-sensitive check.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Now() time.Time {
	return s.now().UTC()
}

func (s *Service) CreateExam(ctx context.Context, in ExamInput) (*Exam, error) {
	e, err := NewExam(in, s.Now())
	if err != nil {
		return nil, err
	}
	created, err := s.store.CreateExam(ctx, e)
	if err != nil {
		return nil, err
	}
	log.Printf("exam %d created by user %d", created.ID, created.CreatedBy)
	return created, nil
}

// GetExam returns the exam with the time-based status transition applied.
func (s *Service) GetExam(ctx context.Context, id int64) (*Exam, error) {
	e, err := s.store.GetExam(ctx, id)
	if err != nil {
		return nil, err
	}
	refreshed := s.refresh(ctx, *e)
	return &refreshed, nil
}

func (s *Service) ListExams(ctx context.Context, f ExamFilter) ([]Exam, error) {
	items, err := s.store.ListExams(ctx, f.CreatedBy)
	if err != nil {
		return nil, err
	}
	out := make([]Exam, 0, len(items))
	for _, e := range items {
		e = s.refresh(ctx, e)
		if f.match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// refresh persists a Published to Completed transition when the window has
// closed. A lost race with another writer is harmless.
func (s *Service) refresh(ctx context.Context, e Exam) Exam {
	next := Refresh(e, s.Now())
	if next.Status != e.Status {
		if err := s.store.UpdateExam(ctx, next, e.Status); err != nil {
			log.Printf("exam %d refresh to %s not persisted: %v", e.ID, next.Status, err)
		}
	}
	return next
}

func (s *Service) SetExamQuestions(ctx context.Context, examID int64, refs []QuestionRef) (*Exam, error) {
	e, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusDraft {
		return nil, examerr.InvalidState("exam", e.ID, string(e.Status), "change questions")
	}

	ids := make([]int64, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.QuestionID)
	}
	qs, err := s.questions.GetQuestions(ctx, ids)
	if err != nil {
		if errors.Is(err, question.ErrQuestionNotFound) {
			return nil, examerr.Validation("exam", examID, "questions", err.Error())
		}
		return nil, err
	}
	included := make([]ExamQuestion, 0, len(qs))
	for i, q := range qs {
		included = append(included, ExamQuestion{Question: q, Points: refs[i].Points})
	}

	next, err := SetQuestions(*e, included, s.Now())
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateExam(ctx, next, StatusDraft); err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *Service) PublishExam(ctx context.Context, examID int64) (*Exam, error) {
	e, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	next, err := Publish(*e, s.Now())
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateExam(ctx, next, e.Status); err != nil {
		return nil, err
	}
	log.Printf("exam %d published questions=%d total_points=%d", next.ID, len(next.Questions), next.TotalPoints())
	return &next, nil
}

func (s *Service) ArchiveExam(ctx context.Context, examID int64) (*Exam, error) {
	e, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	next, err := Archive(*e, s.Now())
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateExam(ctx, next, e.Status); err != nil {
		return nil, err
	}
	log.Printf("exam %d archived", next.ID)
	return &next, nil
}

func (s *Service) StartAttempt(ctx context.Context, examID, studentID int64) (*Attempt, error) {
	e, err := s.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	a, err := s.store.CreateAttempt(ctx, examID, studentID, func(prior int) (Attempt, error) {
		return Start(*e, studentID, prior, now)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("attempt %d started exam=%d student=%d ordinal=%d", a.ID, a.ExamID, a.StudentID, a.Ordinal)
	return a, nil
}

func (s *Service) GetAttempt(ctx context.Context, attemptID int64) (*Attempt, error) {
	return s.store.GetAttempt(ctx, attemptID)
}

func (s *Service) ListAttempts(ctx context.Context, f AttemptFilter) ([]Attempt, error) {
	return s.store.ListAttempts(ctx, f)
}

func (s *Service) RecordAnswer(ctx context.Context, attemptID, questionID int64, value Answer) (*Attempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	e, err := s.store.GetExam(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}
	if _, ok := e.QuestionByID(questionID); !ok {
		return nil, fmt.Errorf("%w: question %d, exam %d", ErrQuestionNotInExam, questionID, e.ID)
	}
	next, err := RecordAnswer(*a, questionID, value)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateAttempt(ctx, next, AttemptInProgress); err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *Service) SubmitAttempt(ctx context.Context, attemptID int64) (*Attempt, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	e, err := s.store.GetExam(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}
	next, err := Submit(*a, *e, s.Now())
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateAttempt(ctx, next, AttemptInProgress); err != nil {
		return nil, err
	}
	log.Printf("attempt %d submitted status=%s", next.ID, next.Status)
	return &next, nil
}

func (s *Service) GradeAttempt(ctx context.Context, in GradeInput) (*Attempt, error) {
	a, err := s.store.GetAttempt(ctx, in.AttemptID)
	if err != nil {
		return nil, err
	}
	next, err := Grade(*a, in.Overrides, in.Feedback, in.GraderID, s.Now())
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateAttempt(ctx, next, AttemptSubmitted); err != nil {
		return nil, err
	}
	log.Printf("attempt %d graded by user %d score=%d", next.ID, next.GradedBy, *next.Score)
	return &next, nil
}

// AttemptQuestion is a question as shown to the student taking the attempt.
type AttemptQuestion struct {
	ID      int64         `json:"id"`
	Text    string        `json:"question"`
	Type    question.Type `json:"type"`
	Options []string      `json:"options,omitempty"`
	Points  int           `json:"points"`
}

// AttemptView is what a viewer is allowed to see of an attempt.
type AttemptView struct {
	Attempt
	ExamTitle        string            `json:"examTitle"`
	Questions        []AttemptQuestion `json:"questions"`
	RemainingSeconds int               `json:"remainingSeconds"`
	ResultsHidden    bool              `json:"resultsHidden,omitempty"`
}

// ViewAttempt hides scores and per-question results from students when the
// exam does not show results.
func (s *Service) ViewAttempt(ctx context.Context, attemptID int64, staff bool) (*AttemptView, error) {
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	e, err := s.store.GetExam(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}
	v := NewAttemptView(*a, *e, staff, s.Now())
	return &v, nil
}

// ListAttemptViews lists attempts with the same visibility rules as ViewAttempt.
func (s *Service) ListAttemptViews(ctx context.Context, f AttemptFilter, staff bool) ([]AttemptView, error) {
	items, err := s.store.ListAttempts(ctx, f)
	if err != nil {
		return nil, err
	}
	exams := make(map[int64]*Exam)
	out := make([]AttemptView, 0, len(items))
	for _, a := range items {
		e, ok := exams[a.ExamID]
		if !ok {
			if e, err = s.store.GetExam(ctx, a.ExamID); err != nil {
				return nil, err
			}
			exams[a.ExamID] = e
		}
		v := NewAttemptView(a, *e, staff, s.Now())
		v.Questions = nil
		out = append(out, v)
	}
	return out, nil
}

// ListPendingGrading returns submitted attempts still waiting for a grader.
func (s *Service) ListPendingGrading(ctx context.Context, examID int64) ([]Attempt, error) {
	items, err := s.store.ListAttempts(ctx, AttemptFilter{ExamID: examID, Status: AttemptSubmitted})
	if err != nil {
		return nil, err
	}
	out := make([]Attempt, 0, len(items))
	for _, a := range items {
		if a.NeedsManualReview() {
			out = append(out, a)
		}
	}
	return out, nil
}

func NewAttemptView(a Attempt, e Exam, staff bool, now time.Time) AttemptView {
	v := AttemptView{
		Attempt:          a,
		ExamTitle:        e.Title,
		Questions:        make([]AttemptQuestion, 0, len(a.QuestionOrder)),
		RemainingSeconds: RemainingSeconds(a, now),
	}
	for _, id := range a.QuestionOrder {
		eq, ok := e.QuestionByID(id)
		if !ok {
			continue
		}
		v.Questions = append(v.Questions, AttemptQuestion{
			ID:      eq.Question.ID,
			Text:    eq.Question.Text,
			Type:    eq.Question.Type,
			Options: eq.Question.Options,
			Points:  eq.EffectivePoints(),
		})
	}
	if !staff && !e.ShowResults {
		v.Score = nil
		v.Results = nil
		v.ResultsHidden = true
	}
	return v
}
