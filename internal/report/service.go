package report

import (
	"context"
	"time"

	"examportal/internal/auth"
	"examportal/internal/exam"
	"examportal/internal/question"
)

type examSource interface {
	ListExams(ctx context.Context, f exam.ExamFilter) ([]exam.Exam, error)
	GetExam(ctx context.Context, id int64) (*exam.Exam, error)
	ListAttempts(ctx context.Context, f exam.AttemptFilter) ([]exam.Attempt, error)
}

type questionSource interface {
	CountQuestions(ctx context.Context, createdBy int64) (int, error)
	ListQuestions(ctx context.Context, f question.Filter) ([]question.Question, error)
}

type userSource interface {
	CountUsersByRole(ctx context.Context) (map[string]int, error)
	ListUsers(ctx context.Context, role string, limit int) ([]auth.User, error)
}

type Service struct {
	exams     examSource
	questions questionSource
	users     userSource
	now       func() time.Time
}

// ExamSummary aggregates the attempts made on one exam.
type ExamSummary struct {
	ExamID         int64  `json:"examId"`
	Title          string `json:"title"`
	Participants   int    `json:"participants"`
	Attempts       int    `json:"attempts"`
	CompletionRate int    `json:"completionRate"`
	AverageScore   int    `json:"averageScore"`
	HighestScore   int    `json:"highestScore"`
	LowestScore    int    `json:"lowestScore"`
	PendingGrading int    `json:"pendingGrading"`
}

func NewService(exams examSource, questions questionSource, users userSource) *Service {
	return &Service{exams: exams, questions: questions, users: users, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) StudentDashboard(ctx context.Context, studentID int64) (*StudentSummary, error) {
	exams, attempts, err := s.studentSnapshot(ctx, studentID)
	if err != nil {
		return nil, err
	}
	sum := BuildStudentSummary(exams, attempts, s.now().UTC(), studentID)
	return &sum, nil
}

func (s *Service) ActiveExams(ctx context.Context, studentID int64) ([]ExamCard, error) {
	exams, attempts, err := s.studentSnapshot(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return ExamCards(ActiveExams(exams, attempts, s.now().UTC(), studentID), attempts, studentID), nil
}

func (s *Service) UpcomingExams(ctx context.Context, studentID int64) ([]ExamCard, error) {
	exams, attempts, err := s.studentSnapshot(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return ExamCards(UpcomingExams(exams, attempts, s.now().UTC(), studentID), attempts, studentID), nil
}

func (s *Service) studentSnapshot(ctx context.Context, studentID int64) ([]exam.Exam, []exam.Attempt, error) {
	exams, err := s.exams.ListExams(ctx, exam.ExamFilter{})
	if err != nil {
		return nil, nil, err
	}
	attempts, err := s.exams.ListAttempts(ctx, exam.AttemptFilter{StudentID: studentID})
	if err != nil {
		return nil, nil, err
	}
	return exams, attempts, nil
}

func (s *Service) TeacherDashboard(ctx context.Context, teacherID int64) (*TeacherSummary, error) {
	exams, err := s.exams.ListExams(ctx, exam.ExamFilter{CreatedBy: teacherID})
	if err != nil {
		return nil, err
	}
	attempts, err := s.attemptsFor(ctx, exams)
	if err != nil {
		return nil, err
	}
	questions, err := s.questions.CountQuestions(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	roles, err := s.users.CountUsersByRole(ctx)
	if err != nil {
		return nil, err
	}
	sum := BuildTeacherSummary(exams, attempts, questions, roles[auth.RoleStudent])
	return &sum, nil
}

func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	exams, err := s.exams.ListExams(ctx, exam.ExamFilter{})
	if err != nil {
		return nil, err
	}
	attempts, err := s.exams.ListAttempts(ctx, exam.AttemptFilter{})
	if err != nil {
		return nil, err
	}
	questions, err := s.questions.CountQuestions(ctx, 0)
	if err != nil {
		return nil, err
	}
	roles, err := s.users.CountUsersByRole(ctx)
	if err != nil {
		return nil, err
	}
	out := BuildOverview(exams, attempts, RoleCounts{
		Students: roles[auth.RoleStudent],
		Teachers: roles[auth.RoleTeacher],
		Admins:   roles[auth.RoleAdmin],
	}, questions, s.now().UTC())
	return &out, nil
}

func (s *Service) Activity(ctx context.Context, limit int) ([]ActivityItem, error) {
	exams, err := s.exams.ListExams(ctx, exam.ExamFilter{})
	if err != nil {
		return nil, err
	}
	attempts, err := s.exams.ListAttempts(ctx, exam.AttemptFilter{})
	if err != nil {
		return nil, err
	}
	users, err := s.users.ListUsers(ctx, "", limit)
	if err != nil {
		return nil, err
	}
	questions, err := s.questions.ListQuestions(ctx, question.Filter{})
	if err != nil {
		return nil, err
	}
	return ActivityFeed(ActivitySnapshot{
		Exams:     exams,
		Attempts:  attempts,
		Users:     users,
		Questions: questions,
	}, limit), nil
}

func (s *Service) SummaryByExam(ctx context.Context, examID int64) (*ExamSummary, error) {
	e, err := s.exams.GetExam(ctx, examID)
	if err != nil {
		return nil, err
	}
	attempts, err := s.exams.ListAttempts(ctx, exam.AttemptFilter{ExamID: examID})
	if err != nil {
		return nil, err
	}
	sum := BuildExamSummary(*e, attempts)
	return &sum, nil
}

// BuildExamSummary aggregates attempts of e. Highest and lowest consider
// graded attempts only.
func BuildExamSummary(e exam.Exam, attempts []exam.Attempt) ExamSummary {
	students := make(map[int64]struct{})
	sum := ExamSummary{
		ExamID:         e.ID,
		Title:          e.Title,
		Attempts:       len(attempts),
		CompletionRate: CompletionRate(attempts),
		AverageScore:   AverageScore(attempts),
		PendingGrading: len(PendingGrading(attempts, []exam.Exam{e})),
	}
	graded := 0
	for _, a := range attempts {
		students[a.StudentID] = struct{}{}
		if a.Status != exam.AttemptGraded || a.Score == nil {
			continue
		}
		if graded == 0 || *a.Score > sum.HighestScore {
			sum.HighestScore = *a.Score
		}
		if graded == 0 || *a.Score < sum.LowestScore {
			sum.LowestScore = *a.Score
		}
		graded++
	}
	sum.Participants = len(students)
	return sum
}

// attemptsFor loads attempts of the given exams one exam at a time.
func (s *Service) attemptsFor(ctx context.Context, exams []exam.Exam) ([]exam.Attempt, error) {
	out := make([]exam.Attempt, 0)
	for _, e := range exams {
		items, err := s.exams.ListAttempts(ctx, exam.AttemptFilter{ExamID: e.ID})
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}
