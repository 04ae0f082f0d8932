// Package report derives dashboard statistics from exam and attempt
// snapshots. The functions here do no I/O; Service loads the snapshots.
package report

import (
	"math"
	"sort"
	"time"

	"examportal/internal/exam"
)

const (
	BandExcellent        = "excellent"
	BandGood             = "good"
	BandFair             = "fair"
	BandNeedsImprovement = "needs_improvement"
)

// CompletionRate is the percentage of attempts that were submitted or graded.
func CompletionRate(attempts []exam.Attempt) int {
	if len(attempts) == 0 {
		return 0
	}
	done := 0
	for _, a := range attempts {
		if a.Status == exam.AttemptSubmitted || a.Status == exam.AttemptGraded {
			done++
		}
	}
	return roundPercent(float64(done) / float64(len(attempts)) * 100)
}

// AverageScore is the rounded mean score over graded attempts, 0 when none
// are graded.
func AverageScore(attempts []exam.Attempt) int {
	sum, n := 0, 0
	for _, a := range attempts {
		if a.Status != exam.AttemptGraded || a.Score == nil {
			continue
		}
		sum += *a.Score
		n++
	}
	if n == 0 {
		return 0
	}
	return roundPercent(float64(sum) / float64(n))
}

func BestScore(attempts []exam.Attempt) int {
	best := 0
	for _, a := range attempts {
		if a.Status == exam.AttemptGraded && a.Score != nil && *a.Score > best {
			best = *a.Score
		}
	}
	return best
}

func ScoreBand(score int) string {
	switch {
	case score >= 90:
		return BandExcellent
	case score >= 80:
		return BandGood
	case score >= 70:
		return BandFair
	default:
		return BandNeedsImprovement
	}
}

// PendingGrading returns submitted attempts with at least one question that
// needs a human grade, oldest submission first. Attempts without stored
// results fall back to the exam's question types.
func PendingGrading(attempts []exam.Attempt, exams []exam.Exam) []exam.Attempt {
	manualExam := make(map[int64]bool, len(exams))
	for _, e := range exams {
		for _, eq := range e.Questions {
			if !eq.Question.IsAutoGradable() {
				manualExam[e.ID] = true
				break
			}
		}
	}

	out := make([]exam.Attempt, 0)
	for _, a := range attempts {
		if a.Status != exam.AttemptSubmitted {
			continue
		}
		if a.NeedsManualReview() || (len(a.Results) == 0 && manualExam[a.ExamID]) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return timeOrZero(out[i].SubmittedAt).Before(timeOrZero(out[j].SubmittedAt))
	})
	return out
}

// UpcomingExams lists published exams that have not started and that the
// student still has attempts left for, soonest first.
func UpcomingExams(exams []exam.Exam, attempts []exam.Attempt, now time.Time, studentID int64) []exam.Exam {
	counts := attemptCounts(attempts, studentID)
	out := make([]exam.Exam, 0)
	for _, e := range exams {
		if exam.IsUpcoming(e, now) && counts[e.ID] < e.AllowedAttempts {
			out = append(out, e)
		}
	}
	sortByStart(out)
	return out
}

// ActiveExams lists exams the student can start right now.
func ActiveExams(exams []exam.Exam, attempts []exam.Attempt, now time.Time, studentID int64) []exam.Exam {
	counts := attemptCounts(attempts, studentID)
	out := make([]exam.Exam, 0)
	for _, e := range exams {
		if exam.IsOpenForAttempts(e, now, counts[e.ID]) {
			out = append(out, e)
		}
	}
	sortByStart(out)
	return out
}

// RecentResults returns up to n graded attempts, most recently graded first.
func RecentResults(attempts []exam.Attempt, n int) []exam.Attempt {
	out := make([]exam.Attempt, 0)
	for _, a := range attempts {
		if a.Status == exam.AttemptGraded {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return timeOrZero(out[i].GradedAt).After(timeOrZero(out[j].GradedAt))
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

type StudentSummary struct {
	CompletedExams int            `json:"completedExams"`
	UpcomingExams  int            `json:"upcomingExams"`
	ActiveExams    int            `json:"activeExams"`
	TotalAttempts  int            `json:"totalAttempts"`
	AverageScore   int            `json:"averageScore"`
	BestScore      int            `json:"bestScore"`
	CompletionRate int            `json:"completionRate"`
	Upcoming       []ExamCard     `json:"upcoming"`
	RecentResults  []RecentResult `json:"recentResults"`
}

type RecentResult struct {
	AttemptID int64      `json:"attemptId"`
	ExamID    int64      `json:"examId"`
	ExamTitle string     `json:"examTitle"`
	Score     int        `json:"score"`
	Band      string     `json:"band"`
	GradedAt  *time.Time `json:"gradedAt,omitempty"`
}

// BuildStudentSummary summarizes one student's dashboard. attempts must
// belong to that student. Exams that hide results are left out of the
// score figures.
func BuildStudentSummary(exams []exam.Exam, attempts []exam.Attempt, now time.Time, studentID int64) StudentSummary {
	byID := make(map[int64]exam.Exam, len(exams))
	for _, e := range exams {
		byID[e.ID] = e
	}
	visible := make([]exam.Attempt, 0, len(attempts))
	completed := 0
	for _, a := range attempts {
		if a.Status == exam.AttemptSubmitted || a.Status == exam.AttemptGraded {
			completed++
		}
		if e, ok := byID[a.ExamID]; ok && !e.ShowResults {
			continue
		}
		visible = append(visible, a)
	}

	upcoming := UpcomingExams(exams, attempts, now, studentID)
	sum := StudentSummary{
		CompletedExams: completed,
		UpcomingExams:  len(upcoming),
		ActiveExams:    len(ActiveExams(exams, attempts, now, studentID)),
		TotalAttempts:  len(attempts),
		AverageScore:   AverageScore(visible),
		BestScore:      BestScore(visible),
		CompletionRate: CompletionRate(attempts),
		Upcoming:       ExamCards(upcoming, attempts, studentID),
		RecentResults:  make([]RecentResult, 0),
	}
	if len(sum.Upcoming) > 3 {
		sum.Upcoming = sum.Upcoming[:3]
	}
	for _, a := range RecentResults(visible, 5) {
		score := 0
		if a.Score != nil {
			score = *a.Score
		}
		sum.RecentResults = append(sum.RecentResults, RecentResult{
			AttemptID: a.ID,
			ExamID:    a.ExamID,
			ExamTitle: byID[a.ExamID].Title,
			Score:     score,
			Band:      ScoreBand(score),
			GradedAt:  a.GradedAt,
		})
	}
	return sum
}

// ExamCard is the student-facing summary of an exam. It never carries
// question content.
type ExamCard struct {
	ID                int64       `json:"id"`
	Title             string      `json:"title"`
	Subject           string      `json:"subject"`
	Description       string      `json:"description"`
	Duration          int         `json:"duration"`
	StartTime         time.Time   `json:"startTime"`
	EndTime           time.Time   `json:"endTime"`
	Status            exam.Status `json:"status"`
	QuestionCount     int         `json:"questionCount"`
	TotalPoints       int         `json:"totalPoints"`
	AllowedAttempts   int         `json:"allowedAttempts"`
	AttemptsUsed      int         `json:"attemptsUsed"`
	AttemptsRemaining int         `json:"attemptsRemaining"`
}

func ExamCards(exams []exam.Exam, attempts []exam.Attempt, studentID int64) []ExamCard {
	counts := attemptCounts(attempts, studentID)
	out := make([]ExamCard, 0, len(exams))
	for _, e := range exams {
		used := counts[e.ID]
		remaining := e.AllowedAttempts - used
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, ExamCard{
			ID:                e.ID,
			Title:             e.Title,
			Subject:           e.Subject,
			Description:       e.Description,
			Duration:          e.DurationMinutes,
			StartTime:         e.StartTime,
			EndTime:           e.EndTime,
			Status:            e.Status,
			QuestionCount:     len(e.Questions),
			TotalPoints:       e.TotalPoints(),
			AllowedAttempts:   e.AllowedAttempts,
			AttemptsUsed:      used,
			AttemptsRemaining: remaining,
		})
	}
	return out
}

type TeacherSummary struct {
	MyExams          int            `json:"myExams"`
	PublishedExams   int            `json:"publishedExams"`
	QuestionsCreated int            `json:"questionsCreated"`
	TotalStudents    int            `json:"totalStudents"`
	PendingGrading   int            `json:"pendingGrading"`
	AverageScore     int            `json:"averageScore"`
	Pending          []exam.Attempt `json:"pending"`
}

// BuildTeacherSummary summarizes exams authored by a teacher and the attempts
// made on them.
func BuildTeacherSummary(exams []exam.Exam, attempts []exam.Attempt, questionsCreated, totalStudents int) TeacherSummary {
	published := 0
	for _, e := range exams {
		if e.Status == exam.StatusPublished {
			published++
		}
	}
	pending := PendingGrading(attempts, exams)
	sum := TeacherSummary{
		MyExams:          len(exams),
		PublishedExams:   published,
		QuestionsCreated: questionsCreated,
		TotalStudents:    totalStudents,
		PendingGrading:   len(pending),
		AverageScore:     AverageScore(attempts),
		Pending:          pending,
	}
	if len(sum.Pending) > 3 {
		sum.Pending = sum.Pending[:3]
	}
	return sum
}

type Overview struct {
	TotalUsers     int `json:"totalUsers"`
	Students       int `json:"students"`
	Teachers       int `json:"teachers"`
	Admins         int `json:"admins"`
	ActiveExams    int `json:"activeExams"`
	QuestionBank   int `json:"questionBank"`
	CompletionRate int `json:"completionRate"`
	AverageScore   int `json:"averageScore"`
	PendingGrading int `json:"pendingGrading"`
}

// RoleCounts holds active user counts per role.
type RoleCounts struct {
	Students int
	Teachers int
	Admins   int
}

// BuildOverview summarizes the whole installation. An exam is active while it
// is published and its window has not closed.
func BuildOverview(exams []exam.Exam, attempts []exam.Attempt, users RoleCounts, questionBank int, now time.Time) Overview {
	active := 0
	for _, e := range exams {
		if e = exam.Refresh(e, now); e.Status == exam.StatusPublished {
			active++
		}
	}
	return Overview{
		TotalUsers:     users.Students + users.Teachers + users.Admins,
		Students:       users.Students,
		Teachers:       users.Teachers,
		Admins:         users.Admins,
		ActiveExams:    active,
		QuestionBank:   questionBank,
		CompletionRate: CompletionRate(attempts),
		AverageScore:   AverageScore(attempts),
		PendingGrading: len(PendingGrading(attempts, exams)),
	}
}

func attemptCounts(attempts []exam.Attempt, studentID int64) map[int64]int {
	counts := make(map[int64]int)
	for _, a := range attempts {
		if a.StudentID == studentID {
			counts[a.ExamID]++
		}
	}
	return counts
}

func sortByStart(items []exam.Exam) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].StartTime.Equal(items[j].StartTime) {
			return items[i].ID < items[j].ID
		}
		return items[i].StartTime.Before(items[j].StartTime)
	})
}

func roundPercent(v float64) int {
	return int(math.Round(v))
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
