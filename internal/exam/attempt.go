package exam

import (
	"math"
	"math/rand/v2"
	"time"

	"examportal/internal/examerr"
)

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "IN_PROGRESS"
	AttemptSubmitted  AttemptStatus = "SUBMITTED"
	AttemptGraded     AttemptStatus = "GRADED"
)

type Attempt struct {
	ID            int64                    `json:"id"`
	ExamID        int64                    `json:"examId"`
	StudentID     int64                    `json:"studentId"`
	Ordinal       int                      `json:"ordinal"`
	Status        AttemptStatus            `json:"status"`
	StartedAt     time.Time                `json:"startedAt"`
	ExpiresAt     time.Time                `json:"expiresAt"`
	SubmittedAt   *time.Time               `json:"submittedAt,omitempty"`
	GradedAt      *time.Time               `json:"gradedAt,omitempty"`
	QuestionOrder []int64                  `json:"questionOrder"`
	Answers       map[int64]Answer         `json:"answers"`
	Results       map[int64]QuestionResult `json:"results,omitempty"`
	Score         *int                     `json:"score,omitempty"`
	MaxScore      int                      `json:"maxScore"`
	Feedback      string                   `json:"feedback,omitempty"`
	GradedBy      int64                    `json:"gradedBy,omitempty"`
}

// NeedsManualReview reports whether any scored question awaits a human grade.
func (a Attempt) NeedsManualReview() bool {
	return hasManualReview(a.Results)
}

// Start opens a new attempt for studentID, whose prior attempt count on the
// exam is priorAttempts.
func Start(e Exam, studentID int64, priorAttempts int, now time.Time) (Attempt, error) {
	if studentID <= 0 {
		return Attempt{}, examerr.Validation("attempt", 0, "studentId", "student is required")
	}
	if reason := notOpenReason(e, now, priorAttempts); reason != "" {
		return Attempt{}, &examerr.NotOpenError{ExamID: e.ID, StudentID: studentID, Reason: reason}
	}

	ordinal := priorAttempts + 1
	expires := now.Add(time.Duration(e.DurationMinutes) * time.Minute)
	if expires.After(e.EndTime) {
		expires = e.EndTime
	}
	return Attempt{
		ExamID:        e.ID,
		StudentID:     studentID,
		Ordinal:       ordinal,
		Status:        AttemptInProgress,
		StartedAt:     now,
		ExpiresAt:     expires,
		QuestionOrder: questionOrder(e, studentID, ordinal),
		Answers:       map[int64]Answer{},
		MaxScore:      e.TotalPoints(),
	}, nil
}

// questionOrder is stable for a given exam, student and ordinal so a
// reloaded attempt shows the same sequence.
func questionOrder(e Exam, studentID int64, ordinal int) []int64 {
	ids := make([]int64, 0, len(e.Questions))
	for _, eq := range e.Questions {
		ids = append(ids, eq.Question.ID)
	}
	if !e.RandomizeQuestions || len(ids) < 2 {
		return ids
	}
	r := rand.New(rand.NewPCG(uint64(e.ID)<<32|uint64(ordinal), uint64(studentID)))
	r.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	return ids
}

// RecordAnswer overwrites the answer for questionID.
func RecordAnswer(a Attempt, questionID int64, value Answer) (Attempt, error) {
	if a.Status != AttemptInProgress {
		return Attempt{}, examerr.InvalidState("attempt", a.ID, string(a.Status), "record answer")
	}
	answers := make(map[int64]Answer, len(a.Answers)+1)
	for k, v := range a.Answers {
		answers[k] = v
	}
	answers[questionID] = append(Answer(nil), value...)
	a.Answers = answers
	return a, nil
}

// Submit scores the attempt. Attempts without manual-review questions are
// graded immediately; the rest stay Submitted with no score.
func Submit(a Attempt, e Exam, now time.Time) (Attempt, error) {
	if a.Status != AttemptInProgress {
		return Attempt{}, examerr.InvalidState("attempt", a.ID, string(a.Status), "submit")
	}
	if a.ExamID != e.ID {
		return Attempt{}, examerr.Validation("attempt", a.ID, "examId", "attempt belongs to a different exam")
	}
	if now.After(e.EndTime) {
		return Attempt{}, &examerr.DeadlineExceededError{AttemptID: a.ID, ExamID: e.ID, Deadline: e.EndTime, At: now}
	}

	a.Results = GradeAll(e, a.Answers)
	a.SubmittedAt = &now
	if hasManualReview(a.Results) {
		a.Status = AttemptSubmitted
		a.Score = nil
		return a, nil
	}
	score := AggregateAttemptScore(sortedResults(a.Results), a.MaxScore)
	a.Status = AttemptGraded
	a.Score = &score
	a.GradedAt = &now
	return a, nil
}

// Grade applies human scores to manual-review questions and finalizes the
// attempt. Manual-review questions without an override count as 0.
func Grade(a Attempt, overrides map[int64]float64, feedback string, graderID int64, now time.Time) (Attempt, error) {
	if a.Status != AttemptSubmitted {
		return Attempt{}, examerr.InvalidState("attempt", a.ID, string(a.Status), "grade")
	}

	results := make(map[int64]QuestionResult, len(a.Results))
	for k, v := range a.Results {
		results[k] = v
	}
	for qid, pts := range overrides {
		r, ok := results[qid]
		if !ok {
			return Attempt{}, examerr.Validation("attempt", a.ID, "overrides", "question is not part of this attempt")
		}
		if !r.RequiresManualReview {
			return Attempt{}, examerr.Validation("attempt", a.ID, "overrides", "question does not require manual review")
		}
		if math.IsNaN(pts) || pts < 0 || pts > float64(r.MaxPoints) {
			return Attempt{}, examerr.Validation("attempt", a.ID, "overrides", "score must be between 0 and the question points")
		}
		r.EarnedPoints = pts
		r.IsCorrect = boolPtr(pts == float64(r.MaxPoints) && r.MaxPoints > 0)
		r.ManuallyGraded = true
		r.Reason = ReasonGraded
		results[qid] = r
	}
	for qid, r := range results {
		if r.RequiresManualReview && !r.ManuallyGraded {
			r.EarnedPoints = 0
			results[qid] = r
		}
	}

	score := AggregateAttemptScore(sortedResults(results), a.MaxScore)
	a.Results = results
	a.Score = &score
	a.Feedback = feedback
	a.GradedBy = graderID
	a.GradedAt = &now
	a.Status = AttemptGraded
	return a, nil
}

// RemainingSeconds is the time left on the attempt clock, 0 once expired or
// no longer in progress.
func RemainingSeconds(a Attempt, now time.Time) int {
	if a.Status != AttemptInProgress || !now.Before(a.ExpiresAt) {
		return 0
	}
	return int(a.ExpiresAt.Sub(now) / time.Second)
}
