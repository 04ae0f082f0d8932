package report

import (
	"fmt"
	"sort"
	"time"

	"examportal/internal/auth"
	"examportal/internal/exam"
	"examportal/internal/question"
)

const (
	ActivityExam     = "exam"
	ActivityAttempt  = "attempt"
	ActivityUser     = "user"
	ActivityQuestion = "question"
)

const questionDetailLen = 60

type ActivityItem struct {
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Detail  string    `json:"detail"`
	At      time.Time `json:"at"`
}

// ActivitySnapshot is the data the admin activity feed is derived from.
type ActivitySnapshot struct {
	Exams     []exam.Exam
	Attempts  []exam.Attempt
	Users     []auth.User
	Questions []question.Question
}

// ActivityFeed lists the events found in the snapshot, newest first, at most
// limit items when limit is positive.
func ActivityFeed(snap ActivitySnapshot, limit int) []ActivityItem {
	exams, attempts := snap.Exams, snap.Attempts
	titles := make(map[int64]string, len(exams))
	items := make([]ActivityItem, 0, len(exams)+len(attempts)+len(snap.Users)+len(snap.Questions))

	for _, e := range exams {
		titles[e.ID] = e.Title
		items = append(items, ActivityItem{
			Type:    ActivityExam,
			Message: "Exam created",
			Detail:  e.Title,
			At:      e.CreatedAt,
		})
		if e.PublishedAt != nil {
			items = append(items, ActivityItem{
				Type:    ActivityExam,
				Message: "Exam published",
				Detail:  fmt.Sprintf("%s (%d questions, %d points)", e.Title, len(e.Questions), e.TotalPoints()),
				At:      *e.PublishedAt,
			})
		}
		if e.ArchivedAt != nil {
			items = append(items, ActivityItem{
				Type:    ActivityExam,
				Message: "Exam archived",
				Detail:  e.Title,
				At:      *e.ArchivedAt,
			})
		}
	}

	for _, a := range attempts {
		title := titles[a.ExamID]
		if title == "" {
			title = fmt.Sprintf("exam #%d", a.ExamID)
		}
		if a.SubmittedAt != nil {
			items = append(items, ActivityItem{
				Type:    ActivityAttempt,
				Message: "Attempt submitted",
				Detail:  fmt.Sprintf("student #%d on %s", a.StudentID, title),
				At:      *a.SubmittedAt,
			})
		}
		if a.GradedAt != nil && a.Score != nil {
			items = append(items, ActivityItem{
				Type:    ActivityAttempt,
				Message: "Attempt graded",
				Detail:  fmt.Sprintf("student #%d scored %d%% on %s", a.StudentID, *a.Score, title),
				At:      *a.GradedAt,
			})
		}
	}

	for _, u := range snap.Users {
		name := u.FullName
		if name == "" {
			name = u.Username
		}
		items = append(items, ActivityItem{
			Type:    ActivityUser,
			Message: fmt.Sprintf("New %s registered", u.Role),
			Detail:  name,
			At:      u.CreatedAt,
		})
	}

	for _, q := range snap.Questions {
		detail := truncate(q.Text, questionDetailLen)
		if q.Subject != "" {
			detail = q.Subject + ": " + detail
		}
		items = append(items, ActivityItem{
			Type:    ActivityQuestion,
			Message: "Question added",
			Detail:  detail,
			At:      q.CreatedAt,
		})
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].At.After(items[j].At) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
