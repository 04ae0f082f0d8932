package report

import (
	"strings"
	"testing"
	"time"

	"examportal/internal/auth"
	"examportal/internal/exam"
	"examportal/internal/question"
)

func TestActivityFeedOrdersNewestFirst(t *testing.T) {
	e := publishedExam(1, baseTime, 1)
	e.Title = "Physics Quiz"
	e.CreatedAt = baseTime.Add(-48 * time.Hour)
	e.PublishedAt = timeAt(-24 * time.Hour)

	attempts := []exam.Attempt{
		gradedAttempt(10, 1, 42, 88, 3*time.Hour),
		{ID: 11, ExamID: 1, StudentID: 43, Status: exam.AttemptInProgress},
	}

	items := ActivityFeed(ActivitySnapshot{Exams: []exam.Exam{e}, Attempts: attempts}, 0)
	if len(items) != 4 {
		t.Fatalf("expected 4 items, got %d: %+v", len(items), items)
	}
	wantMessages := []string{"Attempt graded", "Attempt submitted", "Exam published", "Exam created"}
	for i, want := range wantMessages {
		if items[i].Message != want {
			t.Fatalf("item %d: expected %q, got %q", i, want, items[i].Message)
		}
	}
	if items[0].Type != ActivityAttempt || !strings.Contains(items[0].Detail, "88%") {
		t.Fatalf("unexpected graded item: %+v", items[0])
	}
	if !strings.Contains(items[2].Detail, "1 questions, 10 points") {
		t.Fatalf("unexpected published detail: %q", items[2].Detail)
	}
}

func TestActivityFeedLimitAndUnknownExam(t *testing.T) {
	attempts := []exam.Attempt{
		gradedAttempt(1, 99, 42, 50, time.Hour),
		gradedAttempt(2, 99, 43, 60, 2*time.Hour),
	}
	items := ActivityFeed(ActivitySnapshot{Attempts: attempts}, 1)
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if !strings.Contains(items[0].Detail, "exam #99") || !strings.Contains(items[0].Detail, "student #43") {
		t.Fatalf("unexpected detail: %q", items[0].Detail)
	}
}

func TestActivityFeedUsersAndQuestions(t *testing.T) {
	long := strings.Repeat("x", 80)
	snap := ActivitySnapshot{
		Users: []auth.User{
			{ID: 1, Username: "budi", Role: auth.RoleTeacher, CreatedAt: baseTime},
			{ID: 2, Username: "siti", FullName: "Siti Aminah", Role: auth.RoleStudent, CreatedAt: baseTime.Add(2 * time.Hour)},
		},
		Questions: []question.Question{
			{ID: 9, Text: long, CreatedAt: baseTime.Add(time.Hour)},
		},
	}

	items := ActivityFeed(snap, 0)
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Type != ActivityUser || items[0].Message != "New student registered" || items[0].Detail != "Siti Aminah" {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if items[1].Type != ActivityQuestion || items[1].Detail != strings.Repeat("x", 60)+"..." {
		t.Fatalf("unexpected question item: %+v", items[1])
	}
	if items[2].Message != "New teacher registered" || items[2].Detail != "budi" {
		t.Fatalf("expected username fallback, got %+v", items[2])
	}
}
