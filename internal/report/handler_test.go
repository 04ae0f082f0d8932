package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"examportal/internal/auth"
	"examportal/internal/exam"

	"github.com/go-chi/chi/v5"
)

type mockReportService struct {
	studentDashboardFn func(ctx context.Context, studentID int64) (*StudentSummary, error)
	activeExamsFn      func(ctx context.Context, studentID int64) ([]ExamCard, error)
	upcomingExamsFn    func(ctx context.Context, studentID int64) ([]ExamCard, error)
	teacherDashboardFn func(ctx context.Context, teacherID int64) (*TeacherSummary, error)
	overviewFn         func(ctx context.Context) (*Overview, error)
	activityFn         func(ctx context.Context, limit int) ([]ActivityItem, error)
	summaryByExamFn    func(ctx context.Context, examID int64) (*ExamSummary, error)
}

func (m *mockReportService) StudentDashboard(ctx context.Context, studentID int64) (*StudentSummary, error) {
	if m.studentDashboardFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.studentDashboardFn(ctx, studentID)
}

func (m *mockReportService) ActiveExams(ctx context.Context, studentID int64) ([]ExamCard, error) {
	if m.activeExamsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.activeExamsFn(ctx, studentID)
}

func (m *mockReportService) UpcomingExams(ctx context.Context, studentID int64) ([]ExamCard, error) {
	if m.upcomingExamsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.upcomingExamsFn(ctx, studentID)
}

func (m *mockReportService) TeacherDashboard(ctx context.Context, teacherID int64) (*TeacherSummary, error) {
	if m.teacherDashboardFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.teacherDashboardFn(ctx, teacherID)
}

func (m *mockReportService) Overview(ctx context.Context) (*Overview, error) {
	if m.overviewFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.overviewFn(ctx)
}

func (m *mockReportService) Activity(ctx context.Context, limit int) ([]ActivityItem, error) {
	if m.activityFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.activityFn(ctx, limit)
}

func (m *mockReportService) SummaryByExam(ctx context.Context, examID int64) (*ExamSummary, error) {
	if m.summaryByExamFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.summaryByExamFn(ctx, examID)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func withUser(r *http.Request, id int64, role string) *http.Request {
	return r.WithContext(auth.ContextWithUser(r.Context(), &auth.User{ID: id, Role: role}))
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestStudentDashboardUsesCaller(t *testing.T) {
	h := &Handler{svc: &mockReportService{
		studentDashboardFn: func(ctx context.Context, studentID int64) (*StudentSummary, error) {
			if studentID != 42 {
				t.Fatalf("expected caller id 42, got %d", studentID)
			}
			return &StudentSummary{CompletedExams: 3, CompletionRate: 75}, nil
		},
	}}

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/student", nil), 42, auth.RoleStudent)
	w := httptest.NewRecorder()
	h.StudentDashboard(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data, _ := decodeMap(t, w)["data"].(map[string]interface{})
	if data["completionRate"] != float64(75) || data["completedExams"] != float64(3) {
		t.Fatalf("unexpected data: %v", data)
	}
}

func TestDashboardRequiresUser(t *testing.T) {
	h := &Handler{svc: &mockReportService{}}
	handlers := map[string]http.HandlerFunc{
		"student":  h.StudentDashboard,
		"active":   h.ActiveExams,
		"upcoming": h.UpcomingExams,
		"teacher":  h.TeacherDashboard,
	}
	for name, fn := range handlers {
		w := httptest.NewRecorder()
		fn(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, w.Code)
		}
	}
}

func TestUpcomingExamsReturnsCards(t *testing.T) {
	h := &Handler{svc: &mockReportService{
		upcomingExamsFn: func(ctx context.Context, studentID int64) ([]ExamCard, error) {
			return []ExamCard{{ID: 3, Title: "Biology", AttemptsRemaining: 1}}, nil
		},
	}}
	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/exams/upcoming", nil), 42, auth.RoleStudent)
	w := httptest.NewRecorder()
	h.UpcomingExams(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	data, _ := decodeMap(t, w)["data"].([]interface{})
	if len(data) != 1 {
		t.Fatalf("expected 1 card, got %v", data)
	}
	card := data[0].(map[string]interface{})
	if _, leaked := card["questions"]; leaked {
		t.Fatalf("card must not carry questions: %v", card)
	}
}

func TestActivityLimit(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		status    int
		wantLimit int
	}{
		{name: "default", query: "", status: http.StatusOK, wantLimit: defaultActivityLimit},
		{name: "explicit", query: "?limit=5", status: http.StatusOK, wantLimit: 5},
		{name: "zero", query: "?limit=0", status: http.StatusBadRequest},
		{name: "too large", query: "?limit=500", status: http.StatusBadRequest},
		{name: "not a number", query: "?limit=abc", status: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := 0
			h := &Handler{svc: &mockReportService{
				activityFn: func(ctx context.Context, limit int) ([]ActivityItem, error) {
					got = limit
					return []ActivityItem{}, nil
				},
			}}
			w := httptest.NewRecorder()
			h.Activity(w, httptest.NewRequest(http.MethodGet, "/api/v1/admin/activity"+tc.query, nil))
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, w.Code)
			}
			if tc.status == http.StatusOK && got != tc.wantLimit {
				t.Fatalf("expected limit %d, got %d", tc.wantLimit, got)
			}
		})
	}
}

func TestSummaryErrors(t *testing.T) {
	h := &Handler{svc: &mockReportService{
		summaryByExamFn: func(ctx context.Context, examID int64) (*ExamSummary, error) {
			if examID == 404 {
				return nil, exam.ErrExamNotFound
			}
			return nil, errors.New("db down")
		},
	}}
	tests := []struct {
		id     string
		status int
	}{
		{id: "abc", status: http.StatusBadRequest},
		{id: "404", status: http.StatusNotFound},
		{id: "1", status: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		req := withChiParam(httptest.NewRequest(http.MethodGet, "/api/v1/reports/exams/"+tc.id, nil), "id", tc.id)
		w := httptest.NewRecorder()
		h.Summary(w, req)
		if w.Code != tc.status {
			t.Fatalf("id %s: expected %d, got %d", tc.id, tc.status, w.Code)
		}
	}
}
