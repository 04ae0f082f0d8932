package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"examportal/internal/auth"
	internaldb "examportal/internal/db"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
}

func newTestServer(t *testing.T) (*testServer, *Services) {
	t.Helper()
	conn, err := internaldb.OpenTestSQLite(context.Background())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	cfg := Config{
		AuthRateLimitPerMin: 100,
		JWTSecret:           "router-test-secret",
		JWTTTLMinutes:       60,
		CORSOrigins:         []string{"http://localhost:3000"},
		SignupEnabled:       true,
	}
	svcs := NewServices(cfg, conn)
	return &testServer{t: t, handler: NewRouter(cfg, conn, svcs)}, svcs
}

func (s *testServer) do(method, target, token string, body any) (int, map[string]interface{}) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	out := map[string]interface{}{}
	if w.Header().Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			s.t.Fatalf("%s %s: decode response: %v", method, target, err)
		}
	}
	return w.Code, out
}

func (s *testServer) login(username, password string) string {
	s.t.Helper()
	code, body := s.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"identifier": username,
		"password":   password,
	})
	if code != http.StatusOK {
		s.t.Fatalf("login %s: status %d body %v", username, code, body)
	}
	data := body["data"].(map[string]interface{})
	return data["access_token"].(string)
}

func createUser(t *testing.T, svcs *Services, username, role string) {
	t.Helper()
	if _, err := svcs.Auth.CreateUser(context.Background(), auth.CreateUserInput{
		Username: username,
		Password: "password123",
		FullName: username,
		Role:     role,
	}); err != nil {
		t.Fatalf("create %s: %v", username, err)
	}
}

func dataMap(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	data, ok := body["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected data object, got %v", body)
	}
	return data
}

func TestRouterPublicEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name       string
		method     string
		target     string
		wantStatus int
	}{
		{name: "healthz", method: http.MethodGet, target: "/healthz", wantStatus: http.StatusOK},
		{name: "metrics", method: http.MethodGet, target: "/metrics", wantStatus: http.StatusOK},
		{name: "me without token", method: http.MethodGet, target: "/api/v1/auth/me", wantStatus: http.StatusUnauthorized},
		{name: "exams without token", method: http.MethodGet, target: "/api/v1/exams", wantStatus: http.StatusUnauthorized},
		{name: "login invalid body", method: http.MethodPost, target: "/api/v1/auth/login", wantStatus: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var req *http.Request
			if tc.name == "login invalid body" {
				req = httptest.NewRequest(tc.method, tc.target, bytes.NewBufferString("{"))
			} else {
				req = httptest.NewRequest(tc.method, tc.target, nil)
			}
			w := httptest.NewRecorder()
			srv.handler.ServeHTTP(w, req)
			if w.Code != tc.wantStatus {
				t.Fatalf("%s %s: got status %d, want %d", tc.method, tc.target, w.Code, tc.wantStatus)
			}
		})
	}
}

func TestRouterRoleGuards(t *testing.T) {
	srv, svcs := newTestServer(t)
	createUser(t, svcs, "siti", auth.RoleStudent)
	createUser(t, svcs, "budi", auth.RoleTeacher)
	student := srv.login("siti", "password123")
	teacher := srv.login("budi", "password123")

	tests := []struct {
		name   string
		method string
		target string
		token  string
		want   int
	}{
		{name: "student cannot list questions", method: http.MethodGet, target: "/api/v1/questions", token: student, want: http.StatusForbidden},
		{name: "student cannot grade", method: http.MethodPost, target: "/api/v1/attempts/1/grade", token: student, want: http.StatusForbidden},
		{name: "teacher cannot start exams", method: http.MethodPost, target: "/api/v1/exams/1/start", token: teacher, want: http.StatusForbidden},
		{name: "teacher cannot read overview", method: http.MethodGet, target: "/api/v1/dashboard/overview", token: teacher, want: http.StatusForbidden},
		{name: "teacher lists questions", method: http.MethodGet, target: "/api/v1/questions", token: teacher, want: http.StatusOK},
		{name: "student dashboard", method: http.MethodGet, target: "/api/v1/dashboard/student", token: student, want: http.StatusOK},
		{name: "me", method: http.MethodGet, target: "/api/v1/auth/me", token: student, want: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body := srv.do(tc.method, tc.target, tc.token, nil)
			if code != tc.want {
				t.Fatalf("got %d, want %d: %v", code, tc.want, body)
			}
		})
	}
}

func TestRouterExamFlow(t *testing.T) {
	srv, svcs := newTestServer(t)
	createUser(t, svcs, "admin", auth.RoleAdmin)
	createUser(t, svcs, "budi", auth.RoleTeacher)
	createUser(t, svcs, "siti", auth.RoleStudent)
	admin := srv.login("admin", "password123")
	teacher := srv.login("budi", "password123")
	student := srv.login("siti", "password123")

	code, body := srv.do(http.MethodPost, "/api/v1/questions", teacher, map[string]any{
		"question":       "2 + 2 = ?",
		"type":           "MULTIPLE_CHOICE",
		"options":        []string{"3", "4"},
		"correctAnswers": []string{"4"},
		"points":         10,
		"subject":        "Math",
	})
	if code != http.StatusCreated {
		t.Fatalf("create question: %d %v", code, body)
	}
	questionID := int64(dataMap(t, body)["id"].(float64))

	now := time.Now().UTC()
	code, body = srv.do(http.MethodPost, "/api/v1/exams", teacher, map[string]any{
		"title":     "Quiz",
		"subject":   "Math",
		"duration":  30,
		"startTime": now.Add(-time.Minute).Format(time.RFC3339),
		"endTime":   now.Add(time.Hour).Format(time.RFC3339),
	})
	if code != http.StatusCreated {
		t.Fatalf("create exam: %d %v", code, body)
	}
	examID := int64(dataMap(t, body)["id"].(float64))

	code, body = srv.do(http.MethodPut, fmt.Sprintf("/api/v1/exams/%d/questions", examID), teacher, map[string]any{
		"questions": []map[string]any{{"questionId": questionID}},
	})
	if code != http.StatusOK {
		t.Fatalf("set questions: %d %v", code, body)
	}
	code, body = srv.do(http.MethodPost, fmt.Sprintf("/api/v1/exams/%d/publish", examID), teacher, nil)
	if code != http.StatusOK {
		t.Fatalf("publish: %d %v", code, body)
	}

	code, body = srv.do(http.MethodGet, "/api/v1/student/exams/active", student, nil)
	if code != http.StatusOK {
		t.Fatalf("active exams: %d %v", code, body)
	}
	if cards := body["data"].([]interface{}); len(cards) != 1 {
		t.Fatalf("expected one active exam, got %v", cards)
	}

	code, body = srv.do(http.MethodPost, fmt.Sprintf("/api/v1/exams/%d/start", examID), student, nil)
	if code != http.StatusCreated {
		t.Fatalf("start: %d %v", code, body)
	}
	view := dataMap(t, body)
	attemptID := int64(view["id"].(float64))
	questions := view["questions"].([]interface{})
	if _, leaked := questions[0].(map[string]interface{})["correctAnswers"]; leaked {
		t.Fatalf("student view must not expose correct answers: %v", questions[0])
	}

	code, body = srv.do(http.MethodPost, fmt.Sprintf("/api/v1/exams/%d/start", examID), student, nil)
	if code != http.StatusForbidden {
		t.Fatalf("second start: expected 403, got %d %v", code, body)
	}

	code, body = srv.do(http.MethodPut, fmt.Sprintf("/api/v1/attempts/%d/answers/%d", attemptID, questionID), student, map[string]any{"answer": "4"})
	if code != http.StatusOK {
		t.Fatalf("save answer: %d %v", code, body)
	}
	code, body = srv.do(http.MethodPost, fmt.Sprintf("/api/v1/attempts/%d/submit", attemptID), student, nil)
	if code != http.StatusOK {
		t.Fatalf("submit: %d %v", code, body)
	}
	if got := dataMap(t, body); got["status"] != "GRADED" || got["score"] != float64(100) {
		t.Fatalf("expected auto-graded 100, got %v", got)
	}

	code, body = srv.do(http.MethodGet, fmt.Sprintf("/api/v1/exams/%d/summary", examID), teacher, nil)
	if code != http.StatusOK {
		t.Fatalf("summary: %d %v", code, body)
	}
	if got := dataMap(t, body); got["averageScore"] != float64(100) || got["completionRate"] != float64(100) {
		t.Fatalf("unexpected summary: %v", got)
	}

	code, body = srv.do(http.MethodGet, "/api/v1/dashboard/overview", admin, nil)
	if code != http.StatusOK {
		t.Fatalf("overview: %d %v", code, body)
	}
	if got := dataMap(t, body); got["totalUsers"] != float64(3) || got["questionBank"] != float64(1) {
		t.Fatalf("unexpected overview: %v", got)
	}
}

func TestRouterSignupCreatesStudent(t *testing.T) {
	srv, _ := newTestServer(t)

	code, body := srv.do(http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"username":  "rina",
		"password":  "password123",
		"firstName": "Rina",
		"lastName":  "Wati",
	})
	if code != http.StatusCreated {
		t.Fatalf("signup: %d %v", code, body)
	}
	if got := dataMap(t, body); got["role"] != auth.RoleStudent || got["full_name"] != "Rina Wati" {
		t.Fatalf("unexpected signup user: %v", got)
	}

	code, body = srv.do(http.MethodPost, "/api/v1/auth/signup", "", map[string]string{
		"username": "rina",
		"password": "password123",
	})
	if code != http.StatusConflict {
		t.Fatalf("duplicate signup: expected 409, got %d %v", code, body)
	}

	token := srv.login("rina", "password123")
	code, body = srv.do(http.MethodGet, "/api/v1/auth/me", token, nil)
	if code != http.StatusOK || dataMap(t, body)["role"] != auth.RoleStudent {
		t.Fatalf("me after signup: %d %v", code, body)
	}
	code, _ = srv.do(http.MethodGet, "/api/v1/questions", token, nil)
	if code != http.StatusForbidden {
		t.Fatalf("signed up student must not reach staff routes, got %d", code)
	}
}

func TestRouterSignupDisabled(t *testing.T) {
	conn, err := internaldb.OpenTestSQLite(context.Background())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	cfg := Config{AuthRateLimitPerMin: 100, JWTSecret: "router-test-secret", JWTTTLMinutes: 60}
	srv := &testServer{t: t, handler: NewRouter(cfg, conn, NewServices(cfg, conn))}

	code, _ := srv.do(http.MethodPost, "/api/v1/auth/signup", "", map[string]string{"username": "rina", "password": "password123"})
	if code == http.StatusCreated {
		t.Fatalf("signup must not be routed when disabled")
	}
}

func TestRouterOwnershipGuards(t *testing.T) {
	srv, svcs := newTestServer(t)
	createUser(t, svcs, "admin", auth.RoleAdmin)
	createUser(t, svcs, "budi", auth.RoleTeacher)
	createUser(t, svcs, "dewi", auth.RoleTeacher)
	admin := srv.login("admin", "password123")
	owner := srv.login("budi", "password123")
	other := srv.login("dewi", "password123")

	code, body := srv.do(http.MethodPost, "/api/v1/questions", owner, map[string]any{
		"question":       "Capital of France?",
		"type":           "MULTIPLE_CHOICE",
		"options":        []string{"Paris", "Rome"},
		"correctAnswers": []string{"Paris"},
		"points":         5,
		"subject":        "Geography",
	})
	if code != http.StatusCreated {
		t.Fatalf("create question: %d %v", code, body)
	}
	questionID := int64(dataMap(t, body)["id"].(float64))

	now := time.Now().UTC()
	code, body = srv.do(http.MethodPost, "/api/v1/exams", owner, map[string]any{
		"title":     "Geo quiz",
		"subject":   "Geography",
		"duration":  20,
		"startTime": now.Add(time.Hour).Format(time.RFC3339),
		"endTime":   now.Add(2 * time.Hour).Format(time.RFC3339),
	})
	if code != http.StatusCreated {
		t.Fatalf("create exam: %d %v", code, body)
	}
	examID := int64(dataMap(t, body)["id"].(float64))
	setQuestions := map[string]any{"questions": []map[string]any{{"questionId": questionID}}}

	tests := []struct {
		name   string
		method string
		target string
		token  string
		body   any
		want   int
	}{
		{name: "other teacher sets questions", method: http.MethodPut, target: fmt.Sprintf("/api/v1/exams/%d/questions", examID), token: other, body: setQuestions, want: http.StatusForbidden},
		{name: "other teacher publishes", method: http.MethodPost, target: fmt.Sprintf("/api/v1/exams/%d/publish", examID), token: other, want: http.StatusForbidden},
		{name: "other teacher lists attempts", method: http.MethodGet, target: fmt.Sprintf("/api/v1/exams/%d/attempts", examID), token: other, want: http.StatusForbidden},
		{name: "owner sets questions", method: http.MethodPut, target: fmt.Sprintf("/api/v1/exams/%d/questions", examID), token: owner, body: setQuestions, want: http.StatusOK},
		{name: "admin publishes", method: http.MethodPost, target: fmt.Sprintf("/api/v1/exams/%d/publish", examID), token: admin, want: http.StatusOK},
		{name: "other teacher deletes question", method: http.MethodDelete, target: fmt.Sprintf("/api/v1/questions/%d", questionID), token: other, want: http.StatusForbidden},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body := srv.do(tc.method, tc.target, tc.token, tc.body)
			if code != tc.want {
				t.Fatalf("got %d, want %d: %v", code, tc.want, body)
			}
		})
	}
}

func TestRouterDeleteQuestion(t *testing.T) {
	srv, svcs := newTestServer(t)
	createUser(t, svcs, "budi", auth.RoleTeacher)
	teacher := srv.login("budi", "password123")

	code, body := srv.do(http.MethodPost, "/api/v1/questions", teacher, map[string]any{
		"question":       "Boiling point of water in C?",
		"type":           "SHORT_ANSWER",
		"correctAnswers": []string{"100"},
		"points":         5,
		"subject":        "Physics",
	})
	if code != http.StatusCreated {
		t.Fatalf("create question: %d %v", code, body)
	}
	target := fmt.Sprintf("/api/v1/questions/%d", int64(dataMap(t, body)["id"].(float64)))

	code, body = srv.do(http.MethodDelete, target, teacher, nil)
	if code != http.StatusOK {
		t.Fatalf("delete: %d %v", code, body)
	}
	code, _ = srv.do(http.MethodGet, target, teacher, nil)
	if code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", code)
	}
	code, _ = srv.do(http.MethodDelete, target, teacher, nil)
	if code != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", code)
	}
}
