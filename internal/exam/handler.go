package exam

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"examportal/internal/app/apiresp"
	"examportal/internal/auth"
	"examportal/internal/examerr"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc examService
}

type examService interface {
	CreateExam(ctx context.Context, in ExamInput) (*Exam, error)
	GetExam(ctx context.Context, id int64) (*Exam, error)
	ListExams(ctx context.Context, f ExamFilter) ([]Exam, error)
	SetExamQuestions(ctx context.Context, examID int64, refs []QuestionRef) (*Exam, error)
	PublishExam(ctx context.Context, examID int64) (*Exam, error)
	ArchiveExam(ctx context.Context, examID int64) (*Exam, error)
	StartAttempt(ctx context.Context, examID, studentID int64) (*Attempt, error)
	GetAttempt(ctx context.Context, attemptID int64) (*Attempt, error)
	ViewAttempt(ctx context.Context, attemptID int64, staff bool) (*AttemptView, error)
	ListAttemptViews(ctx context.Context, f AttemptFilter, staff bool) ([]AttemptView, error)
	ListPendingGrading(ctx context.Context, examID int64) ([]Attempt, error)
	RecordAnswer(ctx context.Context, attemptID, questionID int64, value Answer) (*Attempt, error)
	SubmitAttempt(ctx context.Context, attemptID int64) (*Attempt, error)
	GradeAttempt(ctx context.Context, in GradeInput) (*Attempt, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type examRequest struct {
	Title              string    `json:"title"`
	Subject            string    `json:"subject"`
	Description        string    `json:"description"`
	Duration           int       `json:"duration"`
	StartTime          time.Time `json:"startTime"`
	EndTime            time.Time `json:"endTime"`
	AllowedAttempts    int       `json:"allowedAttempts"`
	RandomizeQuestions bool      `json:"randomizeQuestions"`
	ShowResults        *bool     `json:"showResults"`
}

type setQuestionsRequest struct {
	Questions []QuestionRef `json:"questions"`
}

type answerRequest struct {
	Answer Answer `json:"answer"`
}

type gradeRequest struct {
	Scores   map[int64]float64 `json:"scores"`
	Feedback string            `json:"feedback"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateExam(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	var req examRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	showResults := true
	if req.ShowResults != nil {
		showResults = *req.ShowResults
	}

	item, err := h.svc.CreateExam(r.Context(), ExamInput{
		Title:              req.Title,
		Subject:            req.Subject,
		Description:        req.Description,
		DurationMinutes:    req.Duration,
		StartTime:          req.StartTime.UTC(),
		EndTime:            req.EndTime.UTC(),
		AllowedAttempts:    req.AllowedAttempts,
		RandomizeQuestions: req.RandomizeQuestions,
		ShowResults:        showResults,
		CreatedBy:          user.ID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) ListExams(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}

	var f ExamFilter
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("mine")); v == "1" || strings.EqualFold(v, "true") {
		f.CreatedBy = user.ID
	}
	for _, raw := range strings.Split(q.Get("status"), ",") {
		if s := strings.ToUpper(strings.TrimSpace(raw)); s != "" {
			f.Statuses = append(f.Statuses, Status(s))
		}
	}

	items, err := h.svc.ListExams(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) GetExam(w http.ResponseWriter, r *http.Request) {
	examID, ok := pathID(w, r, "id", "invalid exam id")
	if !ok {
		return
	}
	item, err := h.svc.GetExam(r.Context(), examID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) SetQuestions(w http.ResponseWriter, r *http.Request) {
	examID, ok := h.authorizeExam(w, r)
	if !ok {
		return
	}
	var req setQuestionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	item, err := h.svc.SetExamQuestions(r.Context(), examID, req.Questions)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	examID, ok := h.authorizeExam(w, r)
	if !ok {
		return
	}
	item, err := h.svc.PublishExam(r.Context(), examID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	examID, ok := h.authorizeExam(w, r)
	if !ok {
		return
	}
	item, err := h.svc.ArchiveExam(r.Context(), examID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	examID, ok := pathID(w, r, "id", "invalid exam id")
	if !ok {
		return
	}

	attempt, err := h.svc.StartAttempt(r.Context(), examID, user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	view, err := h.svc.ViewAttempt(r.Context(), attempt.ID, false)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: view})
}

func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	user, attemptID, ok := h.authorizeAttempt(w, r, false)
	if !ok {
		return
	}
	view, err := h.svc.ViewAttempt(r.Context(), attemptID, auth.IsStaff(user))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: view})
}

func (h *Handler) ListMyAttempts(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	examID, _ := strconv.ParseInt(r.URL.Query().Get("exam_id"), 10, 64)

	items, err := h.svc.ListAttemptViews(r.Context(), AttemptFilter{ExamID: examID, StudentID: user.ID}, false)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) ListExamAttempts(w http.ResponseWriter, r *http.Request) {
	examID, ok := h.authorizeExam(w, r)
	if !ok {
		return
	}
	status := AttemptStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))

	items, err := h.svc.ListAttemptViews(r.Context(), AttemptFilter{ExamID: examID, Status: status}, true)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	examID, _ := strconv.ParseInt(r.URL.Query().Get("exam_id"), 10, 64)
	items, err := h.svc.ListPendingGrading(r.Context(), examID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) SaveAnswer(w http.ResponseWriter, r *http.Request) {
	_, attemptID, ok := h.authorizeAttempt(w, r, true)
	if !ok {
		return
	}
	questionID, ok := pathID(w, r, "questionID", "invalid question id")
	if !ok {
		return
	}
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	attempt, err := h.svc.RecordAnswer(r.Context(), attemptID, questionID, req.Answer)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]interface{}{
		"attempt_id":  attempt.ID,
		"question_id": questionID,
		"answered":    len(attempt.Answers),
	}})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	user, attemptID, ok := h.authorizeAttempt(w, r, true)
	if !ok {
		return
	}
	if _, err := h.svc.SubmitAttempt(r.Context(), attemptID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	view, err := h.svc.ViewAttempt(r.Context(), attemptID, auth.IsStaff(user))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: view})
}

func (h *Handler) Grade(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	if !auth.CanGrade(user) {
		writeJSON(w, r, http.StatusForbidden, apiResponse{OK: false, Error: "forbidden"})
		return
	}
	attemptID, ok := pathID(w, r, "id", "invalid attempt id")
	if !ok {
		return
	}
	attempt, err := h.svc.GetAttempt(r.Context(), attemptID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	e, err := h.svc.GetExam(r.Context(), attempt.ExamID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !auth.CanManageExam(user, e.CreatedBy) {
		writeJSON(w, r, http.StatusForbidden, apiResponse{OK: false, Error: "forbidden"})
		return
	}
	var req gradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	graded, err := h.svc.GradeAttempt(r.Context(), GradeInput{
		AttemptID: attemptID,
		Overrides: req.Scores,
		Feedback:  strings.TrimSpace(req.Feedback),
		GraderID:  user.ID,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: graded})
}

// authorizeExam resolves the exam id and checks the caller manages the exam.
func (h *Handler) authorizeExam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return 0, false
	}
	examID, ok := pathID(w, r, "id", "invalid exam id")
	if !ok {
		return 0, false
	}
	e, err := h.svc.GetExam(r.Context(), examID)
	if err != nil {
		writeServiceError(w, r, err)
		return 0, false
	}
	if !auth.CanManageExam(user, e.CreatedBy) {
		writeJSON(w, r, http.StatusForbidden, apiResponse{OK: false, Error: "forbidden"})
		return 0, false
	}
	return examID, true
}

// authorizeAttempt resolves the attempt id and checks the caller may view it,
// or edit it when ownerOnly is set.
func (h *Handler) authorizeAttempt(w http.ResponseWriter, r *http.Request, ownerOnly bool) (*auth.User, int64, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return nil, 0, false
	}
	attemptID, ok := pathID(w, r, "id", "invalid attempt id")
	if !ok {
		return nil, 0, false
	}
	attempt, err := h.svc.GetAttempt(r.Context(), attemptID)
	if err != nil {
		writeServiceError(w, r, err)
		return nil, 0, false
	}

	allowed := auth.CanViewAttempt(user, attempt.StudentID)
	if ownerOnly {
		allowed = auth.OwnsAttempt(user, attempt.StudentID)
	}
	if !allowed {
		writeJSON(w, r, http.StatusForbidden, apiResponse{OK: false, Error: "forbidden"})
		return nil, 0, false
	}
	return user, attemptID, true
}

func pathID(w http.ResponseWriter, r *http.Request, key, msg string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: msg})
		return 0, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, examerr.ErrValidation), errors.Is(err, ErrQuestionNotInExam):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrExamNotFound), errors.Is(err, ErrAttemptNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, examerr.ErrInvalidState):
		apiresp.WriteErrorCode(w, r, http.StatusConflict, apiresp.CodeInvalidState, err.Error())
	case errors.Is(err, examerr.ErrNotOpen):
		apiresp.WriteErrorCode(w, r, http.StatusForbidden, apiresp.CodeExamNotAvailable, err.Error())
	case errors.Is(err, examerr.ErrDeadlineExceeded):
		apiresp.WriteErrorCode(w, r, http.StatusUnprocessableEntity, apiresp.CodeDeadlineExceeded, err.Error())
	default:
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
