package app

import (
	"database/sql"
	"net/http"
	"time"

	"examportal/internal/app/observability"
	"examportal/internal/auth"
	"examportal/internal/exam"
	"examportal/internal/question"
	"examportal/internal/report"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Services bundles the domain services shared by the router and startup code.
type Services struct {
	Auth      *auth.Service
	Questions *question.Service
	Exams     *exam.Service
	Reports   *report.Service
}

func NewServices(cfg Config, db *sql.DB) *Services {
	authSvc := auth.NewService(db, auth.ServiceConfig{
		JWTSecret: cfg.JWTSecret,
		TokenTTL:  cfg.JWTTTL(),
	})
	questionSvc := question.NewService(db)
	examSvc := exam.NewService(exam.NewSQLStore(db), questionSvc)
	return &Services{
		Auth:      authSvc,
		Questions: questionSvc,
		Exams:     examSvc,
		Reports:   report.NewService(examSvc, questionSvc, authSvc),
	}
}

func NewRouter(cfg Config, db *sql.DB, svcs *Services) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", csrfHeaderName},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	collector := observability.NewCollector(db)
	r.Use(collector.Middleware)

	authHandler := auth.NewHandler(svcs.Auth)
	questionHandler := question.NewHandler(svcs.Questions)
	examHandler := exam.NewHandler(svcs.Exams)
	reportHandler := report.NewHandler(svcs.Reports)
	loginLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))
		api.Get("/auth/csrf", IssueCSRFToken(cfg.IsProduction()))
		api.With(RateLimitMiddleware(loginLimiter)).Post("/auth/login", authHandler.Login)
		if cfg.SignupEnabled {
			api.With(RateLimitMiddleware(loginLimiter)).Post("/auth/signup", authHandler.Signup)
		}

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me", authHandler.Me)

			secure.Get("/attempts/{id}", examHandler.GetAttempt)
			secure.Put("/attempts/{id}/answers/{questionID}", examHandler.SaveAnswer)
			secure.Post("/attempts/{id}/submit", examHandler.Submit)

			secure.Group(func(student chi.Router) {
				student.Use(authHandler.RequireRoles(auth.RoleStudent))
				student.Get("/student/exams/active", reportHandler.ActiveExams)
				student.Get("/student/exams/upcoming", reportHandler.UpcomingExams)
				student.Get("/student/attempts", examHandler.ListMyAttempts)
				student.Post("/exams/{id}/start", examHandler.Start)
				student.Get("/dashboard/student", reportHandler.StudentDashboard)
			})

			secure.Group(func(staff chi.Router) {
				staff.Use(authHandler.RequireRoles(auth.RoleAdmin, auth.RoleTeacher))

				staff.Get("/questions", questionHandler.ListQuestions)
				staff.Post("/questions", questionHandler.CreateQuestion)
				staff.Get("/questions/subjects", questionHandler.ListSubjects)
				staff.Get("/questions/export", questionHandler.ExportQuestions)
				staff.Post("/questions/import", questionHandler.ImportQuestions)
				staff.Get("/questions/{id}", questionHandler.GetQuestion)
				staff.Put("/questions/{id}", questionHandler.UpdateQuestion)
				staff.Delete("/questions/{id}", questionHandler.DeleteQuestion)

				staff.Get("/exams", examHandler.ListExams)
				staff.Post("/exams", examHandler.CreateExam)
				staff.Get("/exams/{id}", examHandler.GetExam)
				staff.Put("/exams/{id}/questions", examHandler.SetQuestions)
				staff.Post("/exams/{id}/publish", examHandler.Publish)
				staff.Post("/exams/{id}/archive", examHandler.Archive)
				staff.Get("/exams/{id}/attempts", examHandler.ListExamAttempts)
				staff.Get("/exams/{id}/summary", reportHandler.Summary)

				staff.Get("/attempts/pending", examHandler.ListPending)
				staff.Post("/attempts/{id}/grade", examHandler.Grade)

				staff.Get("/dashboard/teacher", reportHandler.TeacherDashboard)
			})

			secure.Group(func(admin chi.Router) {
				admin.Use(authHandler.RequireRoles(auth.RoleAdmin))
				admin.Get("/users", authHandler.ListUsers)
				admin.Post("/users", authHandler.CreateUser)
				admin.Post("/users/import", auth.ImportUsersHandler(svcs.Auth))
				admin.Get("/users/export", auth.ExportUsersHandler(svcs.Auth))
				admin.Get("/dashboard/overview", reportHandler.Overview)
				admin.Get("/activity", reportHandler.Activity)
			})
		})
	})

	return r
}
