package app

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/ahmednader515/alkian-sub001/internal/app/apiresp"
	"github.com/ahmednader515/alkian-sub001/internal/app/observability"
	"github.com/ahmednader515/alkian-sub001/internal/auth"
	"github.com/ahmednader515/alkian-sub001/internal/certificate"
	"github.com/ahmednader515/alkian-sub001/internal/complaint"
	"github.com/ahmednader515/alkian-sub001/internal/content"
	"github.com/ahmednader515/alkian-sub001/internal/course"
	"github.com/ahmednader515/alkian-sub001/internal/listing"
	"github.com/ahmednader515/alkian-sub001/internal/quiz"
	"github.com/ahmednader515/alkian-sub001/internal/report"
	"github.com/ahmednader515/alkian-sub001/internal/reservation"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handlers groups the HTTP handlers mounted by Routes.
type Handlers struct {
	Auth        *auth.Handler
	Course      *course.Handler
	Quiz        *quiz.Handler
	Certificate *certificate.Handler
	Content     *content.Handler
	Listing     *listing.Handler
	Complaint   *complaint.Handler
	Reservation *reservation.Handler
	Report      *report.Handler
}

// NewHandlers builds every service on db and wraps it in its handler.
func NewHandlers(cfg Config, db *sql.DB) Handlers {
	authSvc := auth.NewService(db, auth.ServiceConfig{
		SessionTTL:     cfg.SessionTTL,
		BootstrapToken: cfg.BootstrapToken,
	})
	return Handlers{
		Auth:        auth.NewHandler(authSvc, cfg.SecureCookies),
		Course:      course.NewHandler(course.NewService(db)),
		Quiz:        quiz.NewHandler(quiz.NewService(db)),
		Certificate: certificate.NewHandler(certificate.NewService(db, cfg.PublicBaseURL)),
		Content:     content.NewHandler(content.NewService(db)),
		Listing:     listing.NewHandler(listing.NewService(db)),
		Complaint:   complaint.NewHandler(complaint.NewService(db)),
		Reservation: reservation.NewHandler(reservation.NewService(db)),
		Report:      report.NewHandler(report.NewService(db)),
	}
}

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	return Routes(cfg, NewHandlers(cfg, db), observability.NewCollector(db))
}

// Routes mounts the API. Teacher routes accept admins too; ownership is
// enforced by the services.
func Routes(cfg Config, h Handlers, obs *observability.Collector) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(obs.Middleware)

	authLimiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)
	publicLimiter := NewIPRateLimiter(cfg.PublicRateLimitMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))
		api.Use(h.Auth.OptionalAuth)

		api.Get("/auth/csrf", CSRFTokenHandler(cfg.SecureCookies))
		api.Group(func(limited chi.Router) {
			limited.Use(RateLimitMiddleware(authLimiter))
			limited.Post("/auth/register", h.Auth.Register)
			limited.Post("/auth/login", h.Auth.Login)
			limited.Post("/auth/bootstrap", h.Auth.BootstrapAdmin)
		})

		// Public reads. A missing teacher_id falls back to the earliest teacher.
		api.Get("/courses", h.Course.ListPublishedCourses)
		api.Get("/courses/{id}", h.Course.GetCourse)
		api.Get("/courses/{id}/quizzes", h.Quiz.ListPublishedQuizzes)
		api.Get("/content/{type}", h.Content.Get)
		api.Get("/content/{type}/items", h.Content.ListItems)
		api.Get("/listings/{kind}", h.Listing.List)
		api.Get("/certificates/validate", h.Certificate.Validate)

		api.Group(func(limited chi.Router) {
			limited.Use(RateLimitMiddleware(publicLimiter))
			limited.Post("/certificates/redeem", h.Certificate.Redeem)
			limited.Post("/reservations", h.Reservation.Create)
		})

		api.Group(func(secure chi.Router) {
			secure.Use(h.Auth.RequireAuth)
			secure.Get("/auth/me", h.Auth.Me)
			secure.Post("/auth/logout", h.Auth.Logout)

			secure.Get("/reservations/mine", h.Reservation.ListMine)
			secure.Post("/reservations/{reservationID}/cancel", h.Reservation.Cancel)

			secure.Group(func(student chi.Router) {
				student.Use(h.Auth.RequireRoles(auth.RoleStudent))
				student.Post("/courses/{id}/purchase", h.Course.Purchase)
				student.Get("/purchases", h.Course.ListPurchases)
				student.Get("/quizzes/{quizID}", h.Quiz.GetQuizForStudent)
				student.Post("/quizzes/{quizID}/submit", h.Quiz.Submit)
				student.Get("/quizzes/{quizID}/results", h.Quiz.ListMyResults)
				student.Post("/complaints", h.Complaint.Create)
				student.Get("/complaints/mine", h.Complaint.ListMine)
			})

			secure.Route("/teacher", func(teacher chi.Router) {
				teacher.Use(h.Auth.RequireRoles(auth.RoleTeacher, auth.RoleAdmin))

				teacher.Get("/courses", h.Course.ListOwnCourses)
				teacher.Post("/courses", h.Course.CreateCourse)
				teacher.Get("/courses/{id}", h.Course.GetCourseForManage)
				teacher.Put("/courses/{id}", h.Course.UpdateCourse)
				teacher.Delete("/courses/{id}", h.Course.DeleteCourse)
				teacher.Post("/courses/{id}/chapters", h.Course.CreateChapter)
				teacher.Put("/courses/{id}/chapters/order", h.Course.ReorderChapters)
				teacher.Put("/chapters/{chapterID}", h.Course.UpdateChapter)
				teacher.Delete("/chapters/{chapterID}", h.Course.DeleteChapter)

				teacher.Get("/courses/{id}/quizzes", h.Quiz.ListQuizzes)
				teacher.Post("/courses/{id}/quizzes", h.Quiz.CreateQuiz)
				teacher.Get("/quizzes/{quizID}", h.Quiz.GetQuizForManage)
				teacher.Put("/quizzes/{quizID}", h.Quiz.UpdateQuiz)
				teacher.Delete("/quizzes/{quizID}", h.Quiz.DeleteQuiz)
				teacher.Post("/quizzes/{quizID}/questions", h.Quiz.AddQuestion)
				teacher.Put("/quizzes/{quizID}/questions/order", h.Quiz.ReorderQuestions)
				teacher.Put("/questions/{questionID}", h.Quiz.UpdateQuestion)
				teacher.Delete("/questions/{questionID}", h.Quiz.DeleteQuestion)
				teacher.Get("/quizzes/{quizID}/results", h.Quiz.ListResults)
				teacher.Get("/quizzes/{quizID}/results/export", h.Quiz.ExportResults)
				teacher.Get("/quizzes/{quizID}/summary", h.Report.QuizSummary)
				teacher.Get("/courses/{id}/summary", h.Report.CourseSummary)
				teacher.Get("/results/{resultID}", h.Quiz.GetResult)
				teacher.Post("/results/{resultID}/grade", h.Quiz.GradeResult)
				teacher.Post("/results/{resultID}/auto-grade", h.Quiz.AutoGradeResult)

				teacher.Get("/certificates", h.Certificate.List)
				teacher.Post("/certificates", h.Certificate.Create)
				teacher.Get("/certificates/{certID}", h.Certificate.Get)
				teacher.Put("/certificates/{certID}", h.Certificate.Update)
				teacher.Delete("/certificates/{certID}", h.Certificate.Delete)
				teacher.Get("/certificates/{certID}/downloads", h.Certificate.ListDownloads)
				teacher.Get("/certificates/{certID}/qrcode", h.Certificate.QRCode)

				teacher.Put("/content/{type}", h.Content.Upsert)
				teacher.Post("/content/{type}/items", h.Content.CreateItem)
				teacher.Put("/content/{type}/items/order", h.Content.ReorderItems)
				teacher.Put("/content-items/{itemID}", h.Content.UpdateItem)
				teacher.Delete("/content-items/{itemID}", h.Content.DeleteItem)

				teacher.Post("/listings/{kind}", h.Listing.Create)
				teacher.Put("/listings/{kind}/order", h.Listing.Reorder)
				teacher.Put("/listings/{kind}/{listingID}", h.Listing.Update)
				teacher.Delete("/listings/{kind}/{listingID}", h.Listing.Delete)

				teacher.Get("/complaints", h.Complaint.List)
				teacher.Put("/complaints/{complaintID}/status", h.Complaint.UpdateStatus)

				teacher.Get("/reservations", h.Reservation.List)
				teacher.Get("/reservations/export", h.Reservation.Export)
				teacher.Put("/reservations/{reservationID}/status", h.Reservation.UpdateStatus)
			})

			secure.Route("/admin", func(admin chi.Router) {
				admin.Use(h.Auth.RequireRoles(auth.RoleAdmin))
				admin.Post("/teachers", h.Auth.CreateTeacher)
				admin.Get("/users", h.Auth.ListUsers)
				admin.Patch("/users/{id}/active", h.Auth.SetUserActive)
				admin.Get("/users/export", h.Auth.ExportUsers)
				admin.Post("/users/import", h.Auth.ImportUsers)
			})
		})
	})

	return r
}
