package quiz

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ahmednader515/alkian-sub001/internal/app/apiresp"
	"github.com/ahmednader515/alkian-sub001/internal/auth"
	"github.com/ahmednader515/alkian-sub001/internal/xlsx"
)

type quizService interface {
	CreateQuiz(ctx context.Context, actor *auth.User, courseID int64, in QuizInput) (*Quiz, error)
	UpdateQuiz(ctx context.Context, actor *auth.User, quizID int64, in QuizInput) (*Quiz, error)
	DeleteQuiz(ctx context.Context, actor *auth.User, quizID int64) error
	ListQuizzes(ctx context.Context, actor *auth.User, courseID int64) ([]Quiz, error)
	ListPublishedQuizzes(ctx context.Context, courseID int64) ([]Quiz, error)
	GetQuizForManage(ctx context.Context, actor *auth.User, quizID int64) (*Quiz, error)
	AddQuestion(ctx context.Context, actor *auth.User, quizID int64, in QuestionInput) (*Question, error)
	UpdateQuestion(ctx context.Context, actor *auth.User, questionID int64, in QuestionInput) (*Question, error)
	DeleteQuestion(ctx context.Context, actor *auth.User, questionID int64) error
	ReorderQuestions(ctx context.Context, actor *auth.User, quizID int64, ids []int64) ([]Question, error)
	ListResults(ctx context.Context, actor *auth.User, quizID int64) ([]Result, error)
	GetResult(ctx context.Context, actor *auth.User, resultID int64) (*Result, error)
	GradeResult(ctx context.Context, actor *auth.User, resultID int64, grades []AnswerGrade) (*Result, error)
	AutoGradeResult(ctx context.Context, actor *auth.User, resultID int64) (*Result, error)
	ExportResultsExcel(ctx context.Context, actor *auth.User, quizID int64) ([]byte, error)
	GetQuizForStudent(ctx context.Context, student *auth.User, quizID int64) (*StudentQuiz, error)
	Submit(ctx context.Context, student *auth.User, quizID int64, answers []SubmittedAnswer) (*Result, error)
	ListMyResults(ctx context.Context, student *auth.User, quizID int64) ([]Result, error)
}

type Handler struct {
	svc quizService
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type quizRequest struct {
	Title       string `json:"title" validate:"notblank,max=200"`
	Description string `json:"description" validate:"max=5000"`
	MaxAttempts int    `json:"max_attempts" validate:"omitempty,min=1,max=100"`
	IsPublished bool   `json:"is_published"`
}

type questionRequest struct {
	Text          string   `json:"text" validate:"notblank,max=2000"`
	Type          string   `json:"type" validate:"required,oneof=MULTIPLE_CHOICE TRUE_FALSE SHORT_ANSWER"`
	Options       []string `json:"options" validate:"max=20,dive,max=500"`
	CorrectAnswer string   `json:"correct_answer" validate:"max=2000"`
	Points        int      `json:"points" validate:"min=0,max=1000"`
}

type reorderRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
}

type submitAnswer struct {
	QuestionID int64  `json:"question_id" validate:"gt=0"`
	Answer     string `json:"answer" validate:"max=5000"`
}

type submitRequest struct {
	Answers []submitAnswer `json:"answers" validate:"max=500,dive"`
}

type gradeItem struct {
	AnswerID     int64 `json:"answer_id" validate:"gt=0"`
	PointsEarned int   `json:"points_earned" validate:"min=0"`
}

type gradeRequest struct {
	Grades []gradeItem `json:"grades" validate:"required,min=1,dive"`
}

func NewHandler(svc quizService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateQuiz(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	courseID, ok := apiresp.URLParamID(w, r, "id")
	if !ok {
		return
	}
	var req quizRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	q, err := h.svc.CreateQuiz(r.Context(), user, courseID, QuizInput(req))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: q})
}

func (h *Handler) UpdateQuiz(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "quizID")
	if !ok {
		return
	}
	var req quizRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	q, err := h.svc.UpdateQuiz(r.Context(), user, id, QuizInput(req))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: q})
}

func (h *Handler) DeleteQuiz(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "quizID")
	if !ok {
		return
	}
	if err := h.svc.DeleteQuiz(r.Context(), user, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]interface{}{"id": id, "deleted": true}})
}

func (h *Handler) ListQuizzes(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	courseID, ok := apiresp.URLParamID(w, r, "id")
	if !ok {
		return
	}
	items, err := h.svc.ListQuizzes(r.Context(), user, courseID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) ListPublishedQuizzes(w http.ResponseWriter, r *http.Request) {
	courseID, ok := apiresp.URLParamID(w, r, "id")
	if !ok {
		return
	}
	items, err := h.svc.ListPublishedQuizzes(r.Context(), courseID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) GetQuizForManage(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "quizID")
	if !ok {
		return
	}
	q, err := h.svc.GetQuizForManage(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: q})
}

func (h *Handler) AddQuestion(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	quizID, ok := apiresp.URLParamID(w, r, "quizID")
	if !ok {
		return
	}
	var req questionRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	q, err := h.svc.AddQuestion(r.Context(), user, quizID, QuestionInput(req))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: q})
}

func (h *Handler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "questionID")
	if !ok {
		return
	}
	var req questionRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	q, err := h.svc.UpdateQuestion(r.Context(), user, id, QuestionInput(req))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: q})
}

func (h *Handler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "questionID")
	if !ok {
		return
	}
	if err := h.svc.DeleteQuestion(r.Context(), user, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]interface{}{"id": id, "deleted": true}})
}

func (h *Handler) ReorderQuestions(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	quizID, ok := apiresp.URLParamID(w, r, "quizID")
	if !ok {
		return
	}
	var req reorderRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	items, err := h.svc.ReorderQuestions(r.Context(), user, quizID, req.IDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) ListResults(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	quizID, ok := apiresp.URLParamID(w, r, "quizID")
	if !ok {
		return
	}
	items, err := h.svc.ListResults(r.Context(), user, quizID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "resultID")
	if !ok {
		return
	}
	res, err := h.svc.GetResult(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func (h *Handler) GradeResult(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "resultID")
	if !ok {
		return
	}
	var req gradeRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	grades := make([]AnswerGrade, 0, len(req.Grades))
	for _, g := range req.Grades {
		grades = append(grades, AnswerGrade(g))
	}
	res, err := h.svc.GradeResult(r.Context(), user, id, grades)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func (h *Handler) AutoGradeResult(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "resultID")
	if !ok {
		return
	}
	res, err := h.svc.AutoGradeResult(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func (h *Handler) ExportResults(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	quizID, ok := apiresp.URLParamID(w, r, "quizID")
	if !ok {
		return
	}
	data, err := h.svc.ExportResultsExcel(r.Context(), user, quizID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	auth.WriteAttachment(w, fmt.Sprintf("quiz-%d-results.xlsx", quizID), xlsx.ContentType, data)
}

func (h *Handler) GetQuizForStudent(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "quizID")
	if !ok {
		return
	}
	q, err := h.svc.GetQuizForStudent(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: q})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "quizID")
	if !ok {
		return
	}
	var req submitRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	answers := make([]SubmittedAnswer, 0, len(req.Answers))
	for _, a := range req.Answers {
		answers = append(answers, SubmittedAnswer{QuestionID: a.QuestionID, Answer: a.Answer})
	}
	res, err := h.svc.Submit(r.Context(), user, id, answers)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: res})
}

func (h *Handler) ListMyResults(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "quizID")
	if !ok {
		return
	}
	items, err := h.svc.ListMyResults(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrCourseNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "الكورس غير موجود"})
	case errors.Is(err, ErrQuizNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "الاختبار غير موجود"})
	case errors.Is(err, ErrQuestionNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "السؤال غير موجود"})
	case errors.Is(err, ErrResultNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "النتيجة غير موجودة"})
	case errors.Is(err, ErrForbidden):
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "غير مصرح لك بإدارة هذا الاختبار"})
	case errors.Is(err, ErrPurchaseRequired):
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "يجب شراء الكورس أولاً"})
	case errors.Is(err, ErrAttemptsExhausted):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "لقد استنفدت جميع المحاولات المسموح بها لهذا الاختبار"})
	case errors.Is(err, ErrConcurrentSubmission):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "تم إرسال هذه المحاولة بالفعل"})
	case errors.Is(err, ErrNotPublishable):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "لا يمكن نشر اختبار بدون أسئلة"})
	case errors.Is(err, ErrInvalidOrder):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "ترتيب الأسئلة غير صالح"})
	case errors.Is(err, ErrInvalidQuestion):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "بيانات السؤال غير صالحة: " + err.Error()})
	case errors.Is(err, ErrInvalidAnswers):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "إجابات غير صالحة"})
	case errors.Is(err, ErrInvalidGrade):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "درجات غير صالحة"})
	default:
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "حدث خطأ في الخادم"})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
