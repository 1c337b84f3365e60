package report

import (
	"context"
	"errors"
	"net/http"

	"github.com/ahmednader515/alkian-sub001/internal/app/apiresp"
	"github.com/ahmednader515/alkian-sub001/internal/auth"
)

type reportService interface {
	QuizSummary(ctx context.Context, actor *auth.User, quizID int64) (*QuizSummary, error)
	CourseSummary(ctx context.Context, actor *auth.User, courseID int64) (*CourseSummary, error)
}

type Handler struct {
	svc reportService
}

func NewHandler(svc reportService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) QuizSummary(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "quizID")
	if !ok {
		return
	}
	sum, err := h.svc.QuizSummary(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, sum)
}

func (h *Handler) CourseSummary(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "id")
	if !ok {
		return
	}
	sum, err := h.svc.CourseSummary(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, sum)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrQuizNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, "الاختبار غير موجود")
	case errors.Is(err, ErrCourseNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, "الكورس غير موجود")
	case errors.Is(err, ErrForbidden):
		apiresp.WriteError(w, r, http.StatusForbidden, "غير مصرح لك بعرض هذا التقرير")
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "حدث خطأ في الخادم")
	}
}
