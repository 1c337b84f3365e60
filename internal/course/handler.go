package course

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/ahmednader515/alkian-sub001/internal/app/apiresp"
	"github.com/ahmednader515/alkian-sub001/internal/auth"
)

type courseService interface {
	CreateCourse(ctx context.Context, actor *auth.User, in CourseInput) (*Course, error)
	UpdateCourse(ctx context.Context, actor *auth.User, courseID int64, in CourseInput) (*Course, error)
	DeleteCourse(ctx context.Context, actor *auth.User, courseID int64) error
	ListOwnCourses(ctx context.Context, actor *auth.User) ([]Course, error)
	GetCourseForManage(ctx context.Context, actor *auth.User, courseID int64) (*Course, error)
	ListPublishedCourses(ctx context.Context, teacherID int64) ([]Course, error)
	GetCourse(ctx context.Context, viewer *auth.User, courseID int64) (*CourseDetail, error)
	CreateChapter(ctx context.Context, actor *auth.User, courseID int64, in ChapterInput) (*Chapter, error)
	UpdateChapter(ctx context.Context, actor *auth.User, chapterID int64, in ChapterInput) (*Chapter, error)
	DeleteChapter(ctx context.Context, actor *auth.User, chapterID int64) error
	ReorderChapters(ctx context.Context, actor *auth.User, courseID int64, ids []int64) ([]Chapter, error)
	Purchase(ctx context.Context, student *auth.User, courseID int64) (*Purchase, error)
	ListPurchases(ctx context.Context, studentID int64) ([]Purchase, error)
}

type Handler struct {
	svc courseService
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type courseRequest struct {
	Title       string  `json:"title" validate:"notblank,max=200"`
	Description string  `json:"description" validate:"max=5000"`
	ImageURL    string  `json:"image_url" validate:"omitempty,url"`
	Price       float64 `json:"price" validate:"min=0"`
	IsPublished bool    `json:"is_published"`
}

type chapterRequest struct {
	Title       string `json:"title" validate:"notblank,max=200"`
	Description string `json:"description" validate:"max=5000"`
	VideoURL    string `json:"video_url" validate:"omitempty,url"`
	IsPublished bool   `json:"is_published"`
	IsFree      bool   `json:"is_free"`
}

type reorderRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
}

func NewHandler(svc courseService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	var req courseRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.CreateCourse(r.Context(), user, CourseInput(req))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: c})
}

func (h *Handler) UpdateCourse(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "id")
	if !ok {
		return
	}
	var req courseRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.UpdateCourse(r.Context(), user, id, CourseInput(req))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: c})
}

func (h *Handler) DeleteCourse(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteCourse(r.Context(), user, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]interface{}{"id": id, "deleted": true}})
}

func (h *Handler) ListOwnCourses(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	items, err := h.svc.ListOwnCourses(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) GetCourseForManage(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.svc.GetCourseForManage(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: c})
}

func (h *Handler) ListPublishedCourses(w http.ResponseWriter, r *http.Request) {
	teacherID, _ := strconv.ParseInt(r.URL.Query().Get("teacher_id"), 10, 64)
	items, err := h.svc.ListPublishedCourses(r.Context(), teacherID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) GetCourse(w http.ResponseWriter, r *http.Request) {
	viewer, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.svc.GetCourse(r.Context(), viewer, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: c})
}

func (h *Handler) CreateChapter(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	courseID, ok := apiresp.URLParamID(w, r, "id")
	if !ok {
		return
	}
	var req chapterRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	ch, err := h.svc.CreateChapter(r.Context(), user, courseID, ChapterInput(req))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: ch})
}

func (h *Handler) UpdateChapter(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "chapterID")
	if !ok {
		return
	}
	var req chapterRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	ch, err := h.svc.UpdateChapter(r.Context(), user, id, ChapterInput(req))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: ch})
}

func (h *Handler) DeleteChapter(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "chapterID")
	if !ok {
		return
	}
	if err := h.svc.DeleteChapter(r.Context(), user, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]interface{}{"id": id, "deleted": true}})
}

func (h *Handler) ReorderChapters(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	courseID, ok := apiresp.URLParamID(w, r, "id")
	if !ok {
		return
	}
	var req reorderRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	items, err := h.svc.ReorderChapters(r.Context(), user, courseID, req.IDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	courseID, ok := apiresp.URLParamID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.svc.Purchase(r.Context(), user, courseID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: p})
}

func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	items, err := h.svc.ListPurchases(r.Context(), user.ID)
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
	case errors.Is(err, ErrChapterNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "الفصل غير موجود"})
	case errors.Is(err, ErrForbidden):
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "غير مصرح لك بتعديل هذا الكورس"})
	case errors.Is(err, ErrAlreadyPurchased):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "لقد اشتريت هذا الكورس بالفعل"})
	case errors.Is(err, ErrNotPublishable):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "لا يمكن نشر الكورس بدون عنوان وفصل منشور واحد على الأقل"})
	case errors.Is(err, ErrInvalidOrder):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "ترتيب الفصول غير صالح"})
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
