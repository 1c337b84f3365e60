package content

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ahmednader515/alkian-sub001/internal/app/apiresp"
	"github.com/ahmednader515/alkian-sub001/internal/auth"
)

type contentService interface {
	Upsert(ctx context.Context, actor *auth.User, rawType string, in Input) (*Content, error)
	Get(ctx context.Context, teacherID int64, rawType string) (*Content, error)
	CreateItem(ctx context.Context, actor *auth.User, rawType string, in Input) (*Item, error)
	UpdateItem(ctx context.Context, actor *auth.User, id int64, in Input) (*Item, error)
	DeleteItem(ctx context.Context, actor *auth.User, id int64) error
	ReorderItems(ctx context.Context, actor *auth.User, rawType string, ids []int64) ([]Item, error)
	ListItems(ctx context.Context, teacherID int64, rawType string) ([]Item, error)
}

type Handler struct {
	svc contentService
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type pageRequest struct {
	Title    string `json:"title" validate:"max=200"`
	Body     string `json:"body" validate:"max=20000"`
	ImageURL string `json:"image_url" validate:"omitempty,url"`
}

type itemRequest struct {
	Title    string `json:"title" validate:"notblank,max=200"`
	Body     string `json:"body" validate:"max=5000"`
	ImageURL string `json:"image_url" validate:"omitempty,url"`
}

type reorderRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
}

func NewHandler(svc contentService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	var req pageRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.Upsert(r.Context(), user, chi.URLParam(r, "type"), Input(req))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: c})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), teacherParam(r), chi.URLParam(r, "type"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: c})
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	var req itemRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	it, err := h.svc.CreateItem(r.Context(), user, chi.URLParam(r, "type"), Input(req))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: it})
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "itemID")
	if !ok {
		return
	}
	var req itemRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	it, err := h.svc.UpdateItem(r.Context(), user, id, Input(req))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: it})
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "itemID")
	if !ok {
		return
	}
	if err := h.svc.DeleteItem(r.Context(), user, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]interface{}{"id": id, "deleted": true}})
}

func (h *Handler) ReorderItems(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	var req reorderRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	items, err := h.svc.ReorderItems(r.Context(), user, chi.URLParam(r, "type"), req.IDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListItems(r.Context(), teacherParam(r), chi.URLParam(r, "type"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

// teacherParam reads ?teacher_id=, 0 when absent or malformed.
func teacherParam(r *http.Request) int64 {
	id, err := strconv.ParseInt(r.URL.Query().Get("teacher_id"), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUnknownType):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "نوع المحتوى غير معروف"})
	case errors.Is(err, ErrContentNotFound), errors.Is(err, ErrNoTeacher):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "المحتوى غير موجود"})
	case errors.Is(err, ErrItemNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "العنصر غير موجود"})
	case errors.Is(err, ErrForbidden):
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "غير مصرح لك بتعديل هذا المحتوى"})
	case errors.Is(err, ErrInvalidOrder):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "ترتيب العناصر غير صالح"})
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
