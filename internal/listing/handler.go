package listing

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ahmednader515/alkian-sub001/internal/app/apiresp"
	"github.com/ahmednader515/alkian-sub001/internal/auth"
)

type listingService interface {
	Create(ctx context.Context, actor *auth.User, kind string, in Input) (*Listing, error)
	Update(ctx context.Context, actor *auth.User, kind string, id int64, in Input) (*Listing, error)
	Delete(ctx context.Context, actor *auth.User, kind string, id int64) error
	Reorder(ctx context.Context, actor *auth.User, kind string, ids []int64) ([]Listing, error)
	List(ctx context.Context, teacherID int64, kind string) ([]Listing, error)
}

type Handler struct {
	svc listingService
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type listingRequest struct {
	Title       string `json:"title" validate:"notblank,max=200"`
	Description string `json:"description" validate:"max=5000"`
}

type reorderRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
}

func NewHandler(svc listingService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	var req listingRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	l, err := h.svc.Create(r.Context(), user, chi.URLParam(r, "kind"), Input(req))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: l})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "listingID")
	if !ok {
		return
	}
	var req listingRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	l, err := h.svc.Update(r.Context(), user, chi.URLParam(r, "kind"), id, Input(req))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: l})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "listingID")
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), user, chi.URLParam(r, "kind"), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]interface{}{"id": id, "deleted": true}})
}

func (h *Handler) Reorder(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	var req reorderRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	items, err := h.svc.Reorder(r.Context(), user, chi.URLParam(r, "kind"), req.IDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	teacherID, _ := strconv.ParseInt(r.URL.Query().Get("teacher_id"), 10, 64)
	items, err := h.svc.List(r.Context(), teacherID, chi.URLParam(r, "kind"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUnknownKind):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "نوع القائمة غير معروف"})
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoTeacher):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "العنصر غير موجود"})
	case errors.Is(err, ErrForbidden):
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "غير مصرح لك بتعديل هذا العنصر"})
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
