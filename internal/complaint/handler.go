package complaint

import (
	"context"
	"errors"
	"net/http"

	"github.com/ahmednader515/alkian-sub001/internal/app/apiresp"
	"github.com/ahmednader515/alkian-sub001/internal/auth"
)

type complaintService interface {
	Create(ctx context.Context, student *auth.User, in Input) (*Complaint, error)
	ListMine(ctx context.Context, student *auth.User) ([]Complaint, error)
	List(ctx context.Context, rawStatus string) ([]Complaint, error)
	UpdateStatus(ctx context.Context, actor *auth.User, id int64, rawStatus string, response *string) (*Complaint, error)
}

type Handler struct {
	svc complaintService
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type complaintRequest struct {
	Subject     string `json:"subject" validate:"notblank,max=200"`
	Description string `json:"description" validate:"notblank,max=5000"`
}

type statusRequest struct {
	Status   string  `json:"status" validate:"notblank"`
	Response *string `json:"response" validate:"omitempty,max=5000"`
}

func NewHandler(svc complaintService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	var req complaintRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.Create(r.Context(), user, Input(req))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: c})
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	items, err := h.svc.ListMine(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "complaintID")
	if !ok {
		return
	}
	var req statusRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.UpdateStatus(r.Context(), user, id, req.Status, req.Response)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: c})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrComplaintNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "الشكوى غير موجودة"})
	case errors.Is(err, ErrInvalidStatus):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "حالة الشكوى غير صالحة"})
	case errors.Is(err, ErrInvalidTransition):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "لا يمكن تغيير حالة الشكوى بهذا الشكل"})
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
