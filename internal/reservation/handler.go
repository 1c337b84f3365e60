package reservation

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ahmednader515/alkian-sub001/internal/app/apiresp"
	"github.com/ahmednader515/alkian-sub001/internal/auth"
	"github.com/ahmednader515/alkian-sub001/internal/xlsx"
)

type reservationService interface {
	Create(ctx context.Context, user *auth.User, in Input) (*Reservation, error)
	ListMine(ctx context.Context, user *auth.User) ([]Reservation, error)
	Cancel(ctx context.Context, user *auth.User, id int64) (*Reservation, error)
	List(ctx context.Context, rawStatus string) ([]Reservation, error)
	UpdateStatus(ctx context.Context, actor *auth.User, id int64, rawStatus string) (*Reservation, error)
	ExportExcel(ctx context.Context, rawStatus string) ([]byte, error)
}

type Handler struct {
	svc reservationService
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type reservationRequest struct {
	FullName     string    `json:"full_name" validate:"notblank,max=200"`
	PhoneNumber  string    `json:"phone_number" validate:"notblank,max=32"`
	ServiceTitle string    `json:"service_title" validate:"max=200"`
	PreferredAt  time.Time `json:"preferred_at" validate:"required"`
	Notes        string    `json:"notes" validate:"max=2000"`
}

type statusRequest struct {
	Status string `json:"status" validate:"notblank"`
}

func NewHandler(svc reservationService) *Handler {
	return &Handler{svc: svc}
}

// Create accepts guests; an authenticated caller is linked to the booking.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	var user *auth.User
	if u, ok := auth.CurrentUser(r.Context()); ok {
		user = u
	}
	res, err := h.svc.Create(r.Context(), user, Input(req))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: res})
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

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "reservationID")
	if !ok {
		return
	}
	res, err := h.svc.Cancel(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
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
	id, ok := apiresp.URLParamID(w, r, "reservationID")
	if !ok {
		return
	}
	var req statusRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.UpdateStatus(r.Context(), user, id, req.Status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.ExportExcel(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	auth.WriteAttachment(w, "reservations.xlsx", xlsx.ContentType, data)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrReservationNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "الحجز غير موجود"})
	case errors.Is(err, ErrInvalidStatus):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "حالة الحجز غير صالحة"})
	case errors.Is(err, ErrInvalidTransition):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "لا يمكن تغيير حالة الحجز بهذا الشكل"})
	case errors.Is(err, ErrNotCancellable):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "لا يمكن إلغاء الحجز بعد تأكيده أو إنهائه"})
	case errors.Is(err, ErrPastPreferredAt):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "يجب أن يكون موعد الحجز في المستقبل"})
	case errors.Is(err, ErrInvalidPhone):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "رقم الهاتف غير صالح"})
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
