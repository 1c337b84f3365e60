package certificate

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ahmednader515/alkian-sub001/internal/app/apiresp"
	"github.com/ahmednader515/alkian-sub001/internal/auth"
)

type certificateService interface {
	Create(ctx context.Context, actor *auth.User, in CertificateInput) (*Certificate, error)
	Update(ctx context.Context, actor *auth.User, id int64, in CertificateInput) (*Certificate, error)
	Delete(ctx context.Context, actor *auth.User, id int64) error
	List(ctx context.Context, actor *auth.User) ([]Certificate, error)
	Get(ctx context.Context, actor *auth.User, id int64) (*Certificate, error)
	ListDownloads(ctx context.Context, actor *auth.User, id int64) ([]Download, error)
	QRCode(ctx context.Context, actor *auth.User, id int64) ([]byte, error)
	Validate(ctx context.Context, code string) (*Redemption, error)
	Redeem(ctx context.Context, code string, meta RedeemMeta) (*Redemption, error)
}

type Handler struct {
	svc certificateService
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type certificateRequest struct {
	Title        string     `json:"title" validate:"notblank,max=200"`
	Description  string     `json:"description" validate:"max=5000"`
	StudentName  string     `json:"student_name" validate:"notblank,max=200"`
	FileURL      string     `json:"file_url" validate:"required,url"`
	PromoCode    string     `json:"promo_code" validate:"omitempty,max=64"`
	MaxDownloads *int       `json:"max_downloads" validate:"omitempty,min=1"`
	ExpiresAt    *time.Time `json:"expires_at"`
	IsActive     *bool      `json:"is_active"`
}

type redeemRequest struct {
	Code string `json:"code" validate:"notblank,max=64"`
}

func NewHandler(svc certificateService) *Handler {
	return &Handler{svc: svc}
}

func (req certificateRequest) input() CertificateInput {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return CertificateInput{
		Title:        req.Title,
		Description:  req.Description,
		StudentName:  req.StudentName,
		FileURL:      req.FileURL,
		PromoCode:    req.PromoCode,
		MaxDownloads: req.MaxDownloads,
		ExpiresAt:    req.ExpiresAt,
		IsActive:     active,
	}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	var req certificateRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.Create(r.Context(), user, req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: c})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "certID")
	if !ok {
		return
	}
	var req certificateRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.Update(r.Context(), user, id, req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: c})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "certID")
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), user, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]interface{}{"id": id, "deleted": true}})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	items, err := h.svc.List(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "certID")
	if !ok {
		return
	}
	c, err := h.svc.Get(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: c})
}

func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "certID")
	if !ok {
		return
	}
	items, err := h.svc.ListDownloads(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) QRCode(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.CurrentUser(r.Context())
	id, ok := apiresp.URLParamID(w, r, "certID")
	if !ok {
		return
	}
	png, err := h.svc.QRCode(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "الكود مطلوب"})
		return
	}
	res, err := h.svc.Validate(r.Context(), code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	meta := RedeemMeta{IPAddress: auth.ReadIP(r), UserAgent: r.UserAgent()}
	if user, ok := auth.CurrentUser(r.Context()); ok {
		id := user.ID
		meta.UserID = &id
	}
	res, err := h.svc.Redeem(r.Context(), req.Code, meta)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrCertificateNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "الشهادة غير موجودة أو الكود غير صحيح"})
	case errors.Is(err, ErrForbidden):
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "غير مصرح لك بإدارة هذه الشهادة"})
	case errors.Is(err, ErrPromoTaken):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "كود الشهادة مستخدم بالفعل"})
	case errors.Is(err, ErrInvalidPromo):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "كود الشهادة يجب أن يحتوي على أحرف إنجليزية وأرقام فقط"})
	case errors.Is(err, ErrExpired):
		writeJSON(w, r, http.StatusGone, response{OK: false, Error: "انتهت صلاحية الشهادة"})
	case errors.Is(err, ErrExhausted):
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "تم الوصول إلى الحد الأقصى لعدد التحميلات"})
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
