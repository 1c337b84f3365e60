package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ahmednader515/alkian-sub001/internal/app/apiresp"
	"github.com/ahmednader515/alkian-sub001/internal/xlsx"

	"github.com/go-chi/chi/v5"
)

type contextKey string

const userContextKey contextKey = "auth_user"

// SessionCookieName holds the opaque session token.
const SessionCookieName = "alkian_session"

const maxImportBytes = 5 << 20

type authService interface {
	AuthenticatePassword(ctx context.Context, phone, password string) (*User, error)
	Register(ctx context.Context, in AccountInput) (*User, error)
	CreateTeacher(ctx context.Context, in AccountInput) (*User, error)
	BootstrapAdmin(ctx context.Context, in BootstrapInput) (*User, error)
	CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error)
	GetSessionUser(ctx context.Context, token string) (*User, error)
	RevokeSession(ctx context.Context, token string) error
	ListUsers(ctx context.Context, role, q string, limit, offset int) ([]User, error)
	SetUserActive(ctx context.Context, userID int64, active bool) error
	ExportUsersExcel(ctx context.Context, role, q string) ([]byte, error)
	ImportUsersExcel(ctx context.Context, data []byte) (*UserImportReport, error)
}

type Handler struct {
	svc          authService
	secureCookie bool
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type loginRequest struct {
	PhoneNumber string `json:"phone_number" validate:"notblank"`
	Password    string `json:"password" validate:"required"`
}

type accountRequest struct {
	PhoneNumber string `json:"phone_number" validate:"notblank,max=32"`
	FullName    string `json:"full_name" validate:"notblank,max=120"`
	Password    string `json:"password" validate:"min=8,max=72"`
}

type bootstrapRequest struct {
	Token string `json:"token" validate:"notblank"`
	accountRequest
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

func NewHandler(svc authService, secureCookie bool) *Handler {
	return &Handler{svc: svc, secureCookie: secureCookie}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}

	user, err := h.svc.Register(r.Context(), AccountInput(req))
	if err != nil {
		writeAccountError(w, r, err)
		return
	}
	if err := h.establishSession(w, r, user); err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "تعذر إنشاء الجلسة"})
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: user})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}

	user, err := h.svc.AuthenticatePassword(r.Context(), req.PhoneNumber, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrRateLimited):
			writeJSON(w, r, http.StatusTooManyRequests, response{OK: false, Error: "محاولات كثيرة، حاول لاحقاً"})
		case errors.Is(err, ErrInvalidCredentials):
			writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "رقم الهاتف أو كلمة المرور غير صحيحة"})
		case errors.Is(err, ErrForbidden):
			writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "الحساب غير مفعل"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "حدث خطأ في الخادم"})
		}
		return
	}

	if err := h.establishSession(w, r, user); err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "تعذر إنشاء الجلسة"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: user})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := readSessionToken(r)
	_ = h.svc.RevokeSession(r.Context(), token)

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})

	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "logged_out"}})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "يجب تسجيل الدخول"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: user})
}

func (h *Handler) BootstrapAdmin(w http.ResponseWriter, r *http.Request) {
	var req bootstrapRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}

	user, err := h.svc.BootstrapAdmin(r.Context(), BootstrapInput{
		Token:        req.Token,
		AccountInput: AccountInput(req.accountRequest),
	})
	if err != nil {
		if errors.Is(err, ErrBootstrapDenied) {
			writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "رمز التهيئة غير صحيح"})
			return
		}
		writeAccountError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: user})
}

func (h *Handler) CreateTeacher(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}

	user, err := h.svc.CreateTeacher(r.Context(), AccountInput(req))
	if err != nil {
		writeAccountError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: user})
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	items, err := h.svc.ListUsers(r.Context(), r.URL.Query().Get("role"), r.URL.Query().Get("q"), limit, offset)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) SetUserActive(w http.ResponseWriter, r *http.Request) {
	admin, _ := CurrentUser(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "معرف المستخدم غير صالح"})
		return
	}
	if admin != nil && admin.ID == id {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "لا يمكنك تعطيل حسابك"})
		return
	}

	var req setActiveRequest
	if !apiresp.DecodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.SetUserActive(r.Context(), id, *req.IsActive); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "المستخدم غير موجود"})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "حدث خطأ في الخادم"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]interface{}{"id": id, "is_active": *req.IsActive}})
}

func (h *Handler) ExportUsers(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.ExportUsersExcel(r.Context(), r.URL.Query().Get("role"), r.URL.Query().Get("q"))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}
	WriteAttachment(w, "users.xlsx", xlsx.ContentType, data)
}

func (h *Handler) ImportUsers(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "ملف غير صالح"})
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "الملف مطلوب"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "تعذر قراءة الملف"})
		return
	}
	report, err := h.svc.ImportUsersExcel(r.Context(), data)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: report})
}

// RequireAuth rejects anonymous requests. A user already attached by
// OptionalAuth is reused.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CurrentUser(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		token := readSessionToken(r)
		user, err := h.svc.GetSessionUser(r.Context(), token)
		if err != nil {
			writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "يجب تسجيل الدخول"})
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

// OptionalAuth attaches the session user when the cookie is valid and lets
// guests through otherwise.
func (h *Handler) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := readSessionToken(r)
		if token != "" {
			if user, err := h.svc.GetSessionUser(r.Context(), token); err == nil {
				r = r.WithContext(ContextWithUser(r.Context(), user))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := CurrentUser(r.Context())
			if !ok {
				writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "يجب تسجيل الدخول"})
				return
			}
			if _, exists := allowed[user.Role]; !exists {
				writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "غير مصرح لك بهذا الإجراء"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CurrentUser(ctx context.Context) (*User, bool) {
	v := ctx.Value(userContextKey)
	if v == nil {
		return nil, false
	}
	u, ok := v.(*User)
	return u, ok && u != nil
}

// ContextWithUser injects an authenticated user into context.
// Useful for tests and internal handlers.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// WriteAttachment sends a file download.
func WriteAttachment(w http.ResponseWriter, filename, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ReadIP returns the first X-Forwarded-For hop, else the remote address.
func ReadIP(r *http.Request) string {
	xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func (h *Handler) establishSession(w http.ResponseWriter, r *http.Request, user *User) error {
	token, expiresAt, err := h.svc.CreateSession(r.Context(), user.ID, ReadIP(r), r.UserAgent())
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func readSessionToken(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func writeAccountError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrPhoneTaken):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "رقم الهاتف مسجل بالفعل"})
	case errors.Is(err, ErrInvalidPhone):
		apiresp.WriteFieldErrors(w, r, http.StatusBadRequest, "بيانات غير صالحة", map[string]string{"phone_number": "رقم هاتف غير صالح"})
	case errors.Is(err, ErrWeakPassword):
		apiresp.WriteFieldErrors(w, r, http.StatusBadRequest, "بيانات غير صالحة", map[string]string{"password": "كلمة المرور يجب ألا تقل عن 8 أحرف"})
	case errors.Is(err, ErrFullNameRequired):
		apiresp.WriteFieldErrors(w, r, http.StatusBadRequest, "بيانات غير صالحة", map[string]string{"full_name": "الاسم الكامل مطلوب"})
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
