package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type mockAuthService struct {
	authenticateFn   func(ctx context.Context, phone, password string) (*User, error)
	registerFn       func(ctx context.Context, in AccountInput) (*User, error)
	createTeacherFn  func(ctx context.Context, in AccountInput) (*User, error)
	bootstrapFn      func(ctx context.Context, in BootstrapInput) (*User, error)
	getSessionUserFn func(ctx context.Context, token string) (*User, error)
	setUserActiveFn  func(ctx context.Context, userID int64, active bool) error
	revoked          []string
}

func (m *mockAuthService) AuthenticatePassword(ctx context.Context, phone, password string) (*User, error) {
	if m.authenticateFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.authenticateFn(ctx, phone, password)
}

func (m *mockAuthService) Register(ctx context.Context, in AccountInput) (*User, error) {
	if m.registerFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.registerFn(ctx, in)
}

func (m *mockAuthService) CreateTeacher(ctx context.Context, in AccountInput) (*User, error) {
	if m.createTeacherFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createTeacherFn(ctx, in)
}

func (m *mockAuthService) BootstrapAdmin(ctx context.Context, in BootstrapInput) (*User, error) {
	if m.bootstrapFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.bootstrapFn(ctx, in)
}

func (m *mockAuthService) CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error) {
	return "session-token", time.Now().Add(time.Hour), nil
}

func (m *mockAuthService) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if m.getSessionUserFn == nil {
		return nil, ErrUnauthorized
	}
	return m.getSessionUserFn(ctx, token)
}

func (m *mockAuthService) RevokeSession(ctx context.Context, token string) error {
	m.revoked = append(m.revoked, token)
	return nil
}

func (m *mockAuthService) ListUsers(ctx context.Context, role, q string, limit, offset int) ([]User, error) {
	return nil, nil
}

func (m *mockAuthService) SetUserActive(ctx context.Context, userID int64, active bool) error {
	if m.setUserActiveFn == nil {
		return errors.New("not implemented")
	}
	return m.setUserActiveFn(ctx, userID, active)
}

func (m *mockAuthService) ExportUsersExcel(ctx context.Context, role, q string) ([]byte, error) {
	return []byte("xlsx"), nil
}

func (m *mockAuthService) ImportUsersExcel(ctx context.Context, data []byte) (*UserImportReport, error) {
	return &UserImportReport{}, nil
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestLoginSetsSessionCookie(t *testing.T) {
	h := NewHandler(&mockAuthService{
		authenticateFn: func(ctx context.Context, phone, password string) (*User, error) {
			return &User{ID: 3, Role: RoleStudent, PhoneNumber: phone, IsActive: true}, nil
		},
	}, true)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(`{"phone_number":"01012345678","password":"secret123"}`))
	w := httptest.NewRecorder()
	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionCookieName || cookies[0].Value != "session-token" {
		t.Fatalf("unexpected cookies %+v", cookies)
	}
	if !cookies[0].HttpOnly || !cookies[0].Secure {
		t.Fatalf("expected httponly secure cookie, got %+v", cookies[0])
	}
}

func TestLoginErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{ErrInvalidCredentials, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{ErrRateLimited, http.StatusTooManyRequests},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		h := NewHandler(&mockAuthService{
			authenticateFn: func(ctx context.Context, phone, password string) (*User, error) { return nil, tc.err },
		}, false)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(`{"phone_number":"01012345678","password":"x"}`))
		w := httptest.NewRecorder()
		h.Login(w, req)
		if w.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, w.Code)
		}
	}
}

func TestRegisterValidationUsesFieldNames(t *testing.T) {
	called := false
	h := NewHandler(&mockAuthService{
		registerFn: func(ctx context.Context, in AccountInput) (*User, error) {
			called = true
			return nil, nil
		},
	}, false)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewBufferString(`{"phone_number":"  ","full_name":"Ali","password":"short"}`))
	w := httptest.NewRecorder()
	h.Register(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if called {
		t.Fatalf("service must not be called on invalid input")
	}
	body := decodeBody(t, w)
	fields := body["error"].(map[string]interface{})["fields"].(map[string]interface{})
	if _, ok := fields["phone_number"]; !ok {
		t.Fatalf("expected phone_number field error, got %v", fields)
	}
	if _, ok := fields["password"]; !ok {
		t.Fatalf("expected password field error, got %v", fields)
	}
}

func TestRegisterDuplicatePhoneIsConflict(t *testing.T) {
	h := NewHandler(&mockAuthService{
		registerFn: func(ctx context.Context, in AccountInput) (*User, error) { return nil, ErrPhoneTaken },
	}, false)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewBufferString(`{"phone_number":"01012345678","full_name":"Ali","password":"secret123"}`))
	w := httptest.NewRecorder()
	h.Register(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestRegisterMissingFullNameIsBadRequest(t *testing.T) {
	h := NewHandler(&mockAuthService{
		registerFn: func(ctx context.Context, in AccountInput) (*User, error) { return nil, ErrFullNameRequired },
	}, false)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewBufferString(`{"phone_number":"01012345678","full_name":"Ali","password":"secret123"}`))
	w := httptest.NewRecorder()
	h.Register(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	body := decodeBody(t, w)
	fields := body["error"].(map[string]interface{})["fields"].(map[string]interface{})
	if _, ok := fields["full_name"]; !ok {
		t.Fatalf("expected full_name field error, got %v", fields)
	}
}

func TestBootstrapDenied(t *testing.T) {
	h := NewHandler(&mockAuthService{
		bootstrapFn: func(ctx context.Context, in BootstrapInput) (*User, error) {
			if in.Token != "wrong" || in.PhoneNumber != "01000000000" {
				t.Fatalf("unexpected input %+v", in)
			}
			return nil, ErrBootstrapDenied
		},
	}, false)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/bootstrap", bytes.NewBufferString(`{"token":"wrong","phone_number":"01000000000","full_name":"Root","password":"secret123"}`))
	w := httptest.NewRecorder()
	h.BootstrapAdmin(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body=%s", w.Code, w.Body.String())
	}
}

func TestRequireRoles(t *testing.T) {
	h := NewHandler(&mockAuthService{}, false)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	mw := h.RequireRoles(RoleTeacher, RoleAdmin)(next)

	tests := []struct {
		name string
		user *User
		code int
	}{
		{name: "guest", user: nil, code: http.StatusUnauthorized},
		{name: "student", user: &User{ID: 1, Role: RoleStudent}, code: http.StatusForbidden},
		{name: "teacher", user: &User{ID: 2, Role: RoleTeacher}, code: http.StatusNoContent},
		{name: "admin", user: &User{ID: 3, Role: RoleAdmin}, code: http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tc.user != nil {
				req = req.WithContext(ContextWithUser(req.Context(), tc.user))
			}
			w := httptest.NewRecorder()
			mw.ServeHTTP(w, req)
			if w.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, w.Code)
			}
		})
	}
}

func TestOptionalAuthLetsGuestsThrough(t *testing.T) {
	h := NewHandler(&mockAuthService{
		getSessionUserFn: func(ctx context.Context, token string) (*User, error) {
			if token == "good" {
				return &User{ID: 9, Role: RoleStudent}, nil
			}
			return nil, ErrUnauthorized
		},
	}, false)

	var gotUser *User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = CurrentUser(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	mw := h.OptionalAuth(next)

	for _, tc := range []struct {
		cookie string
		wantID int64
	}{
		{cookie: "", wantID: 0},
		{cookie: "bad", wantID: 0},
		{cookie: "good", wantID: 9},
	} {
		gotUser = nil
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if tc.cookie != "" {
			req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tc.cookie})
		}
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("cookie %q: expected 200, got %d", tc.cookie, w.Code)
		}
		var id int64
		if gotUser != nil {
			id = gotUser.ID
		}
		if id != tc.wantID {
			t.Fatalf("cookie %q: expected user %d, got %d", tc.cookie, tc.wantID, id)
		}
	}
}

func TestSetUserActiveRejectsSelf(t *testing.T) {
	h := NewHandler(&mockAuthService{
		setUserActiveFn: func(ctx context.Context, userID int64, active bool) error {
			t.Fatalf("service must not be called")
			return nil
		},
	}, false)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/admin/users/4/active", bytes.NewBufferString(`{"is_active":false}`))
	req = withChiParam(req, "id", "4")
	req = req.WithContext(ContextWithUser(req.Context(), &User{ID: 4, Role: RoleAdmin}))
	w := httptest.NewRecorder()
	h.SetUserActive(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestLogoutRevokesAndClearsCookie(t *testing.T) {
	svc := &mockAuthService{}
	h := NewHandler(svc, false)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "abc"})
	w := httptest.NewRecorder()
	h.Logout(w, req)

	if len(svc.revoked) != 1 || svc.revoked[0] != "abc" {
		t.Fatalf("expected revoke of abc, got %v", svc.revoked)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected expired cookie, got %+v", cookies)
	}
}
