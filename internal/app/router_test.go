package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRouterSmoke(t *testing.T) {
	router := NewRouter(Config{
		CSRFEnforced:        false,
		AuthRateLimitPerMin: 60,
		PublicRateLimitMin:  60,
		PublicBaseURL:       "https://alkian.test",
	}, nil)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
	}{
		{name: "healthz", method: http.MethodGet, target: "/healthz", wantStatus: http.StatusOK},
		{name: "metrics", method: http.MethodGet, target: "/metrics", wantStatus: http.StatusOK},
		{name: "csrf token", method: http.MethodGet, target: "/api/v1/auth/csrf", wantStatus: http.StatusOK},
		{name: "me unauthorized", method: http.MethodGet, target: "/api/v1/auth/me", wantStatus: http.StatusUnauthorized},
		{name: "login invalid body", method: http.MethodPost, target: "/api/v1/auth/login", body: "{", wantStatus: http.StatusBadRequest},
		{name: "teacher unauthorized", method: http.MethodGet, target: "/api/v1/teacher/courses", wantStatus: http.StatusUnauthorized},
		{name: "admin unauthorized", method: http.MethodGet, target: "/api/v1/admin/users", wantStatus: http.StatusUnauthorized},
		{name: "submit unauthorized", method: http.MethodPost, target: "/api/v1/quizzes/1/submit", body: `{"answers":[]}`, wantStatus: http.StatusUnauthorized},
		{name: "validate without code", method: http.MethodGet, target: "/api/v1/certificates/validate", wantStatus: http.StatusBadRequest},
		{name: "reservation invalid body", method: http.MethodPost, target: "/api/v1/reservations", body: `{"full_name":""}`, wantStatus: http.StatusBadRequest},
		{name: "unknown route", method: http.MethodGet, target: "/api/v1/nope", wantStatus: http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, bytes.NewBufferString(tc.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tc.wantStatus {
				t.Fatalf("%s %s: got status %d, want %d", tc.method, tc.target, w.Code, tc.wantStatus)
			}
		})
	}
}

func TestRouterErrorEnvelopeCarriesRequestID(t *testing.T) {
	router := NewRouter(Config{AuthRateLimitPerMin: 60, PublicRateLimitMin: 60}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body struct {
		OK    bool `json:"ok"`
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Meta struct {
			RequestID string `json:"request_id"`
		} `json:"meta"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.OK || body.Error.Message == "" || body.Meta.RequestID == "" {
		t.Fatalf("unexpected envelope %+v", body)
	}
}

func TestRouterRateLimitsPublicWrites(t *testing.T) {
	router := NewRouter(Config{AuthRateLimitPerMin: 60, PublicRateLimitMin: 2}, nil)

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/certificates/redeem", strings.NewReader(`{}`))
		req.RemoteAddr = "192.0.2.7:4000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on the third redeem, got %d", last)
	}
}
