package listing

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ahmednader515/alkian-sub001/internal/auth"

	"github.com/go-chi/chi/v5"
)

type mockListingService struct {
	createFn  func(ctx context.Context, actor *auth.User, kind string, in Input) (*Listing, error)
	updateFn  func(ctx context.Context, actor *auth.User, kind string, id int64, in Input) (*Listing, error)
	reorderFn func(ctx context.Context, actor *auth.User, kind string, ids []int64) ([]Listing, error)
	listFn    func(ctx context.Context, teacherID int64, kind string) ([]Listing, error)
}

func (m *mockListingService) Create(ctx context.Context, actor *auth.User, kind string, in Input) (*Listing, error) {
	if m.createFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createFn(ctx, actor, kind, in)
}

func (m *mockListingService) Update(ctx context.Context, actor *auth.User, kind string, id int64, in Input) (*Listing, error) {
	if m.updateFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateFn(ctx, actor, kind, id, in)
}

func (m *mockListingService) Delete(ctx context.Context, actor *auth.User, kind string, id int64) error {
	return errors.New("not implemented")
}

func (m *mockListingService) Reorder(ctx context.Context, actor *auth.User, kind string, ids []int64) ([]Listing, error) {
	if m.reorderFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.reorderFn(ctx, actor, kind, ids)
}

func (m *mockListingService) List(ctx context.Context, teacherID int64, kind string) ([]Listing, error) {
	if m.listFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listFn(ctx, teacherID, kind)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestTableFor(t *testing.T) {
	tests := []struct {
		in    string
		kind  string
		table string
		ok    bool
	}{
		{in: "services", kind: KindServices, table: "services", ok: true},
		{in: "General_Services", kind: KindGeneralServices, table: "general_services", ok: true},
		{in: " accreditations ", kind: KindAccreditations, table: "accreditations", ok: true},
		{in: "certificate-details", kind: KindCertificateDetails, table: "certificate_details", ok: true},
		{in: "users", ok: false},
		{in: "services; DROP TABLE users", ok: false},
	}
	for _, tc := range tests {
		kind, table, ok := TableFor(tc.in)
		if ok != tc.ok {
			t.Fatalf("TableFor(%q) ok = %v, want %v", tc.in, ok, tc.ok)
		}
		if ok && (kind != tc.kind || table != tc.table) {
			t.Fatalf("TableFor(%q) = %q %q", tc.in, kind, table)
		}
	}
	if len(Kinds()) != len(kindTables) {
		t.Fatalf("Kinds() out of sync with kindTables")
	}
}

func TestCreatePassesKind(t *testing.T) {
	var gotKind string
	h := NewHandler(&mockListingService{
		createFn: func(ctx context.Context, actor *auth.User, kind string, in Input) (*Listing, error) {
			gotKind = kind
			return &Listing{ID: 1, Kind: kind, TeacherID: actor.ID, Title: in.Title, Position: 1}, nil
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/teacher/listings/accreditations", bytes.NewBufferString(`{"title":"ISO 9001"}`))
	req = withChiParam(req, "kind", "accreditations")
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 6, Role: auth.RoleTeacher}))
	w := httptest.NewRecorder()
	h.Create(w, req)
	if w.Code != http.StatusCreated || gotKind != "accreditations" {
		t.Fatalf("expected 201 for accreditations, got %d %q", w.Code, gotKind)
	}
}

func TestUpdateCrossTeacherForbidden(t *testing.T) {
	h := NewHandler(&mockListingService{
		updateFn: func(ctx context.Context, actor *auth.User, kind string, id int64, in Input) (*Listing, error) {
			return nil, ErrForbidden
		},
	})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/teacher/listings/services/4", bytes.NewBufferString(`{"title":"Tutoring"}`))
	req = withChiParam(req, "kind", "services")
	req = withChiParam(req, "listingID", "4")
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 6, Role: auth.RoleTeacher}))
	w := httptest.NewRecorder()
	h.Update(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestListUnknownKind(t *testing.T) {
	h := NewHandler(&mockListingService{
		listFn: func(ctx context.Context, teacherID int64, kind string) ([]Listing, error) {
			return nil, ErrUnknownKind
		},
	})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/listings/unknown", nil)
	req = withChiParam(req, "kind", "unknown")
	w := httptest.NewRecorder()
	h.List(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestReorderInvalid(t *testing.T) {
	h := NewHandler(&mockListingService{
		reorderFn: func(ctx context.Context, actor *auth.User, kind string, ids []int64) ([]Listing, error) {
			return nil, ErrInvalidOrder
		},
	})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/teacher/listings/services/order", bytes.NewBufferString(`{"ids":[2,1]}`))
	req = withChiParam(req, "kind", "services")
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 6, Role: auth.RoleTeacher}))
	w := httptest.NewRecorder()
	h.Reorder(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
