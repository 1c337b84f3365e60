package content

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

type mockContentService struct {
	upsertFn     func(ctx context.Context, actor *auth.User, rawType string, in Input) (*Content, error)
	getFn        func(ctx context.Context, teacherID int64, rawType string) (*Content, error)
	createItemFn func(ctx context.Context, actor *auth.User, rawType string, in Input) (*Item, error)
	deleteItemFn func(ctx context.Context, actor *auth.User, id int64) error
	listItemsFn  func(ctx context.Context, teacherID int64, rawType string) ([]Item, error)
}

func (m *mockContentService) Upsert(ctx context.Context, actor *auth.User, rawType string, in Input) (*Content, error) {
	if m.upsertFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.upsertFn(ctx, actor, rawType, in)
}

func (m *mockContentService) Get(ctx context.Context, teacherID int64, rawType string) (*Content, error) {
	if m.getFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getFn(ctx, teacherID, rawType)
}

func (m *mockContentService) CreateItem(ctx context.Context, actor *auth.User, rawType string, in Input) (*Item, error) {
	if m.createItemFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createItemFn(ctx, actor, rawType, in)
}

func (m *mockContentService) UpdateItem(ctx context.Context, actor *auth.User, id int64, in Input) (*Item, error) {
	return nil, errors.New("not implemented")
}

func (m *mockContentService) DeleteItem(ctx context.Context, actor *auth.User, id int64) error {
	if m.deleteItemFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteItemFn(ctx, actor, id)
}

func (m *mockContentService) ReorderItems(ctx context.Context, actor *auth.User, rawType string, ids []int64) ([]Item, error) {
	return nil, errors.New("not implemented")
}

func (m *mockContentService) ListItems(ctx context.Context, teacherID int64, rawType string) ([]Item, error) {
	if m.listItemsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listItemsFn(ctx, teacherID, rawType)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestGetPassesTeacherAndType(t *testing.T) {
	tests := []struct {
		query   string
		teacher int64
	}{
		{query: "", teacher: 0},
		{query: "?teacher_id=12", teacher: 12},
		{query: "?teacher_id=abc", teacher: 0},
		{query: "?teacher_id=-3", teacher: 0},
	}
	for _, tc := range tests {
		var gotTeacher int64
		var gotType string
		h := NewHandler(&mockContentService{
			getFn: func(ctx context.Context, teacherID int64, rawType string) (*Content, error) {
				gotTeacher, gotType = teacherID, rawType
				return &Content{ID: 1, TeacherID: 5, Type: TypeAboutUs}, nil
			},
		})
		req := httptest.NewRequest(http.MethodGet, "/api/v1/content/about-us"+tc.query, nil)
		req = withChiParam(req, "type", "about-us")
		w := httptest.NewRecorder()
		h.Get(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.query, w.Code)
		}
		if gotTeacher != tc.teacher || gotType != "about-us" {
			t.Fatalf("%s: got teacher %d type %q", tc.query, gotTeacher, gotType)
		}
	}
}

func TestUnknownTypeIsNotFound(t *testing.T) {
	h := NewHandler(&mockContentService{
		listItemsFn: func(ctx context.Context, teacherID int64, rawType string) ([]Item, error) {
			return nil, ErrUnknownType
		},
	})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/content/recipes/items", nil)
	req = withChiParam(req, "type", "recipes")
	w := httptest.NewRecorder()
	h.ListItems(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCreateItemRequiresTitle(t *testing.T) {
	h := NewHandler(&mockContentService{
		createItemFn: func(ctx context.Context, actor *auth.User, rawType string, in Input) (*Item, error) {
			t.Fatalf("service must not be called")
			return nil, nil
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/teacher/content/branches/items", bytes.NewBufferString(`{"title":"  ","body":"Cairo"}`))
	req = withChiParam(req, "type", "branches")
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 2, Role: auth.RoleTeacher}))
	w := httptest.NewRecorder()
	h.CreateItem(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestUpsertUsesActor(t *testing.T) {
	var gotActor int64
	h := NewHandler(&mockContentService{
		upsertFn: func(ctx context.Context, actor *auth.User, rawType string, in Input) (*Content, error) {
			gotActor = actor.ID
			return &Content{ID: 1, TeacherID: actor.ID, Type: TypeHero, Title: in.Title}, nil
		},
	})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/teacher/content/hero", bytes.NewBufferString(`{"title":"Welcome","image_url":"https://img.test/h.png"}`))
	req = withChiParam(req, "type", "hero")
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 9, Role: auth.RoleTeacher}))
	w := httptest.NewRecorder()
	h.Upsert(w, req)
	if w.Code != http.StatusOK || gotActor != 9 {
		t.Fatalf("expected 200 for actor 9, got %d actor %d", w.Code, gotActor)
	}
}

func TestDeleteItemForbidden(t *testing.T) {
	h := NewHandler(&mockContentService{
		deleteItemFn: func(ctx context.Context, actor *auth.User, id int64) error { return ErrForbidden },
	})
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/teacher/content-items/3", nil)
	req = withChiParam(req, "itemID", "3")
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 9, Role: auth.RoleTeacher}))
	w := httptest.NewRecorder()
	h.DeleteItem(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestTypeCanonicalization(t *testing.T) {
	if typ, ok := SingletonType(" about-us "); !ok || typ != TypeAboutUs {
		t.Fatalf("got %q %v", typ, ok)
	}
	if _, ok := SingletonType("branches"); ok {
		t.Fatalf("branches is a list type")
	}
	if typ, ok := ListType("Testimonials"); !ok || typ != TypeTestimonials {
		t.Fatalf("got %q %v", typ, ok)
	}
	if _, ok := ListType("hero"); ok {
		t.Fatalf("hero is a singleton type")
	}
}
