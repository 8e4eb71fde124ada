package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/onnwee/bentofeed/internal/override"
	"github.com/onnwee/bentofeed/internal/post"
)

// seedCatalog creates posts whose cold order is a, b, c, d.
func seedCatalog(t *testing.T) *post.InMemoryRepository {
	t.Helper()
	repo := post.NewInMemoryRepository()
	views := map[string]int64{"a": 400, "b": 300, "c": 200, "d": 100}
	for id, v := range views {
		if err := repo.Upsert(context.Background(), post.Post{ID: id, ContentType: post.ContentTypeArticle, ViewCount: v}); err != nil {
			t.Fatalf("Upsert(%s): %v", id, err)
		}
	}
	return repo
}

func newOverrideRouter(t *testing.T) (http.Handler, *post.InMemoryRepository) {
	t.Helper()
	repo := seedCatalog(t)
	svc := override.NewService(repo, repo, override.WithLogger(quietLogger()))
	return NewRouter(RouterConfig{
		Overrides: NewOverrideHandlers(svc, quietLogger()),
		Logger:    quietLogger(),
	}), repo
}

func send(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return resp.Error.Code
}

func pinnedOrder(t *testing.T, repo *post.InMemoryRepository) map[string]int {
	t.Helper()
	posts, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	out := make(map[string]int)
	for _, p := range posts {
		if p.BentoOrder != nil {
			out[p.ID] = *p.BentoOrder
		}
	}
	return out
}

func TestReorderHandler(t *testing.T) {
	h, repo := newOverrideRouter(t)

	rr := send(h, http.MethodPut, "/admin/bento/order", `{"post_ids":["c","a","b"]}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	want := map[string]int{"c": 0, "a": 1, "b": 2}
	if got := pinnedOrder(t, repo); !reflect.DeepEqual(got, want) {
		t.Errorf("pins = %v, want %v", got, want)
	}

	rr = send(h, http.MethodPut, "/admin/bento/order", `{"post_ids":[]}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("empty reorder status %d", rr.Code)
	}
	if got := pinnedOrder(t, repo); len(got) != 0 {
		t.Errorf("empty reorder left pins %v", got)
	}
}

func TestReorderHandler_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"malformed json", `{"post_ids":`, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown field", `{"ids":["a"]}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"missing list", `{}`, http.StatusBadRequest, ErrCodeValidation},
		{"empty id", `{"post_ids":["a",""]}`, http.StatusBadRequest, ErrCodeValidation},
		{"duplicate id", `{"post_ids":["a","a"]}`, http.StatusBadRequest, ErrCodeValidation},
		{"unknown post", `{"post_ids":["a","zzz"]}`, http.StatusNotFound, ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, repo := newOverrideRouter(t)
			rr := send(h, http.MethodPut, "/admin/bento/order", tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.wantCode, rr.Body.String())
			}
			if code := errorCode(t, rr); code != tt.wantErr {
				t.Errorf("code = %q, want %q", code, tt.wantErr)
			}
			if got := pinnedOrder(t, repo); len(got) != 0 {
				t.Errorf("failed reorder wrote pins %v", got)
			}
		})
	}
}

func TestMoveHandler(t *testing.T) {
	h, repo := newOverrideRouter(t)

	rr := send(h, http.MethodPost, "/admin/bento/move", `{"post_id":"d","new_index":0}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	var resp MoveResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"d", "a", "b", "c"}
	if !reflect.DeepEqual(resp.PostIDs, want) {
		t.Errorf("order = %v, want %v", resp.PostIDs, want)
	}
	if got := pinnedOrder(t, repo); got["d"] != 0 || got["c"] != 3 {
		t.Errorf("pins = %v", got)
	}
}

func TestMoveHandler_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"missing index", `{"post_id":"a"}`, http.StatusBadRequest, ErrCodeValidation},
		{"negative index", `{"post_id":"a","new_index":-1}`, http.StatusBadRequest, ErrCodeValidation},
		{"missing post id", `{"new_index":1}`, http.StatusBadRequest, ErrCodeValidation},
		{"index out of range", `{"post_id":"a","new_index":4}`, http.StatusBadRequest, ErrCodeValidation},
		{"unknown post", `{"post_id":"zzz","new_index":0}`, http.StatusNotFound, ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newOverrideRouter(t)
			rr := send(h, http.MethodPost, "/admin/bento/move", tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.wantCode, rr.Body.String())
			}
			if code := errorCode(t, rr); code != tt.wantErr {
				t.Errorf("code = %q, want %q", code, tt.wantErr)
			}
		})
	}
}

func TestSetSizeHandler(t *testing.T) {
	h, repo := newOverrideRouter(t)
	ctx := context.Background()

	rr := send(h, http.MethodPut, "/admin/bento/posts/b/size", `{"size":"Featured"}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	p, err := repo.Get(ctx, "b")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.DeclaredSize == nil || *p.DeclaredSize != post.SizeFeatured {
		t.Fatalf("declared size = %v", p.DeclaredSize)
	}

	rr = send(h, http.MethodPut, "/admin/bento/posts/b/size", `{"size":null}`)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("clear status %d", rr.Code)
	}
	p, _ = repo.Get(ctx, "b")
	if p.DeclaredSize != nil {
		t.Errorf("size not cleared: %v", *p.DeclaredSize)
	}
}

func TestSetSizeHandler_Errors(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		body     string
		wantCode int
		wantErr  string
	}{
		{"missing size", "/admin/bento/posts/a/size", `{}`, http.StatusBadRequest, ErrCodeValidation},
		{"unknown size", "/admin/bento/posts/a/size", `{"size":"huge"}`, http.StatusBadRequest, ErrCodeValidation},
		{"non-string size", "/admin/bento/posts/a/size", `{"size":3}`, http.StatusBadRequest, ErrCodeValidation},
		{"malformed", "/admin/bento/posts/a/size", `size=large`, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown post", "/admin/bento/posts/zzz/size", `{"size":"small"}`, http.StatusNotFound, ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newOverrideRouter(t)
			rr := send(h, http.MethodPut, tt.target, tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.wantCode, rr.Body.String())
			}
			if code := errorCode(t, rr); code != tt.wantErr {
				t.Errorf("code = %q, want %q", code, tt.wantErr)
			}
		})
	}
}

func TestSetSizeHandler_EmptyPostID(t *testing.T) {
	repo := seedCatalog(t)
	h := NewOverrideHandlers(override.NewService(repo, repo, override.WithLogger(quietLogger())), quietLogger())

	req := httptest.NewRequest(http.MethodPut, "/admin/bento/posts//size", strings.NewReader(`{"size":"small"}`))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rr := httptest.NewRecorder()
	h.SetSize(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (%s)", rr.Code, rr.Body.String())
	}
	if code := errorCode(t, rr); code != ErrCodeValidation {
		t.Errorf("code = %q, want %q", code, ErrCodeValidation)
	}
}

// failingOverrides fails every write with an unexpected error.
type failingOverrides struct{}

func (failingOverrides) Reorder(ctx context.Context, ids []string) error { return errors.New("disk full") }
func (failingOverrides) SetSize(ctx context.Context, id string, s *post.SizeClass) error {
	return errors.New("disk full")
}
func (failingOverrides) Move(ctx context.Context, id string, i int) ([]string, error) {
	return nil, errors.New("disk full")
}

func TestOverrideHandlers_InternalError(t *testing.T) {
	h := NewRouter(RouterConfig{Overrides: NewOverrideHandlers(failingOverrides{}, quietLogger()), Logger: quietLogger()})

	rr := send(h, http.MethodPut, "/admin/bento/order", `{"post_ids":["a"]}`)
	if rr.Code != http.StatusInternalServerError || errorCode(t, rr) != ErrCodeInternal {
		t.Errorf("status %d body %s", rr.Code, rr.Body.String())
	}
}
