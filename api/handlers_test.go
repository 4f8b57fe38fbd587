package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/crypto/bcrypt"

	"taskboard-api/account"
	"taskboard-api/board"
	"taskboard-api/domain"
	"taskboard-api/query"
	"taskboard-api/storage"
)

type testServer struct {
	e     *echo.Echo
	store *storage.Memory
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("down") }

func newTestServer(t *testing.T, health Pinger) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := storage.NewMemory()
	accounts := account.New(store, "test-secret", 15*time.Minute, time.Hour, account.WithBcryptCost(bcrypt.MinCost))
	if health == nil {
		health = store
	}

	e := echo.New()
	e.JSONSerializer = JSONSerializer{}
	e.Use(GzipRequestMiddleware())
	Register(e, Deps{
		Board:    board.New(store, storage.NewLocalLocker(), logger),
		Accounts: accounts,
		Auth:     NewAuth(accounts, nil, "", ""),
		Health:   health,
		Log:      logger,
	})
	return &testServer{e: e, store: store}
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := sonic.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func (s *testServer) signUp(t *testing.T, email string) account.Tokens {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/register", "", `{"name":"Ada","email":"`+email+`","password":"secret1"}`)
	expectStatus(t, rec, http.StatusCreated)
	return decode[account.Tokens](t, rec)
}

func (s *testServer) createList(t *testing.T, token, title string) domain.List {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/lists", token, `{"title":"`+title+`"}`)
	expectStatus(t, rec, http.StatusCreated)
	return decode[domain.List](t, rec)
}

func (s *testServer) createTask(t *testing.T, token, listID, body string) domain.Task {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/lists/"+listID+"/tasks", token, body)
	expectStatus(t, rec, http.StatusCreated)
	return decode[domain.Task](t, rec)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/health", "", "")
	expectStatus(t, rec, http.StatusOK)
	if !decode[okResponse](t, rec).OK {
		t.Fatalf("expected ok true")
	}

	rec = s.do(t, http.MethodGet, "/api/health/db", "", "")
	expectStatus(t, rec, http.StatusOK)
	if decode[dbHealthResponse](t, rec).DB != "ok" {
		t.Fatalf("unexpected db health: %s", rec.Body.String())
	}

	down := newTestServer(t, failingPinger{})
	expectStatus(t, down.do(t, http.MethodGet, "/api/health/db", "", ""), http.StatusServiceUnavailable)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t, nil)
	tokens := s.signUp(t, "ada@example.com")
	if tokens.TokenType != "Bearer" || tokens.ExpiresIn != 900 || tokens.RefreshToken == "" {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}

	rec := s.do(t, http.MethodPost, "/api/auth/register", "", `{"name":"Ada","email":"ADA@example.com","password":"secret1"}`)
	expectStatus(t, rec, http.StatusConflict)

	rec = s.do(t, http.MethodGet, "/api/me", tokens.AccessToken, "")
	expectStatus(t, rec, http.StatusOK)
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("profile leaks password hash: %s", rec.Body.String())
	}
	if u := decode[domain.User](t, rec); u.Email != "ada@example.com" || u.Name != "Ada" {
		t.Fatalf("unexpected profile: %+v", u)
	}

	expectStatus(t, s.do(t, http.MethodPost, "/api/auth/login", "", `{"email":"ada@example.com","password":"nope-nope"}`), http.StatusUnauthorized)
	rec = s.do(t, http.MethodPost, "/api/auth/login", "", `{"email":"ada@example.com","password":"secret1"}`)
	expectStatus(t, rec, http.StatusOK)
	tokens = decode[account.Tokens](t, rec)

	rec = s.do(t, http.MethodPost, "/api/auth/refresh", "", `{"refreshToken":"`+tokens.RefreshToken+`"}`)
	expectStatus(t, rec, http.StatusOK)
	if refreshed := decode[account.Tokens](t, rec); refreshed.AccessToken == "" || refreshed.RefreshToken != "" {
		t.Fatalf("unexpected refresh response: %+v", refreshed)
	}
	expectStatus(t, s.do(t, http.MethodPost, "/api/auth/refresh", "", `{}`), http.StatusBadRequest)

	expectStatus(t, s.do(t, http.MethodPost, "/api/auth/logout", "", `{"refreshToken":"`+tokens.RefreshToken+`"}`), http.StatusUnauthorized)
	expectStatus(t, s.do(t, http.MethodPost, "/api/auth/logout", tokens.AccessToken, `{"refreshToken":"`+tokens.RefreshToken+`"}`), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodPost, "/api/auth/refresh", "", `{"refreshToken":"`+tokens.RefreshToken+`"}`), http.StatusUnauthorized)

	expectStatus(t, s.do(t, http.MethodGet, "/api/me", tokens.RefreshToken, ""), http.StatusUnauthorized)
	expectStatus(t, s.do(t, http.MethodGet, "/api/lists", "", ""), http.StatusUnauthorized)
}

func TestListRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.signUp(t, "ada@example.com").AccessToken

	a := s.createList(t, token, "A")
	b := s.createList(t, token, "B")
	rec := s.do(t, http.MethodPost, "/api/lists", token, `{"title":"between","afterId":"`+a.ID+`"}`)
	expectStatus(t, rec, http.StatusCreated)
	mid := decode[domain.List](t, rec)
	if !(a.Position < mid.Position && mid.Position < b.Position) {
		t.Fatalf("expected %v < %v < %v", a.Position, mid.Position, b.Position)
	}

	rec = s.do(t, http.MethodPatch, "/api/lists/"+b.ID, token, `{"title":"Renamed"}`)
	expectStatus(t, rec, http.StatusOK)
	if decode[domain.List](t, rec).Title != "Renamed" {
		t.Fatalf("expected title to change")
	}

	expectStatus(t, s.do(t, http.MethodPost, "/api/lists/reorder", token, `{"sourceIndex":2,"targetIndex":0}`), http.StatusNoContent)
	rec = s.do(t, http.MethodGet, "/api/lists", token, "")
	expectStatus(t, rec, http.StatusOK)
	lists := decode[[]domain.List](t, rec)
	got := []string{lists[0].ID, lists[1].ID, lists[2].ID}
	want := []string{b.ID, a.ID, mid.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order %v, want %v", got, want)
		}
	}

	expectStatus(t, s.do(t, http.MethodPost, "/api/lists/reorder", token, `{"sourceIndex":5,"targetIndex":0}`), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodPost, "/api/lists/reorder", token, `{"ids":["`+a.ID+`"]}`), http.StatusBadRequest)

	expectStatus(t, s.do(t, http.MethodDelete, "/api/lists/"+a.ID, token, ""), http.StatusNoContent)
	expectStatus(t, s.do(t, http.MethodDelete, "/api/lists/"+a.ID, token, ""), http.StatusNotFound)

	other := s.signUp(t, "bob@example.com").AccessToken
	expectStatus(t, s.do(t, http.MethodPatch, "/api/lists/"+b.ID, other, `{"title":"mine"}`), http.StatusNotFound)
	rec = s.do(t, http.MethodGet, "/api/lists", other, "")
	expectStatus(t, rec, http.StatusOK)
	if !strings.HasPrefix(rec.Body.String(), "[") || len(decode[[]domain.List](t, rec)) != 0 {
		t.Fatalf("expected empty list array, got %q", rec.Body.String())
	}
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.signUp(t, "ada@example.com").AccessToken
	l := s.createList(t, token, "A")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "bad list id", method: http.MethodPatch, path: "/api/lists/not-a-uuid", body: `{"title":"x"}`, want: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, path: "/api/lists", body: `{"title":"x","color":"red"}`, want: http.StatusBadRequest},
		{name: "malformed json", method: http.MethodPost, path: "/api/lists", body: `{"title":`, want: http.StatusBadRequest},
		{name: "blank title", method: http.MethodPost, path: "/api/lists", body: `{"title":"  "}`, want: http.StatusBadRequest},
		{name: "bad anchor id", method: http.MethodPost, path: "/api/lists", body: `{"title":"x","afterId":"nope"}`, want: http.StatusBadRequest},
		{name: "unknown anchor", method: http.MethodPost, path: "/api/lists", body: `{"title":"x","afterId":"6a1f0ad4-8f0a-4bb8-9a56-2f7e0f1d0c11"}`, want: http.StatusBadRequest},
		{name: "missing list", method: http.MethodPost, path: "/api/lists/6a1f0ad4-8f0a-4bb8-9a56-2f7e0f1d0c11/tasks", body: `{"title":"x"}`, want: http.StatusNotFound},
		{name: "priority out of range", method: http.MethodPost, path: "/api/lists/" + l.ID + "/tasks", body: `{"title":"x","priority":9}`, want: http.StatusBadRequest},
		{name: "bad due date", method: http.MethodPost, path: "/api/lists/" + l.ID + "/tasks", body: `{"title":"x","dueDate":"tomorrow"}`, want: http.StatusBadRequest},
		{name: "position not patchable", method: http.MethodPatch, path: "/api/tasks/6a1f0ad4-8f0a-4bb8-9a56-2f7e0f1d0c11", body: `{"position":3}`, want: http.StatusBadRequest},
		{name: "move without target", method: http.MethodPost, path: "/api/tasks/6a1f0ad4-8f0a-4bb8-9a56-2f7e0f1d0c11/move", body: `{}`, want: http.StatusBadRequest},
		{name: "bad sort", method: http.MethodGet, path: "/api/tasks?sort=color", want: http.StatusBadRequest},
		{name: "bad priority filter", method: http.MethodGet, path: "/api/tasks?priority=high", want: http.StatusBadRequest},
		{name: "bad status filter", method: http.MethodGet, path: "/api/tasks?status=blocked", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, token, tt.body)
			expectStatus(t, rec, tt.want)
			if msg := decode[messageResponse](t, rec).Message; msg == "" {
				t.Fatalf("expected error message")
			}
		})
	}
}

func TestTaskRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.signUp(t, "ada@example.com").AccessToken
	todo := s.createList(t, token, "Todo")
	done := s.createList(t, token, "Done")

	first := s.createTask(t, token, todo.ID, `{"title":"first","tags":["home"," home ","work"],"dueDate":"2030-01-02T10:00:00Z"}`)
	if first.Priority != domain.DefaultPriority || first.Status != domain.StatusTodo {
		t.Fatalf("unexpected defaults: %+v", first)
	}
	second := s.createTask(t, token, todo.ID, `{"title":"second","priority":5}`)
	third := s.createTask(t, token, todo.ID, `{"title":"third","afterId":"`+first.ID+`"}`)
	if !(first.Position < third.Position && third.Position < second.Position) {
		t.Fatalf("expected third between first and second")
	}

	rec := s.do(t, http.MethodPatch, "/api/tasks/"+first.ID, token, `{"status":"doing","description":"notes","dueDate":null}`)
	expectStatus(t, rec, http.StatusOK)
	patched := decode[domain.Task](t, rec)
	if patched.Status != domain.StatusDoing || patched.DueDate != nil || patched.Description == nil || *patched.Description != "notes" {
		t.Fatalf("unexpected patch result: %+v", patched)
	}
	if patched.Position != first.Position {
		t.Fatalf("patch must not move the task")
	}
	rec = s.do(t, http.MethodPatch, "/api/tasks/"+first.ID, token, `{"description":null}`)
	expectStatus(t, rec, http.StatusOK)
	if decode[domain.Task](t, rec).Description != nil {
		t.Fatalf("expected description cleared")
	}

	rec = s.do(t, http.MethodPost, "/api/tasks/"+second.ID+"/move", token, `{"targetListId":"`+done.ID+`","afterTaskId":null}`)
	expectStatus(t, rec, http.StatusOK)
	if moved := decode[domain.Task](t, rec); moved.ListID != done.ID {
		t.Fatalf("expected task in destination list, got %s", moved.ListID)
	}
	expectStatus(t, s.do(t, http.MethodPost, "/api/tasks/"+first.ID+"/move", token, `{"targetListId":"`+done.ID+`","afterTaskId":"`+third.ID+`"}`), http.StatusBadRequest)

	expectStatus(t, s.do(t, http.MethodPost, "/api/lists/"+todo.ID+"/tasks/reorder", token, `{"ids":["`+third.ID+`","`+first.ID+`"]}`), http.StatusNoContent)
	rec = s.do(t, http.MethodGet, "/api/lists/"+todo.ID+"/tasks", token, "")
	expectStatus(t, rec, http.StatusOK)
	res := decode[query.Result](t, rec)
	if res.Total != 2 || res.Items[0].ID != third.ID || res.Items[1].ID != first.ID {
		t.Fatalf("unexpected list order: %+v", res.Items)
	}

	rec = s.do(t, http.MethodGet, "/api/tasks?tags=work&pageSize=10", token, "")
	expectStatus(t, rec, http.StatusOK)
	res = decode[query.Result](t, rec)
	if res.Total != 1 || res.Items[0].ID != first.ID || res.PageSize != 10 {
		t.Fatalf("unexpected tag query result: %+v", res)
	}
	rec = s.do(t, http.MethodGet, "/api/tasks?sort=-priority", token, "")
	expectStatus(t, rec, http.StatusOK)
	if res = decode[query.Result](t, rec); res.Total != 3 || res.Items[0].ID != second.ID {
		t.Fatalf("unexpected priority order: %+v", res.Items)
	}

	rec = s.do(t, http.MethodGet, "/api/tasks?page=9223372036854775807&pageSize=20", token, "")
	expectStatus(t, rec, http.StatusOK)
	if res = decode[query.Result](t, rec); res.Total != 3 || len(res.Items) != 0 {
		t.Fatalf("expected an empty page past the end, got %+v", res)
	}

	rec = s.do(t, http.MethodDelete, "/api/tasks/"+third.ID, token, "")
	expectStatus(t, rec, http.StatusOK)
	if !decode[okResponse](t, rec).OK {
		t.Fatalf("expected ok response")
	}
	expectStatus(t, s.do(t, http.MethodDelete, "/api/tasks/"+third.ID, token, ""), http.StatusNotFound)
}

func TestGzipCreateList(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.signUp(t, "ada@example.com").AccessToken

	req := httptest.NewRequest(http.MethodPost, "/api/lists", strings.NewReader(string(gzipBytes(t, `{"title":"zipped"}`))))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusCreated)
	if decode[domain.List](t, rec).Title != "zipped" {
		t.Fatalf("unexpected list: %s", rec.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidAnchor, http.StatusBadRequest},
		{domain.ErrInvalidOrder, http.StatusBadRequest},
		{domain.ErrValidation, http.StatusBadRequest},
		{query.ErrInvalidQuery, http.StatusBadRequest},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrEmailTaken, http.StatusConflict},
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{storage.ErrBatchTooLarge, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		wrapped := errors.Join(errors.New("context"), tt.err)
		if got := statusFor(wrapped); got != tt.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
