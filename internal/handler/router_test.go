package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexcoding/apexcoding/internal/auth"
	"github.com/apexcoding/apexcoding/internal/cache/memory"
	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/repository"
	memrepo "github.com/apexcoding/apexcoding/internal/repository/memory"
	"github.com/apexcoding/apexcoding/internal/service"
	"github.com/apexcoding/apexcoding/internal/storage/filesystem"
)

type testServer struct {
	handler http.Handler
	cache   *memory.Cache
}

type serverOption func(*RouterConfig)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	db, err := memrepo.New()
	require.NoError(t, err)
	repos := memrepo.NewRepositories(db)

	backend, err := filesystem.NewBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	logger := zerolog.Nop()
	tokens := auth.NewTokenManager("handler-test", time.Hour)
	projects := service.NewProjectService(repos, backend, logger)
	users := service.NewUserService(repos, projects, auth.NewPasswordHasher(4), tokens, logger)

	cache := memory.NewCache()
	t.Cleanup(func() { _ = cache.Close() })

	config := RouterConfig{
		Public: []Registrar{NewAuthHandler(users, logger)},
		Protected: []Registrar{
			NewProjectHandler(projects, logger),
			NewCheckoutHandler(service.NewCheckoutService(repos, backend, nil, logger, service.CheckoutConfig{LeaseTTL: time.Hour}), logger),
			NewCommitHandler(service.NewCommitService(repos, nil, logger), logger),
			NewMembershipHandler(service.NewMembershipService(repos, logger), logger),
			NewActivityHandler(service.NewActivityService(repos, logger), logger),
			NewUserHandler(users, logger),
		},
		AuthMiddleware: auth.Middleware(tokens, repos.User, auth.DefaultConfig(), WriteError),
		Cache:          cache,
		IdempotencyTTL: time.Hour,
		MaxBodySize:    1 << 20,
		Database:       db,
		Logger:         logger,
	}
	for _, opt := range opts {
		opt(&config)
	}

	return &testServer{handler: NewRouter(config).Handler(), cache: cache}
}

type testResponse struct {
	Status  int             `json:"-"`
	Header  http.Header     `json:"-"`
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (ts *testServer) do(t *testing.T, req *http.Request) testResponse {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	res := testResponse{Status: rec.Code, Header: rec.Header()}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	return res
}

func (ts *testServer) request(t *testing.T, method, path, token string, body any, headers ...string) testResponse {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(auth.AuthorizationHeader, auth.BearerPrefix+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return ts.do(t, req)
}

type session struct {
	ID    string
	Token string
}

func (ts *testServer) signup(t *testing.T, username string) session {
	t.Helper()
	res := ts.request(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusCreated, res.Status, res.Message)

	var out struct {
		User  domain.User `json:"user"`
		Token string      `json:"token"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &out))
	return session{ID: out.User.ID, Token: out.Token}
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func checkinRequest(t *testing.T, path, token, message string, files map[string]string) *http.Request {
	t.Helper()
	return checkinRequestWithField(t, path, token, message, "files", files)
}

func checkinRequestWithField(t *testing.T, path, token, message, field string, files map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("message", message))
	for name, content := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(auth.AuthorizationHeader, auth.BearerPrefix+token)
	return req
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	res := ts.request(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.True(t, res.Success)
	assert.JSONEq(t, `{"status":"healthy"}`, string(res.Data))
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)
	u := ts.signup(t, "ada")

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"valid token", u.Token, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ts.request(t, http.MethodGet, "/users/me", tt.token, nil)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantStatus == http.StatusOK, res.Success)
		})
	}

	res := ts.request(t, http.MethodPost, "/auth/login", "", map[string]string{
		"username": "ada",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, res.Status)

	res = ts.request(t, http.MethodPost, "/auth/login", "", map[string]string{
		"identifier": "ada@example.com",
		"password":   "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.Equal(t, "invalid credentials", res.Message)
}

func TestCheckoutCheckinFlow(t *testing.T) {
	ts := newTestServer(t)
	u1 := ts.signup(t, "user1")
	u2 := ts.signup(t, "user2")

	res := ts.request(t, http.MethodPost, "/users/me/friends/"+u2.ID, u1.Token, nil)
	require.Equal(t, http.StatusOK, res.Status, res.Message)

	res = ts.request(t, http.MethodPost, "/projects", u1.Token, map[string]string{"name": "apex"})
	require.Equal(t, http.StatusCreated, res.Status, res.Message)
	project := decode[domain.Project](t, res.Data)
	base := "/projects/" + project.ID

	res = ts.request(t, http.MethodPost, base+"/members", u1.Token, map[string]string{"userId": u2.ID})
	require.Equal(t, http.StatusOK, res.Status, res.Message)

	res = ts.request(t, http.MethodPost, base+"/checkout", u2.Token, nil)
	require.Equal(t, http.StatusOK, res.Status, res.Message)
	checkedOut := decode[domain.Project](t, res.Data)
	require.NotNil(t, checkedOut.CheckedOutBy)
	assert.Equal(t, u2.ID, *checkedOut.CheckedOutBy)

	res = ts.request(t, http.MethodPost, base+"/checkout", u1.Token, nil)
	assert.Equal(t, http.StatusConflict, res.Status)
	assert.False(t, res.Success)
	assert.Equal(t, "Project is already checked out by user2", res.Message)

	res = ts.do(t, checkinRequest(t, base+"/checkin", u1.Token, "not mine", nil))
	assert.Equal(t, http.StatusForbidden, res.Status)

	res = ts.do(t, checkinRequest(t, base+"/checkin", u2.Token, "fixed bug", map[string]string{"main.go": "package main"}))
	require.Equal(t, http.StatusOK, res.Status, res.Message)
	out := decode[checkinResponse](t, res.Data)
	assert.Nil(t, out.Project.CheckedOutBy)
	assert.Equal(t, "fixed bug", out.Commit.Message)
	assert.Equal(t, 1, out.Commit.FilesChanged)
	require.Len(t, out.Project.Files, 1)
	assert.Equal(t, "main.go", out.Project.Files[0].Name)

	res = ts.request(t, http.MethodGet, base, u1.Token, nil)
	require.Equal(t, http.StatusOK, res.Status)
	var view struct {
		CommitCount int64          `json:"commitCount"`
		LastCommit  *domain.Commit `json:"lastCommit"`
		CheckedOut  *string        `json:"checkedOutBy"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &view))
	assert.EqualValues(t, 1, view.CommitCount)
	assert.Equal(t, out.Commit.ID, view.LastCommit.ID)
	assert.Nil(t, view.CheckedOut)

	res = ts.request(t, http.MethodGet, base+"/commits", u2.Token, nil)
	require.Equal(t, http.StatusOK, res.Status)
	commits := decode[page[domain.Commit]](t, res.Data)
	assert.EqualValues(t, 1, commits.Total)

	res = ts.request(t, http.MethodGet, base+"/activity?limit=1", u1.Token, nil)
	require.Equal(t, http.StatusOK, res.Status)
	feed := decode[page[domain.Activity]](t, res.Data)
	require.Len(t, feed.Items, 1)
	assert.Equal(t, domain.ActivityCheckin, feed.Items[0].Kind)
}

func TestCheckinFileFields(t *testing.T) {
	for _, field := range []string{"files", "files[]"} {
		t.Run(field, func(t *testing.T) {
			ts := newTestServer(t)
			u := ts.signup(t, "user")

			res := ts.request(t, http.MethodPost, "/projects", u.Token, map[string]string{"name": "forms"})
			require.Equal(t, http.StatusCreated, res.Status)
			base := "/projects/" + decode[domain.Project](t, res.Data).ID

			res = ts.request(t, http.MethodPost, base+"/checkout", u.Token, nil)
			require.Equal(t, http.StatusOK, res.Status, res.Message)

			res = ts.do(t, checkinRequestWithField(t, base+"/checkin", u.Token, "upload", field, map[string]string{
				"a.go": "package a",
				"b.go": "package b",
			}))
			require.Equal(t, http.StatusOK, res.Status, res.Message)
			out := decode[checkinResponse](t, res.Data)
			assert.Equal(t, 2, out.Commit.FilesChanged)
			assert.Len(t, out.Project.Files, 2)
		})
	}
}

func TestRecordCommit(t *testing.T) {
	ts := newTestServer(t)
	u := ts.signup(t, "user")

	res := ts.request(t, http.MethodPost, "/projects", u.Token, map[string]string{"name": "ledger"})
	require.Equal(t, http.StatusCreated, res.Status)
	project := decode[domain.Project](t, res.Data)

	res = ts.request(t, http.MethodPost, "/commits", u.Token, map[string]any{
		"projectId":    project.ID,
		"message":      "direct commit",
		"filesChanged": 2,
		"author":       "someone else",
		"userId":       u.ID,
	})
	require.Equal(t, http.StatusCreated, res.Status, res.Message)
	commit := decode[domain.Commit](t, res.Data)
	assert.Equal(t, "user", commit.Author)
	assert.Equal(t, 2, commit.FilesChanged)

	res = ts.request(t, http.MethodGet, "/commits/"+commit.ID, u.Token, nil)
	require.Equal(t, http.StatusOK, res.Status)

	res = ts.request(t, http.MethodDelete, "/commits/"+commit.ID, u.Token, nil)
	assert.Equal(t, http.StatusForbidden, res.Status)

	res = ts.request(t, http.MethodGet, "/commits/missing", u.Token, nil)
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Equal(t, "commit not found", res.Message)
}

func TestRequestValidation(t *testing.T) {
	ts := newTestServer(t)
	u := ts.signup(t, "user")

	tests := []struct {
		name        string
		method      string
		path        string
		body        any
		wantMessage string
	}{
		{"empty body", http.MethodPost, "/projects", "", "request body is required"},
		{"missing name", http.MethodPost, "/projects", map[string]string{}, "name is required"},
		{"bad status", http.MethodPost, "/projects", map[string]string{"name": "x", "status": "gone"}, "status must be one of planning, active, maintained, archived"},
		{"unknown field", http.MethodPost, "/projects", `{"name":"x","stars":5}`, ""},
		{"negative files", http.MethodPost, "/commits", map[string]any{"projectId": "p", "message": "m", "filesChanged": -1}, "filesChanged must be at least 0"},
		{"wrong type", http.MethodPost, "/commits", `{"projectId":"p","message":"m","filesChanged":"two"}`, ""},
		{"bad limit", http.MethodGet, "/projects?limit=zero", nil, "limit must be a positive integer"},
		{"signup bad email", http.MethodPost, "/auth/signup", map[string]string{"username": "abc", "email": "nope", "password": "password123"}, "email must be a valid email address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ts.request(t, tt.method, tt.path, u.Token, tt.body)
			assert.Equal(t, http.StatusBadRequest, res.Status)
			assert.False(t, res.Success)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, res.Message)
			}
		})
	}
}

func TestIdempotency(t *testing.T) {
	ts := newTestServer(t)
	u := ts.signup(t, "user")
	other := ts.signup(t, "other")

	first := ts.request(t, http.MethodPost, "/projects", u.Token, map[string]string{"name": "once"}, IdempotencyHeader, "k1")
	require.Equal(t, http.StatusCreated, first.Status)

	replayed := ts.request(t, http.MethodPost, "/projects", u.Token, map[string]string{"name": "once"}, IdempotencyHeader, "k1")
	assert.Equal(t, http.StatusCreated, replayed.Status)
	assert.Equal(t, "true", replayed.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, decode[domain.Project](t, first.Data).ID, decode[domain.Project](t, replayed.Data).ID)

	res := ts.request(t, http.MethodGet, "/projects?owner=me", u.Token, nil)
	require.Equal(t, http.StatusOK, res.Status)
	assert.EqualValues(t, 1, decode[page[domain.Project]](t, res.Data).Total)

	// Keys are scoped per caller.
	res = ts.request(t, http.MethodPost, "/projects", other.Token, map[string]string{"name": "mine"}, IdempotencyHeader, "k1")
	assert.Equal(t, http.StatusCreated, res.Status)
	assert.Empty(t, res.Header.Get("Idempotent-Replayed"))

	pending, err := json.Marshal(storedResponse{Pending: true})
	require.NoError(t, err)
	key := repository.CacheKey{}.Idempotency(u.ID, "in-flight")
	require.NoError(t, ts.cache.Set(context.Background(), key, pending, time.Minute))

	res = ts.request(t, http.MethodPost, "/projects", u.Token, map[string]string{"name": "twice"}, IdempotencyHeader, "in-flight")
	assert.Equal(t, http.StatusConflict, res.Status)

	// A key cannot be reused for a different request.
	projectID := decode[domain.Project](t, first.Data).ID
	res = ts.request(t, http.MethodPost, "/projects/"+projectID+"/checkout", u.Token, nil, IdempotencyHeader, "k1")
	assert.Equal(t, http.StatusConflict, res.Status)
	assert.Empty(t, res.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, "idempotency key was already used for a different request", res.Message)

	res = ts.request(t, http.MethodGet, "/projects/"+projectID, u.Token, nil)
	require.Equal(t, http.StatusOK, res.Status)
	assert.Nil(t, decode[domain.Project](t, res.Data).CheckedOutBy)

	res = ts.request(t, http.MethodPost, "/projects/"+projectID+"/checkout", u.Token, nil, IdempotencyHeader, "k2")
	assert.Equal(t, http.StatusOK, res.Status)
}

func TestRateLimit(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	t.Cleanup(limiter.Stop)
	ts := newTestServer(t, func(c *RouterConfig) { c.RateLimiter = limiter })

	for i := 0; i < 2; i++ {
		res := ts.request(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "x", "password": "y"})
		assert.Equal(t, http.StatusUnauthorized, res.Status)
	}

	res := ts.request(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "x", "password": "y"})
	assert.Equal(t, http.StatusTooManyRequests, res.Status)
	assert.Equal(t, "1", res.Header.Get("Retry-After"))
}

func TestUserRoutes(t *testing.T) {
	ts := newTestServer(t)
	u := ts.signup(t, "grace")
	other := ts.signup(t, "other")

	res := ts.request(t, http.MethodPatch, "/users/me", u.Token, map[string]string{"title": "<b>Admiral</b>"})
	require.Equal(t, http.StatusOK, res.Status, res.Message)
	assert.Equal(t, "Admiral", decode[domain.User](t, res.Data).Profile.Title)

	res = ts.request(t, http.MethodGet, "/users/"+u.ID, other.Token, nil)
	require.Equal(t, http.StatusOK, res.Status)
	assert.NotContains(t, string(res.Data), "password")

	res = ts.request(t, http.MethodDelete, "/users/"+u.ID, other.Token, nil)
	assert.Equal(t, http.StatusForbidden, res.Status)

	res = ts.request(t, http.MethodDelete, "/users/me", u.Token, nil)
	require.Equal(t, http.StatusOK, res.Status, res.Message)

	res = ts.request(t, http.MethodGet, "/users/me", u.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
}

func TestNotFoundRoute(t *testing.T) {
	ts := newTestServer(t)
	res := ts.request(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.False(t, res.Success)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrEmptyMessage, http.StatusBadRequest},
		{domain.ErrInvalidToken, http.StatusUnauthorized},
		{domain.ErrNotHolder, http.StatusForbidden},
		{domain.ErrNewOwnerNotMember, http.StatusForbidden},
		{domain.ErrProjectNotFound, http.StatusNotFound},
		{domain.ErrCheckoutConflict, http.StatusConflict},
		{domain.NewDomainError(domain.ErrCheckoutConflict, "held", "p1"), http.StatusConflict},
		{errRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("%w: disk on fire", domain.ErrInternal), http.StatusInternalServerError},
		{errors.New("unclassified"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
