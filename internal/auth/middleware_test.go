package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/repository"
)

type stubUsers map[string]*domain.User

func (s stubUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	u, ok := s[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func TestMiddleware(t *testing.T) {
	tokens := NewTokenManager(testSecret, time.Hour)

	alice := domain.NewUser("u1", "alice", "alice@example.com", "hash")
	alice.Friends = []string{"u2"}
	alice.IsAdmin = true
	inactive := domain.NewUser("u3", "carol", "carol@example.com", "hash")
	inactive.IsActive = false
	ghost := domain.NewUser("u9", "ghost", "ghost@example.com", "hash")
	users := stubUsers{"u1": alice, "u3": inactive}

	aliceToken, _, err := tokens.Issue(alice)
	require.NoError(t, err)
	inactiveToken, _, err := tokens.Issue(inactive)
	require.NoError(t, err)
	ghostToken, _, err := tokens.Issue(ghost)
	require.NoError(t, err)

	var got domain.Caller
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	var gotErr error
	writeErr := func(w http.ResponseWriter, _ *http.Request, err error) {
		gotErr = err
		w.WriteHeader(http.StatusUnauthorized)
	}
	h := Middleware(tokens, users, DefaultConfig(), writeErr)(next)

	tests := []struct {
		name    string
		path    string
		header  string
		status  int
		wantErr error
	}{
		{"valid token", "/projects", "Bearer " + aliceToken, http.StatusNoContent, nil},
		{"lowercase scheme", "/projects", "bearer " + aliceToken, http.StatusNoContent, nil},
		{"skipped path", "/health", "", http.StatusNoContent, nil},
		{"missing header", "/projects", "", http.StatusUnauthorized, domain.ErrUnauthorized},
		{"basic auth", "/projects", "Basic abc", http.StatusUnauthorized, domain.ErrUnauthorized},
		{"inactive user", "/projects", "Bearer " + inactiveToken, http.StatusUnauthorized, domain.ErrUserInactive},
		{"deleted user", "/projects", "Bearer " + ghostToken, http.StatusUnauthorized, domain.ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, gotErr = domain.Caller{}, nil
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(AuthorizationHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.wantErr != nil {
				assert.ErrorIs(t, gotErr, tt.wantErr)
				return
			}
			if tt.path != "/health" {
				assert.Equal(t, "u1", got.ID)
				assert.True(t, got.IsAdmin)
				assert.Equal(t, []string{"u2"}, got.Friends)
			}
		})
	}
}

func TestRequireCaller(t *testing.T) {
	_, err := RequireCaller(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	ctx := WithCaller(context.Background(), domain.Caller{ID: "u1"})
	c, err := RequireCaller(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.ID)
}
