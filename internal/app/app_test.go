package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexcoding/apexcoding/internal/config"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	dir := t.TempDir()

	t.Setenv("APEX_AUTH_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("APEX_AUTH_BCRYPT_COST", "4")
	t.Setenv("APEX_DATABASE_DRIVER", driver)
	t.Setenv("APEX_DATABASE_PATH", filepath.Join(dir, "apex.db"))
	t.Setenv("APEX_STORAGE_DATA_DIR", filepath.Join(dir, "files"))

	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		driver string
	}{
		{"memory", config.DriverMemory},
		{"sqlite", config.DriverSQLite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(context.Background(), testConfig(t, tt.driver), zerolog.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { assert.NoError(t, a.Close()) })

			assert.NotNil(t, a.Metrics)
			assert.NotNil(t, a.Cache)
			assert.NotNil(t, a.Reaper)
			assert.NotNil(t, a.Limiter)

			h := a.Handler()

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, http.StatusOK, rec.Code)

			body, err := json.Marshal(map[string]string{
				"username": "ada",
				"email":    "ada@example.com",
				"password": "password123",
			})
			require.NoError(t, err)
			rec = httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/signup", bytes.NewReader(body)))
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

			var res struct {
				Success bool `json:"success"`
				Data    struct {
					Token string `json:"token"`
				} `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
			assert.True(t, res.Success)

			req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
			req.Header.Set("Authorization", "Bearer "+res.Data.Token)
			rec = httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)

			result := a.Reaper.RunOnce(context.Background())
			assert.NoError(t, result.Err)
			assert.Empty(t, result.Released)
		})
	}
}

func TestOpenBackend_UnknownDriver(t *testing.T) {
	_, err := OpenBackend(context.Background(), config.DatabaseConfig{Driver: "cassandra"}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestOpenStorage_UnknownBackend(t *testing.T) {
	_, err := OpenStorage(context.Background(), config.StorageConfig{Backend: "tape"}, zerolog.Nop())
	assert.Error(t, err)
}
