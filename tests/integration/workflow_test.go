// Package integration provides end-to-end tests against a running ApexCoding server.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConfig holds the configuration for integration tests.
type TestConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// getTestConfig reads test configuration from environment variables.
func getTestConfig(t *testing.T) TestConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	endpoint := os.Getenv("APEX_ENDPOINT")
	if endpoint == "" {
		t.Skip("APEX_ENDPOINT not set")
	}
	return TestConfig{Endpoint: endpoint, Timeout: 10 * time.Second}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type client struct {
	cfg  TestConfig
	http *http.Client
}

func newClient(cfg TestConfig) *client {
	return &client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

func (c *client) do(t *testing.T, req *http.Request, token string) (int, envelope) {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (c *client) call(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.cfg.Endpoint+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(t, req, token)
}

func (c *client) checkin(t *testing.T, projectID, token, message string, files map[string]string) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("message", message))
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, c.cfg.Endpoint+"/projects/"+projectID+"/checkin", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(t, req, token)
}

type account struct {
	ID       string
	Username string
	Token    string
}

func (c *client) signup(t *testing.T, prefix string) account {
	t.Helper()
	username := fmt.Sprintf("%s-%s", prefix, xid.New().String())
	status, env := c.call(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "correct horse battery staple",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)

	var out struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return account{ID: out.User.ID, Username: username, Token: out.Token}
}

type project struct {
	ID           string   `json:"id"`
	Members      []string `json:"members"`
	CheckedOutBy *string  `json:"checkedOutBy"`
	Version      string   `json:"version"`
}

// TestCheckoutWorkflow walks two collaborators through a checkout and checkin.
func TestCheckoutWorkflow(t *testing.T) {
	c := newClient(getTestConfig(t))

	status, _ := c.call(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, status)

	owner := c.signup(t, "owner")
	peer := c.signup(t, "peer")

	status, _ = c.call(t, http.MethodPost, "/users/me/friends/"+peer.ID, owner.Token, nil)
	require.Equal(t, http.StatusOK, status)

	status, env := c.call(t, http.MethodPost, "/projects", owner.Token, map[string]string{"name": "integration"})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var p project
	require.NoError(t, json.Unmarshal(env.Data, &p))
	t.Cleanup(func() {
		c.call(t, http.MethodDelete, "/projects/"+p.ID, owner.Token, nil)
		c.call(t, http.MethodDelete, "/users/me", peer.Token, nil)
		c.call(t, http.MethodDelete, "/users/me", owner.Token, nil)
	})

	status, env = c.call(t, http.MethodPost, "/projects/"+p.ID+"/members", owner.Token, map[string]string{"userId": peer.ID})
	require.Equal(t, http.StatusOK, status, env.Message)

	t.Run("checkout is exclusive", func(t *testing.T) {
		status, env := c.call(t, http.MethodPost, "/projects/"+p.ID+"/checkout", peer.Token, nil)
		require.Equal(t, http.StatusOK, status, env.Message)

		status, env = c.call(t, http.MethodPost, "/projects/"+p.ID+"/checkout", owner.Token, nil)
		assert.Equal(t, http.StatusConflict, status)
		assert.False(t, env.Success)
	})

	t.Run("holder checks in", func(t *testing.T) {
		status, env := c.checkin(t, p.ID, peer.Token, "first upload", map[string]string{"main.go": "package main\n"})
		require.Equal(t, http.StatusOK, status, env.Message)

		var out struct {
			Project project `json:"project"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &out))
		assert.Nil(t, out.Project.CheckedOutBy)
		assert.NotEmpty(t, out.Project.Version)
	})

	t.Run("commit ledger lists the checkin", func(t *testing.T) {
		status, env := c.call(t, http.MethodGet, "/projects/"+p.ID+"/commits", owner.Token, nil)
		require.Equal(t, http.StatusOK, status, env.Message)

		var page struct {
			Items []struct {
				Message string `json:"message"`
				UserID  string `json:"userId"`
			} `json:"items"`
			Total int `json:"total"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &page))
		require.Equal(t, 1, page.Total)
		assert.Equal(t, "first upload", page.Items[0].Message)
		assert.Equal(t, peer.ID, page.Items[0].UserID)
	})
}
