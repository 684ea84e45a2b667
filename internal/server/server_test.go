package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/makemny/apiserver/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() config.Config {
	return config.Config{
		Env:          "dev",
		ServerPort:   18081,
		StoreBackend: config.StoreMemory,
		Session: config.SessionConfig{
			Secret:     "test-secret",
			CookieName: "sid",
		},
		Admin: config.AdminConfig{
			Phone:    "+10000000000",
			Password: "admin-pass",
		},
	}
}

func TestNewRequiresSecret(t *testing.T) {
	cfg := memoryConfig()
	cfg.Session.Secret = ""

	_, err := New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.StoreBackend = "cassandra"

	_, err := New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
}

func TestServerRoutesWithMemoryBackend(t *testing.T) {
	srv, err := New(context.Background(), memoryConfig(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	assert.Equal(t, ":18081", srv.Addr())

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	body, _ := json.Marshal(map[string]string{"phone": "+10000000000", "password": "admin-pass"})
	resp, err = http.Post(ts.URL+"/api/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var login struct {
		Token string `json:"token"`
		User  struct {
			Roles []string `json:"roles"`
		} `json:"user"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, login.User.Roles, "admin")

	body, _ = json.Marshal(map[string]any{"accountName": "Ada", "accountNumber": "001", "amount": 25})
	resp, err = http.Post(ts.URL+"/api/deposit", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var submitted struct {
		DepositID string `json:"depositId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body, _ = json.Marshal(map[string]string{"depositId": submitted.DepositID})
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/approve-deposit", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+login.Token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Proof routes are only mounted with an object storage backend.
	resp, err = http.Post(ts.URL+"/api/deposits/"+submitted.DepositID+"/proof", "image/png", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBootstrapAdminSkippedWithoutCredentials(t *testing.T) {
	cfg := memoryConfig()
	cfg.Admin = config.AdminConfig{Phone: "+10000000000"}

	srv, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	body, _ := json.Marshal(map[string]string{"phone": "+10000000000", "password": "admin-pass"})
	resp, err := http.Post(ts.URL+"/api/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
