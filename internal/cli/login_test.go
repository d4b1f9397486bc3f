package cli

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newLoginBackend serves the device flow endpoints for one login.
func newLoginBackend(t *testing.T, announceStatus int) *httptest.Server {
	t.Helper()
	reply := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(v))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/device-flow", func(w http.ResponseWriter, r *http.Request) {
		if announceStatus != http.StatusOK {
			w.WriteHeader(announceStatus)
			return
		}
		reply(w, map[string]string{"device_code": "c1", "login_url": "https://login.example.com/c1"})
	})
	mux.HandleFunc("GET /api/device-flow/c1", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"validated": true, "user_id": "u-1"})
	})
	mux.HandleFunc("POST /api/users/u-1/login-token", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]string{"token": "otl-1"})
	})
	mux.HandleFunc("GET /api/organisations/current", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]string{"id": "org-1", "name": "Acme", "subdomain": "acme"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func loginConfig(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return writeConfig(t, `target: test
targets:
  test:
    api_url: `+srv.URL+`/api/
    webpage_domain: example.com/
poll_interval: 10ms
time_sync_retry: 10ms
request_timeout: 2s
`)
}

func TestLogin_Completes(t *testing.T) {
	srv := newLoginBackend(t, http.StatusOK)
	cfg := loginConfig(t, srv)

	out, _, err := executeCommand(t, "login", "--config", cfg, "--format", "json", "--timeout", "10s")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   LoginResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, LoginResult{
		Target:      "test",
		LoginURL:    "https://login.example.com/c1",
		RedirectURL: "https://acme.example.com/login?otlToken=otl-1",
	}, resp.Data)
}

func TestLogin_TextOutput(t *testing.T) {
	srv := newLoginBackend(t, http.StatusOK)
	cfg := loginConfig(t, srv)

	out, _, err := executeCommand(t, "login", "--config", cfg, "--timeout", "10s")
	require.NoError(t, err)
	assert.Contains(t, out, "Open https://login.example.com/c1 on another device to log in.")
	assert.Contains(t, out, "Logged in. Continue at https://acme.example.com/login?otlToken=otl-1")
}

func TestLogin_AnnounceFailure(t *testing.T) {
	srv := newLoginBackend(t, http.StatusInternalServerError)
	cfg := loginConfig(t, srv)

	_, _, err := executeCommand(t, "login", "--config", cfg, "--timeout", "10s")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "device flow announce failed")
}

func TestLogin_AnnounceFailureJSON(t *testing.T) {
	srv := newLoginBackend(t, http.StatusInternalServerError)
	cfg := loginConfig(t, srv)

	out, _, err := executeCommand(t, "login", "--config", cfg, "--timeout", "10s", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "COMMAND_ERROR", resp.Error.Code)
	assert.Equal(t, "device flow announce failed", resp.Error.Message)
}

func TestLogin_UnknownTarget(t *testing.T) {
	srv := newLoginBackend(t, http.StatusOK)
	cfg := loginConfig(t, srv)

	_, _, err := executeCommand(t, "login", "--config", cfg, "--target", "nowhere")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
