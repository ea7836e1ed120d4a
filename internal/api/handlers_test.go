// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backhaul/backhaul/internal/backup"
	"github.com/backhaul/backhaul/internal/config"
	"github.com/backhaul/backhaul/internal/machines"
)

const seedYAML = `# Fleet config
machines:
  # Production server
  - id: srv1
    name: Server 1
    host: 203.0.113.45
    ssh_user: root
    backup_type: dockge
    local_backup_dir: /mnt/backups/srv1
  # Important: Do not delete
  - id: srv2
    name: Server 2
    host: 203.0.113.46
    ssh_user: root
    backup_type: dockge
    local_backup_dir: /mnt/backups/srv2
`

type stubRunner struct {
	message string
	err     error
}

func (s stubRunner) Execute(context.Context, machines.Record) (string, error) {
	return s.message, s.err
}

type testEnv struct {
	srv  *Server
	path string
}

func newTestEnv(t *testing.T, runner backup.Runner) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "machines.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	registry := backup.NewRegistry()
	if runner != nil {
		registry.Register("dockge", runner)
	}

	cfg := config.AppConfig{APIToken: "secret", MachinesPath: path}
	srv := New(cfg, machines.New(path), backup.NewService(registry), "test")
	return &testEnv{srv: srv, path: path}
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{name: "missing token", token: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong token", token: "wrong", wantStatus: http.StatusUnauthorized},
		{name: "valid token", token: "secret", wantStatus: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/machines", "", tc.token)
			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}

func TestAuth_FailClosedWithoutConfiguredToken(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv.cfg.APIToken = ""

	rec := env.do(t, http.MethodGet, "/api/machines", "", "anything")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/healthz", "/health"} {
		rec := env.do(t, http.MethodGet, path, "", "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "backhaul", body["service"])
		assert.Equal(t, "test", body["version"])
	}
}

func TestMetricsIsPublic(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListMachines(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/machines", "", "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	list, ok := body["machines"].([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	first := list[0].(map[string]any)
	assert.Equal(t, "srv1", first["id"])
}

func TestGetMachine(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/machines/srv1", "", "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	machine := decodeBody(t, rec)["machine"].(map[string]any)
	assert.Equal(t, "Server 1", machine["name"])

	rec = env.do(t, http.MethodGet, "/api/machines/ghost", "", "secret")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateMachine(t *testing.T) {
	env := newTestEnv(t, nil)

	payload := `{
		"id": "srv3",
		"name": "Server 3",
		"host": "203.0.113.47",
		"ssh_user": "root",
		"backup_type": "dockge",
		"local_backup_dir": "/mnt/backups/srv3"
	}`
	rec := env.do(t, http.MethodPost, "/api/machines", payload, "secret")
	require.Equal(t, http.StatusCreated, rec.Code)
	machine := decodeBody(t, rec)["machine"].(map[string]any)
	assert.Equal(t, "srv3", machine["id"])

	// Hand annotations in the file must survive the append.
	data, err := os.ReadFile(env.path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Production server")
	assert.Contains(t, string(data), "# Important: Do not delete")
}

func TestCreateMachine_Validation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name    string
		payload string
		wantMsg string
	}{
		{name: "not json", payload: "not json", wantMsg: "JSON object"},
		{name: "missing fields", payload: `{"id": "srv3"}`, wantMsg: "missing required fields"},
		{name: "empty id", payload: `{"id": "", "name": "x", "host": "h", "ssh_user": "u", "backup_type": "dockge", "local_backup_dir": "/b"}`, wantMsg: "missing required fields: id"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/machines", tc.payload, "secret")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeBody(t, rec)["error"], tc.wantMsg)
		})
	}
}

func TestCreateMachine_Conflict(t *testing.T) {
	env := newTestEnv(t, nil)

	payload := `{"id": "srv1", "name": "Dup", "host": "h", "ssh_user": "u", "backup_type": "dockge", "local_backup_dir": "/b"}`
	rec := env.do(t, http.MethodPost, "/api/machines", payload, "secret")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateMachine_MergesPartial(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPut, "/api/machines/srv1", `{"retention_count": 14}`, "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	machine := decodeBody(t, rec)["machine"].(map[string]any)
	assert.Equal(t, float64(14), machine["retention_count"])
	// Unspecified fields are untouched.
	assert.Equal(t, "Server 1", machine["name"])
	assert.Equal(t, "203.0.113.45", machine["host"])
}

func TestUpdateMachine_IDImmutable(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPut, "/api/machines/srv1", `{"id": "hijacked", "name": "New"}`, "secret")
	require.Equal(t, http.StatusOK, rec.Code)
	machine := decodeBody(t, rec)["machine"].(map[string]any)
	assert.Equal(t, "srv1", machine["id"])

	rec = env.do(t, http.MethodGet, "/api/machines/hijacked", "", "secret")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateMachine_Errors(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPut, "/api/machines/ghost", `{"name": "x"}`, "secret")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/machines/srv1", `{}`, "secret")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteMachine(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodDelete, "/api/machines/srv1", "", "secret")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/machines/srv1", "", "secret")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Comments survive the deletion.
	data, err := os.ReadFile(env.path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Production server")
	assert.Contains(t, string(data), "# Important: Do not delete")

	rec = env.do(t, http.MethodDelete, "/api/machines/srv1", "", "secret")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBackup(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		env := newTestEnv(t, stubRunner{message: "backed up 3 stacks for srv1"})
		rec := env.do(t, http.MethodPost, "/api/backup", `{"machine_id": "srv1"}`, "secret")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "backed up 3 stacks for srv1", body["message"])
	})

	t.Run("runner failure", func(t *testing.T) {
		env := newTestEnv(t, stubRunner{err: errors.New("ssh: connection refused")})
		rec := env.do(t, http.MethodPost, "/api/backup", `{"machine_id": "srv1"}`, "secret")
		require.Equal(t, http.StatusBadGateway, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, false, body["success"])
	})

	t.Run("unknown machine", func(t *testing.T) {
		env := newTestEnv(t, stubRunner{})
		rec := env.do(t, http.MethodPost, "/api/backup", `{"machine_id": "ghost"}`, "secret")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown backup type", func(t *testing.T) {
		env := newTestEnv(t, nil) // nothing registered
		rec := env.do(t, http.MethodPost, "/api/backup", `{"machine_id": "srv1"}`, "secret")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing machine_id", func(t *testing.T) {
		env := newTestEnv(t, stubRunner{})
		rec := env.do(t, http.MethodPost, "/api/backup", `{}`, "secret")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLegacyBackupIsGone(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/backup", `{}`, "secret")
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/healthz", "", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "caller-supplied")
	out := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(out, req)
	assert.Equal(t, "caller-supplied", out.Header().Get("X-Request-Id"))
}
