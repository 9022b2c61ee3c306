package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesruggles/scanmanager/internal/config"
	"github.com/jamesruggles/scanmanager/internal/database"
	"github.com/jamesruggles/scanmanager/internal/migrate"
)

type fixture struct {
	srv *Server
	ts  *httptest.Server
	db  *database.DB
	cfg *config.Config
}

// newFixture serves a fresh database, initialized at the current version
// when initialize is set.
func newFixture(t *testing.T, initialize bool) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg, err := config.Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	cfg.Database.Path = filepath.Join(dir, "tasks.db")
	cfg.StateDir = filepath.Join(dir, "state")
	cfg.Reports.Directory = filepath.Join(dir, "reports")

	db, err := database.New(cfg.Database.Path, database.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if initialize {
		m, err := migrate.New(db)
		require.NoError(t, err)
		require.NoError(t, m.Initialize(context.Background()))
	}

	srv, err := New(cfg, db)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{srv: srv, ts: ts, db: db, cfg: cfg}
}

// rewind marks the database as one version behind so the last step has
// something to do.
func (f *fixture) rewind(t *testing.T) {
	t.Helper()
	require.NoError(t, database.SetVersion(context.Background(), f.db, migrate.DatabaseVersion-1))
}

func (f *fixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSchemaEndpoint(t *testing.T) {
	f := newFixture(t, true)

	resp := f.get(t, "/api/schema")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body := decode[struct {
		Version    int `json:"version"`
		Supported  int `json:"supported"`
		Tables     []struct{ Name string }
		Predefined []struct{ Present bool }
	}](t, resp)
	assert.Equal(t, migrate.DatabaseVersion, body.Version)
	assert.Equal(t, migrate.DatabaseVersion, body.Supported)
	assert.Len(t, body.Tables, 24)
	assert.Len(t, body.Predefined, 5)

	resp = f.post(t, "/api/schema", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMigrateEndpoint(t *testing.T) {
	f := newFixture(t, true)
	f.rewind(t)

	tests := []struct {
		name    string
		body    string
		status  int
		outcome string
		code    int
		version int
	}{
		{"to latest by default", "", http.StatusOK, "migrated", 0, migrate.DatabaseVersion},
		{"already current", `{"to": 36}`, http.StatusOK, "already current", 1, migrate.DatabaseVersion},
		{"beyond the registry", `{"to": 99}`, http.StatusOK, "no migration path", 2, migrate.DatabaseVersion},
		{"downgrade", `{"to": 20}`, http.StatusOK, "no migration path", 2, migrate.DatabaseVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.post(t, "/api/migrate", tt.body)
			require.Equal(t, tt.status, resp.StatusCode)

			body := decode[migrateResponse](t, resp)
			assert.Equal(t, tt.outcome, body.Outcome)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.version, body.Version)
			assert.Empty(t, body.Error)
		})
	}
}

func TestMigrateEndpointUnversionedDatabase(t *testing.T) {
	f := newFixture(t, false)

	resp := f.post(t, "/api/migrate", `{}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decode[migrateResponse](t, resp)
	assert.Equal(t, "error", body.Outcome)
	assert.Equal(t, -1, body.Code)
	assert.Equal(t, -1, body.Version)
	assert.NotEmpty(t, body.Error)
}

func TestMigrateEndpointBadRequests(t *testing.T) {
	f := newFixture(t, true)

	resp := f.post(t, "/api/migrate", `{"to":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.post(t, "/api/migrate", `{"to": -4}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.get(t, "/api/migrate")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMigrateEndpointRejectsConcurrentRequest(t *testing.T) {
	f := newFixture(t, true)

	f.srv.migrating.Lock()
	defer f.srv.migrating.Unlock()

	resp := f.post(t, "/api/migrate", `{}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestBackupEndpoint(t *testing.T) {
	f := newFixture(t, true)

	resp := f.post(t, "/api/backup", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decode[map[string]string](t, resp)
	assert.Equal(t, f.cfg.Database.Path+database.BackupSuffix, body["path"])
	assert.FileExists(t, body["path"])
}

func TestReportEndpoint(t *testing.T) {
	f := newFixture(t, true)

	resp := f.get(t, "/api/report")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/markdown", resp.Header.Get("Content-Type"))
	content, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(content), "# Schema Report")

	resp = f.post(t, "/api/report", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, f.cfg.Reports.Directory, filepath.Dir(body["path"]))
	saved, err := os.ReadFile(body["path"])
	require.NoError(t, err)
	assert.Contains(t, string(saved), "| 36 | 36 | current |")
}

func TestSecurityHeaders(t *testing.T) {
	f := newFixture(t, true)

	resp := f.get(t, "/api/schema")
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebSocketFeed(t *testing.T) {
	f := newFixture(t, true)
	f.rewind(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(f.ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return f.srv.hub.Clients() == 1 },
		5*time.Second, 10*time.Millisecond)

	resp := f.post(t, "/api/migrate", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var kinds []migrate.EventKind
	for range 2 {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var e migrate.Event
		require.NoError(t, json.Unmarshal(data, &e))
		assert.Equal(t, migrate.DatabaseVersion, e.Version)
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []migrate.EventKind{migrate.StepStarted, migrate.StepFinished}, kinds)

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return f.srv.hub.Clients() == 0 },
		5*time.Second, 10*time.Millisecond)
}

func TestHubObserveDoesNotWait(t *testing.T) {
	hub := NewHub()
	// Nothing drains the queue once the hub is closed.
	hub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for v := range 2 * eventBuffer {
			hub.Observe(migrate.Event{Kind: migrate.StepStarted, Version: v})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Observe waited on a full queue")
	}
	assert.Len(t, hub.events, eventBuffer)
}
