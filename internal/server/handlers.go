package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/joomcode/errorx"

	"github.com/jamesruggles/scanmanager/internal/migrate"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Schema API ---

func (s *Server) handleAPISchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	schema, err := s.reportGen.Inspect(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

// --- Migration API ---

type migrateRequest struct {
	// To defaults to the version the build writes.
	To *int `json:"to"`
}

type migrateResponse struct {
	Outcome string `json:"outcome"`
	Code    int    `json:"code"`
	From    int    `json:"from"`
	Version int    `json:"version"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleAPIMigrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req migrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	to := s.migrator.Latest()
	if req.To != nil {
		to = *req.To
	}
	if to < 0 {
		writeError(w, http.StatusBadRequest, "target version must not be negative")
		return
	}

	if !s.migrating.TryLock() {
		writeError(w, http.StatusConflict, "a migration is already running")
		return
	}
	defer s.migrating.Unlock()

	ctx := r.Context()
	from, err := s.migrator.Version(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	outcome, migrateErr := s.migrator.Migrate(ctx, to)

	version, err := s.migrator.Version(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := migrateResponse{
		Outcome: outcome.String(),
		Code:    int(outcome),
		From:    from,
		Version: version,
	}
	status := http.StatusOK
	if migrateErr != nil {
		resp.Error = migrateErr.Error()
		status = http.StatusInternalServerError
		if errorx.IsOfType(migrateErr, migrate.ErrUnknownVersion) {
			status = http.StatusConflict
		}
	}
	writeJSON(w, status, resp)
}

// --- Backup API ---

func (s *Server) handleAPIBackup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path, err := s.db.Backup(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

// --- Report API ---

func (s *Server) handleAPIReport(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		content, err := s.reportGen.GenerateMarkdown(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/markdown")
		w.Write([]byte(content))

	case http.MethodPost:
		path, err := s.reportGen.SaveMarkdown(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"path": path})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
