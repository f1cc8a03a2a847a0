// Package mockapi is an in-process implementation of the batch API
// surface riposte drives. It backs the engine's tests and the
// `riposte serve` command, so a full run can be exercised without a
// real platform deployment.
package mockapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Config controls the simulated behavior of the server.
type Config struct {
	// PollsUntilDone is how many non-terminal statuses a job reports
	// before turning terminal. Zero means the first poll is terminal.
	PollsUntilDone int

	// FinalStatus is the terminal status jobs reach: "succeeded",
	// "failed-partial" or "failed". Defaults to "succeeded".
	FinalStatus string

	// Latency is an artificial delay added to every request.
	Latency time.Duration

	// CredentialToken is the API key the credential endpoint issues.
	CredentialToken string
}

type file struct {
	id      string
	content []byte
}

type job struct {
	id           string
	inputFileID  string
	polls        int
	outputFileID string
	errorFileID  string
}

// Server holds the mock API state: uploaded files and created jobs.
type Server struct {
	cfg Config

	mu    sync.Mutex
	files map[string]*file
	jobs  map[string]*job
}

// New creates a mock server.
func New(cfg Config) *Server {
	if cfg.FinalStatus == "" {
		cfg.FinalStatus = "succeeded"
	}
	if cfg.CredentialToken == "" {
		cfg.CredentialToken = "mock-" + uuid.NewString()
	}
	return &Server{
		cfg:   cfg,
		files: make(map[string]*file),
		jobs:  make(map[string]*job),
	}
}

// Handler returns the mock API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.latency)

	r.Post("/admin/api/v1/users/current/api-keys", s.createAPIKey)
	r.Route("/ai/v1", func(r chi.Router) {
		r.Post("/files", s.uploadFile)
		r.Get("/files/{fileID}", s.fileMetadata)
		r.Get("/files/{fileID}/content", s.fileContent)
		r.Post("/batches", s.createBatch)
		r.Get("/batches/{batchID}", s.batchStatus)
	})

	return r
}

func (s *Server) latency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Latency > 0 {
			time.Sleep(s.cfg.Latency)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) createAPIKey(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := r.BasicAuth(); !ok {
		writeError(w, http.StatusUnauthorized, "basic auth required")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"key": s.cfg.CredentialToken,
	})
}

func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	part, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer part.Close()

	content, err := io.ReadAll(part)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable file")
		return
	}

	f := &file{id: "file-" + uuid.NewString(), content: content}
	s.mu.Lock()
	s.files[f.id] = f
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":      f.id,
		"bytes":   len(content),
		"purpose": r.FormValue("purpose"),
	})
}

func (s *Server) fileMetadata(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "fileID")
	s.mu.Lock()
	f, ok := s.files[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "no such file")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":    f.id,
		"bytes": len(f.content),
	})
}

func (s *Server) fileContent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "fileID")
	s.mu.Lock()
	f, ok := s.files[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "no such file")
		return
	}
	w.Header().Set("Content-Type", "application/jsonl")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(f.content)
}

func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InputFileID string `json:"input_file_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InputFileID == "" {
		writeError(w, http.StatusBadRequest, "input_file_id is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[req.InputFileID]; !ok {
		writeError(w, http.StatusNotFound, "no such input file")
		return
	}

	j := &job{id: "batch-" + uuid.NewString(), inputFileID: req.InputFileID}
	s.jobs[j.id] = j

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":     j.id,
		"status": "pending",
	})
}

func (s *Server) batchStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "batchID")

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		writeError(w, http.StatusNotFound, "no such batch")
		return
	}

	j.polls++
	if j.polls <= s.cfg.PollsUntilDone {
		status := "pending"
		if j.polls > 1 {
			status = "running"
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"id":     j.id,
			"status": status,
		})
		return
	}

	// Terminal: materialize the artifacts the final status implies.
	resp := map[string]interface{}{
		"id":     j.id,
		"status": s.cfg.FinalStatus,
	}
	if s.cfg.FinalStatus == "succeeded" || s.cfg.FinalStatus == "failed-partial" {
		if j.outputFileID == "" {
			f := &file{id: "file-" + uuid.NewString(), content: []byte(`{"custom_id":"req-1","response":{"status_code":200}}` + "\n")}
			s.files[f.id] = f
			j.outputFileID = f.id
		}
		resp["output_file_id"] = j.outputFileID
	}
	if s.cfg.FinalStatus == "failed-partial" || s.cfg.FinalStatus == "failed" {
		if j.errorFileID == "" {
			f := &file{id: "file-" + uuid.NewString(), content: []byte(`{"custom_id":"req-1","error":{"message":"simulated failure"}}` + "\n")}
			s.files[f.id] = f
			j.errorFileID = f.id
		}
		resp["error_file_id"] = j.errorFileID
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// ListenAndServe runs the mock API on addr until the server errors.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	fmt.Printf("mock batch API listening on %s\n", addr)
	return srv.ListenAndServe()
}
