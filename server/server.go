// Package server exposes the grading pipeline over HTTP. POST /grade runs a
// submission to completion; GET /ws streams that run's stage events and
// accepts pause/resume control messages.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/xhad/grader/pkg/history"
	"github.com/xhad/grader/pkg/logger"
	"github.com/xhad/grader/pkg/pipeline"
)

const (
	defaultMaxUpload = 10 << 20
	defaultTmpMaxAge = 24 * time.Hour
)

// Factory builds a fresh orchestrator for one request. onEvent must be
// passed through to the orchestrator's Deps.
type Factory func(onEvent func(pipeline.Event)) (*pipeline.Orchestrator, error)

type HistoryLister interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

type Config struct {
	TmpDir         string
	AllowedOrigins []string
	MaxUploadBytes int64
	TmpMaxAge      time.Duration
}

type Server struct {
	config   Config
	factory  Factory
	history  HistoryLister
	log      logger.Logger
	router   *mux.Router
	upgrader websocket.Upgrader

	mu   sync.Mutex
	runs map[string]*activeRun
}

// New wires the routes. history may be nil, in which case GET /history
// answers 404.
func New(config Config, factory Factory, hist HistoryLister, log logger.Logger) (*Server, error) {
	if factory == nil {
		return nil, errors.New("server: orchestrator factory is required")
	}
	if config.TmpDir == "" {
		config.TmpDir = "tmp"
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = defaultMaxUpload
	}
	if config.TmpMaxAge <= 0 {
		config.TmpMaxAge = defaultTmpMaxAge
	}
	if log == nil {
		log = logger.NewNop()
	}

	s := &Server{
		config:  config,
		factory: factory,
		history: hist,
		log:     log,
		runs:    make(map[string]*activeRun),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	router := mux.NewRouter()
	router.Use(s.cors)
	router.HandleFunc("/grade", s.handleGrade).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	s.router = router

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("server", "Listening", map[string]interface{}{"addr": addr})
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info("server", "Shutting down", nil)
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.log.Error("server", "History query failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGrade(w http.ResponseWriter, r *http.Request) {
	if err := os.MkdirAll(s.config.TmpDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "cannot create upload dir")
		return
	}
	s.cleanupTmp(time.Now())

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid form: %v", err))
		return
	}

	pauseAfter, err := pipeline.ParsePauseAfter(r.FormValue("pause_after"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID := strings.TrimSpace(r.FormValue("run_id"))
	if runID == "" {
		runID = uuid.NewString()
	}

	inputPath, inputName, err := s.saveInput(r)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errNoInput) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	defer func() {
		if err := os.Remove(inputPath); err != nil && !os.IsNotExist(err) {
			s.log.Warn("server", "Temp file cleanup failed", map[string]interface{}{
				"path":  inputPath,
				"error": err.Error(),
			})
		}
	}()

	run, err := s.attach(runID)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	defer s.finish(runID, run)

	orch, err := s.factory(run.publish)
	if err != nil {
		s.log.Error("server", "Orchestrator setup failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("grading_failed: %v", err))
		return
	}
	run.setOrchestrator(orch)

	result, err := orch.Run(r.Context(), pipeline.RunOptions{
		RunID:      runID,
		InputPath:  inputPath,
		InputName:  inputName,
		Rubric:     r.FormValue("rubric"),
		PauseAfter: pauseAfter,
	})
	if err != nil {
		s.log.Error("server", "Run failed", map[string]interface{}{
			"run_id": runID,
			"error":  err.Error(),
		})
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("grading_failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

var errNoInput = errors.New("provide either text or file")

// textInputName names runs graded from the text field.
const textInputName = "text"

// saveInput stores the uploaded file, or the text field, under TmpDir and
// returns its path and the name the client gave it. A file takes precedence
// over text.
func (s *Server) saveInput(r *http.Request) (string, string, error) {
	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		ext := filepath.Ext(header.Filename)
		if ext == "" {
			ext = ".bin"
		}
		path := filepath.Join(s.config.TmpDir, "upload_"+uuid.NewString()+ext)
		out, err := os.Create(path)
		if err != nil {
			return "", "", fmt.Errorf("store upload: %w", err)
		}
		if _, err := io.Copy(out, file); err != nil {
			out.Close()
			os.Remove(path)
			return "", "", fmt.Errorf("store upload: %w", err)
		}
		if err := out.Close(); err != nil {
			os.Remove(path)
			return "", "", fmt.Errorf("store upload: %w", err)
		}
		return path, filepath.Base(header.Filename), nil
	case !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart):
		return "", "", fmt.Errorf("read upload: %w", err)
	}

	text := r.FormValue("text")
	if text == "" {
		return "", "", errNoInput
	}
	path := filepath.Join(s.config.TmpDir, "input_"+uuid.NewString()+".txt")
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", "", fmt.Errorf("store text: %w", err)
	}
	return path, textInputName, nil
}

// cleanupTmp removes regular files in TmpDir last modified before
// now-TmpMaxAge. Failures are skipped.
func (s *Server) cleanupTmp(now time.Time) {
	entries, err := os.ReadDir(s.config.TmpDir)
	if err != nil {
		return
	}
	cutoff := now.Add(-s.config.TmpMaxAge)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		_ = os.Remove(filepath.Join(s.config.TmpDir, e.Name()))
	}
}

func (s *Server) allowed(origin string) bool {
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.allowed(origin)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.allowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "*")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
