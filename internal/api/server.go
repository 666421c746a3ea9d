// Package api serves the local control API of a running lectern client and
// provides the client the CLI uses to talk to it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/benaskins/lectern/internal/articles"
	"github.com/benaskins/lectern/internal/backend"
	"github.com/benaskins/lectern/internal/metrics"
	"github.com/benaskins/lectern/internal/supervisor"
)

// Supervisor is the backend lifecycle the API exposes.
type Supervisor interface {
	Snapshot() supervisor.Snapshot
	Start(ctx context.Context) error
	Stop() error
	Restart(ctx context.Context) error
	Logs(n int) []string
}

// Jobs runs article jobs on behalf of API callers.
type Jobs interface {
	Summarize(ctx context.Context, id int64) (articles.Result, error)
	FindRelated(ctx context.Context, id int64) (articles.Result, error)
	FetchContent(ctx context.Context, id int64) (articles.Result, error)
	Focus(ctx context.Context, id int64) context.Context
}

// Job actions accepted by POST /v1/articles/{id}/{action}.
const (
	ActionSummarize = "summarize"
	ActionRelated   = "related"
	ActionFetch     = "fetch-content"
)

const defaultLogLines = 50

// JobResult is the wire form of a finished article job.
type JobResult struct {
	JobID     string           `json:"job_id"`
	Action    string           `json:"action"`
	Article   *backend.Article `json:"article,omitempty"`
	Complete  bool             `json:"complete"`
	TimedOut  bool             `json:"timed_out"`
	Attempts  int              `json:"attempts"`
	ElapsedMS int64            `json:"elapsed_ms"`
}

type logsResponse struct {
	Lines []string `json:"lines"`
}

type errorResponse struct {
	Error          string `json:"error"`
	Kind           string `json:"kind,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"` // startup_timeout only
}

// Server serves the lectern control API over a Unix socket and, optionally,
// a TCP address.
type Server struct {
	sup    Supervisor
	jobs   Jobs
	server *http.Server
	logger *slog.Logger
}

// NewServer creates an API server for sup. jobs may be nil, in which case
// the article routes answer 503.
func NewServer(sup Supervisor, jobs Jobs) *Server {
	s := &Server{
		sup:    sup,
		jobs:   jobs,
		logger: slog.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.health)
	mux.HandleFunc("GET /v1/status", s.status)
	mux.HandleFunc("POST /v1/start", s.start)
	mux.HandleFunc("POST /v1/stop", s.stop)
	mux.HandleFunc("POST /v1/restart", s.restart)
	mux.HandleFunc("GET /v1/logs", s.logs)
	mux.HandleFunc("POST /v1/articles/{id}/{action}", s.job)
	mux.Handle("GET /metrics", metrics.Handler())

	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// ListenUnix serves on a Unix socket at path, replacing a stale socket left
// by a previous run.
func (s *Server) ListenUnix(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return err
	}
	s.logger.Info("API listening", "socket", path)
	return s.serve(ln)
}

// ListenTCP serves on a TCP address.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("API listening", "addr", ln.Addr().String())
	return s.serve(ln)
}

func (s *Server) serve(ln net.Listener) error {
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.Snapshot())
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.Start(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sup.Snapshot())
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.Stop(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sup.Snapshot())
}

func (s *Server) restart(w http.ResponseWriter, r *http.Request) {
	if err := s.sup.Restart(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sup.Snapshot())
}

func (s *Server) logs(w http.ResponseWriter, r *http.Request) {
	n := defaultLogLines
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "n must be a positive integer"})
			return
		}
		n = parsed
	}
	lines := s.sup.Logs(n)
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, logsResponse{Lines: lines})
}

func (s *Server) job(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid article id"})
		return
	}
	if s.jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "article jobs are not available", Kind: "unavailable"})
		return
	}

	action := r.PathValue("action")
	var run func(context.Context, int64) (articles.Result, error)
	switch action {
	case ActionSummarize:
		run = s.jobs.Summarize
	case ActionRelated:
		run = s.jobs.FindRelated
	case ActionFetch:
		run = s.jobs.FetchContent
	default:
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown action " + strconv.Quote(action)})
		return
	}

	ctx := r.Context()
	if focus, _ := strconv.ParseBool(r.URL.Query().Get("focus")); focus {
		ctx = s.jobs.Focus(ctx, id)
	}
	res, err := run(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JobResult{
		JobID:     res.JobID,
		Action:    action,
		Article:   res.Value,
		Complete:  res.Complete,
		TimedOut:  res.TimedOut,
		Attempts:  res.Attempts,
		ElapsedMS: res.Elapsed.Milliseconds(),
	})
}

// errorStatus maps a domain error to an HTTP status and a stable kind the
// client can switch on.
func errorStatus(err error) (int, string) {
	var (
		exe  *supervisor.ExecutableNotFoundError
		scr  *supervisor.ServerScriptNotFoundError
		tmo  *supervisor.StartupTimeoutError
		exit *supervisor.ProcessExitedError
		se   *backend.StatusError
		te   *backend.TransportError
	)
	switch {
	case errors.Is(err, supervisor.ErrProjectNotFound):
		return http.StatusNotFound, KindProjectNotFound
	case errors.As(err, &exe):
		return http.StatusNotFound, KindExecutableNotFound
	case errors.As(err, &scr):
		return http.StatusNotFound, KindScriptNotFound
	case errors.As(err, &tmo):
		return http.StatusGatewayTimeout, KindStartupTimeout
	case errors.Is(err, supervisor.ErrStartAborted):
		return http.StatusConflict, KindStartAborted
	case errors.As(err, &exit):
		return http.StatusBadGateway, KindProcessExited
	case errors.Is(err, articles.ErrServerUnavailable):
		return http.StatusServiceUnavailable, KindUnavailable
	case errors.Is(err, articles.ErrSummarizationDisabled):
		return http.StatusServiceUnavailable, KindSummarizationDisabled
	case errors.As(err, &se):
		return http.StatusBadGateway, KindBackend
	case errors.As(err, &te), errors.Is(err, backend.ErrMalformed):
		return http.StatusBadGateway, KindBackend
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, KindCancelled
	default:
		return http.StatusInternalServerError, ""
	}
}

func writeError(w http.ResponseWriter, err error) {
	code, kind := errorStatus(err)
	resp := errorResponse{Error: err.Error(), Kind: kind}
	var tmo *supervisor.StartupTimeoutError
	if errors.As(err, &tmo) {
		resp.TimeoutSeconds = tmo.Seconds()
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
