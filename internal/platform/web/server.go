// Package web exposes studio sessions over HTTP and websockets.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dontdude/pystudio/internal/console"
	"github.com/dontdude/pystudio/internal/domain"
	"github.com/dontdude/pystudio/internal/session"
)

type confirmKey struct{}

// WithConfirmation marks ctx as carrying the user's approval of a
// confirm-gated action.
func WithConfirmation(ctx context.Context, ok bool) context.Context {
	return context.WithValue(ctx, confirmKey{}, ok)
}

// Confirmer approves an action iff the request asked for it with
// ?confirm=true. Sessions served over HTTP use it as their domain.Confirmer.
var Confirmer = domain.ConfirmFunc(func(ctx context.Context, _ string) bool {
	ok, _ := ctx.Value(confirmKey{}).(bool)
	return ok
})

// Server routes API requests to the sessions of a registry.
type Server struct {
	sessions *session.Registry
	hub      *Hub
	limiter  *RateLimiter
}

// NewServer returns a server. The hub must be the notifier the registry's
// sessions report to (directly or through Hub.Forward).
func NewServer(sessions *session.Registry, hub *Hub, limiter *RateLimiter) *Server {
	return &Server{sessions: sessions, hub: hub, limiter: limiter}
}

// Handler returns the routed, CORS-enabled handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/examples", s.handleExamples)

	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.withSession(s.handleSnapshot))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleCloseSession)

	mux.HandleFunc("GET /api/sessions/{id}/files", s.withSession(s.handleListFiles))
	mux.HandleFunc("POST /api/sessions/{id}/files", s.withSession(s.handleCreateFile))
	mux.HandleFunc("GET /api/sessions/{id}/files/{index}", s.withSession(s.handleGetFile))
	mux.HandleFunc("PATCH /api/sessions/{id}/files/{index}", s.withSession(s.handleUpdateFile))
	mux.HandleFunc("DELETE /api/sessions/{id}/files/{index}", s.withSession(s.handleDeleteFile))
	mux.HandleFunc("POST /api/sessions/{id}/files/{index}/select", s.withSession(s.handleSelectFile))
	mux.HandleFunc("POST /api/sessions/{id}/examples/{index}", s.withSession(s.handleImportExample))
	mux.HandleFunc("GET /api/sessions/{id}/export", s.withSession(s.handleExport))

	mux.HandleFunc("POST /api/sessions/{id}/run", s.limiter.Middleware(s.withSession(s.handleRun)))
	mux.HandleFunc("POST /api/sessions/{id}/install", s.limiter.Middleware(s.withSession(s.handleInstall)))
	mux.HandleFunc("POST /api/sessions/{id}/console/clear", s.withSession(s.handleClearConsole))
	mux.HandleFunc("POST /api/sessions/{id}/runtime/init", s.withSession(s.handleInitRuntime))
	mux.HandleFunc("POST /api/sessions/{id}/runtime/reset", s.withSession(s.handleResetRuntime))
	mux.HandleFunc("POST /api/sessions/{id}/theme/toggle", s.withSession(s.handleToggleTheme))

	// GET /api/ws?session_id=... -> WebSocket Upgrade
	mux.HandleFunc("GET /api/ws", s.handleWS)

	return enableCORS(mux)
}

// detached returns the request context without its cancellation. Runtime
// operations run to completion once started, even if the client goes away.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

// withSession resolves {id} and the confirm flag before calling h.
func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Resume(r.Context(), r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
		r = r.WithContext(WithConfirmation(r.Context(), confirmed))
		h(w, r, sess)
	}
}

func (s *Server) handleExamples(w http.ResponseWriter, _ *http.Request) {
	type example struct {
		Index int    `json:"index"`
		Name  string `json:"name"`
	}
	var out []example
	for i, f := range domain.Examples() {
		out = append(out, example{Index: i, Name: f.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create(r.Context())
	slog.Info("Created session", "sessionID", sess.ID())
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": s.sessions.IDs()})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleListFiles(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, sess.Files().Summaries())
}

func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	created, err := sess.NewFile(r.Context(), req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, sess.Snapshot())
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	idx, ok := pathIndex(w, r)
	if !ok {
		return
	}
	f, err := sess.Files().Get(idx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleUpdateFile(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	idx, ok := pathIndex(w, r)
	if !ok {
		return
	}
	var delta domain.FileDelta
	if !decode(w, r, &delta) {
		return
	}
	if err := sess.UpdateFile(r.Context(), idx, delta); err != nil {
		writeDomainError(w, err)
		return
	}
	f, _ := sess.Files().Get(idx)
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	idx, ok := pathIndex(w, r)
	if !ok {
		return
	}
	if err := sess.DeleteFile(r.Context(), idx); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSelectFile(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	idx, ok := pathIndex(w, r)
	if !ok {
		return
	}
	if err := sess.SelectFile(r.Context(), idx); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleImportExample(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	idx, ok := pathIndex(w, r)
	if !ok {
		return
	}
	if err := sess.ImportExample(r.Context(), idx); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
	name, content := sess.Export()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(content))
}

// runResponse carries the console after a run or install. Error is the
// interpreter failure, if any; it is not an HTTP failure.
type runResponse struct {
	Console console.Snapshot `json:"console"`
	Error   string           `json:"error,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	s.respondExecution(w, sess, sess.Run(detached(r)))
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.respondExecution(w, sess, sess.InstallPackage(detached(r), req.Name))
}

func (s *Server) respondExecution(w http.ResponseWriter, sess *session.Session, err error) {
	var execErr *console.ExecutionError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, runResponse{Console: sess.Console()})
	case errors.As(err, &execErr):
		writeJSON(w, http.StatusOK, runResponse{Console: sess.Console(), Error: execErr.Err.Error()})
	default:
		writeDomainError(w, err)
	}
}

func (s *Server) handleClearConsole(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	sess.ClearConsole(r.Context())
	writeJSON(w, http.StatusOK, sess.Console())
}

func (s *Server) handleInitRuntime(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	// The outcome is reported on the console; the snapshot shows the state.
	_ = sess.Initialize(detached(r))
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleResetRuntime(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	err := sess.ResetRuntime(detached(r))
	if errors.Is(err, domain.ErrNotConfirmed) || errors.Is(err, domain.ErrBusy) {
		writeDomainError(w, err)
		return
	}
	// A failed bootstrap is already on the console and in the snapshot.
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleToggleTheme(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	dark, err := sess.ToggleTheme(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"dark": dark})
}

// handleWS upgrades the connection and registers it to the hub.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	// 1. Extract session id from Query Params
	id := r.URL.Query().Get("session_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if _, err := s.sessions.Resume(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	s.hub.ServeWS(w, r, id)
}

// enableCORS adds headers to allow requests from the Frontend.
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle Preflight OPTIONS request
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotReady), errors.Is(err, domain.ErrBusy),
		errors.Is(err, domain.ErrFileChanged):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotConfirmed):
		return http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrIndexOutOfRange),
		errors.Is(err, domain.ErrUnknownExample),
		errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func pathIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return 0, false
	}
	return idx, true
}
