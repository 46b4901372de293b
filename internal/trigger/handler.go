// Package trigger implements the HTTP handlers for manual job runs.
//
// All routes expect an x-user-id header forwarded by the Gateway; an
// x-user-role of "admin" widens run-all to every enabled job.
//
// Routes:
//
//	POST /jobs/run           → run every enabled job visible to the caller
//	POST /jobs/{id}/run      → force-run one job, enabled or not
//	GET  /jobs/running       → ids of jobs currently in flight
package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"jobmate/listing-service/internal/logger"
	"jobmate/listing-service/internal/model"
	"jobmate/listing-service/internal/scheduler"
)

// Runner is the scheduler surface the handlers drive.
type Runner interface {
	RunAll(ctx context.Context, scope *model.User) ([]string, error)
	RunOne(ctx context.Context, jobID string) error
}

// RunningLister reports the jobs in flight.
type RunningLister interface {
	Snapshot() []string
}

// Handler holds shared dependencies.
type Handler struct {
	runner  Runner
	running RunningLister
	// base outlives the request: runs keep going after the response is sent.
	base context.Context
	log  logger.Logger
}

// NewHandler returns a configured Handler. Runs started through it are
// bound to base, not to the request context.
func NewHandler(base context.Context, runner Runner, running RunningLister, log logger.Logger) *Handler {
	return &Handler{
		runner:  runner,
		running: running,
		base:    base,
		log:     log.With(logger.String("component", "trigger")),
	}
}

// RegisterRoutes mounts the trigger routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/jobs/run", h.handleRunAll)
	mux.HandleFunc("/jobs/running", h.handleRunning)
	mux.HandleFunc("/jobs/", h.handleRunOne)
}

func callerFrom(r *http.Request) (*model.User, bool) {
	id := r.Header.Get("x-user-id")
	if id == "" {
		return nil, false
	}
	return &model.User{ID: id, Admin: strings.EqualFold(r.Header.Get("x-user-role"), "admin")}, true
}

// handleRunAll handles POST /jobs/run
func (h *Handler) handleRunAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller, ok := callerFrom(r)
	if !ok {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return
	}

	started, err := h.runner.RunAll(h.base, caller)
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	if started == nil {
		started = []string{}
	}
	jsonWrite(w, http.StatusAccepted, map[string]any{"started": started})
}

// handleRunOne handles POST /jobs/{id}/run
func (h *Handler) handleRunOne(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := callerFrom(r); !ok {
		jsonError(w, "missing x-user-id header", http.StatusUnauthorized)
		return
	}

	// Parse /jobs/{id}/run
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[2] != "run" || parts[1] == "" {
		jsonError(w, "invalid path", http.StatusNotFound)
		return
	}
	jobID := parts[1]

	if err := h.runner.RunOne(h.base, jobID); err != nil {
		h.writeRunError(w, err)
		return
	}
	jsonWrite(w, http.StatusAccepted, map[string]any{"started": []string{jobID}})
}

// handleRunning handles GET /jobs/running
func (h *Handler) handleRunning(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jsonWrite(w, http.StatusOK, map[string]any{"running": h.running.Snapshot()})
}

func (h *Handler) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, scheduler.ErrJobNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, scheduler.ErrReadOnly):
		jsonError(w, err.Error(), http.StatusForbidden)
	default:
		h.log.Error("Run trigger failed", logger.Error(err))
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func jsonWrite(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	jsonWrite(w, code, map[string]string{"error": msg})
}
