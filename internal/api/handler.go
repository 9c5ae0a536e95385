// Package api serves the admin HTTP API: job management, scheduler
// lifecycle, workflow definitions and ad hoc runs, status, metrics and health.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"wfsched/internal/errs"
	"wfsched/internal/storage"
	"wfsched/internal/task/scheduler"
	"wfsched/internal/task/status"
	"wfsched/internal/workflow"
	logx "wfsched/pkg/logx"
)

const maxBody = 1 << 20

// Scheduler is the management surface of *scheduler.Service.
type Scheduler interface {
	AddJob(ctx context.Context, def scheduler.JobDef) (storage.Job, error)
	RemoveJob(ctx context.Context, id string) error
	PauseJob(ctx context.Context, id string) error
	ResumeJob(ctx context.Context, id string) error
	RunJobNow(ctx context.Context, id string) error
	ListJobs(ctx context.Context) ([]scheduler.JobInfo, error)
	GetJob(ctx context.Context, id string) (scheduler.JobInfo, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State() scheduler.State
	Snapshot(ctx context.Context) scheduler.Snapshot
}

// Workflows is the subset of *workflow.Registry the API uses.
type Workflows interface {
	AddWorkflow(ctx context.Context, w workflow.Workflow) error
	PutWorkflow(ctx context.Context, w workflow.Workflow) error
	GetWorkflow(ctx context.Context, id string) (workflow.Workflow, error)
	ListWorkflows(ctx context.Context) ([]workflow.Workflow, error)
}

type WorkflowRunner interface {
	ExecuteWorkflow(ctx context.Context, id string) (workflow.Result, error)
}

type StatusSource interface {
	Snapshot() []status.Status
	Get(id string) status.Status
}

// Deps wires the handler. Metrics and Status may be nil.
type Deps struct {
	Scheduler Scheduler
	Workflows Workflows
	Runner    WorkflowRunner
	Status    StatusSource
	Metrics   http.Handler
	// Background runs asynchronous workflow runs; the app passes its
	// supervisor's Go. Nil starts a bare goroutine.
	Background func(name string, fn func(ctx context.Context) error)
	Version    string
}

type Handler struct {
	d   Deps
	log logx.Logger
}

func NewHandler(d Deps, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if d.Background == nil {
		d.Background = func(_ string, fn func(ctx context.Context) error) {
			go func() { _ = fn(context.Background()) }()
		}
	}
	return &Handler{d: d, log: log.With(logx.String("comp", "api"))}
}

// RouteOptions are the listener-independent router settings.
type RouteOptions struct {
	// Token, when set, is required as a bearer token on every route except
	// /health.
	Token string
	// Pprof mounts the runtime profiler at /debug.
	Pprof bool
	// CORSOrigins enables CORS for the listed browser origins.
	CORSOrigins []string
}

// Routes builds the router.
func (h *Handler) Routes(o RouteOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.log))
	if len(o.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: o.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(o.Token))

		r.Get("/status", h.status)
		if h.d.Metrics != nil {
			r.Method(http.MethodGet, "/metrics", h.d.Metrics)
		}
		if o.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}

		r.Post("/scheduler/start", h.startScheduler)
		r.Post("/scheduler/stop", h.stopScheduler)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", h.listJobs)
			r.Post("/", h.addJob)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getJob)
				r.Delete("/", h.removeJob)
				r.Post("/pause", h.pauseJob)
				r.Post("/resume", h.resumeJob)
				r.Post("/run", h.runJob)
			})
		})

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", h.listWorkflows)
			r.Post("/", h.addWorkflow)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getWorkflow)
				r.Put("/", h.putWorkflow)
				r.Post("/run", h.runWorkflow)
			})
		})
	})
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"scheduler": h.d.Scheduler.State(),
		"version":   h.d.Version,
	})
}

type statusResponse struct {
	Scheduler scheduler.Snapshot `json:"scheduler"`
	Jobs      []status.Status    `json:"jobs"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Scheduler: h.d.Scheduler.Snapshot(r.Context()), Jobs: []status.Status{}}
	if h.d.Status != nil {
		resp.Jobs = h.d.Status.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) startScheduler(w http.ResponseWriter, r *http.Request) {
	// The firing loop outlives the request.
	if err := h.d.Scheduler.Start(context.WithoutCancel(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": h.d.Scheduler.State()})
}

func (h *Handler) stopScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Scheduler.Stop(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": h.d.Scheduler.State()})
}

// jobView is a listed job plus its last known outcome.
type jobView struct {
	scheduler.JobInfo
	Status *status.Status `json:"status,omitempty"`
}

func (h *Handler) view(j scheduler.JobInfo) jobView {
	v := jobView{JobInfo: j}
	if h.d.Status != nil {
		st := h.d.Status.Get(j.ID)
		v.Status = &st
	}
	return v
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.d.Scheduler.ListJobs(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, h.view(j))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) addJob(w http.ResponseWriter, r *http.Request) {
	var def scheduler.JobDef
	if err := decodeJSON(w, r, &def); err != nil {
		h.writeError(w, r, err)
		return
	}
	job, err := h.d.Scheduler.AddJob(r.Context(), def)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.d.Scheduler.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(j))
}

func (h *Handler) removeJob(w http.ResponseWriter, r *http.Request) {
	if err := h.d.Scheduler.RemoveJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pauseJob(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.d.Scheduler.PauseJob)
}

func (h *Handler) resumeJob(w http.ResponseWriter, r *http.Request) {
	h.jobAction(w, r, h.d.Scheduler.ResumeJob)
}

func (h *Handler) runJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.d.Scheduler.RunJobNow(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

// jobAction runs op and answers with the job as it is afterwards. A job
// removed by op (an expired date job on resume) answers 204.
func (h *Handler) jobAction(w http.ResponseWriter, r *http.Request, op func(context.Context, string) error) {
	id := chi.URLParam(r, "id")
	if err := op(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	j, err := h.d.Scheduler.GetJob(r.Context(), id)
	if errors.Is(err, errs.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(j))
}

func (h *Handler) listWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := h.d.Workflows.ListWorkflows(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if wfs == nil {
		wfs = []workflow.Workflow{}
	}
	writeJSON(w, http.StatusOK, wfs)
}

func (h *Handler) addWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf workflow.Workflow
	if err := decodeJSON(w, r, &wf); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.d.Workflows.AddWorkflow(r.Context(), wf); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (h *Handler) getWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := h.d.Workflows.GetWorkflow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (h *Handler) putWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf workflow.Workflow
	if err := decodeJSON(w, r, &wf); err != nil {
		h.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if wf.ID == "" {
		wf.ID = id
	}
	if wf.ID != id {
		h.writeError(w, r, errs.Validation("workflow id %q does not match path %q", wf.ID, id))
		return
	}
	if err := h.d.Workflows.PutWorkflow(r.Context(), wf); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// runWorkflow starts an ad hoc run. With ?wait=true the response carries the
// result; otherwise the run continues in the background and 202 is returned.
func (h *Handler) runWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.d.Workflows.GetWorkflow(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		h.d.Background("workflow.run."+id, func(ctx context.Context) error {
			if _, err := h.d.Runner.ExecuteWorkflow(context.WithoutCancel(ctx), id); err != nil {
				h.log.Warn("ad hoc workflow run failed", logx.String("workflow", id), logx.Err(err))
			}
			return nil
		})
		writeJSON(w, http.StatusAccepted, map[string]string{"workflow_id": id})
		return
	}

	res, err := h.d.Runner.ExecuteWorkflow(context.WithoutCancel(r.Context()), id)
	if err != nil && !errors.Is(err, errs.ErrExecution) {
		h.writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if !res.OK() {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, res)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// StatusCode maps the error taxonomy onto HTTP status codes.
func StatusCode(err error) int {
	switch errs.Kind(err) {
	case errs.ErrValidation:
		return http.StatusBadRequest
	case errs.ErrNotFound:
		return http.StatusNotFound
	case errs.ErrAlreadyExists, errs.ErrSchedulerState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	resp := errorResponse{Error: err.Error()}
	if k := errs.Kind(err); k != nil {
		resp.Kind = k.Error()
	}
	if code >= http.StatusInternalServerError {
		h.log.Error("api request failed",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.String("request_id", middleware.GetReqID(r.Context())),
			logx.Err(err))
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}

// decodeJSON strictly decodes a single JSON value from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Validation("invalid request body: %v", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errs.Validation("invalid request body: trailing data")
	}
	return nil
}

func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Int("bytes", ww.BytesWritten()),
				logx.Duration("dur", time.Since(start)),
				logx.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
