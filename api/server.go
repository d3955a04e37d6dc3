// Package api exposes the platform over HTTP: task and agent submission,
// job polling, pool statistics, prometheus metrics and a live event
// stream per job.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/agent"
	"github.com/webpilot-ai/webpilot/executor"
	"github.com/webpilot-ai/webpilot/internal/metrics"
	"github.com/webpilot-ai/webpilot/pool"
	"github.com/webpilot-ai/webpilot/types"
)

// Options wires the server to the rest of the platform. Exec, Pool and
// Store are required; the rest degrade gracefully when nil.
type Options struct {
	Exec           *executor.Executor
	Agent          *agent.Agent
	Planner        *agent.Planner
	Pool           *pool.Pool
	Store          *Store
	Metrics        *metrics.Collector
	MetricsHandler http.Handler
	Logger         *zap.Logger
}

// Server is the HTTP API surface.
type Server struct {
	exec    *executor.Executor
	agent   *agent.Agent
	planner *agent.Planner
	pool    *pool.Pool
	store   *Store
	hub     *Hub
	metrics *metrics.Collector
	logger  *zap.Logger

	metricsHandler http.Handler
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		exec:           opts.Exec,
		agent:          opts.Agent,
		planner:        opts.Planner,
		pool:           opts.Pool,
		store:          opts.Store,
		hub:            NewHub(),
		metrics:        opts.Metrics,
		logger:         logger.With(zap.String("component", "api")),
		metricsHandler: opts.MetricsHandler,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tasks", s.handleSubmitTask)
	mux.HandleFunc("GET /v1/tasks", s.handleListJobs)
	mux.HandleFunc("GET /v1/tasks/{id}", s.handleGetJob)
	mux.HandleFunc("GET /v1/tasks/{id}/events", s.handleJobEvents)
	mux.HandleFunc("POST /v1/agent", s.handleSubmitAgent)
	mux.HandleFunc("POST /v1/plans", s.handlePlan)
	mux.HandleFunc("GET /v1/pool/stats", s.handlePoolStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return s.instrument(mux)
}

// instrument records request metrics and logs each call.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, r.URL.Path, rec.status, elapsed)
		}
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.status = code
		r.written = true
	}
	r.ResponseWriter.WriteHeader(code)
}

// --- task submission ---

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var task types.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		s.writeError(w, http.StatusBadRequest, types.NewError(types.ErrValidation, "invalid task payload"))
		return
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if err := task.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	payload, _ := json.Marshal(task)
	job := &Job{ID: task.ID, Kind: "task", Name: task.Name, Payload: string(payload)}
	if err := s.store.Create(job); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.hub.Publish(job.ID, "queued", nil)

	go s.runTaskJob(&task)

	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) runTaskJob(task *types.Task) {
	s.markRunning(task.ID)
	result := s.exec.RunTask(context.Background(), task)
	s.finish(task.ID, result.Success, result, result.Error)
}

// --- agent submission ---

type agentRequest struct {
	Objective string `json:"objective"`
}

func (s *Server) handleSubmitAgent(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		s.writeError(w, http.StatusServiceUnavailable, types.NewError(types.ErrConfiguration, "agent not configured"))
		return
	}
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Objective == "" {
		s.writeError(w, http.StatusBadRequest, types.NewError(types.ErrValidation, "objective is required"))
		return
	}

	job := &Job{ID: uuid.New().String(), Kind: "agent", Name: req.Objective, Payload: req.Objective}
	if err := s.store.Create(job); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.hub.Publish(job.ID, "queued", nil)

	go s.runAgentJob(job.ID, req.Objective)

	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) runAgentJob(id, objective string) {
	s.markRunning(id)
	result, err := s.agent.Run(context.Background(), objective)
	if err != nil {
		s.finish(id, false, nil, err.Error())
		return
	}
	s.finish(id, result.Success, result, result.Error)
}

// --- planning ---

type planRequest struct {
	Objective string `json:"objective"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if s.planner == nil {
		s.writeError(w, http.StatusServiceUnavailable, types.NewError(types.ErrConfiguration, "planner not configured"))
		return
	}
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Objective == "" {
		s.writeError(w, http.StatusBadRequest, types.NewError(types.ErrValidation, "objective is required"))
		return
	}
	tasks, err := s.planner.Plan(r.Context(), req.Objective)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"objective": req.Objective, "tasks": tasks})
}

// --- job queries ---

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		if types.CodeOf(err) == types.ErrValidation {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.List(0)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// handleJobEvents streams job events over a websocket until the job
// finishes or the client disconnects.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.store.Get(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	events, cancel := s.hub.Subscribe(id)
	defer cancel()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	// A job that already finished gets its stored result replayed.
	if job.Terminal() {
		done := Event{JobID: id, Type: "done", Payload: json.RawMessage(job.Result), Time: job.UpdatedAt}
		_ = wsjson.Write(ctx, conn, done)
		conn.Close(websocket.StatusNormalClosure, "job finished")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
			if ev.Type == "done" {
				conn.Close(websocket.StatusNormalClosure, "job finished")
				return
			}
		}
	}
}

// --- pool stats ---

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"pool": s.pool.Stats()}
	if s.exec != nil {
		resp["breakers"] = s.exec.BreakerStates()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ---

func (s *Server) markRunning(id string) {
	if err := s.store.MarkRunning(id); err != nil {
		s.logger.Error("mark job running failed", zap.String("job_id", id), zap.Error(err))
	}
	s.hub.Publish(id, "running", nil)
}

func (s *Server) finish(id string, success bool, result any, errMsg string) {
	if err := s.store.Complete(id, success, result, errMsg); err != nil {
		s.logger.Error("complete job failed", zap.String("job_id", id), zap.Error(err))
	}
	s.hub.Publish(id, "done", result)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]string{"error": err.Error()}
	if code := types.CodeOf(err); code != "" {
		body["code"] = string(code)
	}
	_ = json.NewEncoder(w).Encode(body)
}
