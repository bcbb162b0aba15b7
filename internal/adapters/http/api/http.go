// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/matchengine/internal/domain/dedupe"
	"github.com/okian/matchengine/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	RecomputeDependencies
	MutationDependencies
	TaskDependencies
	ScoreDependencies
	QueueDependencies
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	recomputeHandler *RecomputeHandler
	mutationsHandler *MutationsHandler
	tasksHandler     *TasksHandler
	scoresHandler    *ScoresHandler
	queueHandler     *QueueHandler
}

// ServerOption applies a configuration option to the Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	deduper  dedupe.Deduper
	maxLimit int
}

// WithRequestDeduper sets the cache used for POST /recompute request ids.
func WithRequestDeduper(d dedupe.Deduper) ServerOption {
	return func(c *serverConfig) {
		if d != nil {
			c.deduper = d
		}
	}
}

// WithMaxLimit caps the limit of GET /scores/{studentId}.
func WithMaxLimit(n int) ServerOption {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxLimit = n
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...ServerOption) *Server {
	cfg := serverConfig{maxLimit: defaultMaxLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.deduper == nil {
		cfg.deduper = dedupe.NewInMemoryDeduper()
	}
	return &Server{
		healthHandler:    NewHealthHandler(),
		statsHandler:     NewStatsHandler(deps),
		recomputeHandler: NewRecomputeHandler(deps, cfg.deduper),
		mutationsHandler: NewMutationsHandler(deps),
		tasksHandler:     NewTasksHandler(deps),
		scoresHandler:    NewScoresHandler(deps, cfg.maxLimit),
		queueHandler:     NewQueueHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /recompute", MetricsMiddleware(s.recomputeHandler.HandlePostRecompute, "recompute"))
	mux.HandleFunc("POST /mutations", MetricsMiddleware(s.mutationsHandler.HandlePostMutation, "mutations"))
	mux.HandleFunc("GET /tasks/{id}", MetricsMiddleware(s.tasksHandler.HandleGetTask, "tasks"))
	mux.HandleFunc("DELETE /tasks/{id}", MetricsMiddleware(s.tasksHandler.HandleDeleteTask, "tasks"))
	mux.HandleFunc("GET /scores/{studentId}", MetricsMiddleware(s.scoresHandler.HandleGetTopScores, "scores"))
	mux.HandleFunc("GET /scores/{studentId}/{opportunityId}", MetricsMiddleware(s.scoresHandler.HandleGetScore, "scores"))
	mux.HandleFunc("GET /preview/{studentId}/{opportunityId}", MetricsMiddleware(s.scoresHandler.HandlePreview, "preview"))
	mux.HandleFunc("GET /queue", MetricsMiddleware(s.queueHandler.HandleQueueStatus, "queue"))
}

// Handler returns mux wrapped with the request id middleware.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	s.Register(ctx, mux)
	return RequestIDMiddleware(mux)
}

type ackResponse struct {
	Status    string `json:"status"`
	TaskID    string `json:"task_id,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure classifies err and writes it. Server errors are logged.
func writeFailure(ctx context.Context, w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Get().Named("api").Error(ctx, "request failed", logger.Error(err))
	}
	writeError(w, status, code, err)
}
