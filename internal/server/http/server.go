package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rvallejo/forq/internal/broker"
	"github.com/rvallejo/forq/internal/job"
	"github.com/rvallejo/forq/internal/metrics"
	"github.com/rvallejo/forq/internal/monitor"
	"github.com/rvallejo/forq/pkg/log"
)

// Server serves the enqueue and monitoring API.
type Server struct {
	manager *broker.Manager
	mon     *monitor.Monitor
	met     *metrics.Set
	logger  log.Logger
	srv     *http.Server
	lis     net.Listener
}

// New wires the router. gatherer backs /metrics; met counts enqueues and may
// be nil when metrics are disabled.
func New(manager *broker.Manager, mon *monitor.Monitor, met *metrics.Set, gatherer prometheus.Gatherer, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	s := &Server{
		manager: manager,
		mon:     mon,
		met:     met,
		logger:  logger.With(log.Component("http")),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/v1/healthz", s.handleHealth)
	r.Route("/v1/queues", func(r chi.Router) {
		r.Get("/", s.handleListQueues)
		r.Route("/{queue}", func(r chi.Router) {
			r.Get("/stats", s.handleStats)
			r.Get("/jobs", s.handleListJobs)
			r.Post("/jobs", s.handleEnqueue)
		})
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.srv = &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully with a short deadline.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("http listening", log.Str("addr", l.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the listener.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
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

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.mon.Healthy(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request) {
	stats, err := s.mon.StatsAll(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "broker unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": stats})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	stats, err := s.mon.Stats(r.Context(), queue)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "broker unreachable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	state := job.State(r.URL.Query().Get("state"))
	if state != "" && !state.Valid() {
		writeError(w, http.StatusBadRequest, "unknown state "+string(state))
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	views, err := s.mon.ListJobs(r.Context(), queue, state, r.URL.Query().Get("filter"), limit)
	if err != nil {
		if errors.Is(err, broker.ErrConnection) {
			writeError(w, http.StatusServiceUnavailable, "broker unreachable")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": queue, "jobs": views})
}

type enqueueRequest struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
	Options job.Options     `json:"options"`
}

type enqueueResponse struct {
	ID    string `json:"id"`
	Queue string `json:"queue"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	j, err := job.New(queue, req.Name, req.Payload, req.Options)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := s.manager.Acquire(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "broker unreachable")
		return
	}
	id, err := b.Enqueue(r.Context(), j)
	if err != nil {
		s.logger.Error("enqueue failed", log.Str("queue", queue), log.Err(err))
		writeError(w, http.StatusBadGateway, "enqueue rejected")
		return
	}
	if s.met != nil {
		s.met.JobsEnqueued.WithLabelValues(queue).Inc()
	}
	writeJSON(w, http.StatusCreated, enqueueResponse{ID: id, Queue: queue})
}
