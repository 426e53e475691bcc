package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/eventman/internal/metrics"
	"github.com/gyaneshwarpardhi/eventman/internal/resource"
	"github.com/gyaneshwarpardhi/eventman/internal/route"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// readyThreshold is the trigger queue utilization above which /readyz
// reports overloaded.
const readyThreshold = 0.8

// Pinger reports storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueMonitor exposes trigger queue pressure.
type QueueMonitor interface {
	QueueUtilization() float64
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	svc    *resource.Service
	db     Pinger
	queue  QueueMonitor
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates the HTTP handler. queue may be nil when triggers are disabled.
func New(svc *resource.Service, db Pinger, queue QueueMonitor, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		svc:    svc,
		db:     db,
		queue:  queue,
		logger: logger.With("component", "api"),
		mux:    http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.logger, h)
}

// ServeHTTP sends operational endpoints through the mux and everything else
// to the resource router. Resource paths bypass the mux so that paths like
// /events//persons reach the router uncleaned.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/healthz", "/readyz", "/metrics":
		h.mux.ServeHTTP(w, r)
		return
	}
	h.serveResource(w, r)
}

// /{collection}[/{id}[/{sub}[/{sub_id}]]]
func (h *Handler) serveResource(w http.ResponseWriter, r *http.Request) {
	req, err := route.Parse(r.Method, r.URL.EscapedPath())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	req.SetQuery(r.URL.Query())
	if err := req.DecodeBody(http.MaxBytesReader(w, r.Body, maxBodyBytes)); err != nil {
		h.fail(w, r, err)
		return
	}

	out, err := h.svc.Handle(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeError(w, status, err.Error())
}

// GET /healthz, always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz, 503 if storage is unreachable or the trigger queue is >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	var util float64
	if h.queue != nil {
		util = h.queue.QueueUtilization()
		metrics.TriggerQueueUtilization.Set(util)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "storage unavailable",
			"error":             err.Error(),
			"queue_utilization": util,
		})
		return
	}

	if util > readyThreshold {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}
