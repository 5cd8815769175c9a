package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-healer/internal/models"
	"github.com/miradorstack/mirador-healer/internal/policy"
	"github.com/miradorstack/mirador-healer/internal/store"
	"github.com/miradorstack/mirador-healer/internal/utils"
)

// PolicySource exposes the scheduled policies and the loop state.
type PolicySource interface {
	Policies() []policy.Policy
	Running() bool
}

// ActionLister reads the recorded action history.
type ActionLister interface {
	ListActions(ctx context.Context, filter store.ActionFilter) ([]models.Action, error)
}

// HTTPHandler serves the status endpoints.
type HTTPHandler struct {
	router  chi.Router
	source  PolicySource
	actions ActionLister
	metrics http.Handler
	logger  *slog.Logger
	started time.Time
}

type healthResponse struct {
	Status    string `json:"status"`
	Scheduler string `json:"scheduler"`
	Policies  int    `json:"policies"`
	Uptime    string `json:"uptime"`
}

type policyResponse struct {
	Name          string     `json:"name"`
	DelayMillis   int64      `json:"delay_ms"`
	Due           bool       `json:"due"`
	Interval      string     `json:"interval,omitempty"`
	LastExecution *time.Time `json:"last_execution,omitempty"`
	Capabilities  []string   `json:"capabilities,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPHandler builds the router. actions may be nil when no store is configured;
// metrics defaults to the default Prometheus handler.
func NewHTTPHandler(source PolicySource, actions ActionLister, metrics http.Handler, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	h := &HTTPHandler{
		router:  chi.NewRouter(),
		source:  source,
		actions: actions,
		metrics: metrics,
		logger:  logger.With("component", "http"),
		started: time.Now(),
	}
	h.routes()
	return h
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *HTTPHandler) routes() {
	r := h.router
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(h.logger))

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", h.metrics)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/policies", h.handleListPolicies)
		r.Get("/actions", h.handleListActions)
	})
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Scheduler: "running",
		Policies:  len(h.source.Policies()),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	}
	status := http.StatusOK
	if !h.source.Running() {
		resp.Status = "unavailable"
		resp.Scheduler = "stopped"
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}

func (h *HTTPHandler) handleListPolicies(w http.ResponseWriter, _ *http.Request) {
	policies := h.source.Policies()
	out := make([]policyResponse, 0, len(policies))
	for _, p := range policies {
		delay := p.Delay()
		item := policyResponse{
			Name:        p.Name(),
			DelayMillis: delay.Milliseconds(),
			Due:         delay <= 0,
		}
		if c, ok := p.(policy.Capable); ok {
			item.Capabilities = c.Capabilities().Names()
		}
		if hp, ok := p.(*policy.HealthPolicy); ok {
			item.Interval = hp.Interval().String()
			if last := hp.LastExecution(); !last.IsZero() {
				item.LastExecution = &last
			}
		}
		out = append(out, item)
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) handleListActions(w http.ResponseWriter, r *http.Request) {
	if h.actions == nil {
		respondJSON(w, http.StatusNotFound, errorResponse{Error: "action history is disabled"})
		return
	}

	q := r.URL.Query()
	filter := store.ActionFilter{Policy: q.Get("policy")}
	if v := q.Get("since"); v != "" {
		since, err := utils.ParseRFC3339(v)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: "since must be RFC3339"})
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}

	actions, err := h.actions.ListActions(r.Context(), filter)
	if err != nil {
		h.logger.Error("list actions failed", slog.Any("error", err))
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list actions"})
		return
	}
	respondJSON(w, http.StatusOK, actions)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// loggingMiddleware logs HTTP requests at DEBUG level.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start).String(),
			)
		})
	}
}
