// mock-core serves canned mirador-core signal APIs and a webhook sink for running the
// healer locally.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/miradorstack/mirador-healer/internal/utils"
)

type seriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type logEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Count     int       `json:"count"`
}

type traceSpan struct {
	TraceID    string    `json:"trace_id"`
	SpanID     string    `json:"span_id"`
	Service    string    `json:"service"`
	Operation  string    `json:"operation"`
	DurationMs float64   `json:"duration_ms"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

type serviceGraphEdge struct {
	Source    string  `json:"source"`
	Target    string  `json:"target"`
	CallRate  float64 `json:"call_rate"`
	ErrorRate float64 `json:"error_rate"`
}

type signalQuery struct {
	Service string `json:"service"`
	Metric  string `json:"metric"`
}

type mockCore struct {
	now    func() time.Time
	logger *slog.Logger
	hooks  atomic.Int64
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	logger := utils.NewLogger(os.Getenv("MOCK_CORE_LOG_LEVEL"), false).With("component", "core-mock")
	m := &mockCore{now: time.Now, logger: logger}
	srv := &http.Server{
		Addr:         *addr,
		Handler:      m.routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	logger.Info("listening", slog.String("address", *addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func (m *mockCore) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(m.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/api/v1/rca", func(r chi.Router) {
		r.Post("/metrics", m.handleMetrics)
		r.Post("/logs", m.handleLogs)
		r.Post("/traces", m.handleTraces)
		r.Post("/service-graph", m.handleServiceGraph)
	})
	r.Post("/hooks/healer", m.handleHook)
	return r
}

// handleMetrics returns a flat series for the last ten minutes with a spike in the
// most recent sample.
func (m *mockCore) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if _, ok := decodeQuery(w, r); !ok {
		return
	}
	now := m.now()
	series := make([]seriesPoint, 0, 10)
	for i := 9; i > 0; i-- {
		series = append(series, seriesPoint{Timestamp: now.Add(-time.Duration(i) * time.Minute), Value: 1.0 + float64(i%2)*0.1})
	}
	series = append(series, seriesPoint{Timestamp: now, Value: 9.2})
	writeJSON(w, map[string]any{"series": series})
}

func (m *mockCore) handleLogs(w http.ResponseWriter, r *http.Request) {
	if _, ok := decodeQuery(w, r); !ok {
		return
	}
	now := m.now()
	writeJSON(w, map[string]any{
		"entries": []logEntry{
			{Timestamp: now.Add(-4 * time.Minute), Message: "request served", Severity: "info", Count: 120},
			{Timestamp: now.Add(-3 * time.Minute), Message: "checkout failed to reach payments", Severity: "error", Count: 42},
			{Timestamp: now.Add(-2 * time.Minute), Message: "retry exhausted", Severity: "warn", Count: 7},
		},
	})
}

func (m *mockCore) handleTraces(w http.ResponseWriter, r *http.Request) {
	q, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	now := m.now()
	writeJSON(w, map[string]any{
		"spans": []traceSpan{
			{TraceID: "trace-abc", SpanID: "span-1", Service: q.Service, Operation: "HTTP POST /payments", DurationMs: 950, Status: "error", Timestamp: now.Add(-90 * time.Second)},
			{TraceID: "trace-abc", SpanID: "span-2", Service: q.Service, Operation: "HTTP POST /payments", DurationMs: 40, Status: "ok", Timestamp: now.Add(-80 * time.Second)},
			{TraceID: "trace-def", SpanID: "span-3", Service: q.Service, Operation: "HTTP POST /payments", DurationMs: 45, Status: "ok", Timestamp: now.Add(-70 * time.Second)},
		},
	})
}

func (m *mockCore) handleServiceGraph(w http.ResponseWriter, r *http.Request) {
	if _, ok := decodeQuery(w, r); !ok {
		return
	}
	writeJSON(w, map[string]any{
		"edges": []serviceGraphEdge{
			{Source: "gateway", Target: "checkout", CallRate: 540.0, ErrorRate: 0.11},
			{Source: "checkout", Target: "payments", CallRate: 320.0, ErrorRate: 0.07},
			{Source: "checkout", Target: "inventory", CallRate: 110.0, ErrorRate: 0.02},
		},
	})
}

// handleHook accepts webhook resolver deliveries and logs the diagnosis.
func (m *mockCore) handleHook(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ActionID  string `json:"action_id"`
		Diagnosis struct {
			Type        string   `json:"type"`
			Assignments []string `json:"assignments"`
		} `json:"diagnosis"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	m.hooks.Add(1)
	m.logger.Info("webhook received",
		slog.String("action_id", payload.ActionID),
		slog.String("diagnosis", payload.Diagnosis.Type),
		slog.Any("assignments", payload.Diagnosis.Assignments))
	w.WriteHeader(http.StatusAccepted)
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (signalQuery, bool) {
	var q signalQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		http.Error(w, "invalid query", http.StatusBadRequest)
		return q, false
	}
	if q.Service == "" {
		q.Service = "checkout"
	}
	return q, true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode error", slog.Any("error", err))
	}
}

func (m *mockCore) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		m.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)))
	})
}
