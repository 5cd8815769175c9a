package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/miradorstack/mirador-healer/internal/cache"
	"github.com/miradorstack/mirador-healer/internal/utils"
)

// MetricPoint represents a single metric sample returned by mirador-core.
type MetricPoint struct {
	Timestamp time.Time
	Value     float64
}

// LogEntry represents aggregated log information for one bucket.
type LogEntry struct {
	Timestamp time.Time
	Message   string
	Severity  string
	Count     int
}

// TraceSpan captures essential fields from a trace span.
type TraceSpan struct {
	TraceID   string
	SpanID    string
	Service   string
	Operation string
	Duration  time.Duration
	Status    string
	Timestamp time.Time
}

// ServiceGraphEdge represents a dependency edge between two services.
type ServiceGraphEdge struct {
	Source    string  `json:"source"`
	Target    string  `json:"target"`
	CallRate  float64 `json:"call_rate"`
	ErrorRate float64 `json:"error_rate"`
}

// Query selects the signals of one service over a time window.
type Query struct {
	TenantID string
	Service  string
	Metric   string
	Start    time.Time
	End      time.Time
}

// CoreClientConfig configures a MiradorCoreClient.
type CoreClientConfig struct {
	BaseURL          string
	MetricsPath      string
	LogsPath         string
	TracesPath       string
	ServiceGraphPath string
	Timeout          time.Duration
}

// MiradorCoreClient wraps the mirador-core signal APIs consumed by sensors and diagnosers.
type MiradorCoreClient struct {
	baseURL          string
	metricsPath      string
	logsPath         string
	tracesPath       string
	serviceGraphPath string
	httpClient       *http.Client
	cache            cache.Provider
	graphTTL         time.Duration
}

// NewMiradorCoreClient constructs a client targeting the configured mirador-core instance.
// A nil cache disables service graph caching.
func NewMiradorCoreClient(cfg CoreClientConfig, provider cache.Provider, graphTTL time.Duration) *MiradorCoreClient {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &MiradorCoreClient{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		metricsPath:      cfg.MetricsPath,
		logsPath:         cfg.LogsPath,
		tracesPath:       cfg.TracesPath,
		serviceGraphPath: cfg.ServiceGraphPath,
		httpClient:       &http.Client{Timeout: cfg.Timeout},
		cache:            provider,
		graphTTL:         graphTTL,
	}
}

// FetchMetricSeries queries mirador-core for metric samples.
func (c *MiradorCoreClient) FetchMetricSeries(ctx context.Context, q Query) ([]MetricPoint, error) {
	var response struct {
		Series []struct {
			Timestamp time.Time `json:"timestamp"`
			Value     float64   `json:"value"`
		} `json:"series"`
	}
	if err := c.postJSON(ctx, "core.metrics", c.metricsPath, queryPayload(q), &response); err != nil {
		return nil, err
	}

	points := make([]MetricPoint, 0, len(response.Series))
	for _, sample := range response.Series {
		points = append(points, MetricPoint{Timestamp: sample.Timestamp, Value: sample.Value})
	}
	return points, nil
}

// FetchLogEntries queries mirador-core for log aggregates.
func (c *MiradorCoreClient) FetchLogEntries(ctx context.Context, q Query) ([]LogEntry, error) {
	var response struct {
		Entries []struct {
			Timestamp time.Time `json:"timestamp"`
			Message   string    `json:"message"`
			Severity  string    `json:"severity"`
			Count     int       `json:"count"`
		} `json:"entries"`
	}
	if err := c.postJSON(ctx, "core.logs", c.logsPath, queryPayload(q), &response); err != nil {
		return nil, err
	}

	entries := make([]LogEntry, 0, len(response.Entries))
	for _, e := range response.Entries {
		entries = append(entries, LogEntry{
			Timestamp: e.Timestamp,
			Message:   e.Message,
			Severity:  e.Severity,
			Count:     e.Count,
		})
	}
	return entries, nil
}

// FetchTraceSpans queries mirador-core for spans of the service.
func (c *MiradorCoreClient) FetchTraceSpans(ctx context.Context, q Query) ([]TraceSpan, error) {
	var response struct {
		Spans []struct {
			TraceID    string    `json:"trace_id"`
			SpanID     string    `json:"span_id"`
			Service    string    `json:"service"`
			Operation  string    `json:"operation"`
			DurationMs float64   `json:"duration_ms"`
			Status     string    `json:"status"`
			Timestamp  time.Time `json:"timestamp"`
		} `json:"spans"`
	}
	if err := c.postJSON(ctx, "core.traces", c.tracesPath, queryPayload(q), &response); err != nil {
		return nil, err
	}

	spans := make([]TraceSpan, 0, len(response.Spans))
	for _, span := range response.Spans {
		service := span.Service
		if strings.TrimSpace(service) == "" {
			service = q.Service
		}
		spans = append(spans, TraceSpan{
			TraceID:   span.TraceID,
			SpanID:    span.SpanID,
			Service:   service,
			Operation: span.Operation,
			Duration:  time.Duration(span.DurationMs * float64(time.Millisecond)),
			Status:    span.Status,
			Timestamp: span.Timestamp,
		})
	}
	return spans, nil
}

// serviceGraphKey keys the graph on tenant and lookback so sliding windows share an entry.
func serviceGraphKey(tenantID string, lookback time.Duration) string {
	return fmt.Sprintf("healer:graph:%s:%s", tenantID, lookback)
}

// FetchServiceGraph retrieves service dependency edges, served from cache when fresh.
func (c *MiradorCoreClient) FetchServiceGraph(ctx context.Context, tenantID string, start, end time.Time) ([]ServiceGraphEdge, error) {
	key := serviceGraphKey(tenantID, end.Sub(start))
	if cached, err := c.cache.Get(ctx, key); err == nil {
		var edges []ServiceGraphEdge
		if err := json.Unmarshal(cached, &edges); err == nil {
			return edges, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		return nil, utils.NewAppError("core.graph", "cache read failed", err)
	}

	payload := map[string]any{
		"tenant_id": tenantID,
		"start":     start.Format(time.RFC3339),
		"end":       end.Format(time.RFC3339),
	}
	var response struct {
		Edges []ServiceGraphEdge `json:"edges"`
	}
	if err := c.postJSON(ctx, "core.graph", c.serviceGraphPath, payload, &response); err != nil {
		return nil, err
	}

	if data, err := json.Marshal(response.Edges); err == nil {
		_ = c.cache.Set(ctx, key, data, c.graphTTL)
	}
	return response.Edges, nil
}

func queryPayload(q Query) map[string]any {
	payload := map[string]any{
		"tenant_id": q.TenantID,
		"service":   q.Service,
		"start":     q.Start.Format(time.RFC3339),
		"end":       q.End.Format(time.RFC3339),
	}
	if q.Metric != "" {
		payload["metric"] = q.Metric
	}
	return payload
}

func (c *MiradorCoreClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *MiradorCoreClient) postJSON(ctx context.Context, op, p string, payload any, out any) error {
	if c == nil {
		return utils.NewAppError(op, "mirador-core client not initialised", nil)
	}
	endpoint := c.resolvePath(p)
	if endpoint == "" {
		return utils.NewAppError(op, "mirador-core base URL not configured", nil)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return utils.NewAppError(op, "marshal payload", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return utils.NewAppError(op, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError(op, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return utils.NewStatusError(op, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return utils.NewAppError(op, "decode response", err)
	}
	return nil
}
