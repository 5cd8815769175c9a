package sensors

import (
	"context"
	"fmt"
	"time"

	"github.com/miradorstack/mirador-healer/internal/models"
	"github.com/miradorstack/mirador-healer/internal/repo"
	"github.com/miradorstack/mirador-healer/internal/utils"
)

// Measurement types emitted by CoreSensor.
const (
	TypeLogCount     = "log_count"
	TypeSpanDuration = "span_duration_ms"
	DefaultMetric    = "cpu_usage"
)

// CoreSource is the subset of the mirador-core client used for sensing.
type CoreSource interface {
	FetchMetricSeries(ctx context.Context, q repo.Query) ([]repo.MetricPoint, error)
	FetchLogEntries(ctx context.Context, q repo.Query) ([]repo.LogEntry, error)
	FetchTraceSpans(ctx context.Context, q repo.Query) ([]repo.TraceSpan, error)
}

// Config selects what a CoreSensor reads.
type Config struct {
	Kind     models.DataType
	TenantID string
	Service  string
	Metric   string
	Lookback time.Duration
}

// CoreSensor reads one signal kind for one service over a trailing window.
type CoreSensor struct {
	cfg    Config
	source CoreSource
	now    func() time.Time
}

// NewCoreSensor validates cfg and builds a sensor.
func NewCoreSensor(source CoreSource, cfg Config) (*CoreSensor, error) {
	if source == nil {
		return nil, fmt.Errorf("core sensor: source is required")
	}
	if cfg.Service == "" {
		return nil, fmt.Errorf("core sensor: service is required")
	}
	switch cfg.Kind {
	case models.DataTypeMetrics:
		if cfg.Metric == "" {
			cfg.Metric = DefaultMetric
		}
	case models.DataTypeLogs, models.DataTypeTraces:
	default:
		return nil, fmt.Errorf("core sensor: unknown kind %q", cfg.Kind)
	}
	return &CoreSensor{cfg: cfg, source: source, now: time.Now}, nil
}

// Name identifies the sensor in logs and errors.
func (s *CoreSensor) Name() string {
	return fmt.Sprintf("core-%s:%s", s.cfg.Kind, s.cfg.Service)
}

// Fetch pulls the current window and converts it into measurements.
func (s *CoreSensor) Fetch(ctx context.Context) ([]models.Measurement, error) {
	start, end := utils.Window(s.now(), s.cfg.Lookback)
	q := repo.Query{
		TenantID: s.cfg.TenantID,
		Service:  s.cfg.Service,
		Metric:   s.cfg.Metric,
		Start:    start,
		End:      end,
	}

	switch s.cfg.Kind {
	case models.DataTypeMetrics:
		points, err := s.source.FetchMetricSeries(ctx, q)
		if err != nil {
			return nil, err
		}
		return s.fromMetrics(points), nil
	case models.DataTypeLogs:
		entries, err := s.source.FetchLogEntries(ctx, q)
		if err != nil {
			return nil, err
		}
		return s.fromLogs(entries), nil
	default:
		spans, err := s.source.FetchTraceSpans(ctx, q)
		if err != nil {
			return nil, err
		}
		return s.fromSpans(spans), nil
	}
}

func (s *CoreSensor) fromMetrics(points []repo.MetricPoint) []models.Measurement {
	out := make([]models.Measurement, 0, len(points))
	for _, p := range points {
		out = append(out, models.Measurement{
			Component: s.cfg.Service,
			Type:      s.cfg.Metric,
			Instant:   p.Timestamp,
			Value:     p.Value,
			Source:    models.DataTypeMetrics,
		})
	}
	return out
}

func (s *CoreSensor) fromLogs(entries []repo.LogEntry) []models.Measurement {
	out := make([]models.Measurement, 0, len(entries))
	for _, e := range entries {
		out = append(out, models.Measurement{
			Component: s.cfg.Service,
			Type:      TypeLogCount,
			Instant:   e.Timestamp,
			Value:     float64(e.Count),
			Source:    models.DataTypeLogs,
			Labels:    map[string]string{"severity": e.Severity, "message": e.Message},
		})
	}
	return out
}

func (s *CoreSensor) fromSpans(spans []repo.TraceSpan) []models.Measurement {
	out := make([]models.Measurement, 0, len(spans))
	for _, span := range spans {
		out = append(out, models.Measurement{
			Component: span.Service,
			Instance:  span.SpanID,
			Type:      TypeSpanDuration,
			Instant:   span.Timestamp,
			Value:     float64(span.Duration) / float64(time.Millisecond),
			Source:    models.DataTypeTraces,
			Labels: map[string]string{
				"operation": span.Operation,
				"status":    span.Status,
				"trace_id":  span.TraceID,
			},
		})
	}
	return out
}
