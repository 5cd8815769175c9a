package sensors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-healer/internal/models"
	"github.com/miradorstack/mirador-healer/internal/repo"
)

type fakeSource struct {
	lastQuery repo.Query
	metrics   []repo.MetricPoint
	logs      []repo.LogEntry
	spans     []repo.TraceSpan
	err       error
}

func (f *fakeSource) FetchMetricSeries(_ context.Context, q repo.Query) ([]repo.MetricPoint, error) {
	f.lastQuery = q
	return f.metrics, f.err
}

func (f *fakeSource) FetchLogEntries(_ context.Context, q repo.Query) ([]repo.LogEntry, error) {
	f.lastQuery = q
	return f.logs, f.err
}

func (f *fakeSource) FetchTraceSpans(_ context.Context, q repo.Query) ([]repo.TraceSpan, error) {
	f.lastQuery = q
	return f.spans, f.err
}

func TestCoreSensorMetrics(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	src := &fakeSource{metrics: []repo.MetricPoint{{Timestamp: now, Value: 0.8}}}
	s, err := NewCoreSensor(src, Config{Kind: models.DataTypeMetrics, Service: "checkout", Lookback: 10 * time.Minute})
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	got, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, DefaultMetric, got[0].Type)
	assert.Equal(t, "checkout", got[0].Component)
	assert.Equal(t, models.DataTypeMetrics, got[0].Source)
	assert.Equal(t, now.Add(-10*time.Minute), src.lastQuery.Start)
	assert.Equal(t, DefaultMetric, src.lastQuery.Metric)
}

func TestCoreSensorLogsAndTraces(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	src := &fakeSource{
		logs:  []repo.LogEntry{{Timestamp: now, Severity: "error", Count: 42}},
		spans: []repo.TraceSpan{{SpanID: "s1", Service: "payments", Operation: "charge", Duration: 1500 * time.Millisecond, Status: "error"}},
	}

	logSensor, err := NewCoreSensor(src, Config{Kind: models.DataTypeLogs, Service: "checkout"})
	require.NoError(t, err)
	logs, err := logSensor.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, TypeLogCount, logs[0].Type)
	assert.Equal(t, "error", logs[0].Label("severity"))
	assert.Equal(t, 42.0, logs[0].Value)

	traceSensor, err := NewCoreSensor(src, Config{Kind: models.DataTypeTraces, Service: "checkout"})
	require.NoError(t, err)
	spans, err := traceSensor.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "payments", spans[0].Component)
	assert.Equal(t, 1500.0, spans[0].Value)
	assert.Equal(t, "charge", spans[0].Label("operation"))
	assert.Equal(t, "core-traces:checkout", traceSensor.Name())
}

func TestCoreSensorPropagatesErrors(t *testing.T) {
	boom := errors.New("core down")
	s, err := NewCoreSensor(&fakeSource{err: boom}, Config{Kind: models.DataTypeLogs, Service: "checkout"})
	require.NoError(t, err)

	_, err = s.Fetch(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestNewCoreSensorValidates(t *testing.T) {
	_, err := NewCoreSensor(&fakeSource{}, Config{Kind: "events", Service: "checkout"})
	assert.Error(t, err)
	_, err = NewCoreSensor(&fakeSource{}, Config{Kind: models.DataTypeLogs})
	assert.Error(t, err)
	_, err = NewCoreSensor(nil, Config{Kind: models.DataTypeLogs, Service: "checkout"})
	assert.Error(t, err)
}
