package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-healer/internal/models"
	"github.com/miradorstack/mirador-healer/internal/policy"
	"github.com/miradorstack/mirador-healer/internal/store"
)

type staticSource struct {
	policies []policy.Policy
	running  bool
}

func (s staticSource) Policies() []policy.Policy { return s.policies }
func (s staticSource) Running() bool             { return s.running }

type noopSensor struct{}

func (noopSensor) Name() string { return "noop" }
func (noopSensor) Fetch(context.Context) ([]models.Measurement, error) {
	return nil, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", quietLogger())
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthzFollowsScheduler(t *testing.T) {
	running := NewHTTPHandler(staticSource{running: true}, nil, http.NotFoundHandler(), quietLogger())
	w := get(t, running, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"scheduler":"running"`)

	stopped := NewHTTPHandler(staticSource{}, nil, http.NotFoundHandler(), quietLogger())
	w = get(t, stopped, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"scheduler":"stopped"`)
}

func TestListPolicies(t *testing.T) {
	hp := policy.NewHealthPolicy("checkout-health", 30*time.Second, policy.WithSensors(noopSensor{}))
	h := NewHTTPHandler(staticSource{policies: []policy.Policy{hp}, running: true}, nil, nil, quietLogger())

	w := get(t, h, "/v1/policies")
	require.Equal(t, http.StatusOK, w.Code)

	var got []policyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "checkout-health", got[0].Name)
	assert.True(t, got[0].Due)
	assert.Equal(t, "30s", got[0].Interval)
	assert.Equal(t, []string{"sensing"}, got[0].Capabilities)
	assert.Nil(t, got[0].LastExecution)
}

func TestListActions(t *testing.T) {
	st := testStore(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, st.RecordActions(context.Background(), "checkout", []models.Action{
		{ID: "a1", Type: "recommend", Instant: base},
		{ID: "a2", Type: "recommend", Instant: base.Add(time.Hour)},
	}))
	require.NoError(t, st.RecordActions(context.Background(), "payments", []models.Action{
		{ID: "p1", Type: "notify", Instant: base},
	}))
	h := NewHTTPHandler(staticSource{running: true}, st, nil, quietLogger())

	w := get(t, h, "/v1/actions?policy=checkout&since=2026-01-02T03:30:00Z&limit=10")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got []models.Action
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "a2", got[0].ID)

	w = get(t, h, "/v1/actions")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 3)
}

func TestListActionsRejectsBadQuery(t *testing.T) {
	h := NewHTTPHandler(staticSource{}, testStore(t), nil, quietLogger())

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/v1/actions?since=yesterday").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/v1/actions?limit=-1").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/v1/actions?limit=ten").Code)
}

func TestListActionsWithoutStore(t *testing.T) {
	h := NewHTTPHandler(staticSource{}, nil, nil, quietLogger())
	assert.Equal(t, http.StatusNotFound, get(t, h, "/v1/actions").Code)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("mirador_healer_cycles_total 1\n"))
	})
	h := NewHTTPHandler(staticSource{}, nil, metrics, quietLogger())
	w := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte("cycles_total")))
}
