package policy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-healer/internal/models"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubSensor struct {
	name string
	out  []models.Measurement
	err  error
}

func (s stubSensor) Name() string { return s.name }
func (s stubSensor) Fetch(context.Context) ([]models.Measurement, error) {
	return s.out, s.err
}

type stubDetector struct{ out []models.Symptom }

func (stubDetector) Name() string { return "stub-detector" }
func (d stubDetector) Detect(context.Context, []models.Measurement) ([]models.Symptom, error) {
	return d.out, nil
}

type stubDiagnoser struct{ out []models.Diagnosis }

func (stubDiagnoser) Name() string { return "stub-diagnoser" }
func (d stubDiagnoser) Diagnose(context.Context, []models.Symptom) ([]models.Diagnosis, error) {
	return d.out, nil
}

type stubResolver struct {
	UnimplementedResolver
	names       []string
	initialized int
	closeErr    error
}

func (r *stubResolver) Name() string { return "stub-resolver" }

func (r *stubResolver) ActionNames() ([]string, error) { return r.names, nil }

func (r *stubResolver) Initialize(context.Context) error {
	r.initialized++
	return nil
}

func (r *stubResolver) Resolve(_ context.Context, d []models.Diagnosis) ([]models.Action, error) {
	actions := make([]models.Action, 0, len(d))
	for _, diag := range d {
		actions = append(actions, models.Action{Type: "restart", Diagnoses: []string{diag.Type}})
	}
	return actions, nil
}

func (r *stubResolver) Close() error { return r.closeErr }

// partialResolver only names its actions; resolving is left unimplemented.
type partialResolver struct {
	UnimplementedResolver
}

func (partialResolver) Name() string { return "partial" }

func (partialResolver) ActionNames() ([]string, error) { return []string{"noop"}, nil }

func TestHealthPolicyDelayFollowsInterval(t *testing.T) {
	clock := newManualClock()
	p := NewHealthPolicy("cpu", 10*time.Second,
		WithClock(clock.Now),
		WithSensors(stubSensor{name: "s"}))

	assert.Equal(t, time.Duration(0), p.Delay(), "never executed policy is due")

	_, err := p.ExecuteSensors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, p.Delay())
	assert.Equal(t, clock.Now(), p.LastExecution())

	clock.Advance(4 * time.Second)
	assert.Equal(t, 6*time.Second, p.Delay())

	clock.Advance(8 * time.Second)
	assert.Equal(t, -2*time.Second, p.Delay(), "overdue policy reports a negative delay")
}

func TestHealthPolicyOneTimeDelay(t *testing.T) {
	clock := newManualClock()
	p := NewHealthPolicy("cpu", time.Second,
		WithClock(clock.Now),
		WithSensors(stubSensor{name: "s"}))

	p.SetOneTimeDelay(time.Minute)
	assert.Equal(t, time.Minute, p.Delay())

	clock.Advance(time.Minute)
	assert.Equal(t, time.Duration(0), p.Delay())

	_, err := p.ExecuteSensors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Second, p.Delay(), "one-time delay is cleared after sensing")
}

func TestHealthPolicyPipelineConcatenatesComponents(t *testing.T) {
	m1 := models.Measurement{Component: "checkout", Type: "cpu", Value: 1}
	m2 := models.Measurement{Component: "checkout", Type: "latency", Value: 2}
	resolver := &stubResolver{names: []string{"restart"}}

	p := NewHealthPolicy("checkout", time.Minute,
		WithSensors(stubSensor{name: "a", out: []models.Measurement{m1}}, stubSensor{name: "b", out: []models.Measurement{m2}}),
		WithDetectors(stubDetector{out: []models.Symptom{{Type: "cpu-high"}}}),
		WithDiagnosers(stubDiagnoser{out: []models.Diagnosis{{Type: "overload"}}}),
		WithResolvers(resolver))

	ctx := context.Background()
	measurements, err := p.ExecuteSensors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Measurement{m1, m2}, measurements)

	symptoms, err := p.ExecuteDetectors(ctx, measurements)
	require.NoError(t, err)
	diagnoses, err := p.ExecuteDiagnosers(ctx, symptoms)
	require.NoError(t, err)
	actions, err := p.ExecuteResolvers(ctx, diagnoses)
	require.NoError(t, err)

	require.Len(t, actions, 1)
	assert.Equal(t, "checkout", actions[0].Policy)
	assert.Equal(t, "stub-resolver", actions[0].Resolver)
	assert.Equal(t, []string{"overload"}, actions[0].Diagnoses)

	names, err := p.ActionNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"restart"}, names)
}

func TestHealthPolicySensorErrorIsWrapped(t *testing.T) {
	boom := errors.New("core unreachable")
	p := NewHealthPolicy("cpu", time.Minute, WithSensors(stubSensor{name: "core", err: boom}))

	_, err := p.ExecuteSensors(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "sensor core")
}

func TestHealthPolicyUndeclaredStageIsUnsupported(t *testing.T) {
	p := NewHealthPolicy("sense-only", time.Minute, WithSensors(stubSensor{name: "s"}))

	assert.True(t, p.Capabilities().Has(CapabilitySensing))
	assert.False(t, p.Capabilities().Has(CapabilityResolution))

	_, err := p.ExecuteDetectors(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnsupported)

	actions, err := p.ExecuteResolvers(context.Background(), nil)
	assert.Nil(t, actions)
	var unsupported *UnsupportedError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, CapabilityResolution, unsupported.Capability)
	assert.Equal(t, "sense-only", unsupported.Component)

	_, err = p.ActionNames()
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestUnimplementedResolveSignalsUnsupported(t *testing.T) {
	p := NewHealthPolicy("partial", time.Minute, WithResolvers(partialResolver{}))

	actions, err := p.ExecuteResolvers(context.Background(), []models.Diagnosis{{Type: "overload"}})
	assert.Nil(t, actions, "unsupported must not look like an empty result")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupported)

	var r UnimplementedResolver
	_, err = r.ActionNames()
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.NoError(t, r.Initialize(context.Background()))
	assert.NoError(t, r.Close())
}

func TestHealthPolicyInitializeAndClose(t *testing.T) {
	first := &stubResolver{closeErr: errors.New("first")}
	second := &stubResolver{closeErr: errors.New("second")}
	p := NewHealthPolicy("lifecycle", time.Minute, WithResolvers(first, second))

	require.NoError(t, p.Initialize(context.Background()))
	assert.Equal(t, 1, first.initialized)
	assert.Equal(t, 1, second.initialized)

	err := p.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "second")
}

func TestCapabilitySetNames(t *testing.T) {
	set := NewCapabilitySet(CapabilityResolution, CapabilitySensing)
	assert.Equal(t, []string{"sensing", "resolution"}, set.Names())
	assert.Equal(t, "[sensing,resolution]", set.String())
	assert.Equal(t, "action-naming", CapabilityActionNaming.String())
}
