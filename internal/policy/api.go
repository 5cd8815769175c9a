package policy

import (
	"context"
	"time"

	"github.com/miradorstack/mirador-healer/internal/models"
)

// Policy is the contract the scheduler drives. Delay must be non-blocking; the Execute
// methods are called synchronously, in pipeline order, only when Delay is non-positive.
type Policy interface {
	Name() string
	Delay() time.Duration
	ExecuteSensors(ctx context.Context) ([]models.Measurement, error)
	ExecuteDetectors(ctx context.Context, measurements []models.Measurement) ([]models.Symptom, error)
	ExecuteDiagnosers(ctx context.Context, symptoms []models.Symptom) ([]models.Diagnosis, error)
	ExecuteResolvers(ctx context.Context, diagnoses []models.Diagnosis) ([]models.Action, error)
}

// Capable is implemented by policies that declare which stages they provide.
type Capable interface {
	Capabilities() CapabilitySet
}

// Sensor produces measurements.
type Sensor interface {
	Name() string
	Fetch(ctx context.Context) ([]models.Measurement, error)
}

// Detector turns measurements into symptoms.
type Detector interface {
	Name() string
	Detect(ctx context.Context, measurements []models.Measurement) ([]models.Symptom, error)
}

// Diagnoser turns symptoms into likely causes.
type Diagnoser interface {
	Name() string
	Diagnose(ctx context.Context, symptoms []models.Symptom) ([]models.Diagnosis, error)
}

// Resolver executes actions to bring a component back to a healthy state.
type Resolver interface {
	Name() string
	// ActionNames lists the action types this resolver creates.
	ActionNames() ([]string, error)
	// Initialize is called once before the first Resolve.
	Initialize(ctx context.Context) error
	Resolve(ctx context.Context, diagnoses []models.Diagnosis) ([]models.Action, error)
	// Close releases resources on teardown.
	Close() error
}

// UnimplementedResolver can be embedded to satisfy Resolver partially. ActionNames and
// Resolve report ErrUnsupported; Initialize and Close do nothing.
type UnimplementedResolver struct{}

func (UnimplementedResolver) Name() string { return "unimplemented" }

func (UnimplementedResolver) ActionNames() ([]string, error) {
	return nil, Unsupported("", CapabilityActionNaming)
}

func (UnimplementedResolver) Initialize(context.Context) error { return nil }

func (UnimplementedResolver) Resolve(context.Context, []models.Diagnosis) ([]models.Action, error) {
	return nil, Unsupported("", CapabilityResolution)
}

func (UnimplementedResolver) Close() error { return nil }

// Recorder persists the actions a policy produced in one cycle.
type Recorder interface {
	RecordActions(ctx context.Context, policy string, actions []models.Action) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, policy string, actions []models.Action) error

// RecordActions implements Recorder.
func (f RecorderFunc) RecordActions(ctx context.Context, policy string, actions []models.Action) error {
	return f(ctx, policy, actions)
}
