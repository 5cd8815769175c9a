package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/miradorstack/mirador-healer/internal/models"
)

// HealthPolicy is a Policy that runs its registered components on a fixed interval.
// Each stage runs every registered component in registration order and concatenates
// their results.
type HealthPolicy struct {
	name     string
	interval time.Duration
	now      func() time.Time

	sensors    []Sensor
	detectors  []Detector
	diagnosers []Diagnoser
	resolvers  []Resolver

	mu              sync.Mutex
	lastExecution   time.Time
	oneTimeDelayEnd time.Time
}

// PolicyOption configures a HealthPolicy.
type PolicyOption func(*HealthPolicy)

// WithSensors registers sensors.
func WithSensors(sensors ...Sensor) PolicyOption {
	return func(p *HealthPolicy) { p.sensors = append(p.sensors, sensors...) }
}

// WithDetectors registers detectors.
func WithDetectors(detectors ...Detector) PolicyOption {
	return func(p *HealthPolicy) { p.detectors = append(p.detectors, detectors...) }
}

// WithDiagnosers registers diagnosers.
func WithDiagnosers(diagnosers ...Diagnoser) PolicyOption {
	return func(p *HealthPolicy) { p.diagnosers = append(p.diagnosers, diagnosers...) }
}

// WithResolvers registers resolvers.
func WithResolvers(resolvers ...Resolver) PolicyOption {
	return func(p *HealthPolicy) { p.resolvers = append(p.resolvers, resolvers...) }
}

// WithClock overrides the wall clock, mainly for tests.
func WithClock(now func() time.Time) PolicyOption {
	return func(p *HealthPolicy) {
		if now != nil {
			p.now = now
		}
	}
}

// NewHealthPolicy creates a policy that wants to run every interval.
func NewHealthPolicy(name string, interval time.Duration, opts ...PolicyOption) *HealthPolicy {
	p := &HealthPolicy{
		name:     name,
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the policy name.
func (p *HealthPolicy) Name() string { return p.name }

// Interval returns the configured execution interval.
func (p *HealthPolicy) Interval() time.Duration { return p.interval }

// Delay returns the time remaining until the policy is due. A policy that never ran is due now.
func (p *HealthPolicy) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.oneTimeDelayEnd.IsZero() {
		return p.oneTimeDelayEnd.Sub(now)
	}
	if p.lastExecution.IsZero() {
		return 0
	}
	return p.lastExecution.Add(p.interval).Sub(now)
}

// SetOneTimeDelay postpones the next execution by d, regardless of the interval. The
// override is cleared once sensing runs again.
func (p *HealthPolicy) SetOneTimeDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.oneTimeDelayEnd = p.now().Add(d)
}

// LastExecution returns when sensing last ran; zero if never.
func (p *HealthPolicy) LastExecution() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastExecution
}

// Capabilities reports the stages with at least one registered component.
func (p *HealthPolicy) Capabilities() CapabilitySet {
	var caps CapabilitySet
	if len(p.sensors) > 0 {
		caps = caps.With(CapabilitySensing)
	}
	if len(p.detectors) > 0 {
		caps = caps.With(CapabilityDetection)
	}
	if len(p.diagnosers) > 0 {
		caps = caps.With(CapabilityDiagnosis)
	}
	if len(p.resolvers) > 0 {
		caps = caps.With(CapabilityResolution)
	}
	return caps
}

// ActionNames collects the action names of every resolver.
func (p *HealthPolicy) ActionNames() ([]string, error) {
	if len(p.resolvers) == 0 {
		return nil, Unsupported(p.name, CapabilityActionNaming)
	}
	names := make([]string, 0, len(p.resolvers))
	for _, r := range p.resolvers {
		n, err := r.ActionNames()
		if err != nil {
			return nil, fmt.Errorf("resolver %s: %w", r.Name(), err)
		}
		names = append(names, n...)
	}
	return names, nil
}

// Initialize prepares every resolver. It stops at the first failure.
func (p *HealthPolicy) Initialize(ctx context.Context) error {
	for _, r := range p.resolvers {
		if err := r.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize resolver %s: %w", r.Name(), err)
		}
	}
	return nil
}

// Close releases every resolver and joins their errors.
func (p *HealthPolicy) Close() error {
	var errs []error
	for _, r := range p.resolvers {
		if err := r.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close resolver %s: %w", r.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// ExecuteSensors runs all sensors and marks the policy as executed.
func (p *HealthPolicy) ExecuteSensors(ctx context.Context) ([]models.Measurement, error) {
	if len(p.sensors) == 0 {
		return nil, Unsupported(p.name, CapabilitySensing)
	}

	p.mu.Lock()
	p.lastExecution = p.now()
	p.oneTimeDelayEnd = time.Time{}
	p.mu.Unlock()

	var out []models.Measurement
	for _, s := range p.sensors {
		measurements, err := s.Fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("sensor %s: %w", s.Name(), err)
		}
		out = append(out, measurements...)
	}
	return out, nil
}

// ExecuteDetectors runs all detectors over the measurements.
func (p *HealthPolicy) ExecuteDetectors(ctx context.Context, measurements []models.Measurement) ([]models.Symptom, error) {
	if len(p.detectors) == 0 {
		return nil, Unsupported(p.name, CapabilityDetection)
	}
	var out []models.Symptom
	for _, d := range p.detectors {
		symptoms, err := d.Detect(ctx, measurements)
		if err != nil {
			return nil, fmt.Errorf("detector %s: %w", d.Name(), err)
		}
		out = append(out, symptoms...)
	}
	return out, nil
}

// ExecuteDiagnosers runs all diagnosers over the symptoms.
func (p *HealthPolicy) ExecuteDiagnosers(ctx context.Context, symptoms []models.Symptom) ([]models.Diagnosis, error) {
	if len(p.diagnosers) == 0 {
		return nil, Unsupported(p.name, CapabilityDiagnosis)
	}
	var out []models.Diagnosis
	for _, d := range p.diagnosers {
		diagnoses, err := d.Diagnose(ctx, symptoms)
		if err != nil {
			return nil, fmt.Errorf("diagnoser %s: %w", d.Name(), err)
		}
		out = append(out, diagnoses...)
	}
	return out, nil
}

// ExecuteResolvers runs all resolvers over the diagnoses and stamps the policy name on
// the resulting actions.
func (p *HealthPolicy) ExecuteResolvers(ctx context.Context, diagnoses []models.Diagnosis) ([]models.Action, error) {
	if len(p.resolvers) == 0 {
		return nil, Unsupported(p.name, CapabilityResolution)
	}
	var out []models.Action
	for _, r := range p.resolvers {
		actions, err := r.Resolve(ctx, diagnoses)
		if err != nil {
			return nil, fmt.Errorf("resolver %s: %w", r.Name(), err)
		}
		for i := range actions {
			if actions[i].Policy == "" {
				actions[i].Policy = p.name
			}
			if actions[i].Resolver == "" {
				actions[i].Resolver = r.Name()
			}
		}
		out = append(out, actions...)
	}
	return out, nil
}
