package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miradorstack/mirador-healer/internal/metrics"
	"github.com/miradorstack/mirador-healer/internal/models"
	"github.com/miradorstack/mirador-healer/internal/utils"
)

const (
	// DefaultFallbackInterval is the wait used when the scheduler has no policies.
	DefaultFallbackInterval = 10 * time.Second
	// DefaultCycleGap separates consecutive cycles so always-due policies cannot spin the loop.
	DefaultCycleGap = time.Millisecond
)

// FailureMode decides what a stage error does to the scheduler.
type FailureMode int

const (
	// HaltOnError stops the loop and reports the error on the Handle.
	HaltOnError FailureMode = iota
	// IsolateFailures logs the error and moves on to the next policy.
	IsolateFailures
)

// ParseFailureMode accepts "halt" or "isolate".
func ParseFailureMode(s string) (FailureMode, error) {
	switch s {
	case "", "halt":
		return HaltOnError, nil
	case "isolate":
		return IsolateFailures, nil
	default:
		return HaltOnError, fmt.Errorf("unknown failure mode %q", s)
	}
}

func (m FailureMode) String() string {
	if m == IsolateFailures {
		return "isolate"
	}
	return "halt"
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFallbackInterval overrides the empty-policy-set wait.
func WithFallbackInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.fallback = d
		}
	}
}

// WithCycleGap overrides the pause between cycles.
func WithCycleGap(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.gap = d
		}
	}
}

// WithFailureMode selects how stage failures are handled.
func WithFailureMode(mode FailureMode) Option {
	return func(s *Scheduler) { s.failureMode = mode }
}

// WithRecorder persists the actions of each executed policy.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// Scheduler runs a fixed set of policies from a single background goroutine, waking at
// the earliest delay any policy reports.
type Scheduler struct {
	policies    []Policy
	fallback    time.Duration
	gap         time.Duration
	failureMode FailureMode
	recorder    Recorder
	logger      *slog.Logger
	latencies   *utils.LatencyTracker

	wake    chan struct{}
	running atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// NewScheduler creates a scheduler over a copy of policies.
func NewScheduler(policies []Policy, opts ...Option) *Scheduler {
	s := &Scheduler{
		policies:  append([]Policy(nil), policies...),
		fallback:  DefaultFallbackInterval,
		gap:       DefaultCycleGap,
		logger:    slog.Default(),
		latencies: utils.NewLatencyTracker(1024),
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// Policies returns the scheduled policies in execution order.
func (s *Scheduler) Policies() []Policy {
	return append([]Policy(nil), s.policies...)
}

// Running reports whether the background loop is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// NextDelay returns the smallest delay reported by policies, never below zero, or
// fallback when there are none.
func NextDelay(policies []Policy, fallback time.Duration) time.Duration {
	if len(policies) == 0 {
		return fallback
	}
	next := policies[0].Delay()
	for _, p := range policies[1:] {
		if d := p.Delay(); d < next {
			next = d
		}
	}
	if next < 0 {
		return 0
	}
	return next
}

// Handle represents a running scheduler loop.
type Handle struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the error that halted the loop. It is nil while running and after a
// normal stop.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the loop exits and returns Err.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Cancel stops the loop this handle belongs to.
func (h *Handle) Cancel() { h.cancel() }

// Start launches the background loop. It must be called at most once. A scheduler that
// was already stopped runs nothing and returns a handle that is already done.
func (s *Scheduler) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{done: make(chan struct{}), cancel: cancel}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		close(h.done)
		s.logger.Warn("start ignored, scheduler already stopped")
		return h
	}
	s.cancel = cancel
	s.running.Store(true)
	s.mu.Unlock()

	go func() {
		defer close(h.done)
		defer s.running.Store(false)
		h.err = s.loop(ctx)
		if h.err != nil {
			s.logger.Error("scheduler halted", slog.Any("error", h.err))
		} else {
			s.logger.Info("scheduler stopped")
		}
	}()
	return h
}

// Stop cancels the loop immediately, including a pending wait. A stage that is already
// running is left to return; no further stage or cycle starts. Safe to call repeatedly,
// and before Start, in which case Start never runs a cycle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Interrupt cuts the current (or next) wait short. The scheduler keeps running and
// evaluates due policies straight away.
func (s *Scheduler) Interrupt() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) error {
	s.logger.Info("scheduler started",
		slog.Int("policies", len(s.policies)),
		slog.String("failure_mode", s.failureMode.String()))

	for {
		if err := s.runCycle(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		}
		if !s.pause(ctx, s.gap) {
			return nil
		}
	}
}

type wakeReason int

const (
	wakeElapsed wakeReason = iota
	wakeInterrupted
	wakeCancelled
)

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) wakeReason {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return wakeCancelled
	case <-s.wake:
		return wakeInterrupted
	case <-timer.C:
		return wakeElapsed
	}
}

func (s *Scheduler) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Scheduler) runCycle(ctx context.Context) error {
	wait := NextDelay(s.policies, s.fallback)
	metrics.ObserveCycle(wait)

	if wait > 0 {
		s.logger.Debug("waiting before next policy execution cycle", slog.Duration("wait", wait))
		switch s.sleep(ctx, wait) {
		case wakeCancelled:
			return ctx.Err()
		case wakeInterrupted:
			metrics.ObserveInterrupt()
			s.logger.Warn("interrupted while waiting for next policy execution cycle")
		}
	}

	for _, p := range s.policies {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Delay() > 0 {
			continue
		}
		if err := s.executePolicy(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RunOnce executes every policy's pipeline immediately, ignoring delays, and returns the
// collected actions.
func (s *Scheduler) RunOnce(ctx context.Context) ([]models.Action, error) {
	var all []models.Action
	for _, p := range s.policies {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		actions, err := s.pipeline(ctx, p)
		if err != nil {
			if handled := s.handleFailure(ctx, p, err); handled != nil {
				return all, handled
			}
			continue
		}
		s.record(ctx, p, actions)
		all = append(all, actions...)
	}
	return all, nil
}

func (s *Scheduler) executePolicy(ctx context.Context, p Policy) error {
	s.logger.Info("executing policy", slog.String("policy", p.Name()))
	actions, err := s.pipeline(ctx, p)
	if err != nil {
		return s.handleFailure(ctx, p, err)
	}
	s.record(ctx, p, actions)
	return nil
}

// handleFailure returns the error that should stop the caller, or nil to continue.
func (s *Scheduler) handleFailure(ctx context.Context, p Policy, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	metrics.ObservePolicy(p.Name(), metrics.OutcomeError, 0)
	if s.failureMode == IsolateFailures {
		s.logger.Error("policy execution failed", slog.String("policy", p.Name()), slog.Any("error", err))
		return nil
	}
	return fmt.Errorf("policy %s: %w", p.Name(), err)
}

func (s *Scheduler) pipeline(ctx context.Context, p Policy) ([]models.Action, error) {
	name := p.Name()
	start := time.Now()

	measurements, err := runStage(ctx, name, metrics.StageSense, func() ([]models.Measurement, error) {
		return p.ExecuteSensors(ctx)
	})
	if err != nil {
		return nil, err
	}
	symptoms, err := runStage(ctx, name, metrics.StageDetect, func() ([]models.Symptom, error) {
		return p.ExecuteDetectors(ctx, measurements)
	})
	if err != nil {
		return nil, err
	}
	diagnoses, err := runStage(ctx, name, metrics.StageDiagnose, func() ([]models.Diagnosis, error) {
		return p.ExecuteDiagnosers(ctx, symptoms)
	})
	if err != nil {
		return nil, err
	}
	actions, err := runStage(ctx, name, metrics.StageResolve, func() ([]models.Action, error) {
		return p.ExecuteResolvers(ctx, diagnoses)
	})
	if err != nil {
		return nil, err
	}

	s.latencies.Observe(time.Since(start))
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("policy pipeline latency",
			slog.Duration("p95", s.latencies.Percentile(95)),
			slog.Int("samples", count))
	}
	return actions, nil
}

func runStage[T any](ctx context.Context, policy, stage string, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	start := time.Now()
	out, err := fn()
	metrics.ObserveStage(policy, stage, time.Since(start))
	if err != nil {
		return zero, fmt.Errorf("%s: %w", stage, err)
	}
	return out, nil
}

func (s *Scheduler) record(ctx context.Context, p Policy, actions []models.Action) {
	metrics.ObservePolicy(p.Name(), metrics.OutcomeSuccess, len(actions))
	s.logger.Info("policy executed",
		slog.String("policy", p.Name()),
		slog.Int("actions", len(actions)),
		slog.Any("action_types", actionTypes(actions)))

	if s.recorder == nil || len(actions) == 0 {
		return
	}
	if err := s.recorder.RecordActions(ctx, p.Name(), actions); err != nil {
		s.logger.Warn("failed to record actions", slog.String("policy", p.Name()), slog.Any("error", err))
	}
}

func actionTypes(actions []models.Action) []string {
	types := make([]string, 0, len(actions))
	for _, a := range actions {
		types = append(types, a.Type)
	}
	return types
}
