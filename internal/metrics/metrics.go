package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels pipelines that produced actions without error.
	OutcomeSuccess = "success"
	// OutcomeError labels pipelines aborted by a stage failure.
	OutcomeError = "error"
)

// Stage labels, in pipeline order.
const (
	StageSense    = "sense"
	StageDetect   = "detect"
	StageDiagnose = "diagnose"
	StageResolve  = "resolve"
)

var (
	cyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_healer",
			Name:      "cycles_total",
			Help:      "Total number of scheduler cycles started.",
		},
	)

	sleepSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_healer",
			Name:      "next_wake_seconds",
			Help:      "Wait computed for the current scheduler cycle.",
		},
	)

	interruptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_healer",
			Name:      "sleep_interrupts_total",
			Help:      "Number of scheduler waits cut short by an interrupt.",
		},
	)

	policyExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_healer",
			Name:      "policy_executions_total",
			Help:      "Policy pipeline executions, partitioned by policy and outcome.",
		},
		[]string{"policy", "outcome"},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_healer",
			Name:      "stage_seconds",
			Help:      "Pipeline stage latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"policy", "stage"},
	)

	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_healer",
			Name:      "actions_total",
			Help:      "Actions returned by resolvers, partitioned by policy.",
		},
		[]string{"policy"},
	)
)

// Register attaches mirador-healer collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		sleepSeconds,
		interruptsTotal,
		policyExecutionsTotal,
		stageDurationSeconds,
		actionsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records the start of a cycle and the wait it computed.
func ObserveCycle(wait time.Duration) {
	cyclesTotal.Inc()
	if wait < 0 {
		wait = 0
	}
	sleepSeconds.Set(wait.Seconds())
}

// ObserveInterrupt counts an interrupted wait.
func ObserveInterrupt() {
	interruptsTotal.Inc()
}

// ObserveStage records the latency of one pipeline stage.
func ObserveStage(policy, stage string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	stageDurationSeconds.WithLabelValues(policy, stage).Observe(duration.Seconds())
}

// ObservePolicy records a completed or failed pipeline execution and its action count.
func ObservePolicy(policy, outcome string, actions int) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	policyExecutionsTotal.WithLabelValues(policy, label).Inc()
	if actions > 0 {
		actionsTotal.WithLabelValues(policy).Add(float64(actions))
	}
}
