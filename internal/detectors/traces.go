package detectors

import (
	"context"
	"strings"

	"github.com/miradorstack/mirador-healer/internal/models"
)

// Span symptom prefixes; the operation name follows.
const (
	SymptomSlowSpan  = "slow-span:"
	SymptomSpanError = "span-error:"
)

// SlowSpanDetector flags spans much slower than the population mean, and failed spans.
type SlowSpanDetector struct {
	threshold float64
}

// NewSlowSpanDetector constructs a SlowSpanDetector with the default threshold (2.0).
func NewSlowSpanDetector() *SlowSpanDetector {
	return &SlowSpanDetector{threshold: 2.0}
}

func (d *SlowSpanDetector) Name() string { return "slow-span" }

func (d *SlowSpanDetector) Detect(_ context.Context, measurements []models.Measurement) ([]models.Symptom, error) {
	var spans []models.Measurement
	for _, m := range measurements {
		if m.Source == models.DataTypeTraces {
			spans = append(spans, m)
		}
	}
	if len(spans) == 0 {
		return nil, nil
	}

	vals := values(spans)
	mu := mean(vals)
	sigma := stdDev(vals, mu)
	if sigma == 0 {
		sigma = 0.01
	}

	index := make(map[string]int)
	var symptoms []models.Symptom
	for _, span := range spans {
		score := (span.Value - mu) / sigma
		failed := span.Label("status") == "error"
		if score < d.threshold && !failed {
			continue
		}

		prefix := SymptomSlowSpan
		if failed {
			prefix = SymptomSpanError
		}
		typ := prefix + span.Label("operation")
		key := span.Component + "|" + typ

		i, ok := index[key]
		if !ok {
			symptoms = append(symptoms, models.Symptom{
				Type:        typ,
				Instant:     span.Instant,
				Assignments: []string{span.Component},
				Source:      models.DataTypeTraces,
			})
			i = len(symptoms) - 1
			index[key] = i
		}
		s := &symptoms[i]
		s.Measurements = append(s.Measurements, span)
		if score > s.Score {
			s.Score = score
		}
	}

	for i := range symptoms {
		s := &symptoms[i]
		s.Severity = models.SeverityFromScore(s.Score)
		if strings.HasPrefix(s.Type, SymptomSpanError) && s.Severity != models.SeverityCritical {
			s.Severity = models.SeverityHigh
		}
	}
	return symptoms, nil
}
