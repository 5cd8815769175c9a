package detectors

import (
	"context"

	"github.com/miradorstack/mirador-healer/internal/models"
)

// SymptomMetricAnomaly prefixes symptoms raised by ZScoreDetector; the metric name follows.
const SymptomMetricAnomaly = "metric-anomaly:"

// ZScoreDetector flags metric samples whose z-score exceeds a threshold, one symptom per
// component and metric.
type ZScoreDetector struct {
	threshold float64
}

// NewZScoreDetector builds a detector; a non-positive threshold defaults to 2.5.
func NewZScoreDetector(threshold float64) *ZScoreDetector {
	if threshold <= 0 {
		threshold = 2.5
	}
	return &ZScoreDetector{threshold: threshold}
}

func (d *ZScoreDetector) Name() string { return "zscore" }

// Detect never fails; it returns nil when no metric is anomalous.
func (d *ZScoreDetector) Detect(_ context.Context, measurements []models.Measurement) ([]models.Symptom, error) {
	order, groups := groupBy(measurements, models.DataTypeMetrics, func(m models.Measurement) string { return m.Type })

	var symptoms []models.Symptom
	for _, key := range order {
		series := groups[key]
		vals := values(series)
		mu := mean(vals)
		sigma := stdDev(vals, mu)
		if sigma == 0 {
			sigma = 0.01
		}

		var (
			anomalous []models.Measurement
			maxScore  float64
		)
		for _, m := range series {
			score := (m.Value - mu) / sigma
			if score >= d.threshold {
				anomalous = append(anomalous, m)
				if score > maxScore {
					maxScore = score
				}
			}
		}
		if len(anomalous) == 0 {
			continue
		}
		symptoms = append(symptoms, models.Symptom{
			Type:         SymptomMetricAnomaly + key.label,
			Instant:      anomalous[0].Instant,
			Assignments:  []string{key.component},
			Severity:     models.SeverityFromScore(maxScore),
			Score:        maxScore,
			Source:       models.DataTypeMetrics,
			Measurements: anomalous,
		})
	}
	return symptoms, nil
}
