package detectors

import (
	"context"
	"math"
	"strings"

	"github.com/miradorstack/mirador-healer/internal/models"
)

// SymptomLogSpike prefixes symptoms raised by LogSpikeDetector; the severity follows.
const SymptomLogSpike = "log-spike:"

// LogSpikeDetector spots log volume spikes against the window median.
type LogSpikeDetector struct{}

func NewLogSpikeDetector() *LogSpikeDetector {
	return &LogSpikeDetector{}
}

func (d *LogSpikeDetector) Name() string { return "log-spike" }

// Detect scores each bucket by deviation from the median; error buckets more than 30%
// above the median count as a spike even below the deviation threshold.
func (d *LogSpikeDetector) Detect(_ context.Context, measurements []models.Measurement) ([]models.Symptom, error) {
	order, groups := groupBy(measurements, models.DataTypeLogs, func(models.Measurement) string { return "" })

	var symptoms []models.Symptom
	for _, key := range order {
		entries := groups[key]
		counts := values(entries)
		median := percentile(counts, 0.5)
		mad := meanAbsoluteDeviation(counts, median)
		if mad == 0 {
			mad = 1
		}

		bySeverity := make(map[string]*models.Symptom)
		var severities []string
		for _, entry := range entries {
			severity := strings.ToLower(entry.Label("severity"))
			score := math.Abs(entry.Value-median) / mad
			if score < 3 {
				if severity != "error" || entry.Value <= median*1.3 {
					continue
				}
				score = 3
			}
			s, ok := bySeverity[severity]
			if !ok {
				s = &models.Symptom{
					Type:        SymptomLogSpike + severity,
					Instant:     entry.Instant,
					Assignments: []string{key.component},
					Source:      models.DataTypeLogs,
				}
				bySeverity[severity] = s
				severities = append(severities, severity)
			}
			s.Measurements = append(s.Measurements, entry)
			if score > s.Score {
				s.Score = score
			}
		}
		for _, severity := range severities {
			s := bySeverity[severity]
			s.Severity = models.SeverityFromScore(s.Score)
			symptoms = append(symptoms, *s)
		}
	}
	return symptoms, nil
}
