package detectors

import (
	"math"
	"sort"

	"github.com/miradorstack/mirador-healer/internal/models"
)

type groupKey struct {
	component string
	label     string
}

// groupBy buckets measurements of the given source, preserving first-seen order.
func groupBy(measurements []models.Measurement, source models.DataType, label func(models.Measurement) string) ([]groupKey, map[groupKey][]models.Measurement) {
	order := make([]groupKey, 0)
	groups := make(map[groupKey][]models.Measurement)
	for _, m := range measurements {
		if m.Source != source {
			continue
		}
		key := groupKey{component: m.Component, label: label(m)}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], m)
	}
	return order, groups
}

func values(ms []models.Measurement) []float64 {
	out := make([]float64, len(ms))
	for i, m := range ms {
		out[i] = m.Value
	}
	return out
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range vals {
		total += v
	}
	return total / float64(len(vals))
}

func stdDev(vals []float64, mean float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		diff := v - mean
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(vals)))
}

func percentile(vals []float64, p float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	idx := int(math.Round(p * float64(len(sorted)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func meanAbsoluteDeviation(vals []float64, center float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += math.Abs(v - center)
	}
	return sum / float64(len(vals))
}
