package diagnosers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-healer/internal/models"
	"github.com/miradorstack/mirador-healer/internal/repo"
	"github.com/miradorstack/mirador-healer/internal/utils"
)

// DiagnosisUpstream is produced when an upstream dependency likely caused the symptoms.
const DiagnosisUpstream = "upstream-dependency"

// GraphSource returns service dependency edges.
type GraphSource interface {
	FetchServiceGraph(ctx context.Context, tenantID string, start, end time.Time) ([]repo.ServiceGraphEdge, error)
}

// CausalityDiagnoser checks whether the anomalies of the most affected service are
// preceded by anomalies, or errors, of one of its callers.
type CausalityDiagnoser struct {
	graph    GraphSource
	tenantID string
	lookback time.Duration
	logger   *slog.Logger
}

// CausalityResult captures the outcome of a causality evaluation.
type CausalityResult struct {
	Score            float64
	Notes            []string
	SuggestedService string
}

// NewCausalityDiagnoser constructs a CausalityDiagnoser.
func NewCausalityDiagnoser(graph GraphSource, tenantID string, lookback time.Duration, logger *slog.Logger) *CausalityDiagnoser {
	if logger == nil {
		logger = slog.Default()
	}
	return &CausalityDiagnoser{
		graph:    graph,
		tenantID: tenantID,
		lookback: lookback,
		logger:   logger.With("component", "causality-diagnoser"),
	}
}

func (d *CausalityDiagnoser) Name() string { return "causality" }

// Diagnose returns at most one upstream diagnosis. A failed graph lookup is logged and
// yields no diagnosis rather than failing the pipeline.
func (d *CausalityDiagnoser) Diagnose(ctx context.Context, symptoms []models.Symptom) ([]models.Diagnosis, error) {
	root := rootService(symptoms)
	if root == "" || d.graph == nil {
		return nil, nil
	}

	start, end := utils.Window(time.Now(), d.lookback)
	edges, err := d.graph.FetchServiceGraph(ctx, d.tenantID, start, end)
	if err != nil {
		d.logger.Warn("service graph fetch failed", slog.Any("error", err))
		return nil, nil
	}

	result := Evaluate(root, symptoms, edges)
	for _, note := range result.Notes {
		d.logger.Debug("causality note", slog.String("note", note))
	}
	if result.SuggestedService == "" || strings.EqualFold(result.SuggestedService, root) {
		return nil, nil
	}

	diagnosis := newDiagnosis(DiagnosisUpstream, symptoms, []string{
		fmt.Sprintf("Investigate upstream service %s", result.SuggestedService),
		fmt.Sprintf("Consider shedding traffic from %s to %s", result.SuggestedService, root),
	})
	diagnosis.Assignments = appendUnique([]string{result.SuggestedService}, diagnosis.Assignments...)
	diagnosis.Confidence = clamp(diagnosis.Confidence*0.6+result.Score*0.4, 0, 1)
	return []models.Diagnosis{diagnosis}, nil
}

// Evaluate inspects upstream edges and symptom ordering to derive a causality score in [0,1].
func Evaluate(rootService string, symptoms []models.Symptom, edges []repo.ServiceGraphEdge) CausalityResult {
	result := CausalityResult{}
	if rootService == "" || len(edges) == 0 || len(symptoms) == 0 {
		return result
	}

	rootTime := firstSymptomTime(rootService, symptoms)
	if rootTime.IsZero() {
		rootTime = symptoms[0].Instant
	}

	totalUpstream := 0
	supporting := 0

	var suggested repo.ServiceGraphEdge
	for _, edge := range edges {
		if !strings.EqualFold(edge.Target, rootService) {
			continue
		}
		totalUpstream++
		srcTime := firstSymptomTime(edge.Source, symptoms)
		if srcTime.IsZero() {
			if edge.ErrorRate > 0 {
				supporting++
				result.Notes = append(result.Notes, edge.Source+" error rate influencing "+rootService)
				if suggested.Source == "" || edge.ErrorRate > suggested.ErrorRate {
					suggested = edge
				}
			}
			continue
		}
		if srcTime.Before(rootTime) {
			supporting++
			result.Notes = append(result.Notes, edge.Source+" precedes "+rootService)
			if suggested.Source == "" || edge.CallRate > suggested.CallRate {
				suggested = edge
			}
		} else {
			result.Notes = append(result.Notes, edge.Source+" occurs after root cause")
		}
	}

	if totalUpstream == 0 {
		return result
	}

	score := float64(supporting) / float64(totalUpstream)
	result.Score = clamp(0.4+0.6*score, 0, 1)
	result.SuggestedService = suggested.Source
	return result
}

// rootService is the first assignment of the highest-scoring symptom.
func rootService(symptoms []models.Symptom) string {
	var (
		root string
		best = -1.0
	)
	for _, s := range symptoms {
		if len(s.Assignments) == 0 {
			continue
		}
		if s.Score > best {
			best = s.Score
			root = s.Assignments[0]
		}
	}
	return root
}

func firstSymptomTime(service string, symptoms []models.Symptom) time.Time {
	var first time.Time
	for _, s := range symptoms {
		for _, a := range s.Assignments {
			if strings.EqualFold(a, service) && (first.IsZero() || s.Instant.Before(first)) {
				first = s.Instant
			}
		}
	}
	return first
}
