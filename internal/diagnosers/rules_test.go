package diagnosers

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miradorstack/mirador-healer/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRuleDiagnoserDiagnose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(`rules:
  - id: cpu
    diagnosis: cpu-saturation
    match:
      service: "checkout"
      symptom_contains: ["cpu"]
    recommendations: ["Scale out checkout"]
`), 0644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	d, err := NewRuleDiagnoser(path, quietLogger())
	if err != nil {
		t.Fatalf("new rule diagnoser: %v", err)
	}

	now := time.Now()
	symptoms := []models.Symptom{
		{Type: "metric-anomaly:cpu_usage", Instant: now, Assignments: []string{"checkout"}, Severity: models.SeverityHigh, Score: 3.5, Source: models.DataTypeMetrics},
		{Type: "log-spike:error", Instant: now.Add(-time.Minute), Assignments: []string{"checkout"}, Severity: models.SeverityMedium, Score: 3, Source: models.DataTypeLogs},
	}
	diagnoses, err := d.Diagnose(context.Background(), symptoms)
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	if len(diagnoses) != 2 {
		t.Fatalf("expected rule and unclassified diagnoses, got %d", len(diagnoses))
	}
	if diagnoses[0].Type != "cpu-saturation" || len(diagnoses[0].Symptoms) != 1 {
		t.Fatalf("unexpected rule diagnosis: %+v", diagnoses[0])
	}
	if diagnoses[0].Recommendations[0] != "Scale out checkout" {
		t.Fatalf("unexpected recommendations: %v", diagnoses[0].Recommendations)
	}
	if diagnoses[1].Type != DiagnosisUnclassified || len(diagnoses[1].Recommendations) != 2 {
		t.Fatalf("unexpected fallback diagnosis: %+v", diagnoses[1])
	}
	if !diagnoses[1].Instant.Equal(now.Add(-time.Minute)) {
		t.Fatalf("expected diagnosis instant of earliest symptom")
	}
}

func TestRuleDiagnoserMatchesSeverity(t *testing.T) {
	d := NewRuleDiagnoserFromRules([]Rule{{
		ID:              "critical-only",
		Match:           RuleMatch{Severity: "critical"},
		Recommendations: []string{"Page on-call"},
	}}, quietLogger())

	diagnoses, err := d.Diagnose(context.Background(), []models.Symptom{
		{Type: "slow-span:charge", Assignments: []string{"payments"}, Severity: models.SeverityCritical, Score: 5, Source: models.DataTypeTraces},
	})
	if err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	if len(diagnoses) != 1 || diagnoses[0].Type != "critical-only" {
		t.Fatalf("expected rule id to name the diagnosis, got %+v", diagnoses)
	}
	if diagnoses[0].Confidence != 0.5 {
		t.Fatalf("expected confidence 0.5, got %f", diagnoses[0].Confidence)
	}
}

func TestRuleDiagnoserNoSymptoms(t *testing.T) {
	d := NewRuleDiagnoserFromRules(nil, nil)
	diagnoses, err := d.Diagnose(context.Background(), nil)
	if err != nil || diagnoses != nil {
		t.Fatalf("expected no diagnoses, got %v %v", diagnoses, err)
	}
}

func TestRuleDiagnoserNoFile(t *testing.T) {
	d, err := NewRuleDiagnoser("non-existent", nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if d == nil || len(d.rules) != 0 {
		t.Fatalf("expected empty diagnoser when file missing")
	}
}

func TestRuleDiagnoserInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("rules: [:"), 0644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	if _, err := NewRuleDiagnoser(path, nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestConfidenceGrowsWithSources(t *testing.T) {
	one := confidence([]models.Symptom{{Source: models.DataTypeMetrics, Score: 8}})
	three := confidence([]models.Symptom{
		{Source: models.DataTypeMetrics, Score: 8},
		{Source: models.DataTypeLogs, Score: 8},
		{Source: models.DataTypeTraces, Score: 8},
	})
	if one != 0.5 {
		t.Fatalf("expected 0.5 for a single saturated source, got %f", one)
	}
	if three != 1 {
		t.Fatalf("expected confidence capped at 1, got %f", three)
	}
}
