package diagnosers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-healer/internal/models"
)

// DiagnosisUnclassified is produced for symptoms no rule claims.
const DiagnosisUnclassified = "unclassified-anomaly"

// RuleDiagnoser maps symptoms onto named diagnoses using a YAML rule pack.
type RuleDiagnoser struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule turns matching symptoms into one diagnosis.
type Rule struct {
	ID              string    `yaml:"id"`
	Diagnosis       string    `yaml:"diagnosis"`
	Match           RuleMatch `yaml:"match"`
	Recommendations []string  `yaml:"recommendations"`
}

// RuleMatch defines optional attributes for rule matching. Empty fields match anything.
type RuleMatch struct {
	Service         string   `yaml:"service"`
	Severity        string   `yaml:"severity"`
	SymptomContains []string `yaml:"symptom_contains"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// NewRuleDiagnoser loads rules from path. An empty or missing path yields a diagnoser
// with no rules, which reports every symptom as unclassified.
func NewRuleDiagnoser(path string, logger *slog.Logger) (*RuleDiagnoser, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &RuleDiagnoser{logger: logger.With("component", "rule-diagnoser")}
	if path == "" {
		return d, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			d.logger.Info("rule pack not found, using generic diagnoses", slog.String("path", path))
			return d, nil
		}
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	d.rules = cfg.Rules
	return d, nil
}

// NewRuleDiagnoserFromRules builds a diagnoser from in-memory rules.
func NewRuleDiagnoserFromRules(rules []Rule, logger *slog.Logger) *RuleDiagnoser {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleDiagnoser{rules: rules, logger: logger.With("component", "rule-diagnoser")}
}

func (d *RuleDiagnoser) Name() string { return "rules" }

// Diagnose applies every rule in order. A symptom may feed several diagnoses; symptoms
// that match no rule are gathered into a single unclassified diagnosis.
func (d *RuleDiagnoser) Diagnose(_ context.Context, symptoms []models.Symptom) ([]models.Diagnosis, error) {
	if len(symptoms) == 0 {
		return nil, nil
	}

	claimed := make([]bool, len(symptoms))
	var diagnoses []models.Diagnosis
	for _, rule := range d.rules {
		var matched []models.Symptom
		for i, s := range symptoms {
			if rule.matches(s) {
				matched = append(matched, s)
				claimed[i] = true
			}
		}
		if len(matched) == 0 {
			continue
		}
		name := rule.Diagnosis
		if name == "" {
			name = rule.ID
		}
		d.logger.Debug("rule matched", slog.String("rule", rule.ID), slog.Int("symptoms", len(matched)))
		diagnoses = append(diagnoses, newDiagnosis(name, matched, rule.Recommendations))
	}

	var rest []models.Symptom
	for i, s := range symptoms {
		if !claimed[i] {
			rest = append(rest, s)
		}
	}
	if len(rest) > 0 {
		diagnoses = append(diagnoses, newDiagnosis(DiagnosisUnclassified, rest, defaultRecommendations()))
	}
	return diagnoses, nil
}

func (r Rule) matches(s models.Symptom) bool {
	if r.Match.Service != "" && !slices.ContainsFunc(s.Assignments, func(a string) bool {
		return strings.EqualFold(a, r.Match.Service)
	}) {
		return false
	}
	if r.Match.Severity != "" && !strings.EqualFold(r.Match.Severity, string(s.Severity)) {
		return false
	}
	if len(r.Match.SymptomContains) > 0 {
		typ := strings.ToLower(s.Type)
		return slices.ContainsFunc(r.Match.SymptomContains, func(kw string) bool {
			return kw != "" && strings.Contains(typ, strings.ToLower(kw))
		})
	}
	return true
}

func newDiagnosis(name string, symptoms []models.Symptom, recommendations []string) models.Diagnosis {
	instant := symptoms[0].Instant
	var assignments []string
	for _, s := range symptoms {
		if !s.Instant.IsZero() && (instant.IsZero() || s.Instant.Before(instant)) {
			instant = s.Instant
		}
		assignments = appendUnique(assignments, s.Assignments...)
	}
	if instant.IsZero() {
		instant = time.Now().UTC()
	}
	return models.Diagnosis{
		Type:            name,
		Instant:         instant,
		Assignments:     assignments,
		Confidence:      confidence(symptoms),
		Symptoms:        symptoms,
		Recommendations: appendUnique(nil, recommendations...),
	}
}

// confidence grows with the number of independent signal sources and their strongest score.
func confidence(symptoms []models.Symptom) float64 {
	maxBySource := make(map[models.DataType]float64)
	for _, s := range symptoms {
		if s.Score > maxBySource[s.Source] {
			maxBySource[s.Source] = s.Score
		} else if _, ok := maxBySource[s.Source]; !ok {
			maxBySource[s.Source] = 0
		}
	}
	total := 0.0
	for _, score := range maxBySource {
		total += 0.25 + clamp(score/8.0, 0, 0.25)
	}
	return clamp(total, 0, 1)
}

func defaultRecommendations() []string {
	return []string{
		"Review recent deployments for regressions",
		"Check upstream dependencies for correlated errors",
	}
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func appendUnique(existing []string, additions ...string) []string {
	for _, item := range additions {
		if item == "" || slices.Contains(existing, item) {
			continue
		}
		existing = append(existing, item)
	}
	return existing
}
