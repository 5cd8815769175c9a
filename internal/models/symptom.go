package models

import "time"

// Symptom is an anomaly signal raised by a detector from one or more measurements.
type Symptom struct {
	Type         string
	Instant      time.Time
	Assignments  []string
	Severity     Severity
	Score        float64
	Source       DataType
	Measurements []Measurement
}

// Diagnosis is a likely root cause derived from a set of symptoms.
type Diagnosis struct {
	Type            string
	Instant         time.Time
	Assignments     []string
	Confidence      float64
	Symptoms        []Symptom
	Recommendations []string
}

// Action is a remediation step executed by a resolver.
type Action struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Policy      string    `json:"policy"`
	Resolver    string    `json:"resolver"`
	Instant     time.Time `json:"instant"`
	Assignments []string  `json:"assignments,omitempty"`
	Diagnoses   []string  `json:"diagnoses,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// DiagnosisTypes lists the diagnosis types in order, skipping empty ones.
func DiagnosisTypes(diagnoses []Diagnosis) []string {
	types := make([]string, 0, len(diagnoses))
	for _, d := range diagnoses {
		if d.Type != "" {
			types = append(types, d.Type)
		}
	}
	return types
}
