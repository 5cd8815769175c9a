package models

import "time"

// Measurement is a single observed sample produced by a sensor.
type Measurement struct {
	Component string
	Instance  string
	Type      string
	Instant   time.Time
	Value     float64
	Source    DataType
	Labels    map[string]string
}

// Label returns the named label or an empty string.
func (m Measurement) Label(key string) string {
	if m.Labels == nil {
		return ""
	}
	return m.Labels[key]
}
