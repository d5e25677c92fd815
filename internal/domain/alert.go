package domain

import "time"

// Severity orders alert conditions from informational to critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordering position of the severity (info < warning < critical).
func (s Severity) Rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 0
	}
}

// Alert records a condition crossing a threshold. Never updated in place.
type Alert struct {
	ID        string
	Title     string
	Message   string
	Severity  Severity
	CreatedAt time.Time
}
