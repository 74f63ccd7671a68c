// Package core holds the shared value objects of the dataset compiler:
// validation severities and issues, the tri-state pipeline status, fragment
// join contracts, and materialized feature SQL. Every compiler stage and the
// final validation layer speak these types.
package core

import "strings"

// Severity indicates the importance of a validation issue.
type Severity int

const (
	// SeverityError blocks the pipeline stage that produced it.
	SeverityError Severity = iota
	// SeverityWarning should be reviewed but leaves the stage usable.
	SeverityWarning
	// SeverityInfo is informational only.
	SeverityInfo
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "unknown"
	}
}

// ParseSeverity converts a string to a Severity value.
// Returns the severity and true if valid, or SeverityWarning and false if invalid.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(s) {
	case "error":
		return SeverityError, true
	case "warning":
		return SeverityWarning, true
	case "info":
		return SeverityInfo, true
	default:
		return SeverityWarning, false
	}
}
