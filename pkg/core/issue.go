package core

// Issue is a single validation finding: a severity, a machine-readable code
// (e.g. "FORBIDDEN_KEYWORD"), a human message, and the location it was found
// (e.g. "feature_0"). Suggestion, when set, tells the caller how to fix it.
type Issue struct {
	Severity   Severity `json:"severity"`
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Location   string   `json:"location,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// Result accumulates validation issues. A result is valid iff it contains no
// error-severity issues.
type Result struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

// NewResult returns an empty, valid result.
func NewResult() *Result {
	return &Result{Valid: true}
}

// AddError records an error-severity issue and marks the result invalid.
func (r *Result) AddError(code, message, location, suggestion string) {
	r.Issues = append(r.Issues, Issue{
		Severity: SeverityError, Code: code, Message: message,
		Location: location, Suggestion: suggestion,
	})
	r.Valid = false
}

// AddWarning records a warning-severity issue.
func (r *Result) AddWarning(code, message, location, suggestion string) {
	r.Issues = append(r.Issues, Issue{
		Severity: SeverityWarning, Code: code, Message: message,
		Location: location, Suggestion: suggestion,
	})
}

// AddInfo records an info-severity issue.
func (r *Result) AddInfo(code, message, location string) {
	r.Issues = append(r.Issues, Issue{
		Severity: SeverityInfo, Code: code, Message: message, Location: location,
	})
}

// Merge appends another result's issues, propagating invalidity.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Issues = append(r.Issues, other.Issues...)
	if !other.Valid {
		r.Valid = false
	}
}

// Errors returns only the error-severity issues.
func (r *Result) Errors() []Issue {
	return r.filter(SeverityError)
}

// Warnings returns only the warning-severity issues.
func (r *Result) Warnings() []Issue {
	return r.filter(SeverityWarning)
}

func (r *Result) filter(sev Severity) []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Severity == sev {
			out = append(out, i)
		}
	}
	return out
}
