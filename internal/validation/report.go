package validation

// Severity ranks a validation issue
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Issue is one problem found in a merged scan
type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Components are the individual scores behind OverallScore. Overlap is nil
// for a single-image session, which has no seams to judge.
type Components struct {
	Overlap        *float64 `json:"overlap,omitempty"`
	TotalAgreement float64  `json:"total_agreement"`
	Completeness   float64  `json:"completeness"`
}

// Report is the scored validation of a finalized scan
type Report struct {
	OverallScore    float64    `json:"overall_score"`
	Issues          []Issue    `json:"issues"`
	Recommendations []string   `json:"recommendations"`
	ItemsSum        float64    `json:"items_sum"`
	Total           float64    `json:"total"`
	Components      Components `json:"components"`
}

// HasIssue reports whether any issue has the given severity
func (r *Report) HasIssue(severity Severity) bool {
	for _, issue := range r.Issues {
		if issue.Severity == severity {
			return true
		}
	}
	return false
}
