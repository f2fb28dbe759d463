package schemas

import "time"

// -- Result Schemas --

// StepStatus is the state of one audit-trail step.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepError     StepStatus = "error"
)

// AuditStep is one transition in the audit trail of an analysis.
type AuditStep struct {
	Step      string     `json:"step"`
	Status    StepStatus `json:"status"`
	Message   string     `json:"message,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// AnalysisMode distinguishes the full run from the reduced-fidelity one.
type AnalysisMode string

const (
	ModeFull  AnalysisMode = "full"
	ModeQuick AnalysisMode = "quick"
)

// AnalysisResult is the root aggregate of one analysis run.
type AnalysisResult struct {
	ID        string        `json:"id"`
	URL       string        `json:"url"`
	FinalURL  string        `json:"finalUrl,omitempty"`
	Mode      AnalysisMode  `json:"mode"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"durationNs"`

	Signals           Signals                  `json:"signals"`
	Cookies           []AnalyzedCookie         `json:"cookies"`
	CookieSummary     CookieSummary            `json:"cookieSummary"`
	ConsentExperiment *ConsentExperimentResult `json:"consentExperiment,omitempty"`

	GDPR   GDPRChecklist  `json:"gdpr"`
	DMA    DMAChecklist   `json:"dma"`
	Issues []Issue        `json:"issues"`
	Score  ScoreBreakdown `json:"score"`

	Steps     []AuditStep `json:"steps"`
	Anomalies []string    `json:"anomalies,omitempty"`
}

// CountBySeverity tallies the issues of the given severity.
func (r *AnalysisResult) CountBySeverity(s Severity) int {
	n := 0
	for _, i := range r.Issues {
		if i.Severity == s {
			n++
		}
	}
	return n
}
