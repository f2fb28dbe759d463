package schemas

// -- Compliance Schemas --

// Severity is the triage level of an Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Rank orders severities for sorting: error < warning < info.
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

// Issue is a finding surfaced to the user.
type Issue struct {
	Severity       Severity `json:"severity"`
	Category       string   `json:"category"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// CheckStatus is the outcome of one checklist item.
type CheckStatus string

const (
	StatusPassed        CheckStatus = "passed"
	StatusFailed        CheckStatus = "failed"
	StatusWarning       CheckStatus = "warning"
	StatusNotApplicable CheckStatus = "not_applicable"
)

// ComplianceCheck is one evaluated checklist item.
type ComplianceCheck struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Status        CheckStatus `json:"status"`
	Justification string      `json:"justification"`
}

// GDPRChecklist is the ordered GDPR checklist and its tallies.
type GDPRChecklist struct {
	Checks        []ComplianceCheck `json:"checks"`
	Passed        int               `json:"passed"`
	Failed        int               `json:"failed"`
	Warnings      int               `json:"warnings"`
	NotApplicable int               `json:"notApplicable"`
	Total         int               `json:"total"`
}

// DMAGatekeeper holds the checks for one detected gatekeeper platform.
type DMAGatekeeper struct {
	Gatekeeper string            `json:"gatekeeper"`
	Platforms  []string          `json:"platforms"`
	Checks     []ComplianceCheck `json:"checks"`
}

// DMAChecklist is generated only for detected gatekeepers.
type DMAChecklist struct {
	Applicable  bool            `json:"applicable"`
	Gatekeepers []DMAGatekeeper `json:"gatekeepers,omitempty"`
}

// ScoreBreakdown explains the final score.
type ScoreBreakdown struct {
	GDPRScore        int      `json:"gdprScore"`
	TrackingScore    int      `json:"trackingScore"`
	TrackingBaseline int      `json:"trackingBaseline"`
	Penalty          int      `json:"penalty"`
	Bonus            int      `json:"bonus"`
	BonusReasons     []string `json:"bonusReasons,omitempty"`
	Total            int      `json:"total"`
}

// Comparison is the delta between two analyses of the same site.
type Comparison struct {
	PreviousID     string   `json:"previousId"`
	CurrentID      string   `json:"currentId"`
	ScoreDelta     int      `json:"scoreDelta"`
	NewIssues      []string `json:"newIssues,omitempty"`
	ResolvedIssues []string `json:"resolvedIssues,omitempty"`
}
