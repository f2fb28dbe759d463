// Package compliance turns signal records and the consent experiment into the
// GDPR and DMA checklists, the issue list and the score. It never looks at
// raw page content.
package compliance

import (
	"sort"

	"github.com/xkilldash9x/consentscope/api/schemas"
	"github.com/xkilldash9x/consentscope/internal/signals"
)

// Input is everything the scorer may consult.
type Input struct {
	Signals    schemas.Signals
	Cookies    []schemas.AnalyzedCookie
	Experiment *schemas.ConsentExperimentResult
}

// Report is the scorer's output.
type Report struct {
	GDPR   schemas.GDPRChecklist
	DMA    schemas.DMAChecklist
	Issues []schemas.Issue
	Score  schemas.ScoreBreakdown
}

// Evaluate runs the checklists, issue generation and scoring.
func Evaluate(in Input) Report {
	var r Report
	r.GDPR = EvaluateGDPR(in)
	r.DMA = EvaluateDMA(in)
	r.Issues = GenerateIssues(in)
	r.Score = Score(in, r.GDPR, r.Issues)
	return r
}

// SortIssues orders issues by severity, keeping generation order within a level.
func SortIssues(issues []schemas.Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Severity.Rank() < issues[j].Severity.Rank()
	})
}

// -- shared predicates --

func trackingCookies(in Input) []schemas.AnalyzedCookie {
	var out []schemas.AnalyzedCookie
	for _, c := range in.Cookies {
		if c.Category.IsTracking() {
			out = append(out, c)
		}
	}
	return out
}

func preConsentTracking(in Input) []schemas.AnalyzedCookie {
	var out []schemas.AnalyzedCookie
	for _, c := range trackingCookies(in) {
		if c.SetBeforeConsent {
			out = append(out, c)
		}
	}
	return out
}

// HasTracking reports whether any tracking signal of any kind was observed.
func HasTracking(in Input) bool {
	t := in.Signals.TrackingTags
	return t.HasMajorClientSide || t.HasSecondary || t.ServerSideDetected || len(trackingCookies(in)) > 0
}

func hasGoogleTags(in Input) bool {
	for _, t := range in.Signals.TrackingTags.Tags {
		if t.Gatekeeper == signals.GatekeeperGoogle {
			return true
		}
	}
	return false
}

// prefiring returns tags that sent beacons during the unconsented load
// without any consent signal.
func prefiring(in Input) []schemas.TrackingTag {
	var out []schemas.TrackingTag
	for _, t := range in.Signals.TrackingTags.Tags {
		if t.FiredOnLoad && !t.ConsentSignal {
			out = append(out, t)
		}
	}
	return out
}

func rejectArm(in Input) (schemas.ConsentArm, bool) {
	if in.Experiment == nil {
		return schemas.ConsentArm{}, false
	}
	return in.Experiment.Reject, true
}

func acceptArm(in Input) (schemas.ConsentArm, bool) {
	if in.Experiment == nil {
		return schemas.ConsentArm{}, false
	}
	return in.Experiment.Accept, true
}

// rejectAddedTracking reports tracking cookies that appeared after a reject
// that was not reclassified.
func rejectAddedTracking(arm schemas.ConsentArm) int {
	return arm.NewByCategory[schemas.CategoryMarketing] + arm.NewByCategory[schemas.CategoryAnalytics]
}

func names(cs []schemas.AnalyzedCookie, limit int) []string {
	var out []string
	seen := map[string]bool{}
	for _, c := range cs {
		if seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		out = append(out, c.Name)
		if len(out) == limit {
			break
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
